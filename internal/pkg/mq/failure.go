// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"strconv"

	"dealhub/internal/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// 死信消息头，记录原始位置和失败原因
const (
	HeaderOriginalTopic     = "dlt-original-topic"
	HeaderOriginalPartition = "dlt-original-partition"
	HeaderOriginalOffset    = "dlt-original-offset"
	HeaderExceptionFqcn     = "dlt-exception-fqcn"
	HeaderExceptionMessage  = "dlt-exception-message"
)

// DLTTopic 返回某个主题对应的死信主题名
func DLTTopic(topic string) string {
	return topic + ".DLT"
}

// FailureHandler 把处理失败的消息转发到死信主题，避免阻塞消费
type FailureHandler struct {
	dltWriter *kafka.Writer
}

func NewFailureHandler(dltWriter *kafka.Writer) *FailureHandler {
	return &FailureHandler{dltWriter: dltWriter}
}

// Handle 转发失败消息。转发本身失败时只记录日志，消息最终会被提交。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionFqcn, Value: []byte("processing_error")},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
	)

	dlt := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
	if err := h.dltWriter.WriteMessages(ctx, dlt); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("original_topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("CRITICAL: failed to forward message to dead letter topic")
		return
	}
	logger.Ctx(ctx).Warn().Err(cause).Str("original_topic", msg.Topic).Msg("message moved to dead letter topic")
}
