// internal/service/notification/dlt_consumer.go
package notification

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/pkg/mq"
)

// DltConsumer 监听死信主题并记录日志
type DltConsumer struct {
	reader MessageReader
	wg     sync.WaitGroup
}

func NewDltConsumer(reader MessageReader) *DltConsumer {
	return &DltConsumer{reader: reader}
}

func (a *DltConsumer) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			logDeadLetter(ctx, msg)
			// 死信只记录，记录完即提交
			_ = a.reader.CommitMessages(ctx, msg)
		}
	}()
}

func (a *DltConsumer) Stop(ctx context.Context) {
	_ = a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("dlt consumer stopped")
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	logger.Ctx(ctx).Error().
		Str("original_topic", headers[mq.HeaderOriginalTopic]).
		Str("original_partition", headers[mq.HeaderOriginalPartition]).
		Str("original_offset", headers[mq.HeaderOriginalOffset]).
		Str("exception_message", headers[mq.HeaderExceptionMessage]).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("dead letter message received")
}
