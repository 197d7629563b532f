// internal/service/notification/consumer.go
package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/pkg/metrics"
	"dealhub/internal/pkg/mq"
	"dealhub/internal/service/deal/domain/port"
)

// MessageReader 是 kafka.Reader 中消费者用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FailureSink 接收无法处理的消息，生产环境中是 mq.FailureHandler
type FailureSink interface {
	Handle(ctx context.Context, msg kafka.Message, cause error)
}

// Consumer 读取 deal-service 发布的通知并推送给在线的接收方
type Consumer struct {
	reader  MessageReader
	hub     *Hub
	failure FailureSink
	tracer  trace.Tracer
	wg      sync.WaitGroup
}

func NewConsumer(reader MessageReader, hub *Hub, failure FailureSink, tracer trace.Tracer) *Consumer {
	return &Consumer{reader: reader, hub: hub, failure: failure, tracer: tracer}
}

// Start 启动消费循环，ctx 结束后退出
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Msg("notification consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("notification consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			if err := c.process(msgCtx, msg); err != nil {
				c.failure.Handle(msgCtx, msg, err)
			}
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
			}
		}
	}()
}

func (c *Consumer) Stop(ctx context.Context) {
	if err := c.reader.Close(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to close notification reader")
	}
	c.wg.Wait()
}

// process 只有消息本身不合法时才返回错误；接收方不在线不算失败
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	ctx, span := c.tracer.Start(ctx, "notification.Process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		))
	defer span.End()

	var n port.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		err = errors.Wrap(err, "decode notification")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if n.RecipientID == "" || n.Kind == "" {
		err := errors.New("notification without kind or recipient")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.String("notification.kind", string(n.Kind)),
		attribute.String("notification.audience", n.Audience),
	)

	delivered := c.hub.Deliver(RecipientKey(n.Audience, n.RecipientID), msg.Value)
	if delivered == 0 {
		metrics.NotificationsTotal.WithLabelValues("offline").Inc()
		logger.Ctx(ctx).Debug().Str("kind", string(n.Kind)).Str("recipient", n.RecipientID).Msg("recipient offline, notification dropped")
		return nil
	}
	metrics.NotificationsTotal.WithLabelValues("pushed").Inc()
	span.AddEvent("notification pushed", trace.WithAttributes(attribute.Int("connections", delivered)))
	return nil
}
