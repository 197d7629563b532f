// internal/service/deal/infrastructure/adapter/kafka_notifier.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"dealhub/internal/pkg/mq"
	"dealhub/internal/service/deal/domain/port"
)

// KafkaNotifier 把通知写入 Kafka，由 notification-service 负责推送
type KafkaNotifier struct {
	produce func(ctx context.Context, key, value []byte) error
}

func NewKafkaNotifier(writer *kafka.Writer) *KafkaNotifier {
	return &KafkaNotifier{
		produce: func(ctx context.Context, key, value []byte) error {
			return mq.ProduceMessage(ctx, writer, key, value)
		},
	}
}

// Notify 以接收方为 key，保证同一接收方的消息有序
func (n *KafkaNotifier) Notify(ctx context.Context, msg port.Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	key := []byte(msg.Audience + ":" + msg.RecipientID)
	if err := n.produce(ctx, key, body); err != nil {
		return errors.Wrapf(err, "publish %s notification", msg.Kind)
	}
	return nil
}
