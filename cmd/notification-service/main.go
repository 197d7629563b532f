// cmd/notification-service/main.go
package main

import (
	"context"

	"go.opentelemetry.io/otel"

	"dealhub/internal/pkg/bootstrap"
	"dealhub/internal/pkg/mq"
	"dealhub/internal/service/notification"
)

const serviceName = "notification-service"

// 消费 deal-service 发布的通知，通过 WebSocket 推送给在线的顾客和餐厅
func main() {
	cfg := bootstrap.Init(serviceName)
	kafkaCfg := cfg.Infra.Kafka

	hub := notification.NewHub()
	reader := mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.NotificationTopic, kafkaCfg.ConsumerGroup)
	dltWriter := mq.NewKafkaWriter(kafkaCfg.Brokers, mq.DLTTopic(kafkaCfg.NotificationTopic))
	dltReader := mq.NewKafkaReader(kafkaCfg.Brokers, mq.DLTTopic(kafkaCfg.NotificationTopic), kafkaCfg.ConsumerGroup+"-dlt")

	consumer := notification.NewConsumer(reader, hub, mq.NewFailureHandler(dltWriter), otel.Tracer(serviceName))
	dlt := notification.NewDltConsumer(dltReader)

	ctx, cancel := context.WithCancel(context.Background())
	consumer.Start(ctx)
	dlt.Start(ctx)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			notification.RegisterRoutes(appCtx.Mux, hub)
		},
		OnShutdown: func(ctx context.Context) {
			cancel()
			consumer.Stop(ctx)
			dlt.Stop(ctx)
			_ = dltWriter.Close()
		},
	})
}
