// cmd/deal-service/main.go
package main

import (
	"context"

	"dealhub/internal/pkg/bootstrap"
	"dealhub/internal/pkg/logger"
	"dealhub/internal/service/deal"
	"dealhub/internal/service/deal/infrastructure/adapter"
	"dealhub/internal/service/deal/interfaces"
)

const serviceName = "deal-service"

func main() {
	cfg := bootstrap.Init(serviceName)

	var discovery adapter.ServiceDiscovery
	if nc := bootstrap.Nacos(); nc != nil {
		discovery = nc
	}
	rt, err := deal.Build(cfg, serviceName, discovery)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to wire deal service")
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewDealHandler(rt.Services).RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			rt.Close(ctx)
		},
	})
}
