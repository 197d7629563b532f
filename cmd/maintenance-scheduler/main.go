// cmd/maintenance-scheduler/main.go
package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealhub/internal/pkg/bootstrap"
	"dealhub/internal/pkg/clock"
	"dealhub/internal/pkg/logger"
	"dealhub/internal/service/deal"
	"dealhub/internal/service/deal/infrastructure/adapter"
	"dealhub/internal/service/deal/interfaces"
)

const serviceName = "maintenance-scheduler"

// 维护任务与月度对账的后台进程。多实例部署时月度对账由 ZooKeeper 锁保证只执行一次。
func main() {
	cfg := bootstrap.Init(serviceName)

	var discovery adapter.ServiceDiscovery
	if nc := bootstrap.Nacos(); nc != nil {
		discovery = nc
	}
	rt, err := deal.Build(cfg, serviceName, discovery)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to wire maintenance scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := interfaces.NewScheduler(rt.Services, clock.System{}, cfg.Business.Location(), cfg.Business.SweepInterval)
	scheduler.Start(ctx)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			appCtx.Mux.Handle("GET /metrics", promhttp.Handler())
		},
		OnShutdown: func(ctx context.Context) {
			cancel()
			scheduler.Wait()
			rt.Close(ctx)
		},
	})
}
