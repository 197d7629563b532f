// internal/service/deal/wire.go
package deal

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"dealhub/internal/pkg/clock"
	"dealhub/internal/pkg/config"
	"dealhub/internal/pkg/httpclient"
	"dealhub/internal/pkg/logger"
	"dealhub/internal/pkg/mq"
	"dealhub/internal/pkg/redis"
	"dealhub/internal/pkg/zookeeper"
	"dealhub/internal/service/deal/application"
	"dealhub/internal/service/deal/infrastructure"
	"dealhub/internal/service/deal/infrastructure/adapter"
	"dealhub/internal/service/deal/infrastructure/memory"
	"dealhub/internal/service/deal/infrastructure/rule"
)

const DriverMemory = "memory"

// Runtime 是装配好的应用服务及其需要在退出时释放的资源
type Runtime struct {
	Services *application.Services
	closers  []func() error
}

// Close 按装配的逆序释放资源
func (rt *Runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("error releasing resource")
		}
	}
}

// Build 根据配置装配所有出站依赖。memory 驱动下全部使用进程内实现，便于本地运行。
// discovery 为 nil 时搜索服务只使用静态地址。
func Build(cfg *config.Config, serviceName string, discovery adapter.ServiceDiscovery) (*Runtime, error) {
	rt := &Runtime{}
	cond, err := rule.NewCELConditionEngine()
	if err != nil {
		return nil, errors.Wrap(err, "init condition engine")
	}
	deps := application.Deps{
		Clock:      clock.System{},
		Tracer:     otel.Tracer(serviceName),
		Conditions: cond,
		Settings:   application.SettingsFromConfig(cfg.Business),
	}

	if cfg.Infra.Store.Driver == DriverMemory {
		deps.Store = memory.NewStore()
		deps.Notifier = memory.NewNotifier()
		deps.Search = memory.NewSearch()
		deps.Guard = memory.NewGuard()
		deps.Locker = memory.NewLocker()
		logger.L().Warn().Msg("running with the in-memory store, data will not survive a restart")
		rt.Services = application.New(deps)
		return rt, nil
	}

	if err := rt.wireExternal(cfg, &deps, discovery); err != nil {
		rt.Close(context.Background())
		return nil, err
	}
	rt.Services = application.New(deps)
	return rt, nil
}

func (rt *Runtime) wireExternal(cfg *config.Config, deps *application.Deps, discovery adapter.ServiceDiscovery) error {
	db, err := infrastructure.OpenMySQL(infrastructure.MySQLOptions{
		DSN:          cfg.Infra.MySQL.DSN,
		MaxOpenConns: cfg.Infra.MySQL.MaxOpenConns,
		MaxIdleConns: cfg.Infra.MySQL.MaxIdleConns,
		AutoMigrate:  cfg.Infra.MySQL.AutoMigrate,
	})
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		rt.closers = append(rt.closers, sqlDB.Close)
	}
	deps.Store = infrastructure.NewGormStore(db)

	rdb, err := redis.NewClient(cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, rdb.Close)
	if deps.Guard, err = adapter.NewRedisGuard(rdb); err != nil {
		return err
	}

	zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() error { zkConn.Close(); return nil })
	deps.Locker = adapter.NewZkJobLocker(zkConn)

	writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic)
	rt.closers = append(rt.closers, writer.Close)
	deps.Notifier = adapter.NewKafkaNotifier(writer)

	search := adapter.NewSearchClient(httpclient.NewClient(deps.Tracer), cfg.Infra.Search.BaseURL)
	if discovery != nil && cfg.Infra.Search.ServiceName != "" {
		search.WithDiscovery(discovery, cfg.Infra.Search.ServiceName)
	}
	deps.Search = search
	return nil
}
