// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"dealhub/internal/pkg/config"
	"dealhub/internal/pkg/logger"
	"dealhub/internal/pkg/nacos"
	"dealhub/internal/pkg/tracing"
	"dealhub/internal/pkg/utils"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
	Config *config.Config
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 允许每个服务注册自己独特的 HTTP 路由
	OnShutdown       func(ctx context.Context)
}

var nacosClient *nacos.Client

// Nacos 返回 Init 中创建的客户端，未启用 Nacos 时为 nil
func Nacos() *nacos.Client {
	return nacosClient
}

// Init 加载 configs/<serviceName>.yaml（可用 CONFIG_FILE 覆盖）并初始化日志。
// 启用 Nacos 时配置以配置中心为准，并监听后续变更。
func Init(serviceName string) *config.Config {
	cfg, err := config.Load(getEnv("CONFIG_FILE", "configs/"+serviceName+".yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	config.Set(cfg)
	logger.Init(logger.Options{Level: cfg.App.LogLevel, Console: cfg.App.LogConsole, Service: cfg.App.Name})

	if !cfg.Infra.Nacos.Enabled {
		return cfg
	}

	serverConfigs, err := nacos.ParseServerConfigs(cfg.Infra.Nacos.ServerAddrs)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("invalid Nacos server address format")
	}
	clientConfig := nacos.NewClientConfig(cfg.Infra.Nacos.Namespace)
	nacosClient, err = nacos.NewNacosClientWithConfigs(serverConfigs, &clientConfig, cfg.Infra.Nacos.Group)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize nacos client")
	}

	dataID := cfg.Infra.Nacos.DataID
	if content, err := nacosClient.GetConfig(dataID); err != nil {
		logger.L().Warn().Err(err).Msg("falling back to local config")
	} else if remote, err := config.Parse([]byte(content)); err != nil {
		logger.L().Warn().Err(err).Msg("remote config is invalid, falling back to local config")
	} else {
		remote.Infra.Nacos = cfg.Infra.Nacos
		cfg = remote
		config.Set(cfg)
	}

	err = nacosClient.WatchConfig(dataID, func(content string) {
		updated, err := config.Parse([]byte(content))
		if err != nil {
			logger.L().Error().Err(err).Msg("ignoring invalid config pushed by Nacos")
			return
		}
		updated.Infra.Nacos = config.Current().Infra.Nacos
		config.Set(updated)
		logger.L().Info().Str("dataId", dataID).Msg("config reloaded from Nacos")
	})
	if err != nil {
		logger.L().Warn().Err(err).Msg("failed to watch Nacos config")
	}
	return cfg
}

// GetCurrentConfig 返回当前生效的配置
func GetCurrentConfig() *config.Config {
	return config.Current()
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. 服务注册
	var ip string
	if nacosClient != nil {
		if ip, err = utils.GetOutboundIP(); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err = nacosClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 3. 创建并启动 HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: nacosClient, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.L().Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// 4. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.L().Info().Str("service", info.ServiceName).Msg("Shutting down service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 按启动的逆序执行清理
	if nacosClient != nil {
		if err := nacosClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			logger.L().Error().Err(err).Msg("Error deregistering from Nacos")
		}
		nacosClient.Close()
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down http server")
	}

	if info.OnShutdown != nil {
		info.OnShutdown(ctx)
	}

	// 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(ctx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down tracer provider")
	}

	logger.L().Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
}

// SignalContext 返回一个在收到 SIGINT/SIGTERM 时取消的 context，供没有 HTTP 服务的后台进程使用
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
