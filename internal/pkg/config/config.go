// internal/pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是所有进程共享的配置结构，既可以来自本地 YAML 文件，也可以来自 Nacos 配置中心
type Config struct {
	App      AppConfig      `yaml:"app"`
	Infra    InfraConfig    `yaml:"infra"`
	Business BusinessConfig `yaml:"business"`
}

type AppConfig struct {
	Name       string `yaml:"name"`
	Port       int    `yaml:"port"`
	LogLevel   string `yaml:"logLevel"`
	LogConsole bool   `yaml:"logConsole"`
}

type InfraConfig struct {
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	Store struct {
		Driver string `yaml:"driver"` // mysql | memory
	} `yaml:"store"`
	MySQL struct {
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"maxOpenConns"`
		MaxIdleConns int    `yaml:"maxIdleConns"`
		AutoMigrate  bool   `yaml:"autoMigrate"`
	} `yaml:"mysql"`
	Redis struct {
		Addrs    []string `yaml:"addrs"`
		Password string   `yaml:"password"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers           []string `yaml:"brokers"`
		NotificationTopic string   `yaml:"notificationTopic"`
		ConsumerGroup     string   `yaml:"consumerGroup"`
	} `yaml:"kafka"`
	Zookeeper struct {
		Servers        []string      `yaml:"servers"`
		SessionTimeout time.Duration `yaml:"sessionTimeout"`
	} `yaml:"zookeeper"`
	Nacos struct {
		Enabled     bool   `yaml:"enabled"`
		ServerAddrs string `yaml:"serverAddrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
		DataID      string `yaml:"dataId"`
	} `yaml:"nacos"`
	Search struct {
		BaseURL string `yaml:"baseUrl"`
		// ServiceName 非空且启用 Nacos 时，按服务名发现实例，BaseURL 作为兜底
		ServiceName string `yaml:"serviceName"`
	} `yaml:"search"`
}

// BusinessConfig 是核心业务规则的可调参数
type BusinessConfig struct {
	ToleranceMinutes     int           `yaml:"toleranceMinutes"`
	DefaultAverageTicket float64       `yaml:"defaultAverageTicket"`
	DefaultTakeRate      float64       `yaml:"defaultTakeRate"`
	Timezone             string        `yaml:"timezone"`
	ReminderLead         time.Duration `yaml:"reminderLead"`
	ReactivateOnCancel   bool          `yaml:"reactivateOnCancel"`
	BillingConcurrency   int           `yaml:"billingConcurrency"`
	SweepInterval        time.Duration `yaml:"sweepInterval"`
}

// Default 返回一份可以直接本地运行的默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.App.Name = "deal-service"
	cfg.App.Port = 8090
	cfg.App.LogLevel = "info"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Store.Driver = "mysql"
	cfg.Infra.MySQL.DSN = "root:root@tcp(localhost:3306)/dealhub?charset=utf8mb4&parseTime=True&loc=UTC"
	cfg.Infra.MySQL.MaxOpenConns = 20
	cfg.Infra.MySQL.MaxIdleConns = 10
	cfg.Infra.Redis.Addrs = []string{"localhost:6379"}
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Kafka.NotificationTopic = "deal-notifications"
	cfg.Infra.Kafka.ConsumerGroup = "notification-group"
	cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	cfg.Infra.Zookeeper.SessionTimeout = 10 * time.Second
	cfg.Infra.Nacos.ServerAddrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.Infra.Nacos.DataID = "deal-service.yaml"
	cfg.Infra.Search.BaseURL = "http://localhost:7700"
	cfg.Business = BusinessConfig{
		ToleranceMinutes:     15,
		DefaultAverageTicket: 200,
		DefaultTakeRate:      0.1,
		Timezone:             "America/Mexico_City",
		ReminderLead:         30 * time.Minute,
		BillingConcurrency:   4,
		SweepInterval:        time.Minute,
	}
	return cfg
}

// Parse 在默认配置的基础上解析 YAML 内容
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load 读取 YAML 文件并应用环境变量覆盖。文件不存在时使用默认配置。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if len(data) > 0 {
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验业务参数，防止错误配置导致账单计算异常
func (c *Config) Validate() error {
	b := c.Business
	if b.ToleranceMinutes < 0 {
		return fmt.Errorf("config: business.toleranceMinutes must be >= 0")
	}
	if b.DefaultTakeRate < 0 || b.DefaultTakeRate > 1 {
		return fmt.Errorf("config: business.defaultTakeRate must be within [0,1], got %v", b.DefaultTakeRate)
	}
	if b.DefaultAverageTicket < 0 {
		return fmt.Errorf("config: business.defaultAverageTicket must be >= 0")
	}
	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return fmt.Errorf("config: invalid business.timezone %q: %w", b.Timezone, err)
	}
	return nil
}

// Location 返回平台时区
func (b BusinessConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Tolerance 返回宽限时间窗口
func (b BusinessConfig) Tolerance() time.Duration {
	return time.Duration(b.ToleranceMinutes) * time.Minute
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("JAEGER_ENDPOINT"); ok {
		c.Infra.Jaeger.Endpoint = v
	}
	if v, ok := os.LookupEnv("STORE_DRIVER"); ok {
		c.Infra.Store.Driver = v
	}
	if v, ok := os.LookupEnv("MYSQL_DSN"); ok {
		c.Infra.MySQL.DSN = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDRS"); ok {
		c.Infra.Redis.Addrs = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("ZOOKEEPER_SERVERS"); ok {
		c.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("NACOS_SERVER_ADDRS"); ok {
		c.Infra.Nacos.ServerAddrs = v
	}
	if v, ok := os.LookupEnv("NACOS_NAMESPACE"); ok {
		c.Infra.Nacos.Namespace = v
	}
	if v, ok := os.LookupEnv("SEARCH_BASE_URL"); ok {
		c.Infra.Search.BaseURL = v
	}
	if v, ok := os.LookupEnv("SEARCH_SERVICE_NAME"); ok {
		c.Infra.Search.ServiceName = v
	}
}

var current atomic.Pointer[Config]

// Current 返回当前生效的配置，Nacos 推送新配置后会被原子替换
func Current() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return Default()
}

// Set 替换当前生效的配置
func Set(cfg *Config) {
	current.Store(cfg)
}
