package config

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Bus       BusConfig       `mapstructure:"bus"`
	Session   SessionConfig   `mapstructure:"session"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

// Addr is the listen address built from Host and Port.
func (a AppConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

type BusConfig struct {
	Capacity int `mapstructure:"capacity"` // per-subscriber queue length
}

type SessionConfig struct {
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`  // 0 disables the read deadline
	WriteWait      time.Duration `mapstructure:"write_wait"` // 0 disables the write deadline
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	InboundRate    float64       `mapstructure:"inbound_rate"`
	InboundBurst   int           `mapstructure:"inbound_burst"`
}

type SourceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type SourcesConfig struct {
	Price        SourceConfig  `mapstructure:"price"`
	Binance      SourceConfig  `mapstructure:"binance"`
	Status       SourceConfig  `mapstructure:"status"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

type RedisConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Addr     string   `mapstructure:"addr"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Channels []string `mapstructure:"channels"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// ProcessorConfig tunes the Kafka to Redis bridge.
type ProcessorConfig struct {
	NumWorkers   int           `mapstructure:"num_workers"`
	GroupID      string        `mapstructure:"group_id"`
	LastValueTTL time.Duration `mapstructure:"last_value_ttl"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"` // "json" or "console"
	Development bool   `mapstructure:"development"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// .env values become real env vars so AutomaticEnv can see them
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env vars for keys viper already knows about
	bindEnv(v, "app.name", "app.host", "app.port", "app.env")
	bindEnv(v, "bus.capacity")
	bindEnv(v, "session.ping_period", "session.pong_wait", "session.write_wait",
		"session.max_message_size", "session.inbound_rate", "session.inbound_burst")
	bindEnv(v, "sources.price.enabled", "sources.price.interval",
		"sources.binance.enabled", "sources.binance.interval",
		"sources.status.enabled", "sources.status.interval", "sources.restart_delay")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.channels")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "processor.num_workers", "processor.group_id", "processor.last_value_ttl")
	bindEnv(v, "logger.level", "logger.encoding", "logger.development")
	bindEnv(v, "metrics.enabled")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "Quant-SaaS Backend")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 3000)
	v.SetDefault("app.env", "local")

	v.SetDefault("bus.capacity", 100)

	v.SetDefault("session.ping_period", 30*time.Second)
	v.SetDefault("session.pong_wait", 0)
	v.SetDefault("session.write_wait", 0)
	v.SetDefault("session.max_message_size", 512*1024)
	v.SetDefault("session.inbound_rate", 20.0)
	v.SetDefault("session.inbound_burst", 40)

	v.SetDefault("sources.price.enabled", true)
	v.SetDefault("sources.price.interval", 100*time.Millisecond)
	v.SetDefault("sources.binance.enabled", true)
	v.SetDefault("sources.binance.interval", 50*time.Millisecond)
	v.SetDefault("sources.status.enabled", true)
	v.SetDefault("sources.status.interval", 5*time.Second)
	v.SetDefault("sources.restart_delay", time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channels", []string{"market.events"})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_events")
	v.SetDefault("kafka.group_id", "market-gateway")

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.group_id", "market-processor")
	v.SetDefault("processor.last_value_ttl", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("logger.development", false)

	v.SetDefault("metrics.enabled", true)
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app port out of range: %d", c.App.Port)
	}
	if c.Bus.Capacity <= 0 {
		return fmt.Errorf("bus capacity must be positive, got %d", c.Bus.Capacity)
	}
	if c.Session.MaxMessageSize <= 0 {
		return fmt.Errorf("session max_message_size must be positive, got %d", c.Session.MaxMessageSize)
	}
	for name, src := range map[string]SourceConfig{
		"price":   c.Sources.Price,
		"binance": c.Sources.Binance,
		"status":  c.Sources.Status,
	} {
		if src.Enabled && src.Interval <= 0 {
			return fmt.Errorf("source %s: interval must be positive", name)
		}
	}
	if c.Redis.Enabled && len(c.Redis.Channels) == 0 {
		return fmt.Errorf("redis channels cannot be empty when redis relay is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Processor.NumWorkers <= 0 {
		return fmt.Errorf("processor num_workers must be positive, got %d", c.Processor.NumWorkers)
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
