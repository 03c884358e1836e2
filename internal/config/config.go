package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the immutable gateway configuration, constructed once at
// startup and threaded through constructors.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Normalization NormalizationConfig `mapstructure:"normalization"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type AuthConfig struct {
	Secret         string        `mapstructure:"secret"`
	ReplayWindow   time.Duration `mapstructure:"replay_window"`
	ClockSkew      time.Duration `mapstructure:"clock_skew"`
	AllowedSources []string      `mapstructure:"allowed_sources"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type IngestionConfig struct {
	MaxPayloadBytes int `mapstructure:"max_payload_bytes"`
}

type NormalizationConfig struct {
	// StrictSources fail the whole request on schema errors; all other
	// sources degrade to a warning plus a dead-letter record.
	StrictSources []string `mapstructure:"strict_sources"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	BufferCapacity int           `mapstructure:"buffer_capacity"`
	BufferMaxAge   time.Duration `mapstructure:"buffer_max_age"`
	ReconnectBase  time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, with GATEWAY_*
// environment variables overriding.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")
	// Registered empty so the env override is visible to Unmarshal.
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.replay_window", "5m")
	v.SetDefault("auth.clock_skew", "30s")
	v.SetDefault("auth.allowed_sources", []string{"tradingview", "generic"})
	v.SetDefault("idempotency.ttl", "1h")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.window", "1s")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("ingestion.max_payload_bytes", 65536)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.publish_timeout", "2s")
	v.SetDefault("nats.buffer_capacity", 1000)
	v.SetDefault("nats.buffer_max_age", "30s")
	v.SetDefault("nats.reconnect_base", "250ms")
	v.SetDefault("nats.reconnect_max", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/signal-gateway")
	}

	// Environment variables override, e.g. GATEWAY_AUTH_SECRET.
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth.secret is required (set GATEWAY_AUTH_SECRET or auth.secret)")
	}

	return &cfg, nil
}
