// Package config layers the exchange service's settings on top of the
// shared app config: database, kafka, redis, market gateway, auth and
// rate limits. Environment variables (FYN_ prefix) win over the yaml
// file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/fynor/exchange/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MarketConfig struct {
	GatewayURL     string
	RequestTimeout time.Duration
	StreamInterval time.Duration
}

type RateLimitConfig struct {
	OrdersPerWindow int
	Window          time.Duration
}

type Config struct {
	App       base.AppConfig
	DB        DBConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Market    MarketConfig
	RateLimit RateLimitConfig
	JWTSecret string
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("FYN_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", "localhost")),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", "fynor_exchange")),
			User:     envString("DB_USER", envString("POSTGRES_USER", "fynor")),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "fynor")),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
		},
		Kafka: KafkaConfig{
			Enabled: envBool("KAFKA_ENABLED", false),
			Brokers: envCSV("KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Market: MarketConfig{
			GatewayURL:     envString("MARKET_GATEWAY_URL", "https://api.binance.com"),
			RequestTimeout: envDuration("MARKET_REQUEST_TIMEOUT", 5*time.Second),
			StreamInterval: envDuration("MARKET_STREAM_INTERVAL", 2*time.Second),
		},
		RateLimit: RateLimitConfig{
			OrdersPerWindow: envInt("ORDER_RATE_LIMIT", 20),
			Window:          envDuration("ORDER_RATE_WINDOW", time.Minute),
		},
		JWTSecret: envString("JWT_SECRET", ""),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("FYN_JWT_SECRET is required")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required when kafka is enabled")
	}
	if cfg.Market.GatewayURL == "" {
		return nil, fmt.Errorf("market gateway url required")
	}
	if cfg.RateLimit.OrdersPerWindow <= 0 || cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("order rate limit and window must be positive")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv("FYN_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv("FYN_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	for _, k := range []string{"FYN_" + key, key} {
		if v := os.Getenv(k); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	for _, k := range []string{"FYN_" + key, key} {
		if v := os.Getenv(k); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	for _, k := range []string{"FYN_" + key, key} {
		if v := os.Getenv(k); v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if trimmed := strings.TrimSpace(p); trimmed != "" {
					out = append(out, trimmed)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return def
}
