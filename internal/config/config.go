package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aasha-care/aasha-relay/internal/model"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Webhook   WebhookConfig
	LogLevel  slog.Level
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Driver      string
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
	LockTTL  time.Duration
}

type SchedulerConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// WebhookConfig holds the workflow endpoints the relay posts to.
type WebhookConfig struct {
	SendURL         string
	InitiateCallURL string
	WelcomeURL      string
}

// LoadAll reads the whole configuration from the environment. Every problem found is
// reported, not just the first.
func LoadAll() (*Config, error) {
	var errs []error

	str := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		},
		Webhook: WebhookConfig{
			SendURL:         str("TELEGRAM_SEND_WEBHOOK_URL"),
			InitiateCallURL: str("INITIATE_CALL_WEBHOOK_URL"),
			WelcomeURL:      str("TELEGRAM_WELCOME_WEBHOOK_URL"),
		},
		Scheduler: SchedulerConfig{
			Enabled:   flag("SCHED_ENABLED", false),
			Interval:  time.Duration(num("SCHED_INTERVAL_SECONDS", 60)) * time.Second,
			BatchSize: num("QUEUE_BATCH_SIZE", model.MaxBatchSize),
		},
	}

	switch cfg.Database.Driver {
	case DriverPostgres:
		cfg.Database.PostgresURL = str("POSTGRES_URL")
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.Database.Driver))
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = RedisConfig{
			Enabled:  true,
			Address:  addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       num("REDIS_DB", 0),
			TTL:      time.Duration(num("REDIS_TTL_SECONDS", 86400)) * time.Second,
			LockTTL:  time.Duration(num("REDIS_LOCK_TTL_SECONDS", 300)) * time.Second,
		}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Scheduler.BatchSize <= 0 || cfg.Scheduler.BatchSize > model.MaxBatchSize {
		errs = append(errs, fmt.Errorf("QUEUE_BATCH_SIZE must be between 1 and %d", model.MaxBatchSize))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Redis.Enabled {
		if cfg.Redis.TTL <= 0 {
			errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
		}
		if cfg.Redis.LockTTL <= 0 {
			errs = append(errs, errors.New("REDIS_LOCK_TTL_SECONDS must be > 0"))
		}
	}
	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
