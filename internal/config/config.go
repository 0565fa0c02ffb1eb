package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	StoreDriver string
	Database    DatabaseConfig
	Redis       RedisConfig
	Workers     WorkerConfig
	Queue       QueueConfig
	Idempotency IdempotencyConfig
	Processing  ProcessingConfig
	Reconcile   ReconcileConfig
	Kafka       KafkaConfig
	Log         LogConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type WorkerConfig struct {
	Size int
}

type QueueConfig struct {
	Backend        string
	Buffer         int
	EnqueueTimeout time.Duration
	RedisKey       string
}

type IdempotencyConfig struct {
	Backend    string
	TTL        time.Duration
	MaxEntries int
}

type ProcessingConfig struct {
	Mode    string
	Delay   time.Duration
	Timeout time.Duration
}

type ReconcileConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Level       string
	Development bool
}

var envBindings = map[string]string{
	"server.port": "PORT",

	"store.driver": "STORE_DRIVER",

	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",

	"redis.enabled":  "REDIS_ENABLED",
	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"workers.size": "WORKER_POOL_SIZE",

	"queue.backend":         "QUEUE_BACKEND",
	"queue.buffer":          "QUEUE_BUFFER",
	"queue.enqueue_timeout": "QUEUE_ENQUEUE_TIMEOUT",

	"idempotency.backend":     "IDEMPOTENCY_BACKEND",
	"idempotency.ttl":         "IDEMPOTENCY_TTL",
	"idempotency.max_entries": "IDEMPOTENCY_MAX_ENTRIES",

	"processing.mode":    "PROCESSING_MODE",
	"processing.delay":   "PROCESSING_DELAY",
	"processing.timeout": "PROCESSING_TIMEOUT",

	"reconcile.interval":    "RECONCILE_INTERVAL",
	"reconcile.stale_after": "RECONCILE_STALE_AFTER",
	"reconcile.batch_size":  "RECONCILE_BATCH_SIZE",

	"kafka.enabled": "KAFKA_ENABLED",
	"kafka.brokers": "KAFKA_BROKERS",
	"kafka.topic":   "KAFKA_TOPIC",

	"log.level":       "LOG_LEVEL",
	"log.development": "LOG_DEVELOPMENT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("store.driver", "postgres")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "webhooks")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Minute*5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("workers.size", 8)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.buffer", 1024)
	v.SetDefault("queue.enqueue_timeout", 100*time.Millisecond)
	v.SetDefault("queue.redis_key", "webhooks:transaction_queue")

	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", 10*time.Minute)
	v.SetDefault("idempotency.max_entries", 100000)

	v.SetDefault("processing.mode", "delay")
	v.SetDefault("processing.delay", 30*time.Second)
	v.SetDefault("processing.timeout", 2*time.Minute)

	v.SetDefault("reconcile.interval", time.Minute)
	v.SetDefault("reconcile.stale_after", 5*time.Minute)
	v.SetDefault("reconcile.batch_size", 100)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "transaction_events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration from the environment, falling back to defaults
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom builds a Config from v after applying defaults and env bindings
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		Port:        v.GetString("server.port"),
		StoreDriver: strings.ToLower(v.GetString("store.driver")),
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Workers: WorkerConfig{
			Size: v.GetInt("workers.size"),
		},
		Queue: QueueConfig{
			Backend:        strings.ToLower(v.GetString("queue.backend")),
			Buffer:         v.GetInt("queue.buffer"),
			EnqueueTimeout: v.GetDuration("queue.enqueue_timeout"),
			RedisKey:       v.GetString("queue.redis_key"),
		},
		Idempotency: IdempotencyConfig{
			Backend:    strings.ToLower(v.GetString("idempotency.backend")),
			TTL:        v.GetDuration("idempotency.ttl"),
			MaxEntries: v.GetInt("idempotency.max_entries"),
		},
		Processing: ProcessingConfig{
			Mode:    strings.ToLower(v.GetString("processing.mode")),
			Delay:   v.GetDuration("processing.delay"),
			Timeout: v.GetDuration("processing.timeout"),
		},
		Reconcile: ReconcileConfig{
			Interval:   v.GetDuration("reconcile.interval"),
			StaleAfter: v.GetDuration("reconcile.stale_after"),
			BatchSize:  v.GetInt("reconcile.batch_size"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("kafka.enabled"),
			Brokers: splitList(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Workers.Size <= 0 {
		errs = append(errs, errors.New("workers.size must be positive"))
	}
	if c.Queue.Buffer <= 0 {
		errs = append(errs, errors.New("queue.buffer must be positive"))
	}
	if c.Processing.Timeout <= 0 {
		errs = append(errs, errors.New("processing.timeout must be positive"))
	}
	if c.Reconcile.Interval <= 0 {
		errs = append(errs, errors.New("reconcile.interval must be positive"))
	}
	// stale_after doubles as the worker claim lease, which must outlast one processing attempt
	if c.Reconcile.StaleAfter <= c.Processing.Timeout {
		errs = append(errs, errors.New("reconcile.stale_after must exceed processing.timeout"))
	}
	if c.Reconcile.BatchSize <= 0 {
		errs = append(errs, errors.New("reconcile.batch_size must be positive"))
	}

	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported store.driver %q", c.StoreDriver))
	}
	switch c.Processing.Mode {
	case "delay", "iso20022":
	default:
		errs = append(errs, fmt.Errorf("unsupported processing.mode %q", c.Processing.Mode))
	}
	for name, backend := range map[string]string{"queue.backend": c.Queue.Backend, "idempotency.backend": c.Idempotency.Backend} {
		if backend != "memory" && backend != "redis" {
			errs = append(errs, fmt.Errorf("unsupported %s %q", name, backend))
		}
	}
	if (c.Queue.Backend == "redis" || c.Idempotency.Backend == "redis") && !c.Redis.Enabled {
		errs = append(errs, errors.New("redis backends require redis.enabled"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
