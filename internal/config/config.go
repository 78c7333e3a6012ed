// Package config reads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	CartStoreDefault = "default"
	CartStoreMongo   = "mongo"
)

type Config struct {
	HTTPPort        string
	GRPCPort        string
	LogLevel        string
	Storage         string
	CartStore       string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	SeedFile        string

	DB    DBConfig
	Mongo MongoConfig
	Redis RedisConfig
	Kafka KafkaConfig
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	MigrationsPath string
}

type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig enables the cart cache and distributed locks when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
}

// KafkaConfig enables the outbox publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		GRPCPort:  getEnv("GRPC_PORT", "50051"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Storage:   getEnv("STORAGE", StorageMemory),
		CartStore: getEnv("CART_STORE", CartStoreDefault),
		SeedFile:  getEnv("SEED_FILE", ""),
		DB: DBConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			Name:           getEnv("DB_NAME", "fulfillment"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DB_NAME", "fulfillment"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("OUTBOX_TOPIC", "fulfillment-outbox"),
		},
	}

	var err error
	if cfg.DB.Port, err = strconv.Atoi(getEnv("DB_PORT", "5432")); err != nil {
		errs = append(errs, fmt.Errorf("DB_PORT: %w", err))
	}
	if cfg.RequestTimeout, err = time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s")); err != nil {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT: %w", err))
	}
	if cfg.ShutdownTimeout, err = time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s")); err != nil {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE %q", c.Storage))
	}
	switch c.CartStore {
	case CartStoreDefault, CartStoreMongo:
	default:
		errs = append(errs, fmt.Errorf("unknown CART_STORE %q", c.CartStore))
	}
	if c.CartStore == CartStoreMongo && c.Storage == StorageMemory {
		errs = append(errs, errors.New("CART_STORE=mongo requires STORAGE=postgres"))
	}
	for name, port := range map[string]string{"HTTP_PORT": c.HTTPPort, "GRPC_PORT": c.GRPCPort} {
		if err := validPort(port); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT: %d out of range", c.DB.Port))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("OUTBOX_TOPIC is required with KAFKA_BROKERS"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func validPort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%q is not a number", s)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%d out of range", n)
	}
	return nil
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
