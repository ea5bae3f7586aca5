package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

// Validate checks the variables a database-backed service cannot start
// without. Services with no database of their own skip it.
func (c PostgresConfig) Validate() error {
	for name, value := range map[string]string{
		"DB_HOST":     c.Host,
		"DB_USER":     c.User,
		"DB_PASSWORD": c.Password,
		"DB_NAME":     c.DBName,
	} {
		if value == "" {
			return fmt.Errorf("config: %s is required", name)
		}
	}
	return nil
}

type KafkaConfig struct {
	Brokers            string
	OrderEventsTopic   string
	PaymentEventsTopic string
	GroupID            string
}

type PaymentConfig struct {
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

type Config struct {
	App struct {
		Port string
	}
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Payment  PaymentConfig
}

// Load reads configuration from the environment. An optional .env file is
// loaded first when present; real environment variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.App.Port = getEnv("APP_PORT", "8080")

	cfg.Postgres.Host = os.Getenv("DB_HOST")
	cfg.Postgres.Port = getEnv("DB_PORT", "5432")
	cfg.Postgres.User = os.Getenv("DB_USER")
	cfg.Postgres.Password = os.Getenv("DB_PASSWORD")
	cfg.Postgres.DBName = os.Getenv("DB_NAME")
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MaxConns = int32(getEnvInt("DB_MAX_CONNS", 10))
	cfg.Postgres.MinConns = int32(getEnvInt("DB_MIN_CONNS", 2))
	cfg.Postgres.MaxConnLifetime = getEnvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	cfg.Postgres.MigrationsPath = getEnv("DB_MIGRATIONS_PATH", "migrations")

	cfg.Kafka.Brokers = getEnv("KAFKA_BROKERS", "localhost:9092")
	cfg.Kafka.OrderEventsTopic = getEnv("KAFKA_ORDER_EVENTS_TOPIC", "order-events")
	cfg.Kafka.PaymentEventsTopic = getEnv("KAFKA_PAYMENT_EVENTS_TOPIC", "payment-events")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	cfg.Payment.FailureRate = getEnvFloat("PAYMENT_FAILURE_RATE", 0.2)
	cfg.Payment.MinDelay = getEnvDuration("PAYMENT_MIN_DELAY", 100*time.Millisecond)
	cfg.Payment.MaxDelay = getEnvDuration("PAYMENT_MAX_DELAY", 500*time.Millisecond)
	if cfg.Payment.FailureRate < 0 || cfg.Payment.FailureRate > 1 {
		return nil, fmt.Errorf("config: PAYMENT_FAILURE_RATE must be between 0 and 1, got %f", cfg.Payment.FailureRate)
	}

	return cfg, nil
}

func getEnv(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(name string, fallback int) int {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(name string, fallback float64) float64 {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(name string, fallback time.Duration) time.Duration {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
