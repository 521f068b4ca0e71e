package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Event store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Config is the process configuration shared by the binaries.
type Config struct {
	AppEnv   string `env:"APP_ENV"   envDefault:"dev"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	EventStoreBackend    string `env:"EVENT_STORE_BACKEND"    envDefault:"memory"`
	DatabaseURL          string `env:"DATABASE_URL"`
	SQLitePath           string `env:"SQLITE_PATH"            envDefault:"events.db"`
	DynamoEventsTable    string `env:"DYNAMO_EVENTS_TABLE"    envDefault:"events"`
	DynamoSnapshotsTable string `env:"DYNAMO_SNAPSHOTS_TABLE" envDefault:"snapshots"`

	KafkaBrokers       []string `env:"KAFKA_BROKERS"        envDefault:"localhost:9092" envSeparator:","`
	KafkaTopic         string   `env:"KAFKA_TOPIC"          envDefault:"events"`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"order-saga"`

	SagaStoreBackend string `env:"SAGA_STORE_BACKEND" envDefault:"memory"`

	SnapshotThreshold         int           `env:"SNAPSHOT_THRESHOLD"           envDefault:"10"`
	MaxConflictRetries        int           `env:"MAX_CONFLICT_RETRIES"         envDefault:"3"`
	InfraRetryAttempts        uint          `env:"INFRA_RETRY_ATTEMPTS"         envDefault:"3"`
	InfraRetryInitialInterval time.Duration `env:"INFRA_RETRY_INITIAL_INTERVAL" envDefault:"100ms"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the process configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend selections and their required settings.
func (c Config) Validate() error {
	switch c.EventStoreBackend {
	case BackendMemory, BackendDynamoDB:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres event store")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite event store")
		}
	default:
		return fmt.Errorf("unknown EVENT_STORE_BACKEND %q", c.EventStoreBackend)
	}

	switch c.SagaStoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres saga store")
		}
	default:
		return fmt.Errorf("unknown SAGA_STORE_BACKEND %q", c.SagaStoreBackend)
	}

	if c.MaxConflictRetries < 1 {
		return fmt.Errorf("MAX_CONFLICT_RETRIES must be at least 1")
	}
	if c.SnapshotThreshold < 0 {
		return fmt.Errorf("SNAPSHOT_THRESHOLD must not be negative")
	}
	return nil
}

// RequireDurableState rejects in-memory stores. Short-lived processes such
// as the Lambda saga handler lose memory between invocations, which would
// drop saga progress and the compensations it still owes.
func (c Config) RequireDurableState() error {
	if c.EventStoreBackend == BackendMemory {
		return fmt.Errorf("EVENT_STORE_BACKEND must be durable, got %q", c.EventStoreBackend)
	}
	if c.SagaStoreBackend != BackendPostgres {
		return fmt.Errorf("SAGA_STORE_BACKEND must be %q, got %q", BackendPostgres, c.SagaStoreBackend)
	}
	return nil
}
