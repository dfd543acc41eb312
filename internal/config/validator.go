package config

import (
	"errors"
	"fmt"
	"strings"

	"msgstream/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks every section and reports all failures together.
func ValidateStatic(cfg *Config) error {
	var errs []error

	for _, err := range []error{
		validateServer(cfg.Server),
		validateDatabase(cfg.Database),
		validateBroker(cfg.Broker),
		validateConsumer(cfg.Consumer),
		validateFeed(cfg.Feed),
		validatePublish(cfg.Publish, cfg.Database.Redis),
		validateRateLimit(cfg.API.RateLimit),
	} {
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{Field: "server.read_timeout", Message: "read timeout must be positive"}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{Field: "server.write_timeout", Message: "write timeout must be positive"}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if err := validatePostgres(cfg.Postgres); err != nil {
		return err
	}

	if cfg.Redis.Enabled() {
		if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
			return &ValidationError{
				Field:   "database.redis.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Redis.Port),
			}
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "database.postgres.host", Message: "PostgreSQL host is required"}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{Field: "database.postgres.user", Message: "PostgreSQL user is required"}
	}

	if cfg.DBName == "" {
		return &ValidationError{Field: "database.postgres.dbname", Message: "PostgreSQL database name is required"}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	if cfg.StatementTimeout <= 0 {
		return &ValidationError{Field: "database.postgres.statement_timeout", Message: "statement timeout must be positive"}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.PublishTimeout <= 0 {
		return &ValidationError{Field: "broker.publish_timeout", Message: "publish timeout must be positive"}
	}

	switch cfg.Type {
	case constants.BrokerKafka:
		return validateKafka(cfg.Kafka)
	case constants.BrokerRabbitMQ:
		return validateRabbitMQ(cfg.RabbitMQ)
	case constants.BrokerMemory:
		if cfg.Memory.BufferSize < 1 {
			return &ValidationError{Field: "broker.memory.buffer_size", Message: "buffer size must be positive"}
		}
		return nil
	case "":
		return &ValidationError{Field: "broker.type", Message: "broker type is required"}
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, rabbitmq, memory)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{Field: "broker.kafka.brokers", Message: "at least one Kafka broker is required"}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.Topic == "" {
		return &ValidationError{Field: "broker.kafka.topic", Message: "Kafka topic is required"}
	}

	if cfg.GroupID == "" {
		return &ValidationError{Field: "broker.kafka.group_id", Message: "Kafka consumer group ID is required"}
	}

	if cfg.MaxDeliveries < 1 {
		return &ValidationError{Field: "broker.kafka.max_deliveries", Message: "max_deliveries must be at least 1"}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{Field: "broker.kafka.retry.max_attempts", Message: "max_attempts must be non-negative"}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{Field: "broker.kafka.retry.multiplier", Message: "multiplier must be positive"}
	}

	return nil
}

func validateRabbitMQ(cfg RabbitMQConfig) error {
	if !strings.HasPrefix(cfg.URL, "amqp://") && !strings.HasPrefix(cfg.URL, "amqps://") {
		return &ValidationError{Field: "broker.rabbitmq.url", Message: "RabbitMQ URL must start with amqp:// or amqps://"}
	}

	if cfg.Queue == "" {
		return &ValidationError{Field: "broker.rabbitmq.queue", Message: "RabbitMQ queue is required"}
	}

	if cfg.Prefetch < 0 {
		return &ValidationError{Field: "broker.rabbitmq.prefetch", Message: "prefetch must be non-negative"}
	}

	return nil
}

func validateConsumer(cfg ConsumerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	switch cfg.Strategy {
	case constants.StrategyPush:
		if cfg.Workers < 1 {
			return &ValidationError{Field: "consumer.workers", Message: "at least one worker is required"}
		}
		if cfg.QueueSize < 1 {
			return &ValidationError{Field: "consumer.queue_size", Message: "queue size must be positive"}
		}
	case constants.StrategyPoll:
		if cfg.MaxBatch < 1 {
			return &ValidationError{Field: "consumer.max_batch", Message: "max_batch must be positive"}
		}
		if cfg.ReceiveTimeout <= 0 {
			return &ValidationError{Field: "consumer.receive_timeout", Message: "receive timeout must be positive"}
		}
		if cfg.EmptyBackoff < 0 {
			return &ValidationError{Field: "consumer.empty_backoff", Message: "empty backoff must be non-negative"}
		}
	default:
		return &ValidationError{
			Field:   "consumer.strategy",
			Message: fmt.Sprintf("unknown consumer strategy: %s (supported: push, poll)", cfg.Strategy),
		}
	}

	if cfg.ReconnectDelay <= 0 {
		return &ValidationError{Field: "consumer.reconnect_delay", Message: "reconnect delay must be positive"}
	}

	return nil
}

func validateFeed(cfg FeedConfig) error {
	if cfg.Capacity < 1 || cfg.Capacity > constants.MaxFeedCapacity {
		return &ValidationError{
			Field:   "feed.capacity",
			Message: fmt.Sprintf("capacity must be between 1 and %d, got %d", constants.MaxFeedCapacity, cfg.Capacity),
		}
	}
	return nil
}

func validatePublish(cfg PublishConfig, redis RedisConfig) error {
	if len(cfg.IDAttributes) == 0 {
		return &ValidationError{Field: "publish.id_attributes", Message: "at least one id attribute key is required"}
	}

	if cfg.Idempotency.Enabled {
		if !redis.Enabled() {
			return &ValidationError{Field: "publish.idempotency.enabled", Message: "idempotency requires database.redis.host"}
		}
		if cfg.Idempotency.TTLSeconds < 1 {
			return &ValidationError{Field: "publish.idempotency.ttl_seconds", Message: "TTL must be positive"}
		}
	}

	return nil
}

func validateRateLimit(cfg RateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.RPS <= 0 {
		return &ValidationError{Field: "api.rate_limit.rps", Message: "rps must be positive"}
	}
	if cfg.Burst < 1 {
		return &ValidationError{Field: "api.rate_limit.burst", Message: "burst must be positive"}
	}
	return nil
}
