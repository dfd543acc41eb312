package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Consumer       ConsumerConfig       `mapstructure:"consumer"`
	Feed           FeedConfig           `mapstructure:"feed"`
	Publish        PublishConfig        `mapstructure:"publish"`
	Moderation     ModerationConfig     `mapstructure:"moderation"`
	API            APIConfig            `mapstructure:"api"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"dbname"`
	SSLMode          string        `mapstructure:"sslmode"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// RedisConfig is optional; an empty Host disables the publish idempotency cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type BrokerConfig struct {
	Type           string         `mapstructure:"type"`
	PublishTimeout time.Duration  `mapstructure:"publish_timeout"`
	Kafka          KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ       RabbitMQConfig `mapstructure:"rabbitmq"`
	Memory         MemoryConfig   `mapstructure:"memory"`
}

type KafkaConfig struct {
	Brokers       []string    `mapstructure:"brokers"`
	Topic         string      `mapstructure:"topic"`
	GroupID       string      `mapstructure:"group_id"`
	DLQTopic      string      `mapstructure:"dlq_topic"`
	MaxDeliveries int         `mapstructure:"max_deliveries"`
	Retry         RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Prefetch int    `mapstructure:"prefetch"`
}

type MemoryConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type ConsumerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Strategy       string        `mapstructure:"strategy"` // "push" or "poll"
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxBatch       int           `mapstructure:"max_batch"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`
	EmptyBackoff   time.Duration `mapstructure:"empty_backoff"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type FeedConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type PublishConfig struct {
	IDAttributes     []string          `mapstructure:"id_attributes"`
	SourceAttributes []string          `mapstructure:"source_attributes"`
	PersistOnPublish bool              `mapstructure:"persist_on_publish"`
	Idempotency      IdempotencyConfig `mapstructure:"idempotency"`
}

type IdempotencyConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TTLSeconds int  `mapstructure:"ttl_seconds"`
}

type ModerationConfig struct {
	ExtraWords []string `mapstructure:"extra_words"`
	Whitelist  []string `mapstructure:"whitelist"`
	Mask       string   `mapstructure:"mask"`
}

type APIConfig struct {
	CORSOrigins []string        `mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
