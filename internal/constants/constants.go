package constants

import "time"

const (
	ServiceName = "msgstream"
)

const (
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
	BrokerMemory   = "memory"
)

const (
	StrategyPush = "push"
	StrategyPoll = "poll"
)

const (
	DefaultTopic        = "app-messages"
	DefaultSubscription = "app-sub-pull"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultPublishTimeout   = 10 * time.Second
	DefaultStatementTimeout = 5 * time.Second
	ShutdownTimeout         = 5 * time.Second
	HealthCheckTimeout      = 2 * time.Second
)

const (
	DefaultFeedCapacity = 200
	MaxFeedCapacity     = 10000
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

const (
	MaxAttributes        = 100
	MaxAttributeKeyLen   = 256
	MaxAttributeValueLen = 1024
	PersistedAttribute   = "x-msgstream-persisted"
	AttemptHeader        = "x-msgstream-attempt"
	MessageIDHeader      = "x-msgstream-id"
	IdempotencyKeyHeader = "Idempotency-Key"
)

const (
	CacheKeyPrefixIdempotency = "msgstream:idem:"
	DefaultTTLSeconds         = 3600
)
