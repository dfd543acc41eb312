package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of messages handled by the consumer (count)",
		},
		[]string{"strategy", "status"},
	)

	IngestProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_processing_duration_ms",
			Help:    "Time to normalise, store and buffer one message in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	ConsumerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "consumer_state",
			Help: "Consumer supervisor state (0=idle, 1=connecting, 2=listening, 3=backoff, 4=stopped) (state code)",
		},
	)

	ConsumerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "consumer_restarts_total",
			Help: "Total number of consumer reconnects after a bus failure (count)",
		},
	)

	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of message store operations (count)",
		},
		[]string{"operation", "status"},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_ms",
			Help:    "Duration of message store operations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"operation"},
	)

	PublishRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_requests_total",
			Help: "Total number of publish requests by outcome (count)",
		},
		[]string{"status"},
	)

	IdempotencyLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_lookups_total",
			Help: "Total number of idempotency key lookups by result (count)",
		},
		[]string{"result"},
	)

	FeedSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_size",
			Help: "Number of entries held in the recent message buffer (count)",
		},
	)

	FeedEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_evicted_total",
			Help: "Total number of entries evicted from the recent message buffer (count)",
		},
	)

	BusMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_read_total",
			Help: "Total number of messages received from the bus (count)",
		},
		[]string{"broker", "topic"},
	)

	BusMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_written_total",
			Help: "Total number of messages published to the bus (count)",
		},
		[]string{"broker", "topic"},
	)

	BusMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bus_message_size_bytes",
			Help:    "Size of bus message payloads in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"broker", "direction"},
	)

	BusWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bus_write_duration_ms",
			Help:    "Duration of bus publish calls in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"broker"},
	)

	BusRedeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_redeliveries_total",
			Help: "Total number of nacked messages scheduled for redelivery (count)",
		},
		[]string{"broker"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"broker", "topic", "reason"},
	)

	MessageQueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "message_queue_size",
			Help: "Current size of the consumer worker queue (count)",
		},
		[]string{"component"},
	)

	MessageQueueWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_queue_wait_duration_ms",
			Help:    "Duration messages wait in queue before processing in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"component"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"component", "strategy", "reason"},
	)
)

var registerOnce sync.Once

// RegisterAll registers every collector with the default registry. Safe to
// call more than once.
func RegisterAll() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			IngestMessagesTotal,
			IngestProcessingDuration,
			ConsumerState,
			ConsumerRestartsTotal,
			StoreOperationsTotal,
			StoreOperationDuration,
			PublishRequestsTotal,
			IdempotencyLookupsTotal,
			FeedSize,
			FeedEvictedTotal,
			BusMessagesReadTotal,
			BusMessagesWrittenTotal,
			BusMessageSizeBytes,
			BusWriteDuration,
			BusRedeliveriesTotal,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			MessageQueueSize,
			MessageQueueWaitDuration,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
			FallbackUsageTotal,
		)
	})
}

func ObserveIngestDuration(duration time.Duration, status string) {
	IngestProcessingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncIngestMessage(strategy, status string) {
	IngestMessagesTotal.WithLabelValues(strategy, status).Inc()
}

func SetConsumerState(code int) {
	ConsumerState.Set(float64(code))
}

func ObserveStoreOperation(operation, status string, duration time.Duration) {
	StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	StoreOperationDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func IncPublishRequest(status string) {
	PublishRequestsTotal.WithLabelValues(status).Inc()
}

func IncIdempotencyLookup(result string) {
	IdempotencyLookupsTotal.WithLabelValues(result).Inc()
}

func SetFeedSize(size int, evicted bool) {
	FeedSize.Set(float64(size))
	if evicted {
		FeedEvictedTotal.Inc()
	}
}

func IncBusMessagesRead(broker, topic string) {
	BusMessagesReadTotal.WithLabelValues(broker, topic).Inc()
}

func IncBusMessagesWritten(broker, topic string) {
	BusMessagesWrittenTotal.WithLabelValues(broker, topic).Inc()
}

func ObserveBusMessageSize(broker, direction string, sizeBytes int) {
	BusMessageSizeBytes.WithLabelValues(broker, direction).Observe(float64(sizeBytes))
}

func ObserveBusWriteDuration(broker string, duration time.Duration) {
	BusWriteDuration.WithLabelValues(broker).Observe(float64(duration.Milliseconds()))
}

func SetMessageQueueSize(component string, size int) {
	MessageQueueSize.WithLabelValues(component).Set(float64(size))
}

func ObserveMessageQueueWaitDuration(component string, duration time.Duration) {
	MessageQueueWaitDuration.WithLabelValues(component).Observe(float64(duration.Milliseconds()))
}
