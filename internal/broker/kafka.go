package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"msgstream/internal/config"
	"msgstream/internal/constants"
	"msgstream/internal/logger"
	"msgstream/pkg/logging"
	"msgstream/pkg/metrics"
	"msgstream/pkg/retry"
	"msgstream/pkg/tracing"
)

const (
	kafkaLinger      = 50 * time.Millisecond
	dlqReasonHeader  = "x-msgstream-dlq-reason"
	dlqSourceHeader  = "x-msgstream-dlq-source"
	redeliveryReason = "max_deliveries_exceeded"
)

// KafkaBus publishes to and consumes from a single topic. Kafka has no
// per-message negative acknowledgement, so Nack republishes the message with
// an incremented attempt header and commits the original offset. After
// MaxDeliveries attempts the message goes to the DLQ topic, or is dropped
// when none is configured.
type KafkaBus struct {
	cfg    config.KafkaConfig
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaBus(cfg config.KafkaConfig, log logger.Logger) *KafkaBus {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaBus{cfg: cfg, writer: w, logger: log}
}

func (b *KafkaBus) Name() string {
	return constants.BrokerKafka
}

func (b *KafkaBus) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	id := uuid.NewString()

	msg := kafka.Message{
		Topic:   b.cfg.Topic,
		Key:     []byte(id),
		Value:   data,
		Headers: tracing.InjectKafkaHeaders(ctx, encodeKafkaHeaders(id, 1, attributes)),
		Time:    time.Now(),
	}

	if err := b.write(ctx, msg); err != nil {
		return "", err
	}
	return id, nil
}

func (b *KafkaBus) write(ctx context.Context, msg kafka.Message) error {
	start := time.Now()

	err := retry.RetryWithCallback(ctx, retryPolicy(b.cfg.Retry), func() error {
		return b.writer.WriteMessages(ctx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("kafka-writer", msg.Topic).Inc()
		b.logger.WarnwCtx(ctx, "Retrying kafka write",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
			"topic", msg.Topic,
		)
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message to %s: %w", msg.Topic, err)
	}

	metrics.IncBusMessagesWritten(constants.BrokerKafka, msg.Topic)
	metrics.ObserveBusMessageSize(constants.BrokerKafka, "out", len(msg.Value))
	metrics.ObserveBusWriteDuration(constants.BrokerKafka, time.Since(start))
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context) (Subscription, error) {
	readerCfg := kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		GroupID:  b.cfg.GroupID,
		Topic:    b.cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	}
	if err := readerCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka reader config: %w", err)
	}

	b.logger.InfowCtx(ctx, "Creating Kafka reader",
		"topic", b.cfg.Topic,
		"brokers", b.cfg.Brokers,
		"group_id", b.cfg.GroupID,
	)

	return &kafkaSubscription{
		bus:     b,
		reader:  kafka.NewReader(readerCfg),
		offsets: newOffsetWatermark(),
	}, nil
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

// kafkaSubscription settles deliveries out of order (push workers run in
// parallel) but commits each partition only up to its contiguous settled
// watermark, one commit at a time.
type kafkaSubscription struct {
	bus     *KafkaBus
	reader  *kafka.Reader
	offsets *offsetWatermark

	commitMu sync.Mutex
}

func (s *kafkaSubscription) Stream(ctx context.Context, handler Handler) error {
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka fetch failed: %w", err)
		}
		handler(ctx, s.delivery(m))
	}
}

func (s *kafkaSubscription) Receive(ctx context.Context, max int, timeout time.Duration) ([]*Delivery, error) {
	if max <= 0 {
		return nil, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []*Delivery
	for len(out) < max {
		m, err := s.fetch(waitCtx, len(out) > 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("kafka fetch failed: %w", err)
		}
		out = append(out, s.delivery(m))
	}

	return out, nil
}

// fetch reads one message. With linger set it only waits briefly, which
// picks up what the reader already has buffered.
func (s *kafkaSubscription) fetch(ctx context.Context, linger bool) (kafka.Message, error) {
	if linger {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, kafkaLinger)
		defer cancel()
	}
	return s.reader.FetchMessage(ctx)
}

func (s *kafkaSubscription) AckBatch(ctx context.Context, deliveries []*Delivery) error {
	msgs := make([]kafka.Message, 0, len(deliveries))
	for _, d := range deliveries {
		m, ok := d.raw.(kafka.Message)
		if !ok || !d.settled.CompareAndSwap(false, true) {
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return nil
	}
	return s.commit(ctx, msgs...)
}

func (s *kafkaSubscription) commit(ctx context.Context, msgs ...kafka.Message) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	ready := s.offsets.settle(msgs...)
	if len(ready) == 0 {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, ready...); err != nil {
		return fmt.Errorf("failed to commit kafka offsets: %w", err)
	}
	return nil
}

func (s *kafkaSubscription) Close() error {
	return s.reader.Close()
}

func (s *kafkaSubscription) delivery(m kafka.Message) *Delivery {
	msg, _, trace := decodeKafkaMessage(m)

	metrics.IncBusMessagesRead(constants.BrokerKafka, m.Topic)
	metrics.ObserveBusMessageSize(constants.BrokerKafka, "in", len(m.Value))
	s.offsets.track(m)

	d := NewDelivery(msg,
		func(ctx context.Context) error {
			return s.commit(ctx, m)
		},
		func(ctx context.Context) error {
			return s.redeliver(ctx, m)
		},
	)
	d.raw = m
	d.trace = trace
	return d
}

func (s *kafkaSubscription) redeliver(ctx context.Context, m kafka.Message) error {
	cfg := s.bus.cfg
	msg, attempt, trace := decodeKafkaMessage(m)
	ctx = logging.WithBusMessageID(ctx, msg.ID)

	headers := encodeKafkaHeaders(uuid.NewString(), attempt+1, msg.Attributes)
	for k, v := range trace {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	switch topic, dest := redeliveryRoute(cfg, attempt); dest {
	case routeRetry:
		err := s.bus.write(ctx, kafka.Message{Topic: topic, Key: m.Key, Value: m.Value, Headers: headers, Time: time.Now()})
		if err != nil {
			return fmt.Errorf("failed to requeue message: %w", err)
		}
		metrics.BusRedeliveriesTotal.WithLabelValues(constants.BrokerKafka).Inc()

	case routeDLQ:
		headers = append(headers,
			kafka.Header{Key: dlqReasonHeader, Value: []byte(redeliveryReason)},
			kafka.Header{Key: dlqSourceHeader, Value: []byte(m.Topic)},
		)
		err := s.bus.write(ctx, kafka.Message{Topic: topic, Key: m.Key, Value: m.Value, Headers: headers, Time: time.Now()})
		if err != nil {
			return fmt.Errorf("failed to publish to DLQ: %w", err)
		}
		metrics.DLQMessagesTotal.WithLabelValues(constants.BrokerKafka, m.Topic, redeliveryReason).Inc()
		s.bus.logger.WarnwCtx(ctx, "Message sent to DLQ",
			"source_topic", m.Topic,
			"dlq_topic", topic,
			"attempts", attempt,
		)

	default:
		s.bus.logger.ErrorwCtx(ctx, "Dropping message after max deliveries, no DLQ configured",
			"topic", m.Topic,
			"attempts", attempt,
		)
	}

	return s.commit(ctx, m)
}

type route int

const (
	routeRetry route = iota
	routeDLQ
	routeDrop
)

// redeliveryRoute decides where a nacked message that has been delivered
// attempt times goes next.
func redeliveryRoute(cfg config.KafkaConfig, attempt int) (string, route) {
	switch {
	case attempt < cfg.MaxDeliveries:
		return cfg.Topic, routeRetry
	case cfg.DLQTopic != "":
		return cfg.DLQTopic, routeDLQ
	default:
		return "", routeDrop
	}
}

func encodeKafkaHeaders(id string, attempt int, attributes map[string]string) []kafka.Header {
	headers := make([]kafka.Header, 0, len(attributes)+2)
	for k, v := range attributes {
		if isReservedHeader(k) {
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return append(headers,
		kafka.Header{Key: constants.MessageIDHeader, Value: []byte(id)},
		kafka.Header{Key: constants.AttemptHeader, Value: []byte(strconv.Itoa(attempt))},
	)
}

func decodeKafkaMessage(m kafka.Message) (msg Message, attempt int, trace map[string]string) {
	msg = Message{
		Data:        m.Value,
		Attributes:  make(map[string]string, len(m.Headers)),
		PublishTime: m.Time,
	}
	attempt = 1

	for _, h := range m.Headers {
		switch {
		case h.Key == constants.MessageIDHeader:
			msg.ID = string(h.Value)
		case h.Key == constants.AttemptHeader:
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				attempt = n
			}
		case h.Key == dlqReasonHeader || h.Key == dlqSourceHeader:
		case tracing.IsTraceHeader(h.Key):
			if trace == nil {
				trace = make(map[string]string, 2)
			}
			trace[h.Key] = string(h.Value)
		default:
			msg.Attributes[h.Key] = string(h.Value)
		}
	}

	msg.Redelivered = attempt > 1
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	if msg.PublishTime.IsZero() {
		msg.PublishTime = time.Now()
	}

	return msg, attempt, trace
}

func isReservedHeader(key string) bool {
	return key == constants.MessageIDHeader || key == constants.AttemptHeader ||
		key == dlqReasonHeader || key == dlqSourceHeader || tracing.IsTraceHeader(key)
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return policy
}
