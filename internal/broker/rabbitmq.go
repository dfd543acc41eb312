package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"msgstream/internal/config"
	"msgstream/internal/constants"
	"msgstream/internal/logger"
	"msgstream/pkg/metrics"
	"msgstream/pkg/tracing"
)

const rabbitPollInterval = 100 * time.Millisecond

// RabbitMQBus publishes through the default exchange to one durable queue
// with publisher confirms. A dropped connection is redialled lazily by the
// next Publish or Subscribe.
type RabbitMQBus struct {
	cfg    config.RabbitMQConfig
	logger logger.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	publishCh *amqp.Channel
}

func NewRabbitMQBus(cfg config.RabbitMQConfig, log logger.Logger) (*RabbitMQBus, error) {
	b := &RabbitMQBus{cfg: cfg, logger: log}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.connection(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *RabbitMQBus) Name() string {
	return constants.BrokerRabbitMQ
}

// connection returns a live connection, redialling if needed. Callers hold b.mu.
func (b *RabbitMQBus) connection() (*amqp.Connection, error) {
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	b.conn = conn
	b.publishCh = nil

	b.logger.Infow("RabbitMQ connected", "queue", b.cfg.Queue)
	return conn, nil
}

func (b *RabbitMQBus) openChannel() (*amqp.Channel, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if _, err := ch.QueueDeclare(b.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", b.cfg.Queue, err)
	}
	return ch, nil
}

func (b *RabbitMQBus) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	start := time.Now()
	id := uuid.NewString()

	headers := amqp.Table{}
	for k, v := range attributes {
		headers[k] = v
	}
	for k, v := range tracing.InjectMap(ctx) {
		headers[k] = v
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishCh == nil || b.publishCh.IsClosed() {
		ch, err := b.openChannel()
		if err != nil {
			return "", err
		}
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return "", fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
		b.publishCh = ch
	}

	confirm, err := b.publishCh.PublishWithDeferredConfirmWithContext(ctx, "", b.cfg.Queue, false, false, amqp.Publishing{
		MessageId:    id,
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to RabbitMQ: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed waiting for RabbitMQ confirm: %w", err)
	}
	if !acked {
		return "", fmt.Errorf("RabbitMQ rejected message %s", id)
	}

	metrics.IncBusMessagesWritten(constants.BrokerRabbitMQ, b.cfg.Queue)
	metrics.ObserveBusMessageSize(constants.BrokerRabbitMQ, "out", len(data))
	metrics.ObserveBusWriteDuration(constants.BrokerRabbitMQ, time.Since(start))
	return id, nil
}

func (b *RabbitMQBus) Subscribe(ctx context.Context) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.openChannel()
	if err != nil {
		return nil, err
	}

	if b.cfg.Prefetch > 0 {
		if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	return &rabbitSubscription{queue: b.cfg.Queue, ch: ch, get: ch.Get}, nil
}

func (b *RabbitMQBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

type rabbitSubscription struct {
	queue string
	ch    *amqp.Channel
	get   func(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

func (s *rabbitSubscription) Stream(ctx context.Context, handler Handler) error {
	deliveries, err := s.ch.ConsumeWithContext(ctx, s.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", s.queue, err)
	}

	closed := s.ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return ErrClosed
			}
			return fmt.Errorf("RabbitMQ channel closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("RabbitMQ delivery stream for %s ended", s.queue)
			}
			handler(ctx, s.delivery(d))
		}
	}
}

func (s *rabbitSubscription) Receive(ctx context.Context, max int, timeout time.Duration) ([]*Delivery, error) {
	deadline := time.Now().Add(timeout)
	var out []*Delivery

	for len(out) < max {
		d, ok, err := s.get(s.queue, false)
		if err != nil {
			return nil, fmt.Errorf("RabbitMQ get from %s failed: %w", s.queue, err)
		}
		if ok {
			out = append(out, s.delivery(d))
			continue
		}
		if len(out) > 0 || !time.Now().Before(deadline) {
			break
		}

		timer := time.NewTimer(rabbitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return out, nil
}

func (s *rabbitSubscription) AckBatch(ctx context.Context, deliveries []*Delivery) error {
	for _, d := range deliveries {
		if err := d.Ack(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *rabbitSubscription) Close() error {
	if s.ch.IsClosed() {
		return nil
	}
	return s.ch.Close()
}

func (s *rabbitSubscription) delivery(d amqp.Delivery) *Delivery {
	msg := Message{
		ID:          d.MessageId,
		Data:        d.Body,
		Attributes:  make(map[string]string, len(d.Headers)),
		PublishTime: d.Timestamp,
		Redelivered: d.Redelivered,
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s/%d", s.queue, d.DeliveryTag)
	}
	if msg.PublishTime.IsZero() {
		msg.PublishTime = time.Now()
	}

	var trace map[string]string
	for k, v := range d.Headers {
		if tracing.IsTraceHeader(k) {
			if trace == nil {
				trace = make(map[string]string, 2)
			}
			trace[k] = fmt.Sprint(v)
			continue
		}
		msg.Attributes[k] = fmt.Sprint(v)
	}

	metrics.IncBusMessagesRead(constants.BrokerRabbitMQ, s.queue)
	metrics.ObserveBusMessageSize(constants.BrokerRabbitMQ, "in", len(d.Body))

	out := NewDelivery(msg,
		func(context.Context) error {
			return d.Ack(false)
		},
		func(context.Context) error {
			metrics.BusRedeliveriesTotal.WithLabelValues(constants.BrokerRabbitMQ).Inc()
			return d.Nack(false, true)
		},
	)
	out.trace = trace
	return out
}
