package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"msgstream/internal/constants"
	"msgstream/pkg/metrics"
)

const defaultMemoryBufferSize = 1024

// MemoryBus is an in-process bus backed by a buffered channel. It is used
// for local runs and tests; nothing survives a restart. Nacked messages go to
// an unbounded redelivery list that readers drain before the queue, so a
// nack never waits on the reader that is waiting on it.
type MemoryBus struct {
	queue  chan Message
	faults chan error
	done   chan struct{}
	once   sync.Once

	mu            sync.Mutex
	subscribeErrs []error
	redeliveries  []Message
	requeued      chan struct{}

	published atomic.Int64
	acked     atomic.Int64
	nacked    atomic.Int64
}

// MemoryStats counts bus traffic since creation.
type MemoryStats struct {
	Published int64
	Acked     int64
	Nacked    int64
	Pending   int
}

func NewMemoryBus(bufferSize int) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultMemoryBufferSize
	}
	return &MemoryBus{
		queue:    make(chan Message, bufferSize),
		faults:   make(chan error, 1),
		done:     make(chan struct{}),
		requeued: make(chan struct{}, 1),
	}
}

func (b *MemoryBus) Name() string {
	return constants.BrokerMemory
}

func (b *MemoryBus) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	msg := Message{
		ID:          uuid.NewString(),
		Data:        append([]byte(nil), data...),
		Attributes:  copyAttributes(attributes),
		PublishTime: time.Now().UTC(),
	}
	if err := b.enqueue(ctx, msg); err != nil {
		return "", err
	}

	b.published.Add(1)
	metrics.IncBusMessagesWritten(constants.BrokerMemory, "memory")
	return msg.ID, nil
}

func (b *MemoryBus) enqueue(ctx context.Context, msg Message) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.queue <- msg:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) requeue(msg Message) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	b.mu.Lock()
	b.redeliveries = append(b.redeliveries, msg)
	b.mu.Unlock()

	select {
	case b.requeued <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBus) nextRedelivery() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.redeliveries) == 0 {
		return Message{}, false
	}
	msg := b.redeliveries[0]
	b.redeliveries[0] = Message{}
	b.redeliveries = b.redeliveries[1:]
	return msg, true
}

func (b *MemoryBus) Subscribe(ctx context.Context) (Subscription, error) {
	select {
	case <-b.done:
		return nil, ErrClosed
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subscribeErrs) > 0 {
		err := b.subscribeErrs[0]
		b.subscribeErrs = b.subscribeErrs[1:]
		return nil, err
	}
	return &memorySubscription{bus: b, done: make(chan struct{})}, nil
}

// FailSubscribe makes the next len(errs) Subscribe calls return errs in order.
func (b *MemoryBus) FailSubscribe(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeErrs = append(b.subscribeErrs, errs...)
}

// Interrupt breaks the active Stream or Receive call with err, as a dropped
// connection would.
func (b *MemoryBus) Interrupt(err error) {
	select {
	case b.faults <- err:
	default:
	}
}

func (b *MemoryBus) Stats() MemoryStats {
	b.mu.Lock()
	redeliveries := len(b.redeliveries)
	b.mu.Unlock()

	return MemoryStats{
		Published: b.published.Load(),
		Acked:     b.acked.Load(),
		Nacked:    b.nacked.Load(),
		Pending:   len(b.queue) + redeliveries,
	}
}

func (b *MemoryBus) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

type memorySubscription struct {
	bus  *MemoryBus
	done chan struct{}
	once sync.Once
}

func (s *memorySubscription) delivery(msg Message) *Delivery {
	metrics.IncBusMessagesRead(constants.BrokerMemory, "memory")
	return NewDelivery(msg,
		func(context.Context) error {
			s.bus.acked.Add(1)
			return nil
		},
		func(context.Context) error {
			s.bus.nacked.Add(1)
			metrics.BusRedeliveriesTotal.WithLabelValues(constants.BrokerMemory).Inc()
			redelivered := msg
			redelivered.ID = uuid.NewString()
			redelivered.Redelivered = true
			return s.bus.requeue(redelivered)
		},
	)
}

func (s *memorySubscription) Stream(ctx context.Context, handler Handler) error {
	for {
		if err := s.interrupted(ctx); err != nil {
			return err
		}
		if msg, ok := s.bus.nextRedelivery(); ok {
			handler(ctx, s.delivery(msg))
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		case <-s.bus.done:
			return ErrClosed
		case err := <-s.bus.faults:
			return err
		case <-s.bus.requeued:
		case msg := <-s.bus.queue:
			handler(ctx, s.delivery(msg))
		}
	}
}

// interrupted reports a pending stop without blocking.
func (s *memorySubscription) interrupted(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	case <-s.bus.done:
		return ErrClosed
	case err := <-s.bus.faults:
		return err
	default:
		return nil
	}
}

func (s *memorySubscription) Receive(ctx context.Context, max int, timeout time.Duration) ([]*Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	if err := s.interrupted(ctx); err != nil {
		return nil, err
	}

	out := s.drain(nil, max)
	if len(out) > 0 {
		return out, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(out) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrClosed
		case <-s.bus.done:
			return nil, ErrClosed
		case err := <-s.bus.faults:
			return nil, err
		case <-timer.C:
			return nil, nil
		case <-s.bus.requeued:
		case msg := <-s.bus.queue:
			out = append(out, s.delivery(msg))
		}
		out = s.drain(out, max)
	}
	return out, nil
}

// drain appends whatever is ready without waiting, redeliveries first.
func (s *memorySubscription) drain(out []*Delivery, max int) []*Delivery {
	for len(out) < max {
		if msg, ok := s.bus.nextRedelivery(); ok {
			out = append(out, s.delivery(msg))
			continue
		}
		select {
		case msg := <-s.bus.queue:
			out = append(out, s.delivery(msg))
		default:
			return out
		}
	}
	return out
}

func (s *memorySubscription) AckBatch(ctx context.Context, deliveries []*Delivery) error {
	for _, d := range deliveries {
		if err := d.Ack(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
