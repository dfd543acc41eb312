// Package broker adapts the message bus (Kafka, RabbitMQ or an in-process
// queue) to publish, push-stream and poll primitives with explicit
// acknowledgement.
package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by operations on a closed bus or subscription.
var ErrClosed = errors.New("broker: closed")

// Message is one payload as seen on the bus. ID is assigned by the bus at
// publish time; a redelivery may carry a different ID. Redelivered is set
// when the bus knows this is not the first delivery.
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time
	Redelivered bool
}

// Delivery is a received Message awaiting Ack or Nack. Settling is
// idempotent: only the first Ack or Nack has an effect.
type Delivery struct {
	Message

	ack     func(ctx context.Context) error
	nack    func(ctx context.Context) error
	raw     interface{}
	trace   map[string]string
	settled atomic.Bool
}

func NewDelivery(msg Message, ack, nack func(ctx context.Context) error) *Delivery {
	return &Delivery{Message: msg, ack: ack, nack: nack}
}

func (d *Delivery) Ack(ctx context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return nil
	}
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack hands the message back to the bus for redelivery.
func (d *Delivery) Nack(ctx context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return nil
	}
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

func (d *Delivery) Settled() bool {
	return d.settled.Load()
}

// TraceCarrier holds propagated trace headers, if the bus carried any.
func (d *Delivery) TraceCarrier() map[string]string {
	return d.trace
}

// Handler receives pushed deliveries. It must eventually Ack or Nack each one.
type Handler func(ctx context.Context, d *Delivery)

type Subscription interface {
	// Stream pushes deliveries to handler until ctx is done (returns
	// ctx.Err()) or the connection fails (returns the failure).
	Stream(ctx context.Context, handler Handler) error
	// Receive waits up to timeout for at least one message and returns at
	// most max. An empty result with a nil error means nothing arrived.
	Receive(ctx context.Context, max int, timeout time.Duration) ([]*Delivery, error)
	// AckBatch acknowledges deliveries returned by Receive.
	AckBatch(ctx context.Context, deliveries []*Delivery) error
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

type Bus interface {
	Publisher
	Subscriber
	Name() string
	Close() error
}

func copyAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
