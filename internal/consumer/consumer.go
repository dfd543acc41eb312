// Package consumer runs the supervised background loop that moves messages
// from the bus into the store and the live feed.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"msgstream/internal/broker"
	"msgstream/internal/config"
	"msgstream/internal/constants"
	"msgstream/internal/logger"
	apperrors "msgstream/pkg/errors"
	"msgstream/pkg/health"
	"msgstream/pkg/metrics"
	"msgstream/pkg/retry"
	"msgstream/pkg/tracing"
)

var ErrAlreadyStarted = errors.New("consumer already started")

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Consumer supervises one subscription at a time. Any bus failure is logged
// and followed by a reconnect after a constant delay; only cancellation of
// the context passed to Start ends the loop.
type Consumer struct {
	bus    broker.Subscriber
	proc   *Processor
	cfg    config.ConsumerConfig
	logger logger.Logger

	started  atomic.Bool
	state    atomic.Int32
	restarts atomic.Int64

	mu      sync.Mutex
	lastErr error
}

func New(bus broker.Subscriber, proc *Processor, cfg config.ConsumerConfig, log logger.Logger) *Consumer {
	return &Consumer{
		bus:    bus,
		proc:   proc,
		cfg:    cfg,
		logger: log.Named("consumer"),
	}
}

func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) Restarts() int64 {
	return c.restarts.Load()
}

// LastError is the failure that caused the most recent reconnect.
func (c *Consumer) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	metrics.SetConsumerState(int(s))
}

// Start blocks until ctx is done. It returns ErrAlreadyStarted if another
// call already owns the loop, and nil on shutdown.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer c.setState(StateStopped)

	c.logger.InfowCtx(ctx, "Consumer starting",
		"strategy", c.cfg.Strategy,
		"workers", c.cfg.Workers,
	)

	delay := retry.ConstantBackoff(c.cfg.ReconnectDelay)

	for {
		if ctx.Err() != nil {
			c.logger.InfowCtx(ctx, "Consumer stopped")
			return nil
		}

		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.InfowCtx(ctx, "Consumer stopped")
			return nil
		}
		if err == nil {
			err = broker.ErrClosed
		}

		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()

		c.setState(StateBackoff)
		c.restarts.Add(1)
		metrics.ConsumerRestartsTotal.Inc()
		c.logger.ErrorwCtx(ctx, "Consumer failed, reconnecting",
			"error", err,
			"delay", c.cfg.ReconnectDelay,
		)

		if err := retry.Wait(ctx, delay); err != nil {
			c.logger.InfowCtx(ctx, "Consumer stopped")
			return nil
		}
	}
}

func (c *Consumer) session(ctx context.Context) (err error) {
	c.setState(StateConnecting)

	sub, err := c.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if closeErr := sub.Close(); closeErr != nil && !errors.Is(closeErr, broker.ErrClosed) {
			c.logger.WarnwCtx(ctx, "Failed to close subscription", "error", closeErr)
		}
	}()

	c.setState(StateListening)
	c.logger.InfowCtx(ctx, "Consumer listening", "strategy", c.cfg.Strategy)

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()

	if c.cfg.Strategy == constants.StrategyPoll {
		return c.poll(ctx, sub)
	}
	return c.push(ctx, sub)
}

func (c *Consumer) push(ctx context.Context, sub broker.Subscription) error {
	pool := newWorkerPool(c.cfg.Workers, c.cfg.QueueSize, c.handle)
	pool.start(ctx)
	defer pool.stop()

	return sub.Stream(ctx, func(ctx context.Context, d *broker.Delivery) {
		pool.submit(ctx, d)
	})
}

func (c *Consumer) handle(ctx context.Context, d *broker.Delivery) {
	ctx, span := tracing.StartConsumerSpan(ctx, "consumer.apply", d.TraceCarrier())
	defer span.End()

	if err := c.apply(ctx, d, constants.StrategyPush); err != nil {
		if nackErr := d.Nack(ctx); nackErr != nil {
			c.logger.ErrorwCtx(ctx, "Failed to nack message", "error", nackErr)
		}
		return
	}
	if err := d.Ack(ctx); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to ack message", "error", err)
	}
}

func (c *Consumer) poll(ctx context.Context, sub broker.Subscription) error {
	empty := retry.ConstantBackoff(c.cfg.EmptyBackoff)

	for {
		batch, err := sub.Receive(ctx, c.cfg.MaxBatch, c.cfg.ReceiveTimeout)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		if len(batch) == 0 {
			if err := retry.Wait(ctx, empty); err != nil {
				return err
			}
			continue
		}

		done := make([]*broker.Delivery, 0, len(batch))
		for _, d := range batch {
			msgCtx, span := tracing.StartConsumerSpan(ctx, "consumer.apply", d.TraceCarrier())
			if err := c.apply(msgCtx, d, constants.StrategyPoll); err != nil {
				if nackErr := d.Nack(msgCtx); nackErr != nil {
					c.logger.ErrorwCtx(msgCtx, "Failed to nack message", "error", nackErr)
				}
			} else {
				done = append(done, d)
			}
			span.End()
		}

		if err := sub.AckBatch(ctx, done); err != nil {
			return fmt.Errorf("ack batch: %w", err)
		}
	}
}

// apply runs the processor and reports whether the delivery should be
// redelivered. Messages the store rejects as invalid are dropped.
func (c *Consumer) apply(ctx context.Context, d *broker.Delivery, strategy string) error {
	err := apperrors.Guard(func() error {
		return c.proc.Apply(ctx, d.Message)
	})
	if err == nil {
		metrics.IncIngestMessage(strategy, "success")
		return nil
	}

	if apperrors.IsValidation(err) {
		metrics.IncIngestMessage(strategy, "rejected")
		c.logger.WarnwCtx(ctx, "Dropping invalid message",
			"bus_message_id", d.ID,
			"error", err,
		)
		return nil
	}

	metrics.IncIngestMessage(strategy, "error")
	c.logger.ErrorwCtx(ctx, "Failed to apply message",
		"bus_message_id", d.ID,
		"error", err,
	)
	return err
}

// HealthChecker reports consumer state for the health registry. Waiting to
// reconnect is degraded; a stopped loop is unhealthy.
type HealthChecker struct {
	consumer *Consumer
}

func NewHealthChecker(c *Consumer) *HealthChecker {
	return &HealthChecker{consumer: c}
}

func (h *HealthChecker) Name() string {
	return "consumer"
}

func (h *HealthChecker) Check(ctx context.Context) error {
	switch state := h.consumer.State(); state {
	case StateListening:
		return nil
	case StateStopped:
		return fmt.Errorf("consumer is %s", state)
	case StateBackoff:
		return health.Degraded("consumer is %s: %v", state, h.consumer.LastError())
	default:
		return health.Degraded("consumer is %s", state)
	}
}
