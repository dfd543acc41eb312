// Package bootstrap wires the process-wide dependencies: bus, databases and
// their orderly shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"msgstream/internal/broker"
	"msgstream/internal/config"
	"msgstream/internal/logger"
)

type Base struct {
	Config *config.Config
	Logger logger.Logger
	Bus    broker.Bus
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitBus() error {
	bus, err := broker.New(b.Config.Broker, b.Logger.Named("broker"))
	if err != nil {
		return fmt.Errorf("failed to create %s bus: %w", b.Config.Broker.Type, err)
	}

	b.Bus = bus
	b.Logger.Infow("Message bus ready", "type", bus.Name())
	return nil
}

func (b *Base) ShutdownBus() []error {
	if b.Bus == nil {
		return nil
	}
	if err := b.Bus.Close(); err != nil {
		return []error{fmt.Errorf("bus close error: %w", err)}
	}
	return nil
}

// Shutdown closes the bus, then runs additionalShutdown, and joins every
// error encountered.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBus()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
