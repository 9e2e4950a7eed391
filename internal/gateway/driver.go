package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"ex-mirror/internal/router"
	"ex-mirror/pkg/mirror"
)

// Router is the envelope sink the driver feeds.
type Router interface {
	Route(ctx context.Context, envelope mirror.Envelope) (*router.Dispatch, error)
}

// Driver reads frames from one source and routes them in arrival order.
type Driver struct {
	source Source
	router Router
	logger *slog.Logger
}

// DriverOption mutates driver construction.
type DriverOption func(*Driver)

// WithDriverLogger sets the driver logger.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(driver *Driver) {
		if logger != nil {
			driver.logger = logger
		}
	}
}

// NewDriver binds a frame source to a router.
func NewDriver(source Source, sink Router, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new driver: nil source")
	}
	if sink == nil {
		return nil, fmt.Errorf("new driver: nil router")
	}

	driver := &Driver{
		source: source,
		router: sink,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(driver)
	}

	return driver, nil
}

// Run consumes the source until cancellation, transport failure or a fatal
// session error. Undecodable frames and recoverable routing errors are
// logged and skipped.
func (d *Driver) Run(ctx context.Context) error {
	err := d.source.Consume(ctx, d.handleFrame)
	if err != nil {
		return fmt.Errorf("gateway driver run: %w", err)
	}

	return nil
}

func (d *Driver) handleFrame(ctx context.Context, frame []byte) error {
	envelope, err := DecodeFrame(frame)
	if err != nil {
		d.logger.WarnContext(ctx, "gateway frame dropped", "error", err, "size", len(frame))
		return nil
	}

	if _, err := d.router.Route(ctx, envelope); err != nil {
		if router.IsFatal(err) {
			return err
		}
		d.logger.DebugContext(ctx, "gateway envelope skipped", "type", envelope.Type, "error", err)
	}

	return nil
}
