// Package gateway moves raw frames from a transport into the router.
package gateway

import (
	"context"
	"fmt"
)

// FrameHandler consumes one raw gateway frame.
type FrameHandler func(ctx context.Context, frame []byte) error

// Source streams raw gateway frames.
type Source interface {
	// Consume runs the frame loop until context cancellation or a handler error.
	Consume(ctx context.Context, handler FrameHandler) error
}

// NoopSource is a passive source useful for wiring tests.
type NoopSource struct{}

// Consume blocks until context cancellation.
func (NoopSource) Consume(ctx context.Context, _ FrameHandler) error {
	<-ctx.Done()

	return nil
}

// ChannelSource reads frames from a channel.
type ChannelSource struct {
	// Frames is the owned input stream consumed by the source loop.
	Frames <-chan []byte
}

// Consume forwards channel frames until closure or cancellation.
func (s ChannelSource) Consume(ctx context.Context, handler FrameHandler) error {
	if handler == nil {
		return fmt.Errorf("channel source: nil handler")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-s.Frames:
			if !ok {
				return nil
			}
			if err := handler(ctx, frame); err != nil {
				return fmt.Errorf("channel source handle frame: %w", err)
			}
		}
	}
}
