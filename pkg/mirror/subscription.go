package mirror

import (
	"context"
	"slices"
	"time"
)

// BackpressurePolicy defines how queues behave when subscriber buffers are full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest drops the incoming event when full.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued event before enqueue.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock blocks until queue space is available or context is canceled.
	BackpressureBlock BackpressurePolicy = "block"
)

// Handler consumes one event. Handlers run on subscription workers and may
// read the cache, which already reflects this event.
type Handler func(ctx context.Context, event Event) error

// HandlerFor adapts a callback for one concrete event type. Events of other
// types are skipped.
func HandlerFor[T Event](fn func(ctx context.Context, event T) error) Handler {
	return func(ctx context.Context, event Event) error {
		typed, ok := event.(T)
		if !ok {
			return nil
		}
		return fn(ctx, typed)
	}
}

// SubscriptionSpec configures a single consumer subscription.
type SubscriptionSpec struct {
	Name string
	// Kinds restricts delivery to these event kinds. Empty means all.
	Kinds          []EventKind
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	// Backpressure defaults to BackpressureDropNewest: a full buffer drops
	// the event for this subscription and reports ErrEventDropped to the
	// async error handler. Use BackpressureBlock for lossless delivery at
	// the cost of stalling the system lane that publishes.
	Backpressure BackpressurePolicy
}

// Matches reports whether the subscription selects kind.
func (s SubscriptionSpec) Matches(kind EventKind) bool {
	return len(s.Kinds) == 0 || slices.Contains(s.Kinds, kind)
}

// Subscription controls an active event stream registration.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}

// Subscriber registers handlers against named events.
type Subscriber interface {
	Subscribe(ctx context.Context, spec SubscriptionSpec, handler Handler) (Subscription, error)
}
