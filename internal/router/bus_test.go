package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ex-mirror/pkg/mirror"
)

func typingEvent(userID string) mirror.Event {
	return mirror.ChannelStartTypingEvent{ID: "c1", UserID: userID}
}

// publishEvent runs one event through the bus the way a system lane does.
func publishEvent(t *testing.T, bus *handlerBus, event mirror.Event) *Dispatch {
	t.Helper()

	dispatch := newDispatch(event)
	err := bus.publish(context.Background(), dispatch)
	close(dispatch.published)
	if err != nil {
		t.Fatalf("publish %s: %v", event.Kind(), err)
	}

	return dispatch
}

// TestHandlerBusBackpressurePolicies verifies queue behavior under each backpressure policy.
func TestHandlerBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     mirror.BackpressurePolicy
		wantEvents []string
	}{
		{
			name:       "drop newest keeps queued oldest",
			policy:     mirror.BackpressureDropNewest,
			wantEvents: []string{"u1", "u2"},
		},
		{
			name:       "drop oldest keeps latest",
			policy:     mirror.BackpressureDropOldest,
			wantEvents: []string{"u1", "u3"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var dropped sync.WaitGroup
			dropped.Add(1)
			var dropOnce sync.Once
			bus := newHandlerBus(mirror.SubscriptionSpec{Buffer: 1, Workers: 1, HandlerTimeout: time.Second}, func(_ context.Context, _ string, err error) {
				if errors.Is(err, mirror.ErrEventDropped) {
					dropOnce.Do(dropped.Done)
				}
			})
			t.Cleanup(func() {
				_ = bus.close(context.Background())
			})

			release := make(chan struct{})
			blocked := make(chan struct{}, 1)
			processed := make([]string, 0, 3)
			var first sync.Once
			var mu sync.Mutex

			_, err := bus.subscribe(context.Background(), mirror.SubscriptionSpec{
				Name:         "policy",
				Kinds:        []mirror.EventKind{mirror.EventKindChannelStartTyping},
				Workers:      1,
				Buffer:       1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event mirror.Event) error {
				first.Do(func() {
					blocked <- struct{}{}
					<-release
				})
				mu.Lock()
				processed = append(processed, event.(mirror.ChannelStartTypingEvent).UserID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			dispatches := []*Dispatch{publishEvent(t, bus, typingEvent("u1"))}
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler did not block as expected")
			}
			dispatches = append(dispatches,
				publishEvent(t, bus, typingEvent("u2")),
				publishEvent(t, bus, typingEvent("u3")),
			)
			dropped.Wait()

			close(release)
			for _, dispatch := range dispatches {
				waitDispatch(t, dispatch)
			}

			mu.Lock()
			gotEvents := append([]string(nil), processed...)
			mu.Unlock()
			if len(gotEvents) != 2 || gotEvents[0] != testCase.wantEvents[0] || gotEvents[1] != testCase.wantEvents[1] {
				t.Fatalf("processed = %v, want %v", gotEvents, testCase.wantEvents)
			}
		})
	}
}

// TestHandlerBusRejectsUnknownBackpressure verifies subscription validation.
func TestHandlerBusRejectsUnknownBackpressure(t *testing.T) {
	t.Parallel()

	bus := newHandlerBus(mirror.SubscriptionSpec{Buffer: 8, Workers: 1, HandlerTimeout: time.Second}, nil)
	t.Cleanup(func() {
		_ = bus.close(context.Background())
	})

	_, err := bus.subscribe(context.Background(), mirror.SubscriptionSpec{Backpressure: "spill"}, func(context.Context, mirror.Event) error {
		return nil
	})
	if !errors.Is(err, mirror.ErrInvalidSubscription) {
		t.Fatalf("error = %v, want ErrInvalidSubscription", err)
	}

	_, err = bus.subscribe(context.Background(), mirror.SubscriptionSpec{}, nil)
	if !errors.Is(err, mirror.ErrInvalidSubscription) {
		t.Fatalf("nil handler error = %v, want ErrInvalidSubscription", err)
	}
}

// TestRouterHandlerFailuresAreContained verifies panics, errors and timeouts
// in one subscription reach the async sink and leave other subscriptions
// and later events unaffected.
func TestRouterHandlerFailuresAreContained(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	scopes := make(map[string]int)
	r, _ := newTestRouter(t, newFakeFetcher(),
		WithDefaultHandlerTimeout(50*time.Millisecond),
		WithAsyncErrorHandler(func(_ context.Context, scope string, _ error) {
			mu.Lock()
			scopes[scope]++
			mu.Unlock()
		}),
	)

	handlers := map[string]mirror.Handler{
		"panics": func(context.Context, mirror.Event) error {
			panic("handler exploded")
		},
		"fails": func(context.Context, mirror.Event) error {
			return errors.New("handler failed")
		},
		"stalls": func(ctx context.Context, _ mirror.Event) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	for name, handler := range handlers {
		if _, err := r.Subscribe(context.Background(), mirror.SubscriptionSpec{Name: name}, handler); err != nil {
			t.Fatalf("subscribe %s: %v", name, err)
		}
	}
	healthy := subscribe(t, r, mirror.SubscriptionSpec{Name: "healthy"})

	route(t, r, frame(t, map[string]any{"type": "ChannelStartTyping", "id": "c1", "user": "bob"}))
	route(t, r, frame(t, map[string]any{"type": "ChannelStopTyping", "id": "c1", "user": "bob"}))

	want := []mirror.EventKind{mirror.EventKindChannelStartTyping, mirror.EventKindChannelStopTyping}
	if got := healthy.kinds(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("healthy subscription got %v, want %v", got, want)
	}

	mu.Lock()
	defer mu.Unlock()
	for name := range handlers {
		if scopes[name] != 2 {
			t.Fatalf("async errors for %s = %d, want 2 (all: %v)", name, scopes[name], scopes)
		}
	}
}

// TestSubscriptionCloseStopsDelivery verifies a closed subscription no
// longer receives events.
func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, newFakeFetcher())
	rec := &recorder{}
	sub, err := r.Subscribe(context.Background(), mirror.SubscriptionSpec{Name: "short"}, rec.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.Name() != "short" {
		t.Fatalf("name = %q", sub.Name())
	}

	route(t, r, frame(t, map[string]any{"type": "ChannelStartTyping", "id": "c1", "user": "bob"}))
	if err := sub.Close(context.Background()); err != nil {
		t.Fatalf("close subscription: %v", err)
	}
	route(t, r, frame(t, map[string]any{"type": "ChannelStopTyping", "id": "c1", "user": "bob"}))

	if got := rec.kinds(); len(got) != 1 {
		t.Fatalf("delivered %v after close", got)
	}
}

// TestHandlerBusFillsSubscriptionDefaults verifies omitted fields take the
// router defaults and backpressure falls back to dropping the newest event.
func TestHandlerBusFillsSubscriptionDefaults(t *testing.T) {
	t.Parallel()

	bus := newHandlerBus(mirror.SubscriptionSpec{Buffer: 8, Workers: 2, HandlerTimeout: time.Second}, nil)
	spec := bus.withDefaults(mirror.SubscriptionSpec{}, 7)

	if spec.Name != "subscription-7" || spec.Buffer != 8 || spec.Workers != 2 || spec.HandlerTimeout != time.Second {
		t.Fatalf("spec = %+v", spec)
	}
	if spec.Backpressure != mirror.BackpressureDropNewest {
		t.Fatalf("backpressure = %q, want %q", spec.Backpressure, mirror.BackpressureDropNewest)
	}

	explicit := bus.withDefaults(mirror.SubscriptionSpec{Backpressure: mirror.BackpressureBlock}, 8)
	if explicit.Backpressure != mirror.BackpressureBlock {
		t.Fatalf("explicit backpressure = %q, want block", explicit.Backpressure)
	}
}
