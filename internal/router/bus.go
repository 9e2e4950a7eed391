package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"ex-mirror/pkg/mirror"
)

type errorReporter func(ctx context.Context, scope string, err error)

// handlerBus fans events out to user subscriptions. Each subscription owns a
// bounded queue and its own workers, so a slow handler only delays its own
// subscription.
type handlerBus struct {
	mu       sync.RWMutex
	lastID   atomic.Int64
	stopped  bool
	queues   map[int64]*handlerQueue
	defaults mirror.SubscriptionSpec
	report   errorReporter
}

// delivery is one queued handler invocation; done settles the dispatch's
// pending count exactly once.
type delivery struct {
	event    mirror.Event
	dispatch *Dispatch
}

func (d delivery) done() {
	d.dispatch.pending.Done()
}

// newHandlerBus fills omitted subscription fields from defaults.
func newHandlerBus(defaults mirror.SubscriptionSpec, report errorReporter) *handlerBus {
	return &handlerBus{
		queues:   make(map[int64]*handlerQueue),
		defaults: defaults,
		report:   report,
	}
}

// publish enqueues the dispatch's event on every matching subscription and
// accounts each enqueued invocation on the dispatch.
func (b *handlerBus) publish(ctx context.Context, dispatch *Dispatch) error {
	event := dispatch.Event
	if event == nil {
		return fmt.Errorf("publish: nil event")
	}
	kind := event.Kind()

	queues, err := b.activeQueues()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", kind, err)
	}

	var failed []error
	for _, queue := range queues {
		if !queue.spec.Matches(kind) {
			continue
		}
		item := delivery{event: event, dispatch: dispatch}
		dispatch.pending.Add(1)
		err := queue.push(ctx, item)
		if err == nil {
			continue
		}
		item.done()
		if errors.Is(err, mirror.ErrEventDropped) || errors.Is(err, mirror.ErrSubscriptionClosed) {
			b.reportError(ctx, queue.spec.Name, err)
			continue
		}
		failed = append(failed, err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("publish event %s: %w", kind, errors.Join(failed...))
	}

	return nil
}

func (b *handlerBus) subscribe(
	ctx context.Context,
	spec mirror.SubscriptionSpec,
	handler mirror.Handler,
) (mirror.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler: %w", spec.Name, mirror.ErrInvalidSubscription)
	}
	switch spec.Backpressure {
	case "", mirror.BackpressureDropNewest, mirror.BackpressureDropOldest, mirror.BackpressureBlock:
	default:
		return nil, fmt.Errorf("subscribe %s: backpressure %q: %w", spec.Name, spec.Backpressure, mirror.ErrInvalidSubscription)
	}

	id := b.lastID.Add(1)
	queue := newHandlerQueue(id, b.withDefaults(spec, id), handler, b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		queue.stop()
		return nil, fmt.Errorf("subscribe %s: %w", queue.spec.Name, mirror.ErrRouterClosed)
	}
	b.queues[id] = queue

	return queue, nil
}

// close stops every subscription and waits for their workers.
func (b *handlerBus) close(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	queues := make([]*handlerQueue, 0, len(b.queues))
	for _, queue := range b.queues {
		queues = append(queues, queue)
	}
	clear(b.queues)
	b.mu.Unlock()

	var failed []error
	for _, queue := range queues {
		if err := queue.wait(ctx); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("close handler bus: %w", errors.Join(failed...))
	}

	return nil
}

// activeQueues copies the registry so fan-out runs without the lock.
func (b *handlerBus) activeQueues() ([]*handlerQueue, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return nil, mirror.ErrRouterClosed
	}

	queues := make([]*handlerQueue, 0, len(b.queues))
	for _, queue := range b.queues {
		queues = append(queues, queue)
	}

	return queues, nil
}

func (b *handlerBus) withDefaults(spec mirror.SubscriptionSpec, id int64) mirror.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.Buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.Workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.HandlerTimeout
	}
	if spec.Backpressure == "" {
		// Lossy by default; see SubscriptionSpec.Backpressure.
		spec.Backpressure = mirror.BackpressureDropNewest
	}
	spec.Kinds = slices.Clone(spec.Kinds)

	return spec
}

func (b *handlerBus) remove(ctx context.Context, id int64) error {
	b.mu.Lock()
	queue, found := b.queues[id]
	delete(b.queues, id)
	b.mu.Unlock()

	if !found {
		return nil
	}
	if err := queue.wait(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", queue.spec.Name, err)
	}

	return nil
}

func (b *handlerBus) reportError(ctx context.Context, scope string, err error) {
	if b.report != nil {
		b.report(ctx, scope, err)
	}
}

// handlerQueue is one subscription: a bounded delivery queue drained by a
// fixed set of workers. Stopping cancels ctx; the channel is never closed.
type handlerQueue struct {
	id       int64
	spec     mirror.SubscriptionSpec
	handler  mirror.Handler
	items    chan delivery
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	stopping atomic.Bool
	stopOnce sync.Once
	bus      *handlerBus
}

func newHandlerQueue(id int64, spec mirror.SubscriptionSpec, handler mirror.Handler, bus *handlerBus) *handlerQueue {
	ctx, cancel := context.WithCancel(context.Background())
	queue := &handlerQueue{
		id:       id,
		spec:     spec,
		handler:  handler,
		items:    make(chan delivery, spec.Buffer),
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
		bus:      bus,
	}
	queue.start()

	return queue
}

// Name returns the subscription name.
func (q *handlerQueue) Name() string {
	return q.spec.Name
}

// Close unregisters this subscription from the router.
func (q *handlerQueue) Close(ctx context.Context) error {
	return q.bus.remove(ctx, q.id)
}

func (q *handlerQueue) push(ctx context.Context, item delivery) error {
	if q.stopping.Load() {
		return fmt.Errorf("enqueue %s: %w", q.spec.Name, mirror.ErrSubscriptionClosed)
	}

	var err error
	switch q.spec.Backpressure {
	case mirror.BackpressureDropNewest:
		err = q.offer(item)
	case mirror.BackpressureDropOldest:
		err = q.evictAndOffer(item)
	case mirror.BackpressureBlock:
		err = q.pushWait(ctx, item)
	default:
		err = fmt.Errorf("enqueue %s: %w", q.spec.Name, mirror.ErrInvalidSubscription)
	}
	if err == nil && q.stopping.Load() {
		// Raced with stop after its drain; settle what is left.
		q.drain()
	}

	return err
}

func (q *handlerQueue) offer(item delivery) error {
	select {
	case q.items <- item:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", q.spec.Name, mirror.ErrEventDropped)
	}
}

// evictAndOffer makes room by settling the oldest queued delivery and
// reporting it as dropped.
func (q *handlerQueue) evictAndOffer(item delivery) error {
	if q.offer(item) == nil {
		return nil
	}

	select {
	case evicted := <-q.items:
		evicted.done()
		q.bus.reportError(q.ctx, q.spec.Name, fmt.Errorf(
			"enqueue %s: evicted %s: %w", q.spec.Name, evicted.event.Kind(), mirror.ErrEventDropped,
		))
	default:
	}

	return q.offer(item)
}

func (q *handlerQueue) pushWait(ctx context.Context, item delivery) error {
	select {
	case q.items <- item:
		return nil
	case <-q.ctx.Done():
		return fmt.Errorf("enqueue %s: %w", q.spec.Name, mirror.ErrSubscriptionClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", q.spec.Name, ctx.Err())
	}
}

func (q *handlerQueue) start() {
	var workers sync.WaitGroup
	for worker := range q.spec.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			q.work(worker)
		}()
	}

	go func() {
		workers.Wait()
		q.drain()
		close(q.finished)
	}()
}

func (q *handlerQueue) work(worker int) {
	for {
		select {
		case <-q.ctx.Done():
			return
		case item := <-q.items:
			if err := q.invoke(worker, item.event); err != nil {
				q.bus.reportError(q.ctx, q.spec.Name, err)
			}
			item.done()
		}
	}
}

// drain settles deliveries still queued when workers stopped so no dispatch
// waits on them forever.
func (q *handlerQueue) drain() {
	for {
		select {
		case item := <-q.items:
			item.done()
		default:
			return
		}
	}
}

// invoke runs the handler under the subscription timeout with panic recovery.
func (q *handlerQueue) invoke(worker int, event mirror.Event) error {
	ctx := q.ctx
	if q.spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(q.ctx, q.spec.HandlerTimeout)
		defer cancel()
	}

	scope := fmt.Sprintf("subscription %s worker %d", q.spec.Name, worker)
	if err := runSafely(scope, func() error {
		return q.handler(ctx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s: %w", event.Kind(), err)
	}

	return nil
}

func (q *handlerQueue) stop() {
	q.stopOnce.Do(func() {
		q.stopping.Store(true)
		q.cancel()
	})
}

// wait stops the subscription and blocks until its workers exit.
func (q *handlerQueue) wait(ctx context.Context) error {
	q.stop()

	select {
	case <-q.finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", q.spec.Name, ctx.Err())
	}
}
