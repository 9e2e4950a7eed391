package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"ex-mirror/internal/store"
	"ex-mirror/pkg/mirror"
)

// State is the session lifecycle position of a router.
type State int32

const (
	// StateConnecting is the initial state before the gateway acknowledged
	// the session token.
	StateConnecting State = iota
	// StateAuthenticated follows the Authenticated envelope.
	StateAuthenticated
	// StateBootstrapping lasts while the Ready snapshot is ingested.
	StateBootstrapping
	// StateReady is entered once bootstrap finished.
	StateReady
	// StateReceiving is the steady state after ClientReady was published.
	StateReceiving
	// StateError is terminal.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateReceiving:
		return "receiving"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Bootstrapper ingests the Ready snapshot into the cache.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, snapshot mirror.ReadySnapshot) (mirror.BootstrapReport, error)
}

// Router classifies gateway envelopes, keeps the cache in step with them and
// fans the resulting events out to subscribers.
type Router struct {
	cfg config

	store  *store.Store
	bus    *handlerBus
	lanes  *lanes
	system *maintainer

	state     atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once

	// follow scopes member join lookups, which outlive their system task.
	follow     context.Context
	stopFollow context.CancelFunc
	followUps  sync.WaitGroup
}

// New creates a router that maintains cache.
func New(cache *store.Store, options ...Option) *Router {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	follow, stopFollow := context.WithCancel(context.Background())

	return &Router{
		cfg:   cfg,
		store: cache,
		bus: newHandlerBus(mirror.SubscriptionSpec{
			Buffer:         cfg.subscriptionBuffer,
			Workers:        cfg.subscriptionWorker,
			HandlerTimeout: cfg.handlerTimeout,
		}, cfg.reportError),
		lanes: newLanes(cfg.systemLanes, cfg.laneBuffer),
		system: &maintainer{
			store:        cache,
			fetcher:      cfg.fetcher,
			fetchTimeout: cfg.fetchTimeout,
			logger:       cfg.logger,
			clock:        cfg.clock,
		},
		ready:      make(chan struct{}),
		follow:     follow,
		stopFollow: stopFollow,
	}
}

// Subscribe registers handler for the events spec selects.
func (r *Router) Subscribe(
	ctx context.Context,
	spec mirror.SubscriptionSpec,
	handler mirror.Handler,
) (mirror.Subscription, error) {
	sub, err := r.bus.subscribe(ctx, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("router subscribe: %w", err)
	}

	return sub, nil
}

// Cache returns the query surface over the maintained store.
func (r *Router) Cache() mirror.Cache {
	return r.store
}

// Ready returns a channel closed once the Ready snapshot was ingested.
func (r *Router) Ready() <-chan struct{} {
	return r.ready
}

// State returns the current lifecycle state.
func (r *Router) State() State {
	return State(r.state.Load())
}

// Route handles one envelope. Data events are queued on their system lane
// and Route returns once they are queued; the returned dispatch reports when
// the cache reflects them and when their handlers finished. Ready is
// ingested before Route returns, so no later envelope is routed against an
// empty cache.
//
// Protocol errors are logged and returned; callers keep reading after them.
// Fatal errors satisfy IsFatal.
func (r *Router) Route(ctx context.Context, envelope mirror.Envelope) (*Dispatch, error) {
	switch envelope.Type {
	case mirror.EnvelopeBulk:
		return r.routeBulk(ctx, envelope)
	case mirror.EnvelopeAuthenticated:
		r.transition(ctx, StateAuthenticated)
		return r.dispatch(ctx, mirror.AuthenticatedEvent{})
	case mirror.EnvelopeReady:
		return r.routeReady(ctx, envelope)
	case mirror.EnvelopeError:
		return nil, r.routeError(ctx, envelope)
	case mirror.EnvelopePong:
		return completedDispatch(nil), nil
	}

	event, err := classify(r.cfg.validate, envelope)
	if err != nil {
		r.cfg.logger.WarnContext(ctx, "dropping envelope", "type", envelope.Type, "error", err)
		return nil, fmt.Errorf("route %s: %w", envelope.Type, err)
	}

	return r.dispatch(ctx, event)
}

// routeBulk routes every element of a Bulk envelope in array order. Element
// failures do not stop the remaining elements.
func (r *Router) routeBulk(ctx context.Context, envelope mirror.Envelope) (*Dispatch, error) {
	items := gjson.GetBytes(envelope.Data, "v")
	if !items.IsArray() {
		err := &mirror.ProtocolError{
			Type: envelope.Type,
			Err:  fmt.Errorf("missing element array: %w", mirror.ErrMalformedEvent),
		}
		r.cfg.logger.WarnContext(ctx, "dropping envelope", "type", envelope.Type, "error", err)
		return nil, fmt.Errorf("route bulk: %w", err)
	}

	parent := newDispatch(nil)
	defer close(parent.published)

	var routeErrs []error
	for _, item := range items.Array() {
		raw := []byte(item.Raw)
		child, err := r.Route(ctx, mirror.Envelope{Type: item.Get("type").String(), Data: raw})
		if err != nil {
			routeErrs = append(routeErrs, err)
			if IsFatal(err) {
				break
			}
		}
		if child != nil {
			parent.children = append(parent.children, child)
		}
	}

	if len(routeErrs) > 0 {
		return parent, fmt.Errorf("route bulk: %w", errors.Join(routeErrs...))
	}

	return parent, nil
}

// routeReady ingests the snapshot as a global system task and waits for it.
func (r *Router) routeReady(ctx context.Context, envelope mirror.Envelope) (*Dispatch, error) {
	r.transition(ctx, StateBootstrapping)

	fail := func(err error) (*Dispatch, error) {
		r.transition(ctx, StateError)
		r.cfg.logger.ErrorContext(ctx, "bootstrap failed", "error", err)
		if !errors.Is(err, mirror.ErrBootstrapFatal) {
			err = fmt.Errorf("%w: %w", mirror.ErrBootstrapFatal, err)
		}
		return nil, fmt.Errorf("route ready: %w", err)
	}

	var snapshot mirror.ReadySnapshot
	if err := json.Unmarshal(envelope.Data, &snapshot); err != nil {
		return fail(&mirror.ProtocolError{
			Type: envelope.Type,
			Err:  fmt.Errorf("decode: %w: %w", mirror.ErrMalformedEvent, err),
		})
	}
	if r.cfg.bootstrapper == nil {
		return fail(errors.New("no bootstrapper configured"))
	}

	var (
		report       mirror.BootstrapReport
		bootstrapErr error
	)
	finished := make(chan struct{})
	started := time.Now()
	submitErr := r.lanes.submit(ctx, mirror.GlobalPartition, func() {
		defer close(finished)
		bootstrapErr = runSafely("bootstrap", func() error {
			var err error
			report, err = r.cfg.bootstrapper.Bootstrap(ctx, snapshot)
			return err
		})
	})
	if submitErr != nil {
		return fail(submitErr)
	}

	select {
	case <-finished:
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	if bootstrapErr != nil {
		return fail(bootstrapErr)
	}
	if report.Elapsed == 0 {
		report.Elapsed = time.Since(started)
	}

	r.transition(ctx, StateReady)
	r.readyOnce.Do(func() { close(r.ready) })
	r.logReport(ctx, report)

	dispatch, err := r.dispatch(ctx, mirror.ClientReadyEvent{Report: report})
	if err != nil {
		return nil, fmt.Errorf("route ready: %w", err)
	}
	r.transition(ctx, StateReceiving)

	return dispatch, nil
}

func (r *Router) logReport(ctx context.Context, report mirror.BootstrapReport) {
	r.cfg.logger.InfoContext(ctx, "cache bootstrapped",
		"self_id", report.Self.ID,
		"servers", report.Servers,
		"channels", report.Channels,
		"roles", report.Roles,
		"emojis", report.Emojis,
		"members", report.Members,
		"users", report.Users,
		"partial_failures", len(report.Failures),
		"skipped", len(report.Skipped),
		"elapsed", report.Elapsed,
	)
	for _, failure := range report.Failures {
		r.cfg.logger.WarnContext(ctx, "bootstrap partial failure",
			"server_id", failure.ServerID,
			"error", failure.Err,
		)
	}
	for _, skipped := range report.Skipped {
		r.cfg.logger.WarnContext(ctx, "ready entity skipped", "error", skipped)
	}
}

// routeError maps a gateway error frame onto a session error. Fatal codes
// end the session.
func (r *Router) routeError(ctx context.Context, envelope mirror.Envelope) error {
	sessionErr := mirror.NewSessionError(gjson.GetBytes(envelope.Data, "error").String())
	if sessionErr.Fatal() {
		r.transition(ctx, StateError)
		r.cfg.logger.ErrorContext(ctx, "gateway rejected session", "code", sessionErr.Code, "error", sessionErr)
	} else {
		r.cfg.logger.WarnContext(ctx, "gateway reported error", "code", sessionErr.Code, "error", sessionErr)
	}

	return fmt.Errorf("route error: %w", sessionErr)
}

// dispatch queues event's system stage on its lane. User handlers are
// enqueued by the lane once the stage completed.
func (r *Router) dispatch(ctx context.Context, event mirror.Event) (*Dispatch, error) {
	dispatch := newDispatch(event)
	taskCtx := context.WithoutCancel(ctx)

	err := r.lanes.submit(ctx, event.PartitionKey(), func() {
		r.runSystem(taskCtx, dispatch)
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", event.Kind(), err)
	}

	return dispatch, nil
}

func (r *Router) runSystem(ctx context.Context, dispatch *Dispatch) {
	defer close(dispatch.published)

	kind := dispatch.Kind()
	err := runSafely(fmt.Sprintf("system %s", kind), func() error {
		return r.system.apply(ctx, dispatch.Event)
	})
	if err != nil {
		dispatch.systemErr = err
		r.cfg.reportError(ctx, "system", err)
	}
	if join, ok := dispatch.Event.(mirror.ServerMemberJoinEvent); ok {
		r.followJoin(dispatch, join)
	}

	if err := r.bus.publish(ctx, dispatch); err != nil {
		r.cfg.reportError(ctx, "publish", err)
	}
}

// followJoin looks up a joining member off the lanes, then merges the result
// as a task on the server's lane. The dispatch stays pending until the merge
// ran or was abandoned.
func (r *Router) followJoin(dispatch *Dispatch, event mirror.ServerMemberJoinEvent) {
	if r.system.fetcher == nil {
		return
	}

	dispatch.pending.Add(1)
	r.followUps.Add(1)
	go func() {
		defer r.followUps.Done()

		ctx := r.follow
		scope := fmt.Sprintf("member join %s/%s", event.ServerID, event.UserID)
		fail := func(err error) {
			dispatch.followErr = err
			r.cfg.reportError(ctx, "system", err)
		}

		var resolved *memberJoin
		err := runSafely(scope, func() error {
			var lookupErr error
			resolved, lookupErr = r.system.resolveJoin(ctx, event)
			if lookupErr != nil {
				r.cfg.logger.WarnContext(ctx, "member join lookup failed",
					"server_id", event.ServerID,
					"user_id", event.UserID,
					"error", lookupErr,
				)
			}
			return nil
		})
		if err != nil {
			fail(err)
			dispatch.pending.Done()
			return
		}
		if resolved == nil {
			dispatch.pending.Done()
			return
		}

		submitErr := r.lanes.submit(ctx, event.ServerID, func() {
			defer dispatch.pending.Done()
			if err := runSafely(scope, func() error {
				return r.system.mergeJoin(ctx, resolved)
			}); err != nil {
				fail(err)
			}
		})
		if submitErr != nil {
			r.cfg.logger.DebugContext(ctx, "member join merge abandoned",
				"server_id", event.ServerID,
				"user_id", event.UserID,
				"error", submitErr,
			)
			dispatch.pending.Done()
		}
	}()
}

func (r *Router) transition(ctx context.Context, to State) {
	for {
		from := State(r.state.Load())
		if from == StateError || from == to {
			return
		}
		if r.state.CompareAndSwap(int32(from), int32(to)) {
			r.cfg.logger.DebugContext(ctx, "router state changed", "from", from.String(), "to", to.String())
			return
		}
	}
}

// Close stops accepting envelopes, cancels member join lookups, lets queued
// system tasks finish, then shuts down every subscription.
func (r *Router) Close(ctx context.Context) error {
	r.stopFollow()

	var closeErrs []error
	if err := r.lanes.close(ctx); err != nil {
		closeErrs = append(closeErrs, err)
	}
	if err := r.waitFollowUps(ctx); err != nil {
		closeErrs = append(closeErrs, err)
	}
	if err := r.bus.close(ctx); err != nil {
		closeErrs = append(closeErrs, err)
	}

	if len(closeErrs) > 0 {
		return fmt.Errorf("router close: %w", errors.Join(closeErrs...))
	}

	return nil
}

func (r *Router) waitFollowUps(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		r.followUps.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait member join lookups: %w", ctx.Err())
	}
}

// IsFatal reports whether err from Route ends the session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mirror.ErrBootstrapFatal) || errors.Is(err, mirror.ErrRouterClosed) {
		return true
	}

	var sessionErr *mirror.SessionError
	return errors.As(err, &sessionErr) && sessionErr.Fatal()
}
