package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"ex-mirror/pkg/mirror"
)

// Dispatch tracks the handler invocations one routed envelope started. A
// bulk envelope yields a parent whose children are its elements in order.
type Dispatch struct {
	ID    uuid.UUID
	Event mirror.Event

	// published closes once the system stage finished and user handlers
	// were enqueued; pending is final from then on.
	published chan struct{}
	pending   sync.WaitGroup
	systemErr error
	// followErr is set before pending settles by work that outlives the
	// system stage.
	followErr error
	children  []*Dispatch
}

func newDispatch(event mirror.Event) *Dispatch {
	return &Dispatch{
		ID:        uuid.New(),
		Event:     event,
		published: make(chan struct{}),
	}
}

// completedDispatch returns a handle with no work attached.
func completedDispatch(event mirror.Event) *Dispatch {
	dispatch := newDispatch(event)
	close(dispatch.published)

	return dispatch
}

// Kind returns the dispatched event kind, or "" for envelopes that carry no
// event of their own.
func (d *Dispatch) Kind() mirror.EventKind {
	if d.Event == nil {
		return ""
	}

	return d.Event.Kind()
}

// Children returns the dispatches of a bulk envelope's elements.
func (d *Dispatch) Children() []*Dispatch {
	return append([]*Dispatch(nil), d.children...)
}

// Applied returns a channel closed once the cache reflects this event and
// user handlers have been released. A member join is applied as a bare
// membership; its looked-up profile is merged later and covered by Wait.
func (d *Dispatch) Applied() <-chan struct{} {
	return d.published
}

// Wait blocks until the system stage, its follow-up work and every user
// handler invocation of this dispatch and its children completed. It
// returns the system stage failures, if any.
func (d *Dispatch) Wait(ctx context.Context) error {
	var systemErrs []error
	if err := d.wait(ctx, &systemErrs); err != nil {
		return fmt.Errorf("wait dispatch %s: %w", d.ID, err)
	}
	if len(systemErrs) > 0 {
		return fmt.Errorf("wait dispatch %s: %w", d.ID, errors.Join(systemErrs...))
	}

	return nil
}

func (d *Dispatch) wait(ctx context.Context, systemErrs *[]error) error {
	select {
	case <-d.published:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d.systemErr != nil {
		*systemErrs = append(*systemErrs, d.systemErr)
	}

	handled := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(handled)
	}()
	select {
	case <-handled:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d.followErr != nil {
		*systemErrs = append(*systemErrs, d.followErr)
	}

	for _, child := range d.children {
		if err := child.wait(ctx, systemErrs); err != nil {
			return err
		}
	}

	return nil
}
