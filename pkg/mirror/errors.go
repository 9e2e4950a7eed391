package mirror

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent indicates an envelope discriminant with no registered decoder.
	ErrUnknownEvent = errors.New("mirror: unknown event")
	// ErrMalformedEvent indicates an envelope whose payload does not decode or validate.
	ErrMalformedEvent = errors.New("mirror: malformed event")
	// ErrInvalidSession indicates the gateway rejected the session token.
	ErrInvalidSession = errors.New("mirror: invalid session")
	// ErrAlreadyAuthenticated indicates a second authenticate on one connection.
	ErrAlreadyAuthenticated = errors.New("mirror: already authenticated")
	// ErrOnboardingNotFinished indicates the account has not chosen a username yet.
	ErrOnboardingNotFinished = errors.New("mirror: onboarding not finished")
	// ErrInternalError indicates a server-side gateway failure.
	ErrInternalError = errors.New("mirror: gateway internal error")
	// ErrLabelMe indicates an unlabeled gateway error.
	ErrLabelMe = errors.New("mirror: unlabeled gateway error")
	// ErrBootstrapFatal indicates the session could not be bootstrapped.
	ErrBootstrapFatal = errors.New("mirror: bootstrap failed")
	// ErrRouterClosed indicates the router no longer accepts envelopes.
	ErrRouterClosed = errors.New("mirror: router closed")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("mirror: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("mirror: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("mirror: event dropped due to backpressure")
	// ErrNotFound indicates a REST lookup miss.
	ErrNotFound = errors.New("mirror: not found")
	// ErrRateLimited indicates the REST layer gave up waiting out a rate limit.
	ErrRateLimited = errors.New("mirror: rate limited")
)

// ProtocolError reports an envelope the router could not turn into an event.
type ProtocolError struct {
	// Type is the envelope discriminant.
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %q: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// SessionError is a gateway-reported error code.
type SessionError struct {
	// Code is the raw code string sent by the gateway.
	Code string
	Err  error
}

// NewSessionError maps a gateway error code onto its typed failure.
// Unrecognized codes are treated as unlabeled.
func NewSessionError(code string) *SessionError {
	var err error
	switch code {
	case "InvalidSession":
		err = ErrInvalidSession
	case "AlreadyAuthenticated":
		err = ErrAlreadyAuthenticated
	case "OnboardingNotFinished":
		err = ErrOnboardingNotFinished
	case "InternalError":
		err = ErrInternalError
	default:
		err = ErrLabelMe
	}

	return &SessionError{Code: code, Err: err}
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session error %s: %v", e.Code, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the connection attempt cannot continue.
func (e *SessionError) Fatal() bool {
	return !errors.Is(e.Err, ErrInternalError) && !errors.Is(e.Err, ErrLabelMe)
}

// MergeInconsistencyError reports an update or delete for an entity that is
// not cached. It is logged and never propagated to the reader loop.
type MergeInconsistencyError struct {
	Kind  EntityKind
	Key   string
	Event EventKind
}

func (e *MergeInconsistencyError) Error() string {
	return fmt.Sprintf("%s for absent %s %s", e.Event, e.Kind, e.Key)
}

// BootstrapPartialError reports a failed secondary fetch for one server.
type BootstrapPartialError struct {
	ServerID string
	Err      error
}

func (e *BootstrapPartialError) Error() string {
	return fmt.Sprintf("bootstrap server %s: %v", e.ServerID, e.Err)
}

func (e *BootstrapPartialError) Unwrap() error {
	return e.Err
}
