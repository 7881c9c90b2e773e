package rpc

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrTimeout is matched by every *ReplyTimeoutError with errors.Is.
	ErrTimeout = errors.New("timed out waiting for reply")

	// ErrCancelled is returned to callers still waiting for a reply when the Producer is closed.
	ErrCancelled = errors.New("producer closed while waiting for reply")

	// ErrProducerClosed is returned by Send after Close.
	ErrProducerClosed = errors.New("producer is closed")

	// ErrProducerNotStarted is returned by waiting sends before Start was called.
	ErrProducerNotStarted = errors.New("producer is not started, call Start first")

	// ErrAlreadyResponded is returned by Request.Respond when the request already has a reply.
	ErrAlreadyResponded = errors.New("request already responded")

	// ErrRequestNotBound is returned when responding to a request created with NewRequest.
	ErrRequestNotBound = errors.New("request is not bound to a consumer")
)

// ConfigurationError is returned when the consumer's handler table is misconfigured,
// for example when a (topic, kind) pair is registered twice.
type ConfigurationError struct {
	Topic  string
	Kind   Kind
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid handler registration for %s/%s: %s", e.Topic, e.Kind, e.Reason)
}

// InvalidRequestError is returned by typed handlers when the request payload cannot be decoded
// or fails validation. It is the caller's fault, not the handler's.
type InvalidRequestError struct {
	Topic string
	Err   error
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s request: %s", e.Topic, e.Err)
}

func (e *InvalidRequestError) Unwrap() error {
	return e.Err
}

// RemoteError is returned to the waiting caller when the remote handler failed.
type RemoteError struct {
	Topic         string
	CorrelationID string
	Message       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote handler for %s failed: %s", e.Topic, e.Message)
}

// ReplyTimeoutError is returned when no reply arrived within the wait window.
// The remote state is unknown: the handler may still be running, or the reply may be lost.
type ReplyTimeoutError struct {
	Topic         string
	CorrelationID string
	Duration      time.Duration
	Err           error
}

func (e *ReplyTimeoutError) Error() string {
	return fmt.Sprintf("no reply for %s after %s: %s", e.Topic, e.Duration, e.Err)
}

func (e *ReplyTimeoutError) Unwrap() error {
	return e.Err
}

func (e *ReplyTimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// RecoveredPanicError is the handler error reported when a handler panics.
type RecoveredPanicError struct {
	V          interface{}
	Stacktrace string
}

func (p RecoveredPanicError) Error() string {
	return fmt.Sprintf("panic occurred: %v", p.V)
}
