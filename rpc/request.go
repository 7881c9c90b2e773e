package rpc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Request is a single envelope dispatched to a handler.
type Request struct {
	ctx      context.Context
	envelope Envelope
	consumer *Consumer

	replyLock sync.Mutex
	replied   bool
}

func newRequest(ctx context.Context, env Envelope, c *Consumer) *Request {
	return &Request{ctx: ctx, envelope: env, consumer: c}
}

// NewRequest creates a request that is not bound to a consumer, Respond on it returns ErrRequestNotBound.
// It is useful for testing handlers and middlewares.
func NewRequest(ctx context.Context, env Envelope) *Request {
	return newRequest(ctx, env, nil)
}

// Context is not canceled when the consumer shuts down, in-flight handlers run to completion.
func (r *Request) Context() context.Context {
	return r.ctx
}

// SetContext replaces the handler context, used by middlewares.
func (r *Request) SetContext(ctx context.Context) {
	r.ctx = ctx
}

func (r *Request) Envelope() Envelope {
	return r.envelope
}

func (r *Request) Topic() string {
	return r.envelope.Topic
}

func (r *Request) CorrelationID() string {
	return r.envelope.CorrelationID
}

// Decode unmarshals the request payload into v.
func (r *Request) Decode(v any) error {
	return r.envelope.Decode(v)
}

// Respond publishes a RESPONSE envelope with payload and the request's correlation id.
// Only the first successful call has effect, next calls return ErrAlreadyResponded.
func (r *Request) Respond(payload any) error {
	return r.reply(KindResponse, payload)
}

func (r *Request) respondError(handlerErr error) error {
	return r.reply(KindError, ErrorPayload{Error: handlerErr.Error()})
}

// Replied reports if a reply for this request was published.
func (r *Request) Replied() bool {
	r.replyLock.Lock()
	defer r.replyLock.Unlock()

	return r.replied
}

func (r *Request) reply(kind Kind, payload any) error {
	r.replyLock.Lock()
	defer r.replyLock.Unlock()

	if r.replied {
		return ErrAlreadyResponded
	}

	if r.consumer == nil {
		return ErrRequestNotBound
	}

	env, err := NewEnvelope(kind, r.envelope.Topic, payload)
	if err != nil {
		return err
	}
	env.CorrelationID = r.envelope.CorrelationID

	if err := r.consumer.publishReply(r.ctx, env); err != nil {
		return errors.Wrapf(err, "cannot publish %s for %s", kind, r.envelope.Topic)
	}
	r.replied = true

	return nil
}
