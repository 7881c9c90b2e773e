package rpc

import (
	"context"

	"github.com/pkg/errors"
)

// Validator is implemented by request and response records that check their own schema.
type Validator interface {
	Validate() error
}

// Topic binds a topic name to its request and response records,
// so both sides of the bridge agree on the payload schema at compile time.
type Topic[Req any, Resp any] struct {
	Name string
}

func NewTopic[Req any, Resp any](name string) Topic[Req, Resp] {
	return Topic[Req, Resp]{Name: name}
}

// Request builds the CREATE envelope for req.
func (t Topic[Req, Resp]) Request(req Req) (Envelope, error) {
	if err := validate(req); err != nil {
		return Envelope{}, errors.Wrapf(err, "invalid %s request", t.Name)
	}

	return NewEnvelope(KindCreate, t.Name, req)
}

// DecodeRequest decodes and validates the payload of a CREATE envelope.
func (t Topic[Req, Resp]) DecodeRequest(env Envelope) (Req, error) {
	var req Req
	if err := t.decode(env, KindCreate, &req); err != nil {
		return req, &InvalidRequestError{Topic: t.Name, Err: err}
	}
	if err := validate(req); err != nil {
		return req, &InvalidRequestError{Topic: t.Name, Err: err}
	}

	return req, nil
}

// DecodeResponse decodes and validates the payload of a RESPONSE envelope.
func (t Topic[Req, Resp]) DecodeResponse(env Envelope) (Resp, error) {
	var resp Resp
	if err := t.decode(env, KindResponse, &resp); err != nil {
		return resp, err
	}
	if err := validate(resp); err != nil {
		return resp, errors.Wrapf(err, "invalid %s response", t.Name)
	}

	return resp, nil
}

func (t Topic[Req, Resp]) decode(env Envelope, kind Kind, v any) error {
	if env.Topic != t.Name {
		return errors.Errorf("expected topic %s, got %s", t.Name, env.Topic)
	}
	if env.Kind != kind {
		return errors.Errorf("expected %s envelope for topic %s, got %s", kind, t.Name, env.Kind)
	}

	return env.Decode(v)
}

func validate(v any) error {
	if validator, ok := v.(Validator); ok {
		return validator.Validate()
	}

	return nil
}

// Handle registers a typed handler for the CREATE envelopes of topic.
// The handler's result is sent back as the RESPONSE, its error as an ERROR reply.
func Handle[Req any, Resp any](
	c *Consumer,
	topic Topic[Req, Resp],
	handle func(ctx context.Context, req Req) (Resp, error),
) error {
	return c.Register(topic.Name, KindCreate, func(r *Request) error {
		req, err := topic.DecodeRequest(r.Envelope())
		if err != nil {
			return err
		}

		resp, err := handle(r.Context(), req)
		if err != nil {
			return err
		}

		return r.Respond(resp)
	})
}

// Call sends req and waits for the typed response, using the Producer's default timeout
// unless ctx has an earlier deadline.
func Call[Req any, Resp any](
	ctx context.Context,
	p *Producer,
	topic Topic[Req, Resp],
	req Req,
) (Resp, error) {
	var resp Resp

	env, err := topic.Request(req)
	if err != nil {
		return resp, err
	}

	reply, err := p.Send(ctx, env, SendOptions{WaitForResponse: true})
	if err != nil {
		return resp, err
	}

	return topic.DecodeResponse(*reply)
}
