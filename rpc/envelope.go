package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/message"
)

// Kind tells if an envelope is a new request or a reply to one.
type Kind string

const (
	// KindCreate is a new request.
	KindCreate Kind = "create"
	// KindResponse is a successful reply.
	KindResponse Kind = "response"
	// KindError is a failed reply, its payload is ErrorPayload.
	KindError Kind = "error"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindResponse, KindError:
		return true
	default:
		return false
	}
}

func (k Kind) IsReply() bool {
	return k == KindResponse || k == KindError
}

func (k Kind) String() string {
	return string(k)
}

const (
	KindMetadataKey          = "polaris_kind"
	TopicMetadataKey         = "polaris_topic"
	CorrelationIDMetadataKey = "polaris_correlation_id"
)

// Envelope is the unit exchanged over the broker.
type Envelope struct {
	Kind  Kind
	Topic string

	// CorrelationID is generated by the Producer for every request it waits for.
	// Replies carry the correlation id of the request they answer.
	CorrelationID string

	// Payload is a JSON object, its schema depends on Topic.
	Payload json.RawMessage
}

// ErrorPayload is the payload of KindError envelopes.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewEnvelope creates an envelope with payload marshaled to JSON.
// A nil payload becomes an empty JSON object.
func NewEnvelope(kind Kind, topic string, payload any) (Envelope, error) {
	env := Envelope{Kind: kind, Topic: topic}

	if payload == nil {
		env.Payload = json.RawMessage("{}")
		return env, env.validate(false)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "cannot marshal %s payload for topic %s", kind, topic)
	}
	env.Payload = b

	return env, env.validate(false)
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(err, "cannot decode %s payload of topic %s", e.Kind, e.Topic)
	}

	return nil
}

func (e Envelope) logFields() polaris.LogFields {
	return polaris.LogFields{
		"kind":           e.Kind,
		"topic":          e.Topic,
		"correlation_id": e.CorrelationID,
	}
}

func (e Envelope) validate(requireCorrelationID bool) error {
	if !e.Kind.Valid() {
		return errors.Errorf("invalid envelope kind %q", e.Kind)
	}
	if e.Topic == "" {
		return errors.New("envelope topic is empty")
	}
	if requireCorrelationID && e.CorrelationID == "" {
		return errors.Errorf("%s envelope of topic %s has no correlation id", e.Kind, e.Topic)
	}
	if !isJSONObject(e.Payload) {
		return errors.Errorf("payload of topic %s is not a JSON object", e.Topic)
	}

	return nil
}

func isJSONObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	if len(b) < 2 || b[0] != '{' {
		return false
	}

	return json.Valid(b)
}

// EnvelopeToMessage encodes the envelope as a broker message.
// Kind, topic and correlation id are stored in the metadata, the payload as message payload.
func EnvelopeToMessage(env Envelope) (*message.Message, error) {
	if err := env.validate(true); err != nil {
		return nil, err
	}

	msg := message.NewMessage(polaris.NewUUID(), message.Payload(env.Payload))
	msg.Metadata.Set(KindMetadataKey, string(env.Kind))
	msg.Metadata.Set(TopicMetadataKey, env.Topic)
	msg.Metadata.Set(CorrelationIDMetadataKey, env.CorrelationID)

	return msg, nil
}

// EnvelopeFromMessage decodes a broker message produced by EnvelopeToMessage.
func EnvelopeFromMessage(msg *message.Message) (Envelope, error) {
	env := Envelope{
		Kind:          Kind(msg.Metadata.Get(KindMetadataKey)),
		Topic:         msg.Metadata.Get(TopicMetadataKey),
		CorrelationID: msg.Metadata.Get(CorrelationIDMetadataKey),
		Payload:       json.RawMessage(msg.Payload),
	}

	if err := env.validate(true); err != nil {
		return Envelope{}, errors.Wrapf(err, "invalid envelope in message %s", msg.UUID)
	}

	return env, nil
}
