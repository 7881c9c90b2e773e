package redis

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris/message"
)

// Marshaler transforms a message into the payload of a Redis PUBLISH and back.
type Marshaler interface {
	Marshal(topic string, msg *message.Message) ([]byte, error)
	Unmarshal(data []byte) (*message.Message, error)
}

// JSONMarshaler frames a message as a JSON object with uuid, metadata and payload.
// A payload that is compact JSON is embedded as is, so frames stay readable in redis-cli MONITOR.
// Any other payload (binary, or JSON with insignificant whitespace) is sent base64 encoded in "binary".
// Either way Unmarshal returns the payload byte for byte.
type JSONMarshaler struct{}

type jsonFrame struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Binary   []byte            `json:"binary,omitempty"`
}

func (JSONMarshaler) Marshal(topic string, msg *message.Message) ([]byte, error) {
	frame := jsonFrame{
		UUID:     msg.UUID,
		Metadata: msg.Metadata,
	}

	if len(msg.Payload) > 0 {
		if isCompactJSON(msg.Payload) {
			frame.Payload = json.RawMessage(msg.Payload)
		} else {
			frame.Binary = msg.Payload
		}
	}

	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	// raw payloads are embedded unchanged, without escaping <, > and &
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(frame); err != nil {
		return nil, errors.Wrapf(err, "cannot marshal message %s for topic %s", msg.UUID, topic)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// isCompactJSON reports whether payload is valid JSON which the encoder would embed unchanged.
func isCompactJSON(payload []byte) bool {
	if !json.Valid(payload) {
		return false
	}

	compacted := &bytes.Buffer{}
	if err := json.Compact(compacted, payload); err != nil {
		return false
	}

	return bytes.Equal(compacted.Bytes(), payload)
}

func (JSONMarshaler) Unmarshal(data []byte) (*message.Message, error) {
	var frame jsonFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal message frame")
	}
	if frame.UUID == "" {
		return nil, errors.New("message frame has no uuid")
	}

	payload := message.Payload(frame.Payload)
	if frame.Binary != nil {
		payload = frame.Binary
	}

	msg := message.NewMessage(frame.UUID, payload)
	for k, v := range frame.Metadata {
		msg.Metadata.Set(k, v)
	}

	return msg, nil
}
