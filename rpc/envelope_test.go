package rpc_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-dashboard/polaris/message"
	"github.com/polaris-dashboard/polaris/rpc"
)

func TestNewEnvelope_nil_payload(t *testing.T) {
	env, err := rpc.NewEnvelope(rpc.KindCreate, "get_guilds", nil)
	require.NoError(t, err)

	assert.JSONEq(t, "{}", string(env.Payload))
}

func TestNewEnvelope_non_object_payload(t *testing.T) {
	_, err := rpc.NewEnvelope(rpc.KindCreate, "get_guilds", []int{1, 2})
	assert.Error(t, err)
}

func TestNewEnvelope_invalid_kind(t *testing.T) {
	_, err := rpc.NewEnvelope(rpc.Kind("update"), "get_guilds", nil)
	assert.Error(t, err)
}

func TestEnvelopeToMessage(t *testing.T) {
	env, err := rpc.NewEnvelope(rpc.KindResponse, "get_guilds", map[string][]int64{"guilds": {1}})
	require.NoError(t, err)
	env.CorrelationID = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

	msg, err := rpc.EnvelopeToMessage(env)
	require.NoError(t, err)

	assert.Equal(t, "response", msg.Metadata.Get(rpc.KindMetadataKey))
	assert.Equal(t, "get_guilds", msg.Metadata.Get(rpc.TopicMetadataKey))
	assert.Equal(t, env.CorrelationID, msg.Metadata.Get(rpc.CorrelationIDMetadataKey))
	assert.JSONEq(t, `{"guilds":[1]}`, string(msg.Payload))

	decoded, err := rpc.EnvelopeFromMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, env.Kind, decoded.Kind)
	assert.Equal(t, env.Topic, decoded.Topic)
	assert.Equal(t, env.CorrelationID, decoded.CorrelationID)
}

func TestEnvelopeToMessage_requires_correlation_id(t *testing.T) {
	env, err := rpc.NewEnvelope(rpc.KindCreate, "get_guilds", nil)
	require.NoError(t, err)

	_, err = rpc.EnvelopeToMessage(env)
	assert.Error(t, err)
}

func TestEnvelopeFromMessage_invalid(t *testing.T) {
	testCases := []struct {
		Name     string
		Metadata message.Metadata
		Payload  string
	}{
		{
			Name:     "unknown_kind",
			Metadata: message.Metadata{rpc.KindMetadataKey: "update", rpc.TopicMetadataKey: "t", rpc.CorrelationIDMetadataKey: "1"},
			Payload:  "{}",
		},
		{
			Name:     "missing_topic",
			Metadata: message.Metadata{rpc.KindMetadataKey: "create", rpc.CorrelationIDMetadataKey: "1"},
			Payload:  "{}",
		},
		{
			Name:     "missing_correlation_id",
			Metadata: message.Metadata{rpc.KindMetadataKey: "create", rpc.TopicMetadataKey: "t"},
			Payload:  "{}",
		},
		{
			Name:     "payload_not_json",
			Metadata: message.Metadata{rpc.KindMetadataKey: "create", rpc.TopicMetadataKey: "t", rpc.CorrelationIDMetadataKey: "1"},
			Payload:  "{not json",
		},
		{
			Name:     "payload_not_object",
			Metadata: message.Metadata{rpc.KindMetadataKey: "create", rpc.TopicMetadataKey: "t", rpc.CorrelationIDMetadataKey: "1"},
			Payload:  "[1,2]",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			msg := message.NewMessage("uuid", message.Payload(tc.Payload))
			msg.Metadata = tc.Metadata

			_, err := rpc.EnvelopeFromMessage(msg)
			assert.Error(t, err)
		})
	}
}

type pingRequest struct {
	Value int `json:"value"`
}

func (r pingRequest) Validate() error {
	if r.Value < 0 {
		return assert.AnError
	}
	return nil
}

type pingResponse struct {
	Value int `json:"value"`
}

func TestTopic_Request_validates(t *testing.T) {
	topic := rpc.NewTopic[pingRequest, pingResponse]("ping")

	_, err := topic.Request(pingRequest{Value: -1})
	assert.ErrorIs(t, err, assert.AnError)

	env, err := topic.Request(pingRequest{Value: 3})
	require.NoError(t, err)
	assert.Equal(t, rpc.KindCreate, env.Kind)
	assert.Equal(t, "ping", env.Topic)

	req, err := topic.DecodeRequest(env)
	require.NoError(t, err)
	assert.Equal(t, 3, req.Value)
}

func TestTopic_DecodeResponse_wrong_topic(t *testing.T) {
	topic := rpc.NewTopic[pingRequest, pingResponse]("ping")

	env := rpc.Envelope{
		Kind:          rpc.KindResponse,
		Topic:         "pong",
		CorrelationID: "1",
		Payload:       json.RawMessage(`{"value":1}`),
	}

	_, err := topic.DecodeResponse(env)
	assert.Error(t, err)

	env.Topic = "ping"
	resp, err := topic.DecodeResponse(env)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Value)
}
