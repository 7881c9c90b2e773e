// Package tests is the behaviour every message.PubSub of the bridge must have, run against each transport.
package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/message"
	"github.com/polaris-dashboard/polaris/message/subscriber"
)

var defaultTimeout = 5 * time.Second

// Features are used to configure Pub/Subs implementations behaviour.
type Features struct {
	// GuaranteedOrder is true when a single subscriber receives messages in publish order.
	GuaranteedOrder bool
}

type PubSubConstructor func(t *testing.T) message.PubSub

// TestPubSub runs the whole suite against the pub/sub made by pubSubConstructor.
func TestPubSub(t *testing.T, features Features, pubSubConstructor PubSubConstructor) {
	testFuncs := []struct {
		Name string
		Func func(t *testing.T, features Features, pubSub message.PubSub)
	}{
		{Name: "publish_subscribe", Func: TestPublishSubscribe},
		{Name: "fan_out", Func: TestFanOut},
		{Name: "resend_on_nack", Func: TestResendOnNack},
		{Name: "topic", Func: TestTopic},
		{Name: "subscribe_ctx", Func: TestSubscribeCtx},
		{Name: "message_ctx", Func: TestMessageCtx},
		{Name: "close", Func: TestClose},
	}

	for _, testFunc := range testFuncs {
		testFunc := testFunc
		t.Run(testFunc.Name, func(t *testing.T) {
			t.Parallel()
			testFunc.Func(t, features, pubSubConstructor(t))
		})
	}
}

func testTopicName() string {
	return "topic_" + polaris.NewShortUUID()
}

func subscribe(t *testing.T, pubSub message.PubSub, topic string) <-chan *message.Message {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	messages, err := pubSub.Subscribe(ctx, topic)
	require.NoError(t, err)

	return messages
}

func publishMessages(t *testing.T, pubSub message.PubSub, topic string, count int) message.Messages {
	t.Helper()

	var sent message.Messages
	for i := 0; i < count; i++ {
		msg := message.NewMessage(polaris.NewUUID(), []byte(fmt.Sprintf(`{"num":%d}`, i)))
		msg.Metadata.Set("polaris_correlation_id", polaris.NewULID())
		msg.Metadata.Set("num", fmt.Sprintf("%d", i))

		require.NoError(t, pubSub.Publish(topic, msg))
		sent = append(sent, msg)
	}

	return sent
}

func TestPublishSubscribe(t *testing.T, features Features, pubSub message.PubSub) {
	topic := testTopicName()
	messages := subscribe(t, pubSub, topic)

	sent := publishMessages(t, pubSub, topic, 50)

	received, all := subscriber.BulkRead(messages, len(sent), defaultTimeout)
	assert.True(t, all)

	AssertAllMessagesReceived(t, sent, received)
	AssertMessagesEqual(t, sent, received)

	if features.GuaranteedOrder {
		assert.Equal(t, sent.IDs(), received.IDs())
	}
}

func TestFanOut(t *testing.T, features Features, pubSub message.PubSub) {
	topic := testTopicName()
	first := subscribe(t, pubSub, topic)
	second := subscribe(t, pubSub, topic)

	sent := publishMessages(t, pubSub, topic, 10)

	for _, messages := range []<-chan *message.Message{first, second} {
		received, all := subscriber.BulkRead(messages, len(sent), defaultTimeout)
		assert.True(t, all)
		AssertAllMessagesReceived(t, sent, received)
	}
}

func TestResendOnNack(t *testing.T, features Features, pubSub message.PubSub) {
	topic := testTopicName()
	messages := subscribe(t, pubSub, topic)

	sent := publishMessages(t, pubSub, topic, 1)

	select {
	case msg := <-messages:
		require.NotNil(t, msg)
		msg.Nack()
	case <-time.After(defaultTimeout):
		t.Fatal("message not received")
	}

	received, all := subscriber.BulkRead(messages, 1, defaultTimeout)
	require.True(t, all, "message should be redelivered after nack")
	assert.Equal(t, sent.IDs(), received.IDs())
}

func TestTopic(t *testing.T, features Features, pubSub message.PubSub) {
	topic1 := testTopicName()
	topic2 := testTopicName()

	messages1 := subscribe(t, pubSub, topic1)
	messages2 := subscribe(t, pubSub, topic2)

	sent1 := publishMessages(t, pubSub, topic1, 1)
	sent2 := publishMessages(t, pubSub, topic2, 1)

	received1, all := subscriber.BulkRead(messages1, 2, 500*time.Millisecond)
	assert.False(t, all)
	AssertAllMessagesReceived(t, sent1, received1)

	received2, all := subscriber.BulkRead(messages2, 2, 500*time.Millisecond)
	assert.False(t, all)
	AssertAllMessagesReceived(t, sent2, received2)
}

func TestSubscribeCtx(t *testing.T, features Features, pubSub message.PubSub) {
	ctx, cancel := context.WithCancel(context.Background())

	messages, err := pubSub.Subscribe(ctx, testTopicName())
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-messages:
		assert.False(t, ok, "no message expected")
	case <-time.After(defaultTimeout):
		t.Fatal("channel should be closed after context cancel")
	}
}

func TestMessageCtx(t *testing.T, features Features, pubSub message.PubSub) {
	topic := testTopicName()
	messages := subscribe(t, pubSub, topic)

	publishMessages(t, pubSub, topic, 1)

	var msg *message.Message
	select {
	case msg = <-messages:
	case <-time.After(defaultTimeout):
		t.Fatal("message not received")
	}

	select {
	case <-msg.Context().Done():
		t.Fatal("message context should not be done before ack")
	default:
	}

	msg.Ack()

	select {
	case <-msg.Context().Done():
	case <-time.After(defaultTimeout):
		t.Fatal("message context should be done after ack")
	}
}

func TestClose(t *testing.T, features Features, pubSub message.PubSub) {
	topic := testTopicName()

	messages, err := pubSub.Subscribe(context.Background(), topic)
	require.NoError(t, err)

	require.NoError(t, pubSub.Close())
	require.NoError(t, pubSub.Close(), "second close should be a no-op")

	select {
	case _, ok := <-messages:
		assert.False(t, ok)
	case <-time.After(defaultTimeout):
		t.Fatal("subscription should be closed")
	}

	assert.Error(t, pubSub.Publish(topic, message.NewMessage(polaris.NewUUID(), nil)))
}
