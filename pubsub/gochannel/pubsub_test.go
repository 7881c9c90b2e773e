package gochannel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/message"
	"github.com/polaris-dashboard/polaris/pubsub/gochannel"
	"github.com/polaris-dashboard/polaris/pubsub/tests"
)

func TestPubSub(t *testing.T) {
	tests.TestPubSub(
		t,
		tests.Features{GuaranteedOrder: false},
		func(t *testing.T) message.PubSub {
			return gochannel.NewGoChannel(
				gochannel.Config{OutputChannelBuffer: 100},
				polaris.NewStdLogger(false, false),
			)
		},
	)
}

func TestPublishSubscribe_block_until_ack(t *testing.T) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		nil,
	)
	defer pubSub.Close()

	topicName := "test_topic_" + polaris.NewUUID()

	msgs, err := pubSub.Subscribe(context.Background(), topicName)
	require.NoError(t, err)

	published := make(chan struct{})
	go func() {
		err := pubSub.Publish(topicName, message.NewMessage("1", nil))
		assert.NoError(t, err)
		close(published)
	}()

	msg1 := <-msgs
	select {
	case <-published:
		t.Fatal("publish should be blocked until ack")
	default:
		// ok
	}

	msg1.Nack()

	msg2 := <-msgs
	assert.Equal(t, "1", msg2.UUID, "message should be redelivered after nack")
	msg2.Ack()

	select {
	case <-published:
		// ok
	case <-time.After(time.Second):
		t.Fatal("publish should be not blocked after ack")
	}
}

func TestClose_subscribe_fails(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, nil)

	msgs, err := pubSub.Subscribe(context.Background(), "requests")
	require.NoError(t, err)

	require.NoError(t, pubSub.Close())
	require.NoError(t, pubSub.Close())

	_, ok := <-msgs
	assert.False(t, ok)

	assert.ErrorIs(t, pubSub.Publish("requests", message.NewMessage("1", nil)), gochannel.ErrClosed)

	_, err = pubSub.Subscribe(context.Background(), "requests")
	assert.ErrorIs(t, err, gochannel.ErrClosed)
}

func TestPublish_no_subscribers(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, nil)
	defer pubSub.Close()

	assert.NoError(t, pubSub.Publish("nobody_listens", message.NewMessage("1", nil)))
}
