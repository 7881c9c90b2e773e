package message

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Publisher is the emitting part of a Pub/Sub.
type Publisher interface {
	// Publish publishes provided messages to the given topic.
	//
	// Publish can be synchronous or asynchronous - it depends on the implementation.
	// The broker gives no response semantics of its own: a successful Publish only
	// means the broker accepted the message.
	//
	// Publish must be thread safe.
	Publish(topic string, messages ...*Message) error

	// Close should flush unsent messages, if publisher is async.
	Close() error
}

// Subscriber is the consuming part of the Pub/Sub.
type Subscriber interface {
	// Subscribe returns an output channel with messages from the provided topic.
	// The channel is closed after Close() is called on the subscriber.
	//
	// To receive the next message, `Ack()` must be called on the received message.
	// If message processing failed and the message should be redelivered `Nack()` should be called.
	//
	// When the provided ctx is canceled, the subscriber closes the subscription and the output channel.
	// The provided ctx is passed to all produced messages.
	Subscribe(ctx context.Context, topic string) (<-chan *Message, error)

	// Close closes all subscriptions with their output channels.
	Close() error
}

// PubSub is both a Publisher and a Subscriber.
type PubSub interface {
	Publisher
	Subscriber
}

// NewPubSub joins a separate Publisher and Subscriber into a PubSub.
func NewPubSub(publisher Publisher, subscriber Subscriber) PubSub {
	return pubSub{publisher, subscriber}
}

type pubSub struct {
	pub Publisher
	sub Subscriber
}

func (p pubSub) Publish(topic string, messages ...*Message) error {
	return p.pub.Publish(topic, messages...)
}

func (p pubSub) Subscribe(ctx context.Context, topic string) (<-chan *Message, error) {
	return p.sub.Subscribe(ctx, topic)
}

func (p pubSub) Close() error {
	var err error

	if publisherErr := p.pub.Close(); publisherErr != nil {
		err = multierror.Append(err, errors.Wrap(publisherErr, "cannot close publisher"))
	}
	if subscriberErr := p.sub.Close(); subscriberErr != nil {
		err = multierror.Append(err, errors.Wrap(subscriberErr, "cannot close subscriber"))
	}

	return err
}
