package redis

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/message"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

type PublisherConfig struct {
	// Client is shared with the subscriber when both run in one process. Close does not close it.
	Client    redis.UniversalClient
	Marshaler Marshaler
}

func (c *PublisherConfig) setDefaults() {
	if c.Marshaler == nil {
		c.Marshaler = JSONMarshaler{}
	}
}

func (c PublisherConfig) Validate() error {
	if c.Client == nil {
		return errors.New("missing redis client")
	}

	return nil
}

// Publisher publishes messages with Redis PUBLISH.
//
// Redis pub/sub is fire-and-forget: a message published while nobody is subscribed to the channel is lost.
type Publisher struct {
	config PublisherConfig
	logger polaris.LoggerAdapter

	closedLock sync.RWMutex
	closed     bool
}

func NewPublisher(config PublisherConfig, logger polaris.LoggerAdapter) (*Publisher, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid redis publisher config")
	}
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	return &Publisher{
		config: config,
		logger: logger,
	}, nil
}

// Publish publishes the messages one by one, using each message's context for the Redis call.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.closedLock.RLock()
	defer p.closedLock.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}

	for _, msg := range messages {
		logFields := polaris.LogFields{"message_uuid": msg.UUID, "topic": topic}

		b, err := p.config.Marshaler.Marshal(topic, msg)
		if err != nil {
			return err
		}

		receivers, err := p.config.Client.Publish(msg.Context(), topic, b).Result()
		if err != nil {
			return errors.Wrapf(err, "cannot publish message %s to %s", msg.UUID, topic)
		}

		p.logger.Trace("Message published to Redis", logFields.Add(polaris.LogFields{"receivers": receivers}))
	}

	return nil
}

func (p *Publisher) Close() error {
	p.closedLock.Lock()
	defer p.closedLock.Unlock()

	p.closed = true
	return nil
}
