package redis

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/message"
)

// ErrSubscriberClosed is returned by Subscribe after Close.
var ErrSubscriberClosed = errors.New("subscriber is closed")

type SubscriberConfig struct {
	// Client is shared with the publisher when both run in one process. Close does not close it.
	Client    redis.UniversalClient
	Marshaler Marshaler
}

func (c *SubscriberConfig) setDefaults() {
	if c.Marshaler == nil {
		c.Marshaler = JSONMarshaler{}
	}
}

func (c SubscriberConfig) Validate() error {
	if c.Client == nil {
		return errors.New("missing redis client")
	}

	return nil
}

// Subscriber receives messages with Redis SUBSCRIBE.
//
// Every Subscribe call opens its own Redis subscription. A message is delivered to the output channel
// and the next one is delivered after it was acked. A nacked message is delivered again.
type Subscriber struct {
	config SubscriberConfig
	logger polaris.LoggerAdapter

	subscribersWg sync.WaitGroup

	closedLock sync.Mutex
	closed     bool
	closing    chan struct{}
}

func NewSubscriber(config SubscriberConfig, logger polaris.LoggerAdapter) (*Subscriber, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid redis subscriber config")
	}
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	return &Subscriber{
		config:  config,
		logger:  logger,
		closing: make(chan struct{}),
	}, nil
}

// Subscribe returns the channel with messages published to topic.
// The channel is closed when ctx is done or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.closedLock.Lock()
	if s.closed {
		s.closedLock.Unlock()
		return nil, ErrSubscriberClosed
	}
	s.subscribersWg.Add(1)
	s.closedLock.Unlock()

	pubSub := s.config.Client.Subscribe(ctx, topic)

	// wait for the subscription confirmation, so messages published after Subscribe returns are not lost
	if _, err := pubSub.Receive(ctx); err != nil {
		_ = pubSub.Close()
		s.subscribersWg.Done()
		return nil, errors.Wrapf(err, "cannot subscribe to %s", topic)
	}

	logFields := polaris.LogFields{"topic": topic, "subscriber_uuid": polaris.NewShortUUID()}
	s.logger.Debug("Subscribed to Redis channel", logFields)

	output := make(chan *message.Message)

	go func() {
		defer s.subscribersWg.Done()
		defer close(output)
		defer func() {
			if err := pubSub.Close(); err != nil {
				s.logger.Error("Cannot close Redis subscription", err, logFields)
			}
		}()

		s.consume(ctx, pubSub.Channel(), output, logFields)
		s.logger.Debug("Redis subscription closed", logFields)
	}()

	return output, nil
}

func (s *Subscriber) consume(
	ctx context.Context,
	redisMessages <-chan *redis.Message,
	output chan<- *message.Message,
	logFields polaris.LogFields,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case redisMsg, ok := <-redisMessages:
			if !ok {
				return
			}

			msg, err := s.config.Marshaler.Unmarshal([]byte(redisMsg.Payload))
			if err != nil {
				s.logger.Error("Cannot unmarshal message, dropping", err, logFields)
				continue
			}

			if !s.deliver(ctx, msg, output, logFields.Add(polaris.LogFields{"message_uuid": msg.UUID})) {
				return
			}
		}
	}
}

// deliver sends msg until it is acked. It returns false when the subscription is ending.
func (s *Subscriber) deliver(
	ctx context.Context,
	msg *message.Message,
	output chan<- *message.Message,
	logFields polaris.LogFields,
) bool {
	for {
		msgToSend := msg.Copy()
		msgCtx, cancel := context.WithCancel(ctx)
		msgToSend.SetContext(msgCtx)

		select {
		case output <- msgToSend:
			s.logger.Trace("Message sent to consumer", logFields)
		case <-ctx.Done():
			cancel()
			return false
		case <-s.closing:
			cancel()
			return false
		}

		select {
		case <-msgToSend.Acked():
			cancel()
			return true
		case <-msgToSend.Nacked():
			cancel()
			s.logger.Trace("Nack received, resending message", logFields)
			continue
		case <-ctx.Done():
			cancel()
			return false
		case <-s.closing:
			cancel()
			return false
		}
	}
}

// Close closes all subscriptions and waits until their output channels are closed.
func (s *Subscriber) Close() error {
	s.closedLock.Lock()
	if s.closed {
		s.closedLock.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.closedLock.Unlock()

	s.subscribersWg.Wait()
	s.logger.Debug("Redis subscriber closed", nil)

	return nil
}
