package publisher

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/message"
)

var (
	ErrNegativeNumberOfRetries     = errors.New("number of retries should not be negative")
	ErrNonPositiveTimeToFirstRetry = errors.New("time to first retry should be positive")
)

type RetryPublisherConfig struct {
	// MaxRetries is the number of publish attempts made after the first one failed.
	MaxRetries int
	// TimeToFirstRetry is the initial backoff interval, each subsequent retry doubles it.
	TimeToFirstRetry time.Duration
	// MaxInterval caps the backoff interval.
	MaxInterval time.Duration
	Logger      polaris.LoggerAdapter
}

func (c *RetryPublisherConfig) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.TimeToFirstRetry == 0 {
		c.TimeToFirstRetry = 100 * time.Millisecond
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = polaris.NopLogger{}
	}
}

func (c RetryPublisherConfig) validate() error {
	if c.MaxRetries < 0 {
		return ErrNegativeNumberOfRetries
	}
	if c.TimeToFirstRetry <= 0 {
		return ErrNonPositiveTimeToFirstRetry
	}

	return nil
}

// RetryPublisher is a decorator for a publisher that retries message publishing after a failure.
//
// Retries stop early when the context of the published message is canceled.
type RetryPublisher struct {
	pub    message.Publisher
	config RetryPublisherConfig
}

func NewRetryPublisher(pub message.Publisher, config RetryPublisherConfig) (*RetryPublisher, error) {
	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid RetryPublisher config")
	}

	return &RetryPublisher{
		pub,
		config,
	}, nil
}

func (p RetryPublisher) Publish(topic string, messages ...*message.Message) error {
	failedMessages := NewErrCouldNotPublish()

	for _, msg := range messages {
		err := p.send(topic, msg)
		if err != nil {
			failedMessages.addMsg(msg, err)
		}
	}

	if failedMessages.Len() > 0 {
		return failedMessages
	}

	return nil
}

func (p RetryPublisher) Close() error {
	return p.pub.Close()
}

// send sends one message at a time to prevent sending a successful message more than once.
func (p RetryPublisher) send(topic string, msg *message.Message) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.config.TimeToFirstRetry
	expBackoff.MaxInterval = p.config.MaxInterval
	expBackoff.Multiplier = 2
	expBackoff.MaxElapsedTime = 0

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(p.config.MaxRetries)),
		msg.Context(),
	)

	return backoff.RetryNotify(
		func() error {
			return p.pub.Publish(topic, msg)
		},
		strategy,
		func(err error, next time.Duration) {
			p.config.Logger.Info("Publish failed, retrying", polaris.LogFields{
				"error":        err,
				"topic":        topic,
				"message_uuid": msg.UUID,
				"retry_in":     next,
			})
		},
	)
}
