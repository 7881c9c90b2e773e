package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/internal/publisher"
	"github.com/polaris-dashboard/polaris/message"
)

// DefaultTimeout is how long Send waits for a reply when neither SendOptions nor ProducerConfig set one.
const DefaultTimeout = 5 * time.Second

// Outcomes reported to RoundTripObserver.
const (
	OutcomeResponse    = "response"
	OutcomeRemoteError = "remote_error"
	OutcomeTimeout     = "timeout"
	OutcomeCancelled   = "cancelled"
	OutcomeContextDone = "context_done"
)

// RoundTripObserver receives the outcome and duration of every waiting Send.
type RoundTripObserver interface {
	ObserveRoundTrip(topic string, outcome string, duration time.Duration)
}

type ProducerConfig struct {
	// RequestsTopic is the broker topic where CREATE envelopes are published.
	RequestsTopic string
	// ResponsesTopic is the broker topic the reply listener subscribes to.
	ResponsesTopic string

	// DefaultTimeout is used when SendOptions.Timeout is zero.
	DefaultTimeout time.Duration

	PublishRetries       int
	PublishRetryInterval time.Duration

	// Observer is optional.
	Observer RoundTripObserver
}

func (c *ProducerConfig) setDefaults() {
	if c.RequestsTopic == "" {
		c.RequestsTopic = DefaultRequestsTopic
	}
	if c.ResponsesTopic == "" {
		c.ResponsesTopic = DefaultResponsesTopic
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
}

func (c ProducerConfig) Validate() error {
	if c.RequestsTopic == c.ResponsesTopic {
		return errors.New("RequestsTopic and ResponsesTopic must differ")
	}
	if c.DefaultTimeout < 0 {
		return errors.New("DefaultTimeout must not be negative")
	}

	return nil
}

type SendOptions struct {
	// WaitForResponse makes Send block until the reply arrives or the wait times out.
	WaitForResponse bool
	// Timeout overrides ProducerConfig.DefaultTimeout.
	Timeout time.Duration
}

// Producer publishes requests and routes replies back to the waiting callers by correlation id.
type Producer struct {
	config ProducerConfig

	publisher  message.Publisher
	subscriber message.Subscriber

	logger polaris.LoggerAdapter

	pending *pendingRequests

	stateLock      sync.Mutex
	started        bool
	closed         bool
	cancelListener context.CancelFunc
	listenerDone   chan struct{}
}

func NewProducer(
	config ProducerConfig,
	pub message.Publisher,
	subscriber message.Subscriber,
	logger polaris.LoggerAdapter,
) (*Producer, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid producer config")
	}
	if pub == nil {
		return nil, errors.New("missing publisher")
	}
	if subscriber == nil {
		return nil, errors.New("missing subscriber")
	}
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	retryPublisher, err := publisher.NewRetryPublisher(pub, publisher.RetryPublisherConfig{
		MaxRetries:       config.PublishRetries,
		TimeToFirstRetry: config.PublishRetryInterval,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	return &Producer{
		config:     config,
		publisher:  retryPublisher,
		subscriber: subscriber,
		logger:     logger,
		pending:    newPendingRequests(),
	}, nil
}

// Start subscribes to the responses topic. The subscription lives until Close or until ctx is canceled.
func (p *Producer) Start(ctx context.Context) error {
	p.stateLock.Lock()
	defer p.stateLock.Unlock()

	if p.closed {
		return ErrProducerClosed
	}
	if p.started {
		return errors.New("producer already started")
	}

	listenCtx, cancel := context.WithCancel(ctx)

	replies, err := p.subscriber.Subscribe(listenCtx, p.config.ResponsesTopic)
	if err != nil {
		cancel()
		return errors.Wrapf(err, "cannot subscribe to %s", p.config.ResponsesTopic)
	}

	p.started = true
	p.cancelListener = cancel
	p.listenerDone = make(chan struct{})

	go p.listen(replies, p.listenerDone)

	p.logger.Info("Producer started", polaris.LogFields{"responses_topic": p.config.ResponsesTopic})

	return nil
}

func (p *Producer) listen(replies <-chan *message.Message, done chan struct{}) {
	defer close(done)

	for msg := range replies {
		env, err := EnvelopeFromMessage(msg)
		msg.Ack()

		if err != nil {
			p.logger.Error("Cannot decode reply, dropping message", err, polaris.LogFields{"message_uuid": msg.UUID})
			continue
		}
		if !env.Kind.IsReply() {
			p.logger.Trace("Ignoring non-reply envelope", env.logFields())
			continue
		}

		if !p.pending.resolve(env.CorrelationID, pendingResult{envelope: env}) {
			// late reply after timeout, duplicate delivery, or a reply meant for another producer
			p.logger.Debug("No pending request for reply, ignoring", env.logFields())
			continue
		}

		p.logger.Trace("Reply routed", env.logFields())
	}

	p.logger.Debug("Reply listener stopped", nil)
}

// Send publishes env as a CREATE envelope.
//
// Without WaitForResponse it returns (nil, nil) as soon as the broker accepted the message.
// With WaitForResponse a fresh correlation id is assigned and Send blocks until:
//   - a RESPONSE arrives: it is returned,
//   - an ERROR reply arrives: *RemoteError is returned,
//   - the timeout elapses, or the request could not be published: *ReplyTimeoutError is returned,
//   - ctx is done: the context error is returned,
//   - the producer is closed: ErrCancelled is returned.
func (p *Producer) Send(ctx context.Context, env Envelope, opts SendOptions) (*Envelope, error) {
	if env.Kind == "" {
		env.Kind = KindCreate
	}
	if env.Kind != KindCreate {
		return nil, errors.Errorf("only %s envelopes can be sent, got %s", KindCreate, env.Kind)
	}

	p.stateLock.Lock()
	closed, started := p.closed, p.started
	p.stateLock.Unlock()

	if closed {
		return nil, ErrProducerClosed
	}

	if !opts.WaitForResponse {
		if env.CorrelationID == "" {
			env.CorrelationID = polaris.NewMonotonicULID()
		}
		return nil, p.publish(ctx, env)
	}

	if !started {
		return nil, ErrProducerNotStarted
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.config.DefaultTimeout
	}

	env.CorrelationID = polaris.NewMonotonicULID()
	logFields := env.logFields()

	// registered before publishing, so a fast reply cannot arrive before the pending entry exists
	req, err := p.pending.add(env.CorrelationID, env.Topic)
	if err != nil {
		return nil, err
	}

	reply, outcome, err := p.wait(ctx, env, req, timeout)

	if p.config.Observer != nil {
		p.config.Observer.ObserveRoundTrip(env.Topic, outcome, time.Since(req.createdAt))
	}
	p.logger.Trace("Send finished", logFields.Add(polaris.LogFields{
		"outcome":  outcome,
		"duration": time.Since(req.createdAt),
	}))

	return reply, err
}

func (p *Producer) wait(ctx context.Context, env Envelope, req *pendingRequest, timeout time.Duration) (*Envelope, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if err := p.publish(ctx, env); err != nil {
		p.pending.remove(req.correlationID)
		return nil, OutcomeTimeout, &ReplyTimeoutError{
			Topic:         env.Topic,
			CorrelationID: env.CorrelationID,
			Duration:      time.Since(req.createdAt),
			Err:           err,
		}
	}

	select {
	case result := <-req.result:
		return p.handleResult(result)
	case <-timer.C:
		if !p.pending.remove(req.correlationID) {
			// resolved while the timer fired
			return p.handleResult(<-req.result)
		}
		return nil, OutcomeTimeout, &ReplyTimeoutError{
			Topic:         env.Topic,
			CorrelationID: env.CorrelationID,
			Duration:      time.Since(req.createdAt),
			Err:           context.DeadlineExceeded,
		}
	case <-ctx.Done():
		if !p.pending.remove(req.correlationID) {
			return p.handleResult(<-req.result)
		}
		return nil, OutcomeContextDone, errors.Wrapf(ctx.Err(), "waiting for %s reply", env.Topic)
	}
}

func (p *Producer) handleResult(result pendingResult) (*Envelope, string, error) {
	if result.err != nil {
		return nil, OutcomeCancelled, result.err
	}

	reply := result.envelope
	if reply.Kind == KindError {
		var payload ErrorPayload
		if err := reply.Decode(&payload); err != nil || payload.Error == "" {
			payload.Error = "unknown remote error"
		}

		return nil, OutcomeRemoteError, &RemoteError{
			Topic:         reply.Topic,
			CorrelationID: reply.CorrelationID,
			Message:       payload.Error,
		}
	}

	return &reply, OutcomeResponse, nil
}

func (p *Producer) publish(ctx context.Context, env Envelope) error {
	msg, err := EnvelopeToMessage(env)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	p.logger.Trace("Publishing request", env.logFields())

	if err := p.publisher.Publish(p.config.RequestsTopic, msg); err != nil {
		return errors.Wrapf(err, "cannot publish %s request", env.Topic)
	}

	return nil
}

// Pending returns how many requests are waiting for a reply.
func (p *Producer) Pending() int {
	return p.pending.len()
}

// Close unsubscribes from the responses topic and fails all waiting requests with ErrCancelled.
// The publisher and subscriber passed to NewProducer are not closed.
func (p *Producer) Close() error {
	p.stateLock.Lock()
	if p.closed {
		p.stateLock.Unlock()
		return nil
	}
	p.closed = true
	cancel, done := p.cancelListener, p.listenerDone
	p.stateLock.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if cancelled := p.pending.failAll(ErrCancelled); cancelled > 0 {
		p.logger.Info("Producer closed with pending requests", polaris.LogFields{"cancelled": cancelled})
	} else {
		p.logger.Info("Producer closed", nil)
	}

	return nil
}
