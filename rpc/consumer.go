package rpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/internal/publisher"
	internalSync "github.com/polaris-dashboard/polaris/internal/sync"
	"github.com/polaris-dashboard/polaris/message"
)

const (
	DefaultRequestsTopic  = "polaris:requests"
	DefaultResponsesTopic = "polaris:responses"
)

// HandlerFunc handles a single request. It may call Request.Respond at most once.
//
// When it returns an error and no reply was sent, the consumer replies with an ERROR envelope.
// When it returns nil without replying, no reply is sent and the caller times out.
type HandlerFunc func(req *Request) error

// HandlerMiddleware allows wrapping a handler with extra logic.
type HandlerMiddleware func(h HandlerFunc) HandlerFunc

type ConsumerConfig struct {
	// RequestsTopic is the broker topic with CREATE envelopes.
	RequestsTopic string
	// ResponsesTopic is the broker topic where replies are published.
	ResponsesTopic string

	// CloseTimeout bounds how long Run waits for running handlers after shutdown.
	CloseTimeout time.Duration

	PublishRetries       int
	PublishRetryInterval time.Duration
}

func (c *ConsumerConfig) setDefaults() {
	if c.RequestsTopic == "" {
		c.RequestsTopic = DefaultRequestsTopic
	}
	if c.ResponsesTopic == "" {
		c.ResponsesTopic = DefaultResponsesTopic
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = time.Second * 30
	}
}

func (c ConsumerConfig) Validate() error {
	if c.RequestsTopic == c.ResponsesTopic {
		return errors.New("RequestsTopic and ResponsesTopic must differ")
	}
	if c.CloseTimeout < 0 {
		return errors.New("CloseTimeout must not be negative")
	}

	return nil
}

type handlerKey struct {
	topic string
	kind  Kind
}

// Consumer dispatches envelopes from the requests topic to registered handlers.
type Consumer struct {
	config ConsumerConfig

	subscriber message.Subscriber
	publisher  message.Publisher

	logger polaris.LoggerAdapter

	handlersLock sync.Mutex
	handlers     map[handlerKey]HandlerFunc
	middlewares  []HandlerMiddleware
	isRunning    bool

	runningHandlersWg sync.WaitGroup

	running   chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func NewConsumer(
	config ConsumerConfig,
	subscriber message.Subscriber,
	pub message.Publisher,
	logger polaris.LoggerAdapter,
) (*Consumer, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid consumer config")
	}
	if subscriber == nil {
		return nil, errors.New("missing subscriber")
	}
	if pub == nil {
		return nil, errors.New("missing publisher")
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

	return &Consumer{
		config:     config,
		subscriber: subscriber,
		publisher:  retryPublisher,
		logger:     logger,
		handlers:   map[handlerKey]HandlerFunc{},
		running:    make(chan struct{}),
		closeCh:    make(chan struct{}),
		closed:     make(chan struct{}),
	}, nil
}

// Register adds a handler for the (topic, kind) pair.
//
// Registering the same pair twice, or registering after Run started, returns *ConfigurationError.
func (c *Consumer) Register(topic string, kind Kind, h HandlerFunc) error {
	c.handlersLock.Lock()
	defer c.handlersLock.Unlock()

	switch {
	case c.isRunning:
		return &ConfigurationError{Topic: topic, Kind: kind, Reason: "consumer is already running"}
	case topic == "":
		return &ConfigurationError{Topic: topic, Kind: kind, Reason: "empty topic"}
	case !kind.Valid():
		return &ConfigurationError{Topic: topic, Kind: kind, Reason: "unknown kind"}
	case h == nil:
		return &ConfigurationError{Topic: topic, Kind: kind, Reason: "nil handler"}
	}

	key := handlerKey{topic: topic, kind: kind}
	if _, ok := c.handlers[key]; ok {
		return &ConfigurationError{Topic: topic, Kind: kind, Reason: "handler already registered"}
	}
	c.handlers[key] = h

	c.logger.Debug("Handler registered", polaris.LogFields{"topic": topic, "kind": kind})

	return nil
}

// AddMiddleware adds a new middleware wrapping all handlers.
//
// The order of middlewares matters. Middleware added at the beginning is executed first.
func (c *Consumer) AddMiddleware(m ...HandlerMiddleware) {
	c.handlersLock.Lock()
	defer c.handlersLock.Unlock()

	c.middlewares = append(c.middlewares, m...)
}

// freezeHandlers marks the consumer as running and returns the handlers wrapped with middlewares.
// The returned table is never modified afterwards.
func (c *Consumer) freezeHandlers() (map[handlerKey]HandlerFunc, error) {
	c.handlersLock.Lock()
	defer c.handlersLock.Unlock()

	if c.isRunning {
		return nil, errors.New("consumer is already running")
	}
	c.isRunning = true

	handlers := make(map[handlerKey]HandlerFunc, len(c.handlers))
	for key, h := range c.handlers {
		// first added middlewares should be executed first (so should be at the top of call stack)
		for i := len(c.middlewares) - 1; i >= 0; i-- {
			h = c.middlewares[i](h)
		}
		handlers[key] = h
	}

	return handlers, nil
}

// Run subscribes to the requests topic and dispatches envelopes until ctx is canceled or Close is called.
// Every envelope is handled on its own goroutine, so a slow handler never blocks the others.
func (c *Consumer) Run(ctx context.Context) (err error) {
	handlers, err := c.freezeHandlers()
	if err != nil {
		return err
	}
	defer close(c.closed)

	subscribeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, err := c.subscriber.Subscribe(subscribeCtx, c.config.RequestsTopic)
	if err != nil {
		return errors.Wrapf(err, "cannot subscribe to %s", c.config.RequestsTopic)
	}

	c.logger.Info("Consumer started", polaris.LogFields{
		"requests_topic": c.config.RequestsTopic,
		"handlers":       len(handlers),
	})
	close(c.running)

	c.dispatch(ctx, messages, handlers)

	cancel()

	c.logger.Debug("Waiting for running handlers", polaris.LogFields{"timeout": c.config.CloseTimeout})
	if timedOut := internalSync.WaitGroupTimeout(&c.runningHandlersWg, c.config.CloseTimeout); timedOut {
		return errors.New("consumer close timed out, some handlers are still running")
	}
	c.logger.Info("Consumer stopped", nil)

	return nil
}

func (c *Consumer) dispatch(ctx context.Context, messages <-chan *message.Message, handlers map[handlerKey]HandlerFunc) {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				c.logger.Debug("Requests subscription closed", nil)
				return
			}

			c.runningHandlersWg.Add(1)
			go func() {
				defer c.runningHandlersWg.Done()
				c.handleMessage(msg, handlers)
			}()
		case <-c.closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) handleMessage(msg *message.Message, handlers map[handlerKey]HandlerFunc) {
	// acked right away: redelivery is not used, and the transport may hold back
	// the next message of this subscription until the ack
	handlerCtx := context.WithoutCancel(msg.Context())
	msg.Ack()

	env, err := EnvelopeFromMessage(msg)
	if err != nil {
		c.logger.Error("Cannot decode envelope, dropping message", err, polaris.LogFields{"message_uuid": msg.UUID})
		return
	}

	logFields := env.logFields()
	c.logger.Trace("Envelope received", logFields)

	h, ok := handlers[handlerKey{topic: env.Topic, kind: env.Kind}]
	if !ok {
		c.logger.Debug("No handler registered, dropping envelope", logFields)
		return
	}

	req := newRequest(handlerCtx, env, c)

	handlerErr := c.runHandler(h, req)
	if handlerErr == nil {
		if !req.Replied() {
			c.logger.Debug("Handler finished without reply", logFields)
		}
		return
	}

	if req.Replied() {
		c.logger.Error("Handler failed after reply was sent", handlerErr, logFields)
		return
	}
	if env.Kind != KindCreate {
		c.logger.Error("Handler failed", handlerErr, logFields)
		return
	}

	c.logger.Info("Handler failed, sending error reply", logFields.Add(polaris.LogFields{"err": handlerErr}))
	if err := req.respondError(handlerErr); err != nil {
		c.logger.Error("Cannot send error reply", err, logFields)
	}
}

func (c *Consumer) runHandler(h HandlerFunc, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = errors.WithStack(RecoveredPanicError{V: r, Stacktrace: stack})
			c.logger.Error("Handler panicked", err, req.envelope.logFields().Add(polaris.LogFields{
				"stacktrace": stack,
			}))
		}
	}()

	return h(req)
}

func (c *Consumer) publishReply(ctx context.Context, env Envelope) error {
	msg, err := EnvelopeToMessage(env)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	c.logger.Trace("Publishing reply", env.logFields())

	return c.publisher.Publish(c.config.ResponsesTopic, msg)
}

// Running is closed when the consumer is subscribed and dispatching.
func (c *Consumer) Running() chan struct{} {
	return c.running
}

// Close stops dispatching and waits until Run returns, when it was started.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})

	c.handlersLock.Lock()
	started := c.isRunning
	c.handlersLock.Unlock()

	if !started {
		return nil
	}

	select {
	case <-c.closed:
		return nil
	case <-time.After(c.config.CloseTimeout + time.Second):
		return fmt.Errorf("consumer did not stop within %s", c.config.CloseTimeout)
	}
}
