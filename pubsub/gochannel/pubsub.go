package gochannel

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/message"
)

// ErrClosed is returned by Publish and Subscribe after the GoChannel was closed.
var ErrClosed = errors.New("Pub/Sub closed")

type Config struct {
	// OutputChannelBuffer is the buffer of every subscription channel.
	OutputChannelBuffer int64

	// BlockPublishUntilSubscriberAck makes Publish wait until every subscriber acked the message.
	// Publish to a topic without subscribers never blocks.
	BlockPublishUntilSubscriberAck bool
}

// GoChannel is an in-process Pub/Sub built on channels.
//
// Publisher and subscribers must share the same instance. It carries the bridge traffic
// when the bot and the dashboard run in one process, and in tests.
// Messages published to a topic without subscribers are dropped.
type GoChannel struct {
	config Config
	logger polaris.LoggerAdapter

	topicsLock sync.RWMutex
	topics     map[string]map[*subscriber]struct{}

	subscribersWg sync.WaitGroup

	closedLock sync.Mutex
	closed     bool
	closing    chan struct{}
}

func NewGoChannel(config Config, logger polaris.LoggerAdapter) *GoChannel {
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	return &GoChannel{
		config:  config,
		logger:  logger.With(polaris.LogFields{"pubsub_uuid": polaris.NewShortUUID()}),
		topics:  make(map[string]map[*subscriber]struct{}),
		closing: make(chan struct{}),
	}
}

// Publish hands the messages to every subscriber of topic in the background.
// Every subscriber gets its own copy, so acks do not propagate between them.
func (g *GoChannel) Publish(topic string, messages ...*message.Message) error {
	if g.isClosed() {
		return ErrClosed
	}

	subscribers := g.topicSubscribers(topic)

	for _, msg := range messages {
		msg = msg.Copy()
		logFields := polaris.LogFields{"message_uuid": msg.UUID, "topic": topic}

		if len(subscribers) == 0 {
			g.logger.Debug("No subscribers to send message", logFields)
			continue
		}

		delivered := g.fanOut(subscribers, msg, logFields)

		if !g.config.BlockPublishUntilSubscriberAck {
			continue
		}

		g.logger.Debug("Waiting for subscribers ack", logFields)
		select {
		case <-delivered:
			g.logger.Trace("Message acked by subscribers", logFields)
		case <-g.closing:
			g.logger.Trace("Closing Pub/Sub before ack from subscribers", logFields)
		}
	}

	return nil
}

// fanOut delivers msg to each subscriber concurrently. The returned channel is closed
// once every delivery ended.
func (g *GoChannel) fanOut(subscribers []*subscriber, msg *message.Message, logFields polaris.LogFields) <-chan struct{} {
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(len(subscribers))
	for _, s := range subscribers {
		go func(s *subscriber) {
			defer wg.Done()
			s.deliver(msg, logFields)
		}(s)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	return done
}

// Subscribe returns a channel receiving every message published to topic from now on.
// Each subscriber receives every message; there are no consumer groups.
// The channel is closed when ctx is done or the GoChannel is closed.
func (g *GoChannel) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	g.closedLock.Lock()
	if g.closed {
		g.closedLock.Unlock()
		return nil, ErrClosed
	}
	g.subscribersWg.Add(1)
	g.closedLock.Unlock()

	s := &subscriber{
		ctx:     ctx,
		output:  make(chan *message.Message, g.config.OutputChannelBuffer),
		closing: make(chan struct{}),
		logger:  g.logger.With(polaris.LogFields{"topic": topic, "subscriber_uuid": polaris.NewShortUUID()}),
	}

	g.topicsLock.Lock()
	if g.topics[topic] == nil {
		g.topics[topic] = make(map[*subscriber]struct{})
	}
	g.topics[topic][s] = struct{}{}
	g.topicsLock.Unlock()

	go func() {
		defer g.subscribersWg.Done()

		select {
		case <-ctx.Done():
		case <-g.closing:
		}

		g.topicsLock.Lock()
		delete(g.topics[topic], s)
		if len(g.topics[topic]) == 0 {
			delete(g.topics, topic)
		}
		g.topicsLock.Unlock()

		s.close()
	}()

	return s.output, nil
}

func (g *GoChannel) topicSubscribers(topic string) []*subscriber {
	g.topicsLock.RLock()
	defer g.topicsLock.RUnlock()

	subscribers := make([]*subscriber, 0, len(g.topics[topic]))
	for s := range g.topics[topic] {
		subscribers = append(subscribers, s)
	}

	return subscribers
}

func (g *GoChannel) isClosed() bool {
	g.closedLock.Lock()
	defer g.closedLock.Unlock()

	return g.closed
}

// Close closes all subscriptions and waits until their channels are closed. It is idempotent.
func (g *GoChannel) Close() error {
	g.closedLock.Lock()
	if g.closed {
		g.closedLock.Unlock()
		return nil
	}
	g.closed = true
	close(g.closing)
	g.closedLock.Unlock()

	g.logger.Debug("Closing Pub/Sub, waiting for subscribers", nil)
	g.subscribersWg.Wait()
	g.logger.Info("Pub/Sub closed", nil)

	return nil
}

type subscriber struct {
	ctx    context.Context
	output chan *message.Message

	// sending guards output, so it is never closed during a send
	sending sync.Mutex
	closed  bool
	closing chan struct{}

	logger polaris.LoggerAdapter
}

func (s *subscriber) close() {
	close(s.closing)

	s.sending.Lock()
	defer s.sending.Unlock()

	s.closed = true
	close(s.output)

	s.logger.Debug("GoChannel subscriber closed", nil)
}

// deliver sends msg until it is acked or the subscriber closes. Nacked messages are sent again.
func (s *subscriber) deliver(msg *message.Message, logFields polaris.LogFields) {
	s.sending.Lock()
	defer s.sending.Unlock()

	for {
		if s.closed {
			s.logger.Trace("Subscriber closed, message discarded", logFields)
			return
		}

		// each attempt gets a fresh copy, its context ends with the attempt
		msgCtx, cancel := context.WithCancel(s.ctx)
		attempt := msg.Copy()
		attempt.SetContext(msgCtx)

		select {
		case s.output <- attempt:
			s.logger.Trace("Sent message to subscriber", logFields)
		case <-s.closing:
			cancel()
			s.logger.Trace("Closing, message discarded", logFields)
			return
		}

		select {
		case <-attempt.Acked():
			cancel()
			s.logger.Trace("Message acked", logFields)
			return
		case <-attempt.Nacked():
			cancel()
			s.logger.Trace("Nack received, resending message", logFields)
		case <-s.closing:
			cancel()
			s.logger.Trace("Closing, message discarded", logFields)
			return
		}
	}
}
