package rpc_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/pubsub/gochannel"
	"github.com/polaris-dashboard/polaris/rpc"
)

type bridge struct {
	PubSub   *gochannel.GoChannel
	Consumer *rpc.Consumer
	Producer *rpc.Producer
	Logger   *polaris.CaptureLoggerAdapter
}

type bridgeConfig struct {
	Timeout  time.Duration
	Register func(t *testing.T, c *rpc.Consumer)
}

func newBridge(t *testing.T, config bridgeConfig) bridge {
	t.Helper()

	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}

	logger := polaris.NewCaptureLogger()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)

	consumer, err := rpc.NewConsumer(
		rpc.ConsumerConfig{CloseTimeout: 200 * time.Millisecond},
		pubSub,
		pubSub,
		logger,
	)
	require.NoError(t, err)

	if config.Register != nil {
		config.Register(t, consumer)
	}

	producer, err := rpc.NewProducer(
		rpc.ProducerConfig{DefaultTimeout: config.Timeout},
		pubSub,
		pubSub,
		logger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() {
		runErr <- consumer.Run(ctx)
	}()

	select {
	case <-consumer.Running():
	case err := <-runErr:
		t.Fatalf("consumer stopped before running: %v", err)
	case <-time.After(time.Second):
		t.Fatal("consumer not running")
	}

	require.NoError(t, producer.Start(ctx))

	t.Cleanup(func() {
		assert.NoError(t, producer.Close())
		assert.NoError(t, consumer.Close())
		cancel()
		assert.NoError(t, pubSub.Close())
	})

	return bridge{
		PubSub:   pubSub,
		Consumer: consumer,
		Producer: producer,
		Logger:   logger,
	}
}

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Text string `json:"text"`
}

var echoTopic = rpc.NewTopic[echoRequest, echoResponse]("echo")

func registerEcho(t *testing.T, c *rpc.Consumer) {
	err := rpc.Handle(c, echoTopic, func(ctx context.Context, req echoRequest) (echoResponse, error) {
		return echoResponse{Text: req.Text}, nil
	})
	require.NoError(t, err)
}

func TestBridge_response(t *testing.T) {
	b := newBridge(t, bridgeConfig{Register: registerEcho})

	resp, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 0, b.Producer.Pending())
}

func TestBridge_remote_error(t *testing.T) {
	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			err := rpc.Handle(c, echoTopic, func(ctx context.Context, req echoRequest) (echoResponse, error) {
				return echoResponse{}, errors.New("guild not cached")
			})
			require.NoError(t, err)
		},
	})

	_, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "hello"})
	require.Error(t, err)

	var remoteErr *rpc.RemoteError
	require.True(t, errors.As(err, &remoteErr), "expected RemoteError, got %T", err)
	assert.Equal(t, "guild not cached", remoteErr.Message)
	assert.Equal(t, "echo", remoteErr.Topic)
	assert.Equal(t, 0, b.Producer.Pending())
}

func TestBridge_handler_panic(t *testing.T) {
	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			err := rpc.Handle(c, echoTopic, func(ctx context.Context, req echoRequest) (echoResponse, error) {
				panic("boom")
			})
			require.NoError(t, err)
		},
	})

	_, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "hello"})

	var remoteErr *rpc.RemoteError
	require.True(t, errors.As(err, &remoteErr), "expected RemoteError, got %T", err)
	assert.Contains(t, remoteErr.Message, "boom")

	// consumer survives the panic
	err = b.Consumer.Close()
	assert.NoError(t, err)
}

func TestBridge_timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	b := newBridge(t, bridgeConfig{
		Timeout: 100 * time.Millisecond,
		Register: func(t *testing.T, c *rpc.Consumer) {
			err := c.Register(echoTopic.Name, rpc.KindCreate, func(req *rpc.Request) error {
				<-release
				return nil
			})
			require.NoError(t, err)
		},
	})

	start := time.Now()
	_, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "hello"})
	require.Error(t, err)

	assert.True(t, errors.Is(err, rpc.ErrTimeout))

	var timeoutErr *rpc.ReplyTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, "echo", timeoutErr.Topic)
	assert.NotEmpty(t, timeoutErr.CorrelationID)

	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, b.Producer.Pending())
}

func TestBridge_late_reply_is_ignored(t *testing.T) {
	var calls int
	var callsLock sync.Mutex

	b := newBridge(t, bridgeConfig{
		Timeout: 100 * time.Millisecond,
		Register: func(t *testing.T, c *rpc.Consumer) {
			err := rpc.Handle(c, echoTopic, func(ctx context.Context, req echoRequest) (echoResponse, error) {
				callsLock.Lock()
				calls++
				first := calls == 1
				callsLock.Unlock()

				if first {
					time.Sleep(300 * time.Millisecond)
				}
				return echoResponse{Text: req.Text}, nil
			})
			require.NoError(t, err)
		},
	})

	_, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "slow"})
	require.True(t, errors.Is(err, rpc.ErrTimeout))

	assert.Eventually(t, func() bool {
		return b.Logger.Has(polaris.DebugLogLevel, "No pending request for reply, ignoring")
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, b.Producer.Pending())

	resp, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Text)
}

type guildsRequest struct {
	User int64 `json:"user"`
}

type guildsResponse struct {
	Guilds []int64 `json:"guilds"`
}

type channelsRequest struct {
	GuildID int64 `json:"guild_id"`
}

type channelsResponse struct {
	GuildName string `json:"guild_name"`
}

func TestBridge_no_cross_talk(t *testing.T) {
	guildsTopic := rpc.NewTopic[guildsRequest, guildsResponse]("get_guilds")
	channelsTopic := rpc.NewTopic[channelsRequest, channelsResponse]("get_channels")

	channelsReplied := make(chan struct{})

	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			require.NoError(t, rpc.Handle(c, guildsTopic, func(ctx context.Context, req guildsRequest) (guildsResponse, error) {
				<-channelsReplied
				return guildsResponse{Guilds: []int64{req.User}}, nil
			}))
			require.NoError(t, rpc.Handle(c, channelsTopic, func(ctx context.Context, req channelsRequest) (channelsResponse, error) {
				return channelsResponse{GuildName: fmt.Sprintf("guild %d", req.GuildID)}, nil
			}))
		},
	})

	wg := sync.WaitGroup{}
	wg.Add(2)

	var guilds guildsResponse
	var guildsErr error
	go func() {
		defer wg.Done()
		guilds, guildsErr = rpc.Call(context.Background(), b.Producer, guildsTopic, guildsRequest{User: 42})
	}()

	var channels channelsResponse
	var channelsErr error
	go func() {
		defer wg.Done()
		defer close(channelsReplied)
		channels, channelsErr = rpc.Call(context.Background(), b.Producer, channelsTopic, channelsRequest{GuildID: 7})
	}()

	wg.Wait()

	require.NoError(t, guildsErr)
	require.NoError(t, channelsErr)

	assert.Equal(t, []int64{42}, guilds.Guilds)
	assert.Equal(t, "guild 7", channels.GuildName)
}

func TestBridge_correlation_ids_are_unique(t *testing.T) {
	seen := map[string]struct{}{}
	seenLock := sync.Mutex{}

	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			err := c.Register(echoTopic.Name, rpc.KindCreate, func(req *rpc.Request) error {
				seenLock.Lock()
				seen[req.CorrelationID()] = struct{}{}
				seenLock.Unlock()

				var payload echoRequest
				if err := req.Decode(&payload); err != nil {
					return err
				}
				return req.Respond(echoResponse{Text: payload.Text})
			})
			require.NoError(t, err)
		},
	})

	const calls = 50

	wg := sync.WaitGroup{}
	wg.Add(calls)
	for i := 0; i < calls; i++ {
		i := i
		go func() {
			defer wg.Done()

			text := fmt.Sprintf("msg %d", i)
			resp, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: text})
			if assert.NoError(t, err) {
				assert.Equal(t, text, resp.Text)
			}
		}()
	}
	wg.Wait()

	seenLock.Lock()
	defer seenLock.Unlock()
	assert.Len(t, seen, calls)
}

func TestBridge_close_cancels_waiting_requests(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			err := c.Register(echoTopic.Name, rpc.KindCreate, func(req *rpc.Request) error {
				<-release
				return nil
			})
			require.NoError(t, err)
		},
	})

	callErr := make(chan error, 1)
	go func() {
		_, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "hello"})
		callErr <- err
	}()

	require.Eventually(t, func() bool {
		return b.Producer.Pending() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Producer.Close())

	select {
	case err := <-callErr:
		assert.ErrorIs(t, err, rpc.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("waiting call was not cancelled")
	}

	assert.Equal(t, 0, b.Producer.Pending())

	_, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "hello"})
	assert.ErrorIs(t, err, rpc.ErrProducerClosed)
}

func TestBridge_context_canceled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			err := c.Register(echoTopic.Name, rpc.KindCreate, func(req *rpc.Request) error {
				<-release
				return nil
			})
			require.NoError(t, err)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := rpc.Call(ctx, b.Producer, echoTopic, echoRequest{Text: "hello"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, rpc.ErrTimeout))
	assert.Equal(t, 0, b.Producer.Pending())
}

func TestBridge_unknown_topic_is_dropped(t *testing.T) {
	b := newBridge(t, bridgeConfig{Timeout: 100 * time.Millisecond, Register: registerEcho})

	unknown := rpc.NewTopic[echoRequest, echoResponse]("unknown")

	_, err := rpc.Call(context.Background(), b.Producer, unknown, echoRequest{Text: "hello"})
	assert.ErrorIs(t, err, rpc.ErrTimeout)

	assert.Eventually(t, func() bool {
		return b.Logger.Has(polaris.DebugLogLevel, "No handler registered, dropping envelope")
	}, time.Second, 5*time.Millisecond)

	resp, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "still alive"})
	require.NoError(t, err)
	assert.Equal(t, "still alive", resp.Text)
}

func TestBridge_slow_handler_does_not_block_others(t *testing.T) {
	slowTopic := rpc.NewTopic[echoRequest, echoResponse]("slow")
	release := make(chan struct{})
	defer close(release)

	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			registerEcho(t, c)
			require.NoError(t, c.Register(slowTopic.Name, rpc.KindCreate, func(req *rpc.Request) error {
				<-release
				return nil
			}))
		},
	})

	env, err := slowTopic.Request(echoRequest{Text: "slow"})
	require.NoError(t, err)
	_, err = b.Producer.Send(context.Background(), env, rpc.SendOptions{})
	require.NoError(t, err)

	resp, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Text)
}

func TestBridge_send_without_waiting(t *testing.T) {
	received := make(chan string, 1)

	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			require.NoError(t, c.Register(echoTopic.Name, rpc.KindCreate, func(req *rpc.Request) error {
				var payload echoRequest
				if err := req.Decode(&payload); err != nil {
					return err
				}
				received <- payload.Text
				return nil
			}))
		},
	})

	env, err := echoTopic.Request(echoRequest{Text: "fire and forget"})
	require.NoError(t, err)

	reply, err := b.Producer.Send(context.Background(), env, rpc.SendOptions{})
	require.NoError(t, err)
	assert.Nil(t, reply)

	select {
	case text := <-received:
		assert.Equal(t, "fire and forget", text)
	case <-time.After(time.Second):
		t.Fatal("request not received")
	}
	assert.Equal(t, 0, b.Producer.Pending())
}

func TestBridge_respond_twice(t *testing.T) {
	secondRespond := make(chan error, 1)

	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			require.NoError(t, c.Register(echoTopic.Name, rpc.KindCreate, func(req *rpc.Request) error {
				if err := req.Respond(echoResponse{Text: "first"}); err != nil {
					return err
				}
				secondRespond <- req.Respond(echoResponse{Text: "second"})
				return nil
			}))
		},
	})

	resp, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)

	assert.ErrorIs(t, <-secondRespond, rpc.ErrAlreadyResponded)
}

func TestBridge_error_after_response_is_not_replied(t *testing.T) {
	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			require.NoError(t, c.Register(echoTopic.Name, rpc.KindCreate, func(req *rpc.Request) error {
				if err := req.Respond(echoResponse{Text: "ok"}); err != nil {
					return err
				}
				return errors.New("cleanup failed")
			}))
		},
	})

	resp, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	assert.Eventually(t, func() bool {
		return b.Logger.Has(polaris.ErrorLogLevel, "Handler failed after reply was sent")
	}, time.Second, 5*time.Millisecond)
}

func TestBridge_middleware_order(t *testing.T) {
	var order []string
	orderLock := sync.Mutex{}

	record := func(name string) rpc.HandlerMiddleware {
		return func(h rpc.HandlerFunc) rpc.HandlerFunc {
			return func(req *rpc.Request) error {
				orderLock.Lock()
				order = append(order, name)
				orderLock.Unlock()
				return h(req)
			}
		}
	}

	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			registerEcho(t, c)
			c.AddMiddleware(record("first"), record("second"))
		},
	})

	_, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "hello"})
	require.NoError(t, err)

	orderLock.Lock()
	defer orderLock.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBridge_failed_handler_does_not_stop_consumer(t *testing.T) {
	failingTopic := rpc.NewTopic[echoRequest, echoResponse]("failing")

	b := newBridge(t, bridgeConfig{
		Register: func(t *testing.T, c *rpc.Consumer) {
			registerEcho(t, c)
			err := rpc.Handle(c, failingTopic, func(ctx context.Context, req echoRequest) (echoResponse, error) {
				return echoResponse{}, errors.New("handler failed")
			})
			require.NoError(t, err)
		},
	})

	_, err := rpc.Call(context.Background(), b.Producer, failingTopic, echoRequest{Text: "first"})
	var remoteErr *rpc.RemoteError
	require.True(t, errors.As(err, &remoteErr), "expected RemoteError, got %T", err)

	resp, err := rpc.Call(context.Background(), b.Producer, echoTopic, echoRequest{Text: "second"})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Text)
}
