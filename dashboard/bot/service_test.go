package bot_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/dashboard/bot"
	"github.com/polaris-dashboard/polaris/dashboard/protocol"
	"github.com/polaris-dashboard/polaris/dashboard/settings"
	"github.com/polaris-dashboard/polaris/pubsub/gochannel"
	"github.com/polaris-dashboard/polaris/rpc"
)

type serviceFixture struct {
	Service  *bot.Service
	Producer *rpc.Producer
	Store    *settings.MemoryStore
	Sender   *fakeSender
}

func newServiceFixture(t *testing.T, cache bot.Cache) serviceFixture {
	t.Helper()

	logger := polaris.NewCaptureLogger()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	store := settings.NewMemoryStore()
	sender := &fakeSender{}

	service, err := bot.NewService(
		bot.ServiceConfig{
			Consumer:             rpc.ConsumerConfig{CloseTimeout: 200 * time.Millisecond},
			MaxRequestsPerSecond: 100,
		},
		cache,
		store,
		sender,
		pubSub,
		logger,
	)
	require.NoError(t, err)

	producer, err := rpc.NewProducer(rpc.ProducerConfig{DefaultTimeout: 2 * time.Second}, pubSub, pubSub, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = service.Run(ctx)
	}()

	select {
	case <-service.Running():
	case <-time.After(time.Second):
		t.Fatal("service not running")
	}

	require.NoError(t, producer.Start(ctx))

	t.Cleanup(func() {
		assert.NoError(t, producer.Close())
		assert.NoError(t, service.Close())
		cancel()
		assert.NoError(t, pubSub.Close())
	})

	return serviceFixture{Service: service, Producer: producer, Store: store, Sender: sender}
}

func TestService_get_guilds(t *testing.T) {
	f := newServiceFixture(t, newWorkedExampleCache())

	resp, err := rpc.Call(context.Background(), f.Producer, protocol.GetGuilds, protocol.GetGuildsRequest{
		Guilds: []int64{1, 2, 3, 4},
		User:   user,
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3}, resp.Guilds)
}

func TestService_get_channels(t *testing.T) {
	f := newServiceFixture(t, newChannelsCache([]bot.Channel{
		{ID: 10, Name: "general"},
		{ID: 11, Name: "rules", ParentID: 5},
	}))

	resp, err := rpc.Call(context.Background(), f.Producer, protocol.GetChannels, protocol.GetChannelsRequest{GuildID: 1})
	require.NoError(t, err)

	assert.Equal(t, "Polaris", resp.GuildName)
	assert.Equal(t, protocol.ChannelsByCategory{
		protocol.NoCategory: {"general": 10},
		"INFO":              {"rules": 11},
	}, resp.Channels)

	unknown, err := rpc.Call(context.Background(), f.Producer, protocol.GetChannels, protocol.GetChannelsRequest{GuildID: 2})
	require.NoError(t, err)
	assert.Equal(t, protocol.UnknownGuild, unknown.GuildName)
}

func TestService_invalid_request_is_remote_error(t *testing.T) {
	f := newServiceFixture(t, newWorkedExampleCache())

	env, err := rpc.NewEnvelope(rpc.KindCreate, protocol.GetGuilds.Name, map[string]any{"user": 1})
	require.NoError(t, err)

	_, err = f.Producer.Send(context.Background(), env, rpc.SendOptions{WaitForResponse: true})

	var remoteErr *rpc.RemoteError
	assert.ErrorAs(t, err, &remoteErr)
}

func TestService_HandleMemberAdd(t *testing.T) {
	cache := newFakeCache()
	cache.addGuild(1, "Polaris")
	cache.addMember(1, user, 0)

	f := newServiceFixture(t, cache)
	require.NoError(t, f.Store.Upsert(context.Background(), enabledSettings()))

	f.Service.HandleMemberAdd(nil, &discordgo.GuildMemberAdd{Member: &discordgo.Member{
		GuildID: "1",
		User:    &discordgo.User{ID: "100"},
	}})

	waitFor(t, func() bool { return len(f.Sender.Sent()) == 1 })
	assert.Equal(t, "10", f.Sender.Sent()[0].ChannelID)
}

func TestService_invalid_requests_do_not_block_other_topics(t *testing.T) {
	f := newServiceFixture(t, newWorkedExampleCache())

	for i := 0; i < 10; i++ {
		env, err := rpc.NewEnvelope(rpc.KindCreate, protocol.GetChannels.Name, map[string]any{"guild_id": 0})
		require.NoError(t, err)

		_, err = f.Producer.Send(context.Background(), env, rpc.SendOptions{WaitForResponse: true})
		var remoteErr *rpc.RemoteError
		require.ErrorAs(t, err, &remoteErr)
		assert.Contains(t, remoteErr.Message, "invalid get_channels request")
	}

	guilds, err := rpc.Call(context.Background(), f.Producer, protocol.GetGuilds, protocol.GetGuildsRequest{
		Guilds: []int64{1, 2, 3, 4},
		User:   user,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, guilds.Guilds)

	channels, err := rpc.Call(context.Background(), f.Producer, protocol.GetChannels, protocol.GetChannelsRequest{GuildID: 1})
	require.NoError(t, err)
	assert.Equal(t, "one", channels.GuildName)
}
