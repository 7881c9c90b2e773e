package web

import (
	"context"

	"github.com/polaris-dashboard/polaris/dashboard/protocol"
	"github.com/polaris-dashboard/polaris/rpc"
)

// Bridge asks the bot process what the web process cannot know by itself.
type Bridge interface {
	// ManageableGuilds filters guildIDs down to those userID can manage, order preserved.
	ManageableGuilds(ctx context.Context, userID int64, guildIDs []int64) ([]int64, error)
	Channels(ctx context.Context, guildID int64) (protocol.GetChannelsResponse, error)
}

// RPCBridge implements Bridge with the rpc producer.
type RPCBridge struct {
	producer *rpc.Producer
}

func NewRPCBridge(producer *rpc.Producer) RPCBridge {
	return RPCBridge{producer: producer}
}

func (b RPCBridge) ManageableGuilds(ctx context.Context, userID int64, guildIDs []int64) ([]int64, error) {
	if guildIDs == nil {
		guildIDs = []int64{}
	}

	resp, err := rpc.Call(ctx, b.producer, protocol.GetGuilds, protocol.GetGuildsRequest{
		Guilds: guildIDs,
		User:   userID,
	})
	if err != nil {
		return nil, err
	}

	return resp.Guilds, nil
}

func (b RPCBridge) Channels(ctx context.Context, guildID int64) (protocol.GetChannelsResponse, error) {
	return rpc.Call(ctx, b.producer, protocol.GetChannels, protocol.GetChannelsRequest{GuildID: guildID})
}
