package protocol

import (
	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris/rpc"
)

const (
	// NoCategory groups text channels without a parent category.
	NoCategory = "no category"
	// UnknownGuild is the guild name reported for guilds missing from the bot's cache.
	UnknownGuild = "Unknown Guild"
)

var (
	// GetGuilds filters the guilds of a user to those the user can manage.
	GetGuilds = rpc.NewTopic[GetGuildsRequest, GetGuildsResponse]("get_guilds")
	// GetChannels lists the text channels of a guild grouped by category.
	GetChannels = rpc.NewTopic[GetChannelsRequest, GetChannelsResponse]("get_channels")
)

type GetGuildsRequest struct {
	// Guilds the user is a member of, as reported by the identity provider.
	Guilds []int64 `json:"guilds"`
	User   int64   `json:"user"`
}

func (r GetGuildsRequest) Validate() error {
	if r.User <= 0 {
		return errors.New("user id must be positive")
	}
	if r.Guilds == nil {
		return errors.New("guilds must be a list")
	}

	return nil
}

type GetGuildsResponse struct {
	// Guilds is a subsequence of GetGuildsRequest.Guilds, without duplicates.
	Guilds []int64 `json:"guilds"`
}

func (r GetGuildsResponse) Validate() error {
	if r.Guilds == nil {
		return errors.New("guilds must be a list")
	}

	return nil
}

type GetChannelsRequest struct {
	GuildID int64 `json:"guild_id"`
}

func (r GetChannelsRequest) Validate() error {
	if r.GuildID <= 0 {
		return errors.New("guild id must be positive")
	}

	return nil
}

// ChannelsByCategory maps a category name (or NoCategory) to channel names and their ids.
type ChannelsByCategory map[string]map[string]int64

type GetChannelsResponse struct {
	Channels  ChannelsByCategory `json:"channels"`
	GuildName string             `json:"guild_name"`
}

func (r GetChannelsResponse) Validate() error {
	if r.Channels == nil {
		return errors.New("channels must be an object")
	}
	if r.GuildName == "" {
		return errors.New("guild name is empty")
	}

	return nil
}
