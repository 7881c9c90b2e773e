package bot

import (
	"context"

	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/dashboard/protocol"
)

// ChannelCategorizer answers get_channels.
type ChannelCategorizer struct {
	cache  Cache
	logger polaris.LoggerAdapter
}

func NewChannelCategorizer(cache Cache, logger polaris.LoggerAdapter) ChannelCategorizer {
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	return ChannelCategorizer{cache: cache, logger: logger}
}

// Channels groups the text channels of the guild by the name of their category.
// Channels without a category, or with a category missing from the cache, go to protocol.NoCategory.
// A guild missing from the cache has no channels and is named protocol.UnknownGuild.
func (c ChannelCategorizer) Channels(ctx context.Context, req protocol.GetChannelsRequest) (protocol.GetChannelsResponse, error) {
	resp := protocol.GetChannelsResponse{
		Channels:  protocol.ChannelsByCategory{},
		GuildName: protocol.UnknownGuild,
	}

	guild, err := c.cache.Guild(req.GuildID)
	if errors.Is(err, ErrCacheMiss) {
		c.logger.Debug("Guild not cached", polaris.LogFields{"guild_id": req.GuildID})
		return resp, nil
	}
	if err != nil {
		return protocol.GetChannelsResponse{}, err
	}
	if guild.Name != "" {
		resp.GuildName = guild.Name
	}

	channels, err := c.cache.TextChannels(req.GuildID)
	if errors.Is(err, ErrCacheMiss) {
		return resp, nil
	}
	if err != nil {
		return protocol.GetChannelsResponse{}, err
	}

	categoryNames := map[int64]string{}
	for _, ch := range channels {
		category := c.categoryName(ch.ParentID, categoryNames)

		group, ok := resp.Channels[category]
		if !ok {
			group = map[string]int64{}
			resp.Channels[category] = group
		}
		group[ch.Name] = ch.ID
	}

	return resp, nil
}

func (c ChannelCategorizer) categoryName(parentID int64, known map[int64]string) string {
	if parentID == 0 {
		return protocol.NoCategory
	}
	if name, ok := known[parentID]; ok {
		return name
	}

	name := protocol.NoCategory
	if parent, err := c.cache.Channel(parentID); err == nil && parent.Name != "" {
		name = parent.Name
	}
	known[parentID] = name

	return name
}
