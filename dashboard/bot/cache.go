package bot

import (
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// ErrCacheMiss is returned when a guild, member or channel is not in the live cache.
// It never crosses the RPC boundary: handlers exclude the entry or use a sentinel instead.
var ErrCacheMiss = errors.New("not in cache")

type Guild struct {
	ID          int64
	Name        string
	MemberCount int
}

type Member struct {
	GuildID int64
	UserID  int64
	Mention string
}

type Channel struct {
	ID   int64
	Name string
	// ParentID is the category of the channel, 0 when it has none.
	ParentID int64
}

// Cache is the read-only view of the gateway cache the handlers need.
type Cache interface {
	Guild(guildID int64) (Guild, error)
	Member(guildID, userID int64) (Member, error)
	// MemberPermissions returns the guild-level permission bitset of the member.
	MemberPermissions(guildID, userID int64) (int64, error)
	// TextChannels returns the text channels of the guild in cache order.
	TextChannels(guildID int64) ([]Channel, error)
	Channel(channelID int64) (Channel, error)
}

// StateCache implements Cache with the discordgo gateway state.
type StateCache struct {
	state *discordgo.State
}

var _ Cache = (*StateCache)(nil)

func NewStateCache(state *discordgo.State) *StateCache {
	return &StateCache{state: state}
}

func (c *StateCache) guild(guildID int64) (*discordgo.Guild, error) {
	g, err := c.state.Guild(formatSnowflake(guildID))
	if err != nil {
		return nil, errors.Wrapf(ErrCacheMiss, "guild %d", guildID)
	}

	return g, nil
}

func (c *StateCache) Guild(guildID int64) (Guild, error) {
	g, err := c.guild(guildID)
	if err != nil {
		return Guild{}, err
	}

	c.state.RLock()
	defer c.state.RUnlock()

	memberCount := g.MemberCount
	if memberCount == 0 {
		memberCount = len(g.Members)
	}

	return Guild{ID: guildID, Name: g.Name, MemberCount: memberCount}, nil
}

func (c *StateCache) member(guildID, userID int64) (*discordgo.Member, error) {
	m, err := c.state.Member(formatSnowflake(guildID), formatSnowflake(userID))
	if err != nil || m.User == nil {
		return nil, errors.Wrapf(ErrCacheMiss, "member %d of guild %d", userID, guildID)
	}

	return m, nil
}

func (c *StateCache) Member(guildID, userID int64) (Member, error) {
	m, err := c.member(guildID, userID)
	if err != nil {
		return Member{}, err
	}

	return Member{GuildID: guildID, UserID: userID, Mention: m.User.Mention()}, nil
}

func (c *StateCache) MemberPermissions(guildID, userID int64) (int64, error) {
	g, err := c.guild(guildID)
	if err != nil {
		return 0, err
	}
	m, err := c.member(guildID, userID)
	if err != nil {
		return 0, err
	}

	c.state.RLock()
	defer c.state.RUnlock()

	return guildPermissions(g.ID, g.OwnerID, g.Roles, m.User.ID, m.Roles), nil
}

func (c *StateCache) TextChannels(guildID int64) ([]Channel, error) {
	g, err := c.guild(guildID)
	if err != nil {
		return nil, err
	}

	c.state.RLock()
	defer c.state.RUnlock()

	channels := make([]Channel, 0, len(g.Channels))
	for _, ch := range g.Channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		channels = append(channels, newChannel(ch))
	}

	return channels, nil
}

func (c *StateCache) Channel(channelID int64) (Channel, error) {
	ch, err := c.state.Channel(formatSnowflake(channelID))
	if err != nil {
		return Channel{}, errors.Wrapf(ErrCacheMiss, "channel %d", channelID)
	}

	c.state.RLock()
	defer c.state.RUnlock()

	return newChannel(ch), nil
}

func newChannel(ch *discordgo.Channel) Channel {
	return Channel{
		ID:       parseSnowflake(ch.ID),
		Name:     ch.Name,
		ParentID: parseSnowflake(ch.ParentID),
	}
}

func formatSnowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}

// parseSnowflake returns 0 for empty or invalid ids.
func parseSnowflake(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
