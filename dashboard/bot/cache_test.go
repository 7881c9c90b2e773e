package bot_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-dashboard/polaris/dashboard/bot"
	"github.com/polaris-dashboard/polaris/dashboard/protocol"
)

func newState(t *testing.T) *discordgo.State {
	t.Helper()

	state := discordgo.NewState()
	err := state.GuildAdd(&discordgo.Guild{
		ID:      "1",
		Name:    "Polaris",
		OwnerID: "200",
		Roles: []*discordgo.Role{
			{ID: "1", Name: "@everyone", Permissions: discordgo.PermissionSendMessages},
			{ID: "50", Name: "moderator", Permissions: discordgo.PermissionManageGuild},
			{ID: "51", Name: "admin", Permissions: discordgo.PermissionAdministrator},
		},
		Channels: []*discordgo.Channel{
			{ID: "5", GuildID: "1", Name: "INFO", Type: discordgo.ChannelTypeGuildCategory},
			{ID: "10", GuildID: "1", Name: "general", Type: discordgo.ChannelTypeGuildText},
			{ID: "11", GuildID: "1", Name: "rules", Type: discordgo.ChannelTypeGuildText, ParentID: "5"},
			{ID: "13", GuildID: "1", Name: "voice", Type: discordgo.ChannelTypeGuildVoice},
		},
		Members: []*discordgo.Member{
			{GuildID: "1", User: &discordgo.User{ID: "100"}},
			{GuildID: "1", User: &discordgo.User{ID: "101"}, Roles: []string{"50"}},
			{GuildID: "1", User: &discordgo.User{ID: "102"}, Roles: []string{"51"}},
			{GuildID: "1", User: &discordgo.User{ID: "200"}},
		},
	})
	require.NoError(t, err)

	return state
}

func TestStateCache_Guild(t *testing.T) {
	cache := bot.NewStateCache(newState(t))

	g, err := cache.Guild(1)
	require.NoError(t, err)
	assert.Equal(t, bot.Guild{ID: 1, Name: "Polaris", MemberCount: 4}, g)

	_, err = cache.Guild(2)
	assert.ErrorIs(t, err, bot.ErrCacheMiss)
}

func TestStateCache_Member(t *testing.T) {
	cache := bot.NewStateCache(newState(t))

	m, err := cache.Member(1, 100)
	require.NoError(t, err)
	assert.Equal(t, "<@100>", m.Mention)

	_, err = cache.Member(1, 300)
	assert.ErrorIs(t, err, bot.ErrCacheMiss)
}

func TestStateCache_MemberPermissions(t *testing.T) {
	cache := bot.NewStateCache(newState(t))

	testCases := []struct {
		Name        string
		UserID      int64
		CanManage   bool
		Permissions int64
	}{
		{Name: "everyone", UserID: 100, CanManage: false, Permissions: discordgo.PermissionSendMessages},
		{Name: "role", UserID: 101, CanManage: true, Permissions: discordgo.PermissionSendMessages | discordgo.PermissionManageGuild},
		{Name: "administrator", UserID: 102, CanManage: true, Permissions: discordgo.PermissionAll},
		{Name: "owner", UserID: 200, CanManage: true, Permissions: discordgo.PermissionAll},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			perms, err := cache.MemberPermissions(1, tc.UserID)
			require.NoError(t, err)

			assert.Equal(t, tc.Permissions, perms)
			assert.Equal(t, tc.CanManage, perms&discordgo.PermissionManageGuild != 0)
		})
	}

	_, err := cache.MemberPermissions(1, 300)
	assert.ErrorIs(t, err, bot.ErrCacheMiss)
}

func TestStateCache_TextChannels(t *testing.T) {
	cache := bot.NewStateCache(newState(t))

	channels, err := cache.TextChannels(1)
	require.NoError(t, err)
	assert.Equal(t, []bot.Channel{
		{ID: 10, Name: "general"},
		{ID: 11, Name: "rules", ParentID: 5},
	}, channels)

	category, err := cache.Channel(5)
	require.NoError(t, err)
	assert.Equal(t, "INFO", category.Name)

	_, err = cache.Channel(99)
	assert.ErrorIs(t, err, bot.ErrCacheMiss)
}

func TestStateCache_resolves_categorized_channels(t *testing.T) {
	categorizer := bot.NewChannelCategorizer(bot.NewStateCache(newState(t)), nil)

	resp, err := categorizer.Channels(context.Background(), protocol.GetChannelsRequest{GuildID: 1})
	require.NoError(t, err)

	assert.Equal(t, "Polaris", resp.GuildName)
	assert.Equal(t, int64(10), resp.Channels[protocol.NoCategory]["general"])
	assert.Equal(t, int64(11), resp.Channels["INFO"]["rules"])
}
