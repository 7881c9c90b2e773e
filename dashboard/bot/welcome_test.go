package bot_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-dashboard/polaris/dashboard/bot"
	"github.com/polaris-dashboard/polaris/dashboard/settings"
)

func enabledSettings() settings.WelcomeSettings {
	return settings.WelcomeSettings{
		GuildID:        1,
		ChannelID:      10,
		MessageEnabled: true,
		Message:        "Welcome to {server}, {user_mention}! You are member #{member_count}.",
		EmbedEnabled:   true,
		Title:          "Hi {server}",
		Description:    "{user_mention}",
		Colour:         0xFF0000,
		Thumbnail:      "https://example.com/thumb.png",
	}
}

func TestWelcomeSender_MemberJoined(t *testing.T) {
	cache := newFakeCache()
	cache.addGuild(1, "Polaris")
	cache.addMember(1, user, 0)

	store := settings.NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), enabledSettings()))

	sender := &fakeSender{}
	welcome := bot.NewWelcomeSender(cache, store, sender, nil)

	require.NoError(t, welcome.MemberJoined(context.Background(), 1, user))

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "10", sent[0].ChannelID)

	msg := sent[0].Message
	assert.Equal(t, "Welcome to Polaris, <@100>! You are member #10.", msg.Content)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "Hi Polaris", msg.Embeds[0].Title)
	assert.Equal(t, "<@100>", msg.Embeds[0].Description)
	assert.Equal(t, 0xFF0000, msg.Embeds[0].Color)
	require.NotNil(t, msg.Embeds[0].Thumbnail)
	assert.Equal(t, "https://example.com/thumb.png", msg.Embeds[0].Thumbnail.URL)
	assert.Nil(t, msg.Embeds[0].Image)
	assert.Equal(t, []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}, msg.AllowedMentions.Parse)
}

func TestWelcomeSender_not_sent(t *testing.T) {
	disabled := enabledSettings()
	disabled.MessageEnabled = false
	disabled.EmbedEnabled = false

	testCases := []struct {
		Name     string
		Guild    bool
		Settings *settings.WelcomeSettings
	}{
		{Name: "guild_not_cached", Guild: false, Settings: nil},
		{Name: "no_settings", Guild: true, Settings: nil},
		{Name: "disabled", Guild: true, Settings: &disabled},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			cache := newFakeCache()
			if tc.Guild {
				cache.addGuild(1, "Polaris")
			}

			store := settings.NewMemoryStore()
			if tc.Settings != nil {
				require.NoError(t, store.Upsert(context.Background(), *tc.Settings))
			}

			sender := &fakeSender{}
			require.NoError(t, bot.NewWelcomeSender(cache, store, sender, nil).MemberJoined(context.Background(), 1, user))

			assert.Empty(t, sender.Sent())
		})
	}
}

func TestWelcomeSender_mention_fallback(t *testing.T) {
	cache := newFakeCache()
	cache.addGuild(1, "Polaris")

	store := settings.NewMemoryStore()
	s := enabledSettings()
	s.EmbedEnabled = false
	s.Message = "{user_mention}"
	require.NoError(t, store.Upsert(context.Background(), s))

	sender := &fakeSender{}
	require.NoError(t, bot.NewWelcomeSender(cache, store, sender, nil).MemberJoined(context.Background(), 1, 555))

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "<@555>", sent[0].Message.Content)
	assert.Empty(t, sent[0].Message.Embeds)
}
