package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/dashboard/settings"
)

// MessageSender posts messages to a channel, implemented by *discordgo.Session.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// WelcomeSender posts the configured welcome message when a member joins a guild.
type WelcomeSender struct {
	cache  Cache
	store  settings.Store
	sender MessageSender
	logger polaris.LoggerAdapter
}

func NewWelcomeSender(cache Cache, store settings.Store, sender MessageSender, logger polaris.LoggerAdapter) *WelcomeSender {
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	return &WelcomeSender{
		cache:  cache,
		store:  store,
		sender: sender,
		logger: logger,
	}
}

// MemberJoined sends the welcome message of the guild.
// Nothing is sent when the guild is not cached, has no settings, or has the message disabled.
func (w *WelcomeSender) MemberJoined(ctx context.Context, guildID, userID int64) error {
	logFields := polaris.LogFields{"guild_id": guildID, "user_id": userID}

	guild, err := w.cache.Guild(guildID)
	if errors.Is(err, ErrCacheMiss) {
		w.logger.Debug("Member joined a guild that is not cached", logFields)
		return nil
	}
	if err != nil {
		return err
	}

	s, err := w.store.Get(ctx, guildID)
	if errors.Is(err, settings.ErrNotFound) {
		w.logger.Trace("Guild has no welcome settings", logFields)
		return nil
	}
	if err != nil {
		return err
	}
	if !s.MessageEnabled || s.ChannelID == 0 {
		return nil
	}

	mention := "<@" + formatSnowflake(userID) + ">"
	if member, err := w.cache.Member(guildID, userID); err == nil {
		mention = member.Mention
	}

	msg := NewWelcomeMessage(s, settings.Placeholders{
		Server:      guild.Name,
		UserMention: mention,
		MemberCount: guild.MemberCount,
	})

	if _, err := w.sender.ChannelMessageSendComplex(formatSnowflake(s.ChannelID), msg, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "cannot send welcome message to channel %d", s.ChannelID)
	}

	w.logger.Debug("Welcome message sent", logFields.Add(polaris.LogFields{"channel_id": s.ChannelID}))
	return nil
}

// NewWelcomeMessage renders the settings into a message. Only user mentions are allowed to ping.
func NewWelcomeMessage(s settings.WelcomeSettings, p settings.Placeholders) *discordgo.MessageSend {
	msg := &discordgo.MessageSend{
		Content: p.Render(s.Message),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}

	if !s.EmbedEnabled {
		return msg
	}

	embed := &discordgo.MessageEmbed{
		Title:       p.Render(s.Title),
		Description: p.Render(s.Description),
		Color:       int(s.Colour),
	}
	if s.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: s.Thumbnail}
	}
	if s.Image != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: s.Image}
	}
	msg.Embeds = []*discordgo.MessageEmbed{embed}

	return msg
}
