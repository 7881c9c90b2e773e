package bot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// Intents needed to keep guilds, channels, roles and members in the gateway cache.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

// NewGatewaySession creates a bot session tracking guilds, channels, roles and members in its state.
// The session is not opened.
func NewGatewaySession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("missing bot token")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create discord session")
	}

	session.Identify.Intents = Intents
	session.StateEnabled = true
	session.State.TrackChannels = true
	session.State.TrackRoles = true
	session.State.TrackMembers = true

	return session, nil
}

// AttachService registers the service's gateway event handlers on session.
// The returned function removes them.
func AttachService(session *discordgo.Session, s *Service) (detach func()) {
	removeReady := session.AddHandler(s.HandleReady)
	removeMemberAdd := session.AddHandler(s.HandleMemberAdd)

	return func() {
		removeReady()
		removeMemberAdd()
	}
}
