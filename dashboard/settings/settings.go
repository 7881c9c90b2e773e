// Package settings stores the welcome message configuration of every guild.
package settings

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Store.Get when the guild has no settings yet.
var ErrNotFound = errors.New("welcome settings not found")

const (
	maxMessageLength     = 2000
	maxTitleLength       = 256
	maxDescriptionLength = 4096
)

// Colour is an RGB colour packed into an int, 0xRRGGBB.
type Colour int

// DefaultColour is used for guilds that never configured a colour.
const DefaultColour Colour = 0x5865F2

// ParseColour parses "#rrggbb" (the hash is optional).
func ParseColour(s string) (Colour, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return 0, errors.Errorf("invalid colour %q, expected #rrggbb", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, errors.Errorf("invalid colour %q, expected #rrggbb", s)
	}

	return Colour(v), nil
}

// Hex formats the colour as "#rrggbb".
func (c Colour) Hex() string {
	return fmt.Sprintf("#%06x", int(c)&0xFFFFFF)
}

func (c Colour) Valid() bool {
	return c >= 0 && c <= 0xFFFFFF
}

// WelcomeSettings configures the message posted when a member joins a guild.
type WelcomeSettings struct {
	GuildID   int64 `db:"guild_id"`
	ChannelID int64 `db:"channel_id"`

	MessageEnabled bool   `db:"message_enabled"`
	Message        string `db:"message"`

	EmbedEnabled bool   `db:"embed_enabled"`
	Title        string `db:"title"`
	Description  string `db:"description"`
	Colour       Colour `db:"colour"`
	Thumbnail    string `db:"thumbnail"`
	Image        string `db:"image"`
}

// Default returns disabled settings for guildID.
func Default(guildID int64) WelcomeSettings {
	return WelcomeSettings{
		GuildID: guildID,
		Message: "Welcome to {server}, {user_mention}!",
		Title:   "Welcome!",
		Colour:  DefaultColour,
	}
}

func (s WelcomeSettings) Validate() error {
	var err error

	if s.GuildID <= 0 {
		err = multierror.Append(err, errors.New("guild id must be positive"))
	}
	if (s.MessageEnabled || s.EmbedEnabled) && s.ChannelID <= 0 {
		err = multierror.Append(err, errors.New("a channel is required when the welcome message is enabled"))
	}
	if utf8.RuneCountInString(s.Message) > maxMessageLength {
		err = multierror.Append(err, errors.Errorf("message is longer than %d characters", maxMessageLength))
	}
	if utf8.RuneCountInString(s.Title) > maxTitleLength {
		err = multierror.Append(err, errors.Errorf("title is longer than %d characters", maxTitleLength))
	}
	if utf8.RuneCountInString(s.Description) > maxDescriptionLength {
		err = multierror.Append(err, errors.Errorf("description is longer than %d characters", maxDescriptionLength))
	}
	if !s.Colour.Valid() {
		err = multierror.Append(err, errors.Errorf("colour %d is out of range", s.Colour))
	}
	for _, field := range []struct{ name, value string }{
		{"thumbnail", s.Thumbnail},
		{"image", s.Image},
	} {
		if field.value == "" {
			continue
		}
		if u, parseErr := url.Parse(field.value); parseErr != nil || (u.Scheme != "http" && u.Scheme != "https") {
			err = multierror.Append(err, errors.Errorf("%s must be an http(s) url", field.name))
		}
	}

	return err
}
