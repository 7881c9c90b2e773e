package settings_test

import (
	"context"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-dashboard/polaris/dashboard/settings"
)

func TestParseColour(t *testing.T) {
	c, err := settings.ParseColour("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, settings.Colour(0xff8000), c)
	assert.Equal(t, "#ff8000", c.Hex())

	c, err = settings.ParseColour("00FF00")
	require.NoError(t, err)
	assert.Equal(t, "#00ff00", c.Hex())

	for _, invalid := range []string{"", "#fff", "#gg0000", "#12345678", "red"} {
		_, err := settings.ParseColour(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestPlaceholders_Render(t *testing.T) {
	p := settings.Placeholders{
		Server:      "Polaris",
		UserMention: "<@42>",
		MemberCount: 17,
	}

	assert.Equal(
		t,
		"Welcome to Polaris, <@42>! You are member #17. {unknown}",
		p.Render("Welcome to {server}, {user_mention}! You are member #{member_count}. {unknown}"),
	)
}

func TestWelcomeSettings_Validate(t *testing.T) {
	valid := settings.Default(1)
	assert.NoError(t, valid.Validate())

	enabledWithoutChannel := settings.Default(1)
	enabledWithoutChannel.MessageEnabled = true
	assert.Error(t, enabledWithoutChannel.Validate())

	invalidImage := settings.Default(1)
	invalidImage.Image = "javascript:alert(1)"
	assert.Error(t, invalidImage.Validate())

	invalidColour := settings.Default(1)
	invalidColour.Colour = 0x1000000
	assert.Error(t, invalidColour.Validate())

	noGuild := settings.Default(0)
	assert.Error(t, noGuild.Validate())
}

func TestWelcomeSettings_Validate_length_in_characters(t *testing.T) {
	s := settings.Default(1)
	s.Title = strings.Repeat("é", 256)
	assert.NoError(t, s.Validate(), "256 two-byte characters fit the title")

	s.Title = strings.Repeat("é", 257)
	assert.ErrorContains(t, s.Validate(), "title is longer than 256 characters")
}

func TestWelcomeSettings_Validate_errors_order(t *testing.T) {
	s := settings.Default(1)
	s.Thumbnail = "ftp://example.com/a.png"
	s.Image = "ftp://example.com/b.png"

	for i := 0; i < 10; i++ {
		var merr *multierror.Error
		require.ErrorAs(t, s.Validate(), &merr)
		require.Len(t, merr.Errors, 2)
		assert.EqualError(t, merr.Errors[0], "thumbnail must be an http(s) url")
		assert.EqualError(t, merr.Errors[1], "image must be an http(s) url")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore()

	_, err := store.Get(ctx, 1)
	assert.ErrorIs(t, err, settings.ErrNotFound)

	s, err := settings.GetOrDefault(ctx, store, 1)
	require.NoError(t, err)
	assert.Equal(t, settings.Default(1), s)

	s.ChannelID = 10
	s.MessageEnabled = true
	require.NoError(t, store.Upsert(ctx, s))

	stored, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, s, stored)

	s.ChannelID = 0
	assert.Error(t, store.Upsert(ctx, s))
}
