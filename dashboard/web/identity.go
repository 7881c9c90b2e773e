package web

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// ErrUnauthorized is returned by the IdentityProvider when the access token is no longer valid.
var ErrUnauthorized = errors.New("access token rejected by identity provider")

// Identity is the Discord user behind an authenticated session.
type Identity struct {
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	AvatarURL     string `json:"avatar_url"`
}

// UserGuild is a guild the user is a member of, as reported by the identity provider.
type UserGuild struct {
	ID      int64  `json:"id,string"`
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

// IdentityProvider is the OAuth2 identity provider of the dashboard.
type IdentityProvider interface {
	// AuthCodeURL returns the authorize URL with state embedded.
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// Revoke invalidates the access token.
	Revoke(ctx context.Context, accessToken string) error

	CurrentUser(ctx context.Context, accessToken string) (Identity, error)
	CurrentUserGuilds(ctx context.Context, accessToken string) ([]UserGuild, error)
}
