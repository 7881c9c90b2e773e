package web

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/polaris-dashboard/polaris"
)

const (
	discordAuthURL   = "https://discord.com/oauth2/authorize"
	discordTokenURL  = "https://discord.com/api/oauth2/token"
	discordRevokeURL = "https://discord.com/api/oauth2/token/revoke"

	// maxUserGuilds is the page size of the current user guilds endpoint.
	maxUserGuilds = 200
)

// DiscordScopes are requested on login.
var DiscordScopes = []string{"identify", "guilds"}

type DiscordProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint defaults to the Discord authorize and token endpoints.
	Endpoint oauth2.Endpoint
	// RevokeURL defaults to the Discord token revocation endpoint.
	RevokeURL string

	HTTPClient *http.Client
}

func (c *DiscordProviderConfig) setDefaults() {
	if c.Endpoint.AuthURL == "" {
		c.Endpoint.AuthURL = discordAuthURL
	}
	if c.Endpoint.TokenURL == "" {
		c.Endpoint.TokenURL = discordTokenURL
	}
	if c.Endpoint.AuthStyle == oauth2.AuthStyleAutoDetect {
		c.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	if c.RevokeURL == "" {
		c.RevokeURL = discordRevokeURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

func (c DiscordProviderConfig) Validate() error {
	if c.ClientID == "" {
		return errors.New("missing oauth client id")
	}
	if c.ClientSecret == "" {
		return errors.New("missing oauth client secret")
	}
	if _, err := url.ParseRequestURI(c.RedirectURL); err != nil {
		return errors.Wrap(err, "invalid oauth redirect url")
	}

	return nil
}

// DiscordProvider implements IdentityProvider with Discord OAuth2 and the Discord REST API.
type DiscordProvider struct {
	config DiscordProviderConfig
	oauth  *oauth2.Config
	logger polaris.LoggerAdapter
}

func NewDiscordProvider(config DiscordProviderConfig, logger polaris.LoggerAdapter) (*DiscordProvider, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	return &DiscordProvider{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     config.Endpoint,
			Scopes:       DiscordScopes,
		},
		logger: logger,
	}, nil
}

func (p *DiscordProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *DiscordProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.config.HTTPClient)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "cannot exchange authorization code")
	}

	return token, nil
}

func (p *DiscordProvider) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{
		"token":           {accessToken},
		"token_type_hint": {"access_token"},
		"client_id":       {p.config.ClientID},
		"client_secret":   {p.config.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "cannot create revoke request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "cannot revoke token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("token revocation failed with status %d", resp.StatusCode)
	}

	return nil
}

func (p *DiscordProvider) session(accessToken string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bearer " + accessToken)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create discord session")
	}
	s.Client = p.config.HTTPClient

	return s, nil
}

func (p *DiscordProvider) CurrentUser(ctx context.Context, accessToken string) (Identity, error) {
	s, err := p.session(accessToken)
	if err != nil {
		return Identity{}, err
	}

	u, err := s.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return Identity{}, restError(err, "cannot fetch current user")
	}

	id, err := strconv.ParseInt(u.ID, 10, 64)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "invalid user id %q", u.ID)
	}

	return Identity{
		UserID:        id,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		AvatarURL:     u.AvatarURL("128"),
	}, nil
}

func (p *DiscordProvider) CurrentUserGuilds(ctx context.Context, accessToken string) ([]UserGuild, error) {
	s, err := p.session(accessToken)
	if err != nil {
		return nil, err
	}

	guilds, err := s.UserGuilds(maxUserGuilds, "", "", false, discordgo.WithContext(ctx))
	if err != nil {
		return nil, restError(err, "cannot fetch current user guilds")
	}

	result := make([]UserGuild, 0, len(guilds))
	for _, g := range guilds {
		id, err := strconv.ParseInt(g.ID, 10, 64)
		if err != nil {
			p.logger.Info("Skipping guild with invalid id", polaris.LogFields{"guild_id": g.ID})
			continue
		}

		guild := UserGuild{ID: id, Name: g.Name}
		if g.Icon != "" {
			guild.IconURL = discordgo.EndpointGuildIcon(g.ID, g.Icon)
		}
		result = append(result, guild)
	}

	return result, nil
}

func restError(err error, msg string) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusUnauthorized {
		return errors.Wrap(ErrUnauthorized, msg)
	}

	return errors.Wrap(err, msg)
}
