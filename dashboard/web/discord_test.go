package web_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/polaris-dashboard/polaris/dashboard/web"
)

func newTestProvider(t *testing.T, handler http.Handler) *web.DiscordProvider {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := web.NewDiscordProvider(web.DiscordProviderConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://dashboard.test/guilds",
		Endpoint: oauth2.Endpoint{
			AuthURL:  server.URL + "/authorize",
			TokenURL: server.URL + "/token",
		},
		RevokeURL:  server.URL + "/revoke",
		HTTPClient: server.Client(),
	}, nil)
	require.NoError(t, err)

	return provider
}

func TestDiscordProvider_AuthCodeURL(t *testing.T) {
	provider := newTestProvider(t, http.NotFoundHandler())

	u, err := url.Parse(provider.AuthCodeURL("some-state"))
	require.NoError(t, err)

	query := u.Query()
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "client", query.Get("client_id"))
	assert.Equal(t, "https://dashboard.test/guilds", query.Get("redirect_uri"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "identify guilds", query.Get("scope"))
	assert.Equal(t, "some-state", query.Get("state"))
}

func TestDiscordProvider_Exchange(t *testing.T) {
	var form url.Values
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		form = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "token", "token_type": "Bearer", "expires_in": 604800, "scope": "identify guilds"}`))
	}))

	token, err := provider.Exchange(context.Background(), "the-code")
	require.NoError(t, err)

	assert.Equal(t, "token", token.AccessToken)
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "client", form.Get("client_id"))
	assert.Equal(t, "secret", form.Get("client_secret"))
}

func TestDiscordProvider_Revoke(t *testing.T) {
	revoked := map[string]bool{}
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.URL.Path != "/revoke" || r.PostForm.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		revoked[r.PostForm.Get("token")] = true
	}))

	require.NoError(t, provider.Revoke(context.Background(), "token"))
	assert.True(t, revoked["token"])
}

func TestDiscordProvider_Revoke_failed(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	assert.Error(t, provider.Revoke(context.Background(), "token"))
}

func TestNewDiscordProvider_invalid_config(t *testing.T) {
	_, err := web.NewDiscordProvider(web.DiscordProviderConfig{ClientID: "client", ClientSecret: "secret"}, nil)
	assert.Error(t, err)

	_, err = web.NewDiscordProvider(web.DiscordProviderConfig{RedirectURL: "https://dashboard.test/guilds"}, nil)
	assert.Error(t, err)
}
