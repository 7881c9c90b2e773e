package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/dashboard/protocol"
	"github.com/polaris-dashboard/polaris/dashboard/settings"
	"github.com/polaris-dashboard/polaris/rpc"
)

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index.html", pageData{})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	authorizeURL, err := s.sessions.BeginLogin(r.Context(), sess)
	if err != nil {
		s.logger.Error("Cannot begin login", err, nil)
		s.renderError(w, r, http.StatusInternalServerError)
		return
	}

	s.setSessionCookie(w, sess)
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// guilds lists the guilds the user can manage. It is also the OAuth redirect target.
func (s *Server) guilds(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	if !sess.Authenticated() {
		s.callback(w, r, sess)
		return
	}

	guilds, err := s.manageableGuilds(r, sess)
	if err != nil {
		s.handleUpstreamError(w, r, sess, err)
		return
	}

	s.render(w, r, http.StatusOK, "guilds.html", pageData{Guilds: guilds})
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request, sess *Session) {
	query := r.URL.Query()

	err := s.sessions.CompleteLogin(r.Context(), sess, query.Get("state"), query.Get("code"))
	var flowErr *AuthFlowError
	if errors.As(err, &flowErr) {
		s.logger.Info("Login failed, restarting", polaris.LogFields{"reason": flowErr.Reason, "err": flowErr.Err})
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if err != nil {
		s.logger.Error("Cannot complete login", err, nil)
		s.renderError(w, r, http.StatusInternalServerError)
		return
	}

	s.setSessionCookie(w, sess)
	http.Redirect(w, r, "/guilds", http.StatusFound)
}

// manageableGuilds returns the guilds of the user that the bot reports as manageable.
func (s *Server) manageableGuilds(r *http.Request, sess *Session) ([]UserGuild, error) {
	userGuilds, err := s.provider.CurrentUserGuilds(r.Context(), sess.AccessToken)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(userGuilds))
	for _, g := range userGuilds {
		ids = append(ids, g.ID)
	}

	manageable, err := s.bridge.ManageableGuilds(r.Context(), sess.Identity.UserID, ids)
	if err != nil {
		return nil, err
	}

	allowed := make(map[int64]struct{}, len(manageable))
	for _, id := range manageable {
		allowed[id] = struct{}{}
	}

	guilds := make([]UserGuild, 0, len(manageable))
	for _, g := range userGuilds {
		if _, ok := allowed[g.ID]; ok {
			guilds = append(guilds, g)
		}
	}

	return guilds, nil
}

// handleUpstreamError never shows the error to the user.
// A rejected token ends the session, bridge failures render a generic error page.
func (s *Server) handleUpstreamError(w http.ResponseWriter, r *http.Request, sess *Session, err error) {
	if errors.Is(err, ErrUnauthorized) {
		s.logger.Info("Access token rejected, logging out", polaris.LogFields{"err": err})
		if err := s.sessions.Logout(r.Context(), sess); err != nil {
			s.logger.Error("Cannot delete session", err, nil)
		}
		s.clearSessionCookie(w)
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	status := upstreamStatus(err)
	s.logger.Error("Upstream call failed", err, polaris.LogFields{"path": r.URL.Path, "status": status})
	s.renderError(w, r, status)
}

func upstreamStatus(err error) int {
	if errors.Is(err, rpc.ErrTimeout) ||
		errors.Is(err, rpc.ErrCancelled) ||
		errors.Is(err, rpc.ErrProducerClosed) ||
		errors.Is(err, rpc.ErrProducerNotStarted) {
		return http.StatusServiceUnavailable
	}

	return http.StatusBadGateway
}

type guildPage struct {
	ID        int64
	Name      string
	Settings  settings.WelcomeSettings
	Colour    string
	Channels  protocol.ChannelsByCategory
	CSRFToken string
	Errors    []string
	Saved     bool
}

// authorizeGuild checks the session and that the user can manage the guild in the URL.
// It writes the response and returns false when the request must not go on.
func (s *Server) authorizeGuild(w http.ResponseWriter, r *http.Request) (*Session, int64, bool) {
	sess := sessionFromContext(r.Context())
	if !sess.Authenticated() {
		http.Redirect(w, r, "/login", http.StatusFound)
		return nil, 0, false
	}

	guildID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || guildID <= 0 {
		s.renderError(w, r, http.StatusNotFound)
		return nil, 0, false
	}

	guilds, err := s.manageableGuilds(r, sess)
	if err != nil {
		s.handleUpstreamError(w, r, sess, err)
		return nil, 0, false
	}

	for _, g := range guilds {
		if g.ID == guildID {
			return sess, guildID, true
		}
	}

	s.logger.Info("User cannot manage guild", polaris.LogFields{"user_id": sess.Identity.UserID, "guild_id": guildID})
	s.renderError(w, r, http.StatusForbidden)
	return nil, 0, false
}

func (s *Server) guild(w http.ResponseWriter, r *http.Request) {
	sess, guildID, ok := s.authorizeGuild(w, r)
	if !ok {
		return
	}

	current, err := settings.GetOrDefault(r.Context(), s.store, guildID)
	if err != nil {
		s.logger.Error("Cannot load settings", err, polaris.LogFields{"guild_id": guildID})
		s.renderError(w, r, http.StatusInternalServerError)
		return
	}

	s.renderGuild(w, r, sess, http.StatusOK, current, nil)
}

func (s *Server) renderGuild(
	w http.ResponseWriter,
	r *http.Request,
	sess *Session,
	status int,
	current settings.WelcomeSettings,
	validationErrs []string,
) {
	channels, err := s.bridge.Channels(r.Context(), current.GuildID)
	if err != nil {
		s.handleUpstreamError(w, r, sess, err)
		return
	}

	s.render(w, r, status, "guild.html", pageData{Guild: &guildPage{
		ID:        current.GuildID,
		Name:      channels.GuildName,
		Settings:  current,
		Colour:    current.Colour.Hex(),
		Channels:  channels.Channels,
		CSRFToken: sess.CSRFToken,
		Errors:    validationErrs,
		Saved:     r.URL.Query().Get("saved") == "1",
	}})
}

func (s *Server) updateGuild(w http.ResponseWriter, r *http.Request) {
	sess, guildID, ok := s.authorizeGuild(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest)
		return
	}
	if !validCSRFToken(sess, r.PostForm.Get("csrf_token")) {
		s.logger.Info("Invalid CSRF token", polaris.LogFields{"guild_id": guildID})
		s.renderError(w, r, http.StatusForbidden)
		return
	}

	updated, err := settingsFromForm(guildID, r)
	if err == nil {
		err = s.validateChannel(r, updated)
	}
	if err != nil {
		s.renderGuild(w, r, sess, http.StatusBadRequest, updated, errorList(err))
		return
	}

	if err := s.store.Upsert(r.Context(), updated); err != nil {
		s.logger.Error("Cannot save settings", err, polaris.LogFields{"guild_id": guildID})
		s.renderError(w, r, http.StatusInternalServerError)
		return
	}

	s.logger.Info("Welcome settings updated", polaris.LogFields{"guild_id": guildID, "user_id": sess.Identity.UserID})
	http.Redirect(w, r, "/guild/"+strconv.FormatInt(guildID, 10)+"?saved=1", http.StatusSeeOther)
}

func validCSRFToken(sess *Session, token string) bool {
	return sess.CSRFToken != "" && constantTimeEqual(sess.CSRFToken, token)
}

// settingsFromForm returns the parsed settings together with the validation errors.
func settingsFromForm(guildID int64, r *http.Request) (settings.WelcomeSettings, error) {
	form := r.PostForm
	var err error

	s := settings.WelcomeSettings{
		GuildID:        guildID,
		MessageEnabled: form.Get("message_enabled") == "on",
		Message:        form.Get("message"),
		EmbedEnabled:   form.Get("embed_enabled") == "on",
		Title:          form.Get("title"),
		Description:    form.Get("description"),
		Thumbnail:      strings.TrimSpace(form.Get("thumbnail")),
		Image:          strings.TrimSpace(form.Get("image")),
		Colour:         settings.DefaultColour,
	}

	if channel := form.Get("channel"); channel != "" {
		id, parseErr := strconv.ParseInt(channel, 10, 64)
		if parseErr != nil {
			err = multierror.Append(err, errors.Errorf("invalid channel %q", channel))
		}
		s.ChannelID = id
	}

	if colour := form.Get("colour"); colour != "" {
		c, parseErr := settings.ParseColour(colour)
		if parseErr != nil {
			err = multierror.Append(err, parseErr)
		} else {
			s.Colour = c
		}
	}

	if validateErr := s.Validate(); validateErr != nil {
		err = multierror.Append(err, validateErr)
	}

	return s, err
}

// validateChannel rejects channels that are not text channels of the guild.
func (s *Server) validateChannel(r *http.Request, updated settings.WelcomeSettings) error {
	if updated.ChannelID == 0 {
		return nil
	}

	channels, err := s.bridge.Channels(r.Context(), updated.GuildID)
	if err != nil {
		return errors.New("cannot verify the channel, try again later")
	}

	for _, byName := range channels.Channels {
		for _, id := range byName {
			if id == updated.ChannelID {
				return nil
			}
		}
	}

	return errors.New("the channel is not a text channel of this server")
}

func errorList(err error) []string {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return []string{err.Error()}
	}

	list := make([]string, 0, len(merr.Errors))
	for _, e := range merr.Errors {
		list = append(list, e.Error())
	}
	return list
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	if err := s.sessions.Logout(r.Context(), sess); err != nil {
		s.logger.Error("Cannot delete session", err, nil)
	}

	s.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Error("Settings store is unavailable", err, nil)
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, healthResponse{Status: "unavailable"})
			return
		}
	}

	render.JSON(w, r, healthResponse{Status: "ok"})
}

type apiError struct {
	Error string `json:"error"`
}

type guildsResponse struct {
	Guilds []UserGuild `json:"guilds"`
}

func (s *Server) apiGuilds(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if !sess.Authenticated() {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, apiError{Error: "not logged in"})
		return
	}

	guilds, err := s.manageableGuilds(r, sess)
	if errors.Is(err, ErrUnauthorized) {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, apiError{Error: "not logged in"})
		return
	}
	if err != nil {
		status := upstreamStatus(err)
		s.logger.Error("Upstream call failed", err, polaris.LogFields{"path": r.URL.Path, "status": status})
		render.Status(r, status)
		render.JSON(w, r, apiError{Error: http.StatusText(status)})
		return
	}

	render.JSON(w, r, guildsResponse{Guilds: guilds})
}
