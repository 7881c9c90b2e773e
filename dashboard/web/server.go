package web

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/handlers"
	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/dashboard/settings"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = []string{"index.html", "guilds.html", "guild.html", "error.html"}

type ServerConfig struct {
	// CookieName is the name of the session cookie.
	CookieName string
	// SecureCookies should be set when the dashboard is served over https.
	SecureCookies bool
	SessionTTL    time.Duration

	// TrustProxyHeaders uses X-Forwarded-For and friends for the remote address in access logs.
	TrustProxyHeaders bool
}

func (c *ServerConfig) setDefaults() {
	if c.CookieName == "" {
		c.CookieName = "polaris_session"
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
}

// Server serves the dashboard.
type Server struct {
	config    ServerConfig
	sessions  *SessionManager
	provider  IdentityProvider
	bridge    Bridge
	store     settings.Store
	templates map[string]*template.Template
	logger    polaris.LoggerAdapter
}

func NewServer(
	config ServerConfig,
	sessions *SessionManager,
	provider IdentityProvider,
	bridge Bridge,
	store settings.Store,
	logger polaris.LoggerAdapter,
) (*Server, error) {
	config.setDefaults()
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	templates := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		t, err := template.New(page).ParseFS(templatesFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot parse template %s", page)
		}
		templates[page] = t
	}

	return &Server{
		config:    config,
		sessions:  sessions,
		provider:  provider,
		bridge:    bridge,
		store:     store,
		templates: templates,
		logger:    logger,
	}, nil
}

// Handler returns the dashboard routes with access logging and panic recovery.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withSession)

	r.Get("/", s.index)
	r.Get("/login", s.login)
	r.Get("/guilds", s.guilds)
	r.Get("/guild/{id}", s.guild)
	r.Post("/guild/{id}", s.updateGuild)
	r.Get("/logout", s.logout)
	r.Get("/healthz", s.healthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/guilds", s.apiGuilds)
	})

	var h http.Handler = r
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(true),
	)(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	if s.config.TrustProxyHeaders {
		h = handlers.ProxyHeaders(h)
	}

	return h
}

func (s *Server) logRequest(_ io.Writer, params handlers.LogFormatterParams) {
	s.logger.Debug("HTTP request", polaris.LogFields{
		"method":      params.Request.Method,
		"path":        params.URL.Path,
		"status":      params.StatusCode,
		"size":        params.Size,
		"remote_addr": params.Request.RemoteAddr,
		"duration":    time.Since(params.TimeStamp).String(),
	})
}

type recoveryLogger struct {
	logger polaris.LoggerAdapter
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Panic in HTTP handler", errors.Errorf("%v", v), nil)
}

type sessionKey struct{}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(s.config.CookieName); err == nil {
			id = c.Value
		}

		sess, err := s.sessions.Load(r.Context(), id)
		if err != nil {
			s.logger.Error("Cannot load session", err, nil)
			s.renderError(w, r, http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *Session {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok {
		return &Session{}
	}
	return sess
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(s.config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

type pageData struct {
	Identity *Identity
	Guilds   []UserGuild
	Guild    *guildPage

	Status  int
	Message string
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	if data.Identity == nil {
		data.Identity = sessionFromContext(r.Context()).Identity
	}

	buf := &bytes.Buffer{}
	if err := s.templates[page].ExecuteTemplate(buf, "layout", data); err != nil {
		s.logger.Error("Cannot render template", err, polaris.LogFields{"page": page})
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int) {
	s.render(w, r, status, "error.html", pageData{Status: status, Message: http.StatusText(status)})
}
