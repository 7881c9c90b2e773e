package web

import (
	"context"
	"crypto/subtle"

	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
)

// AuthFlowError is returned when the OAuth callback cannot complete the login.
// The session is back to anonymous and the login has to be restarted.
type AuthFlowError struct {
	Reason string
	Err    error
}

func (e *AuthFlowError) Error() string {
	if e.Err != nil {
		return "login failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "login failed: " + e.Reason
}

func (e *AuthFlowError) Unwrap() error {
	return e.Err
}

// SessionManager drives the login state of a session:
// anonymous, awaiting the OAuth callback, authenticated.
type SessionManager struct {
	provider IdentityProvider
	store    SessionStore
	logger   polaris.LoggerAdapter
}

func NewSessionManager(provider IdentityProvider, store SessionStore, logger polaris.LoggerAdapter) *SessionManager {
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	return &SessionManager{provider: provider, store: store, logger: logger}
}

// Load returns the session with id, or a new anonymous session when it does not exist.
func (m *SessionManager) Load(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		s, err := m.store.Load(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}

	return NewSession()
}

func (m *SessionManager) Save(ctx context.Context, s *Session) error {
	return m.store.Save(ctx, s)
}

// BeginLogin stores a fresh state token in the session and returns the authorize URL to redirect to.
func (m *SessionManager) BeginLogin(ctx context.Context, s *Session) (string, error) {
	state, err := randomToken()
	if err != nil {
		return "", err
	}

	s.clearAuth()
	s.State = state

	if err := m.store.Save(ctx, s); err != nil {
		return "", err
	}

	return m.provider.AuthCodeURL(state), nil
}

// CompleteLogin handles the OAuth callback.
// The state has to match the one stored by BeginLogin and the code must not be empty,
// otherwise the session is reset to anonymous and an *AuthFlowError is returned.
func (m *SessionManager) CompleteLogin(ctx context.Context, s *Session, state, code string) error {
	expected := s.State
	s.clearAuth()

	if err := m.completeLogin(ctx, s, expected, state, code); err != nil {
		s.clearAuth()
		if saveErr := m.store.Save(ctx, s); saveErr != nil {
			m.logger.Error("Cannot save session after failed login", saveErr, nil)
		}
		return err
	}

	return m.store.Save(ctx, s)
}

func (m *SessionManager) completeLogin(ctx context.Context, s *Session, expected, state, code string) error {
	if expected == "" {
		return &AuthFlowError{Reason: "no login in progress"}
	}
	if !constantTimeEqual(expected, state) {
		return &AuthFlowError{Reason: "state mismatch"}
	}
	if code == "" {
		return &AuthFlowError{Reason: "missing authorization code"}
	}

	token, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return &AuthFlowError{Reason: "code exchange failed", Err: err}
	}

	identity, err := m.provider.CurrentUser(ctx, token.AccessToken)
	if err != nil {
		return &AuthFlowError{Reason: "cannot fetch user", Err: err}
	}

	// A new id and form token after login, the pre-login ones may be known to someone else.
	newID, err := randomToken()
	if err != nil {
		return err
	}
	newCSRFToken, err := randomToken()
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	s.ID = newID
	s.CSRFToken = newCSRFToken

	s.AccessToken = token.AccessToken
	s.Identity = &identity

	m.logger.Debug("User logged in", polaris.LogFields{"user_id": identity.UserID})
	return nil
}

// Logout revokes the access token, best effort, and forgets the session.
func (m *SessionManager) Logout(ctx context.Context, s *Session) error {
	if s.AccessToken != "" {
		if err := m.provider.Revoke(ctx, s.AccessToken); err != nil {
			m.logger.Info("Cannot revoke access token", polaris.LogFields{"err": err})
		}
	}

	s.clearAuth()
	return m.store.Delete(ctx, s.ID)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
