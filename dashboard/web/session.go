package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned when the session does not exist or expired.
var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Session is the server side state of one browser.
type Session struct {
	ID string `json:"-"`

	// State is the OAuth state token, set while the login is awaiting the callback.
	State string `json:"state,omitempty"`
	// CSRFToken guards settings forms.
	CSRFToken string `json:"csrf_token,omitempty"`

	AccessToken string    `json:"access_token,omitempty"`
	Identity    *Identity `json:"identity,omitempty"`
}

func NewSession() (*Session, error) {
	id, err := randomToken()
	if err != nil {
		return nil, err
	}
	csrf, err := randomToken()
	if err != nil {
		return nil, err
	}

	return &Session{ID: id, CSRFToken: csrf}, nil
}

func (s *Session) Authenticated() bool {
	return s.AccessToken != "" && s.Identity != nil
}

// AwaitingCallback is true between BeginLogin and CompleteLogin.
func (s *Session) AwaitingCallback() bool {
	return !s.Authenticated() && s.State != ""
}

func (s *Session) clearAuth() {
	s.State = ""
	s.AccessToken = ""
	s.Identity = nil
}

// randomToken returns 32 random bytes, hex encoded.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "cannot read random bytes")
	}

	return hex.EncodeToString(b), nil
}

type SessionStore interface {
	// Load returns ErrSessionNotFound for unknown or expired ids.
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore keeps sessions in memory. Sessions are lost on restart.
type MemorySessionStore struct {
	ttl time.Duration
	now func() time.Time

	lock     sync.Mutex
	sessions map[string]memorySession
}

type memorySession struct {
	data      []byte
	expiresAt time.Time
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}

	return &MemorySessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: map[string]memorySession{},
	}
}

func (m *MemorySessionStore) Load(ctx context.Context, id string) (*Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	stored, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.now().After(stored.expiresAt) {
		delete(m.sessions, id)
		return nil, ErrSessionNotFound
	}

	return decodeSession(id, stored.data)
}

func (m *MemorySessionStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "cannot marshal session")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.sessions[s.ID] = memorySession{data: data, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.sessions, id)
	return nil
}

const redisSessionPrefix = "polaris:session:"

// RedisSessionStore keeps sessions in Redis, so they survive restarts of the web process.
type RedisSessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisSessionStore(client redis.UniversalClient, ttl time.Duration) *RedisSessionStore {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}

	return &RedisSessionStore{client: client, ttl: ttl}
}

func (r *RedisSessionStore) Load(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, redisSessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot load session")
	}

	return decodeSession(id, data)
}

func (r *RedisSessionStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "cannot marshal session")
	}

	return errors.Wrap(r.client.Set(ctx, redisSessionPrefix+s.ID, data, r.ttl).Err(), "cannot save session")
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return errors.Wrap(r.client.Del(ctx, redisSessionPrefix+id).Err(), "cannot delete session")
}

func decodeSession(id string, data []byte) (*Session, error) {
	s := &Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal session")
	}
	s.ID = id

	return s, nil
}
