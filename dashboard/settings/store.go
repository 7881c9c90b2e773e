package settings

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Store persists WelcomeSettings per guild.
type Store interface {
	// Get returns ErrNotFound when the guild has no settings.
	Get(ctx context.Context, guildID int64) (WelcomeSettings, error)
	Upsert(ctx context.Context, s WelcomeSettings) error
}

// GetOrDefault returns the stored settings, or Default when the guild has none.
func GetOrDefault(ctx context.Context, store Store, guildID int64) (WelcomeSettings, error) {
	s, err := store.Get(ctx, guildID)
	if errors.Is(err, ErrNotFound) {
		return Default(guildID), nil
	}

	return s, err
}

// MemoryStore keeps settings in memory, it is used in tests and when no database is configured.
type MemoryStore struct {
	lock     sync.RWMutex
	settings map[int64]WelcomeSettings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settings: map[int64]WelcomeSettings{}}
}

func (m *MemoryStore) Get(ctx context.Context, guildID int64) (WelcomeSettings, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	s, ok := m.settings[guildID]
	if !ok {
		return WelcomeSettings{}, ErrNotFound
	}

	return s, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, s WelcomeSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.settings[s.GuildID] = s
	return nil
}
