package settings

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/versevoice/internal/speech"
)

// InMemoryStore is a simple in-process settings store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Settings
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Settings)}
}

func (s *InMemoryStore) Get(_ context.Context, listenerID string) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.records[listenerID]
	if !ok {
		return Defaults(listenerID), nil
	}
	return copySettings(st), nil
}

func (s *InMemoryStore) Put(_ context.Context, st Settings) (Settings, error) {
	if err := st.Validate(); err != nil {
		return Settings{}, err
	}
	st = copySettings(st)
	st.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[st.ListenerID] = st
	return copySettings(st), nil
}

func (s *InMemoryStore) Close() error { return nil }

func copySettings(st Settings) Settings {
	if st.VoiceOverrides != nil {
		overrides := make(map[speech.Language]string, len(st.VoiceOverrides))
		for k, v := range st.VoiceOverrides {
			overrides[k] = v
		}
		st.VoiceOverrides = overrides
	}
	return st
}
