package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/versevoice/internal/bridge"
	"github.com/ent0n29/versevoice/internal/speech"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
)

type Session struct {
	ID             string    `json:"session_id"`
	ListenerID     string    `json:"listener_id"`
	Platform       string    `json:"platform"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Runtime is the playback machinery owned by one session.
type Runtime struct {
	Orchestrator *speech.Orchestrator
	// Device is set for sessions whose platform is a connected device.
	Device *bridge.Platform
	// Close releases platform resources after playback has stopped.
	Close func()
}

// Factory builds the runtime for a new session.
type Factory func(s Session) (*Runtime, error)

type entry struct {
	session *Session
	runtime *Runtime
	cancel  context.CancelFunc
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	factory           Factory
	inactivityTimeout time.Duration
	endedRetention    time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration, factory Factory) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		factory:           factory,
		inactivityTimeout: inactivityTimeout,
		endedRetention:    5 * time.Minute,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetEndedRetention controls how long ended sessions stay queryable.
func (m *Manager) SetEndedRetention(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endedRetention = d
}

// Create builds a session runtime and starts its voice catalog watch.
func (m *Manager) Create(listenerID, platform string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		ListenerID:     listenerID,
		Platform:       platform,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if m.factory == nil {
		return nil, errors.New("session factory not configured")
	}
	rt, err := m.factory(*s)
	if err != nil {
		return nil, fmt.Errorf("create %s session: %w", platform, err)
	}

	// Speak must see a table as soon as Create returns.
	rt.Orchestrator.Refresh()
	ctx, cancel := context.WithCancel(context.Background())
	go rt.Orchestrator.Run(ctx)

	m.mu.Lock()
	m.sessions[s.ID] = &entry{session: s, runtime: rt, cancel: cancel}
	m.mu.Unlock()
	return clone(s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.session), nil
}

// Runtime returns the playback runtime of an active session.
func (m *Manager) Runtime(sessionID string) (*Runtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.session.Status != StatusActive {
		return nil, ErrEnded
	}
	return e.runtime, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

// End stops playback and releases the session's platform. Ending an ended
// session returns it unchanged.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if e.session.Status != StatusActive {
		s := clone(e.session)
		m.mu.Unlock()
		return s, nil
	}
	e.session.Status = StatusEnded
	e.session.LastActivityAt = time.Now().UTC()
	s := clone(e.session)
	m.mu.Unlock()

	shutdown(e)
	return s, nil
}

// Close ends every active session.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_, _ = m.End(id)
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.session.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var (
		expired []*Session
		stopped []*entry
	)

	m.mu.Lock()
	for id, e := range m.sessions {
		s := e.session
		if s.Status != StatusActive {
			if m.endedRetention >= 0 && now.Sub(s.LastActivityAt) >= m.endedRetention {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		// A session that is still speaking is not idle.
		if e.runtime.Orchestrator.Snapshot().State != speech.StateIdle {
			s.LastActivityAt = now
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		stopped = append(stopped, e)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, e := range stopped {
		shutdown(e)
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func shutdown(e *entry) {
	e.runtime.Orchestrator.Stop()
	e.cancel()
	if e.runtime.Close != nil {
		e.runtime.Close()
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
