package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// EndHook tears down the live connection behind a session. It must not block.
type EndHook func(reason string)

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	hooks             map[string]EndHook
	inactivityTimeout time.Duration
	retention         time.Duration
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		hooks:             make(map[string]EndHook),
		inactivityTimeout: inactivityTimeout,
		retention:         inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) Create(remoteAddr string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		RemoteAddr:     remoteAddr,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

// SetEndHook registers the teardown callback used by End and the janitor.
func (m *Manager) SetEndHook(sessionID string, hook EndHook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	m.hooks[sessionID] = hook
	return nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// List returns all known sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, clone(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Touch records inbound client activity.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.FramesIn++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetState records the orchestrator state label.
func (m *Manager) SetState(sessionID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.State = state
	return nil
}

func (m *Manager) CompleteTurn(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Turns++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End marks the session ended and runs its end hook once. Ending an already
// ended session returns it unchanged.
func (m *Manager) End(sessionID, reason string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.Status == StatusEnded {
		out := clone(s)
		m.mu.Unlock()
		return out, nil
	}
	hook := m.endLocked(s, reason, time.Now().UTC())
	out := clone(s)
	m.mu.Unlock()

	if hook != nil {
		hook(reason)
	}
	return out, nil
}

func (m *Manager) endLocked(s *Session, reason string, now time.Time) EndHook {
	s.Status = StatusEnded
	s.EndReason = reason
	s.EndedAt = &now
	s.LastActivityAt = now
	hook := m.hooks[s.ID]
	delete(m.hooks, s.ID)
	return hook
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
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive ends idle sessions and forgets ended ones past retention.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var hooks []EndHook

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status == StatusEnded {
			if s.EndedAt != nil && now.Sub(*s.EndedAt) >= m.retention {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		if hook := m.endLocked(s, EndReasonInactive, now); hook != nil {
			hooks = append(hooks, hook)
		}
	}
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(EndReasonInactive)
	}
}

func clone(s *Session) *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
