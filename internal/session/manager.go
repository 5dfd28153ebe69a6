package session

import (
	"errors"
	"sync"
	"time"

	"jamsync/internal/config"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSessionGone is returned for session IDs that were reaped. IDs are
// never reused within the process lifetime, so a stale client can never
// resurrect its old session under the same ID.
var ErrSessionGone = errors.New("session no longer exists")

// Manager is the process-wide table of active sessions. It owns the
// periodic reap of empty sessions and the low-frequency end-of-track
// scan. Sessions mutate fully independently; the manager lock only
// guards the table itself.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	retired  map[string]struct{}

	catalog Catalog
	cfg     config.SessionConfig
	logger  *logrus.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a session manager.
func NewManager(catalog Catalog, cfg config.SessionConfig, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		retired:  make(map[string]struct{}),
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Create allocates a new session under a fresh short ID.
func (m *Manager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.newIDLocked()
	s := New(id, m.catalog, m.cfg)
	m.sessions[id] = s

	m.logger.WithField("session_id", id).Info("Session created")
	return s
}

// newIDLocked generates a short session ID that has never been used in
// this process. Must be called with lock held.
func (m *Manager) newIDLocked() string {
	for {
		id := uuid.New().String()[:8]
		if _, live := m.sessions[id]; live {
			continue
		}
		if _, gone := m.retired[id]; gone {
			continue
		}
		return id
	}
}

// Get returns a live session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate returns the session for id, creating it if the ID has
// never existed. A reaped ID is rejected rather than resurrected.
func (m *Manager) GetOrCreate(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if _, gone := m.retired[id]; gone {
		return nil, ErrSessionGone
	}

	s := New(id, m.catalog, m.cfg)
	m.sessions[id] = s
	m.logger.WithField("session_id", id).Info("Session created")
	return s, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap removes sessions whose roster is empty and retires their IDs.
// Returns the number of sessions removed.
func (m *Manager) Reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	reaped := 0
	for id, s := range m.sessions {
		if s.Empty() {
			delete(m.sessions, id)
			m.retired[id] = struct{}{}
			reaped++
			m.logger.WithField("session_id", id).Info("Session reaped")
		}
	}
	return reaped
}

// scanAdvance runs the end-of-track check across all live sessions.
func (m *Manager) scanAdvance() {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	for _, s := range live {
		s.CheckAdvance()
	}
}

// Run starts the periodic reap and auto-advance tickers and blocks
// until Stop is called.
func (m *Manager) Run() {
	reap := time.NewTicker(time.Duration(m.cfg.ReapIntervalSecs) * time.Second)
	defer reap.Stop()
	scan := time.NewTicker(time.Duration(m.cfg.AdvanceScanSecs) * time.Second)
	defer scan.Stop()

	for {
		select {
		case <-reap.C:
			m.Reap()
		case <-scan.C:
			m.scanAdvance()
		case <-m.stop:
			return
		}
	}
}

// Stop terminates the Run loop (idempotent).
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
