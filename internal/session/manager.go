package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/swapisticated/Astro-Repo/internal/logging"
	"github.com/swapisticated/Astro-Repo/internal/metrics"
	"github.com/swapisticated/Astro-Repo/pkg/models"
)

// ErrUnknownSession is returned for session ids the manager does not hold.
var ErrUnknownSession = errors.New("unknown session")

// Manager keeps the open sessions of one server process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	src    Source
	llm    Generator
	events Publisher
	opts   Options
}

// NewManager creates a manager whose sessions share src, gen and pub.
func NewManager(src Source, gen Generator, pub Publisher, opts Options) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		src:      src,
		llm:      gen,
		events:   pub,
		opts:     opts,
	}
}

// Open starts a session for ref and loads the repository's top level. The
// session is only registered once that first load succeeds.
func (m *Manager) Open(ctx context.Context, ref models.RepoRef) (*Session, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	s := New(uuid.NewString(), ref, m.src, m.llm, m.events, m.opts)
	if err := s.Expand(ctx, ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.SessionOpened()
	logging.WithContext(ctx).Info("session opened",
		logging.String("session", s.ID),
		logging.String("repo", ref.String()),
	)
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Close ends a session and clears its cache.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	dropped := s.Close()
	metrics.SessionClosed()
	logging.Info("session closed", logging.String("session", id), logging.Int("cache_entries", dropped))
	return nil
}

// CloseAll ends every session. Used on shutdown.
func (m *Manager) CloseAll() {
	for _, id := range m.IDs() {
		_ = m.Close(id)
	}
}

// IDs lists open session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
