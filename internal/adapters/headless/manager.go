package headless

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/bus"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many open sessions")
)

// Manager owns the open sessions of a process. All sessions share one hub and
// are isolated from each other by their token.
type Manager struct {
	hub *bus.Hub
	cfg SessionConfig
	log *zap.Logger

	// MaxSessions caps concurrently open sessions. Zero means no cap.
	MaxSessions int

	mu       sync.Mutex
	sessions map[domain.SessionToken]*Session
	opening  int
}

func NewManager(cfg SessionConfig) *Manager {
	log := logging.OrNop(cfg.Logger)
	return &Manager{
		hub:      bus.NewHub(log),
		cfg:      cfg,
		log:      log,
		sessions: make(map[domain.SessionToken]*Session),
	}
}

// Open starts a session under a fresh token.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.MaxSessions > 0 && len(m.sessions)+m.opening >= m.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	m.opening++
	m.mu.Unlock()

	token := domain.SessionToken(uuid.NewString())
	s, err := OpenSession(ctx, m.hub, token, m.cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opening--
	if err != nil {
		return nil, err
	}
	m.sessions[token] = s
	return s, nil
}

func (m *Manager) Get(token domain.SessionToken) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close tears down and forgets the session.
func (m *Manager) Close(token domain.SessionToken) error {
	m.mu.Lock()
	s, ok := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// CloseAll tears down every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for token, s := range m.sessions {
		open = append(open, s)
		delete(m.sessions, token)
	}
	m.mu.Unlock()
	for _, s := range open {
		s.Close()
	}
	if len(open) > 0 {
		m.log.Info("closed open sessions", zap.Int("count", len(open)))
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
