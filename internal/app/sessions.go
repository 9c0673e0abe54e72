package app

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/core"
)

var ErrAlreadyPaired = errors.New("connection already in a session")

// Session is an active 1:1 pairing. Offerer is fixed at creation so neither
// side has to negotiate who starts the handshake.
type Session struct {
	ID      string
	A, B    core.ConnID
	Offerer core.ConnID
}

// Other returns the session peer of sid.
func (s *Session) Other(sid core.ConnID) (core.ConnID, bool) {
	if s.A == sid {
		return s.B, true
	}
	if s.B == sid {
		return s.A, true
	}
	return "", false
}

// SessionMap owns the live 1:1 sessions. Each connection participates in at
// most one at a time.
type SessionMap struct {
	mu     sync.RWMutex
	byConn map[core.ConnID]*Session
}

func NewSessionMap() *SessionMap {
	return &SessionMap{byConn: make(map[core.ConnID]*Session)}
}

// Create pairs a and b. The lexicographically greater connection id is the
// offerer, which keeps the outcome identical regardless of argument order.
func (m *SessionMap) Create(a, b core.ConnID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byConn[a]; ok {
		return nil, ErrAlreadyPaired
	}
	if _, ok := m.byConn[b]; ok {
		return nil, ErrAlreadyPaired
	}
	s := &Session{ID: uuid.NewString(), A: a, B: b, Offerer: a}
	if b > a {
		s.Offerer = b
	}
	m.byConn[a] = s
	m.byConn[b] = s
	log.Info().Str("module", "app.sessions").
		Str("session", s.ID).Str("a", string(a)).Str("b", string(b)).
		Str("offerer", string(s.Offerer)).Msg("session created")
	return s, nil
}

func (m *SessionMap) Get(sid core.ConnID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byConn[sid]
	return s, ok
}

func (m *SessionMap) PeerOf(sid core.ConnID) (core.ConnID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byConn[sid]
	if !ok {
		return "", false
	}
	return s.Other(sid)
}

// End destroys the session sid participates in and returns it. Ending an
// already-ended session reports false; skip, leave and disconnect can race
// here and the second caller must treat it as a no-op.
func (m *SessionMap) End(sid core.ConnID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byConn[sid]
	if !ok {
		return nil, false
	}
	delete(m.byConn, s.A)
	delete(m.byConn, s.B)
	log.Info().Str("module", "app.sessions").Str("session", s.ID).Str("by", string(sid)).Msg("session ended")
	return s, true
}

func (m *SessionMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn) / 2
}
