package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/core"
	"github.com/dkeye/Mingle/internal/domain"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc

	UserID    domain.UserID
	Filter    *domain.MatchFilter
	Room      domain.RoomID
	Peer      core.ConnID
	SessionID string
}

// Cleanup is what Remove owes the orchestrator: everything the departed
// connection was still attached to.
type Cleanup struct {
	Found  bool
	UserID domain.UserID
	Room   domain.RoomID
	Peer   core.ConnID
}

// Registry tracks one record per live transport connection. It is the
// shared substrate every component reads; only the orchestrator mutates
// cross-connection state through it.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*connEntry)}
}

func (r *Registry) Bind(sid core.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sid] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound connection")
}

func (r *Registry) BindUser(sid core.ConnID, uid domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return false
	}
	e.UserID = uid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).Msg("bound user")
	return true
}

func (r *Registry) UserOf(sid core.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[sid]
	if !ok || e.UserID == "" {
		return "", false
	}
	return e.UserID, true
}

func (r *Registry) SetFilter(sid core.ConnID, f domain.MatchFilter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return false
	}
	e.Filter = &f
	return true
}

func (r *Registry) FilterOf(sid core.ConnID) (domain.MatchFilter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[sid]
	if !ok || e.Filter == nil {
		return domain.MatchFilter{}, false
	}
	return *e.Filter, true
}

func (r *Registry) SetRoom(sid core.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return false
	}
	e.Room = room
	return true
}

func (r *Registry) ClearRoom(sid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[sid]; ok {
		e.Room = ""
	}
}

func (r *Registry) RoomOf(sid core.ConnID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[sid]
	if !ok || e.Room == "" {
		return "", false
	}
	return e.Room, true
}

func (r *Registry) SetSession(sid, peer core.ConnID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return false
	}
	e.Peer = peer
	e.SessionID = sessionID
	return true
}

func (r *Registry) ClearSession(sid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[sid]; ok {
		e.Peer = ""
		e.SessionID = ""
	}
}

func (r *Registry) PeerOf(sid core.ConnID) (core.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[sid]
	if !ok || e.Peer == "" {
		return "", false
	}
	return e.Peer, true
}

func (r *Registry) Conn(sid core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[sid]
	if !ok || e.Conn == nil {
		return nil, false
	}
	return e.Conn, true
}

// Remove purges the record and reports what the connection was still
// attached to, so the caller can cascade teardown. Removing an unknown
// connection reports Found == false; disconnect races are expected.
func (r *Registry) Remove(sid core.ConnID) Cleanup {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return Cleanup{}
	}
	delete(r.conns, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed connection")
	return Cleanup{Found: true, UserID: e.UserID, Room: e.Room, Peer: e.Peer}
}

func (r *Registry) Cancel(sid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
