// Package orch ties the shared registries together. Every transition that
// touches more than one structure (pool, session map, room membership) runs
// under one lock here, and all of it happens before any profile lookup:
// lookups only enrich notifications, they never gate correctness.
package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/app"
	"github.com/dkeye/Mingle/internal/core"
	"github.com/dkeye/Mingle/internal/domain"
	"github.com/dkeye/Mingle/internal/profile"
)

var ErrUnknownConnection = errors.New("unknown connection")

type Orchestrator struct {
	mu sync.Mutex

	Registry *app.Registry
	Queue    *app.MatchQueue
	Sessions *app.SessionMap
	Rooms    *app.RoomManager
	Ice      *app.IceBuffers
	Profiles profile.Directory
}

func New(reg *app.Registry, q *app.MatchQueue, s *app.SessionMap, rooms *app.RoomManager, ice *app.IceBuffers, dir profile.Directory) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Queue:    q,
		Sessions: s,
		Rooms:    rooms,
		Ice:      ice,
		Profiles: dir,
	}
}

func (o *Orchestrator) RegisterUser(sid core.ConnID, uid domain.UserID) error {
	if uid == "" {
		return domain.ErrUserIDEmpty
	}
	if !o.Registry.BindUser(sid, uid) {
		return ErrUnknownConnection
	}
	return nil
}

// SessionPeer resolves the relay target inside the sender's active session.
func (o *Orchestrator) SessionPeer(sid core.ConnID) (core.ConnID, bool) {
	return o.Sessions.PeerOf(sid)
}

// RoomPeer reports whether target shares a room with sid. Anything else is
// a stale target and the relay is silently dropped by the caller.
func (o *Orchestrator) RoomPeer(sid, target core.ConnID) bool {
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return false
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return false
	}
	return room.Contains(target)
}

// DescriptionForwarded marks the from→to link ready (the receiver now holds
// the sender's description) and returns the candidates that were waiting.
func (o *Orchestrator) DescriptionForwarded(from, to core.ConnID) []webrtc.ICECandidateInit {
	return o.Ice.MarkReady(from, to)
}

// SessionCandidate resolves sid's session peer and buffers c when the
// sid→peer link is not ready. The peer lookup and the buffer write happen
// under the transition lock, so a candidate can never land on a link a
// concurrent teardown just released. Returns the peer, whether c was
// buffered, and whether sid holds a session at all.
func (o *Orchestrator) SessionCandidate(sid core.ConnID, c webrtc.ICECandidateInit) (core.ConnID, bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	peer, ok := o.Sessions.PeerOf(sid)
	if !ok {
		return "", false, false
	}
	return peer, o.Ice.Add(sid, peer, c), true
}

// RoomCandidate is the room-link equivalent of SessionCandidate: membership
// check and buffer write under the transition lock.
func (o *Orchestrator) RoomCandidate(sid, target core.ConnID, c webrtc.ICECandidateInit) (bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.RoomPeer(sid, target) {
		return false, false
	}
	return o.Ice.Add(sid, target, c), true
}

// lookupPeer resolves display metadata for the identity bound to sid.
// Never called while holding the transition lock.
func (o *Orchestrator) lookupPeer(ctx context.Context, sid core.ConnID) (*domain.Profile, string) {
	uid, ok := o.Registry.UserOf(sid)
	if !ok {
		return nil, "identity not registered"
	}
	return o.lookupUser(ctx, uid)
}

func (o *Orchestrator) lookupUser(ctx context.Context, uid domain.UserID) (*domain.Profile, string) {
	p, err := o.Profiles.Lookup(ctx, uid)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, "profile not found"
		}
		log.Warn().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("profile lookup failed")
		return nil, "profile unavailable"
	}
	return p, ""
}
