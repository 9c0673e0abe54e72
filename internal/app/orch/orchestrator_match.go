package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/app"
	"github.com/dkeye/Mingle/internal/core"
	"github.com/dkeye/Mingle/internal/domain"
)

type EndReason string

const (
	ReasonSkip       EndReason = "skip"
	ReasonLeave      EndReason = "leave"
	ReasonDisconnect EndReason = "disconnect"
)

// MatchSide is one half of a match notification: what SID must be told
// about Peer. Profile is enrichment; LookupErr is set instead when the
// identity could not be resolved, and the session exists regardless.
type MatchSide struct {
	SID       core.ConnID
	Peer      core.ConnID
	Offerer   bool
	Profile   *domain.Profile
	LookupErr string
}

type MatchResult struct {
	Matched  bool
	Sides    [2]MatchSide
	LeftRoom *LeaveResult
}

type EndResult struct {
	Ended   bool
	Peer    core.ConnID
	Reason  EndReason
	Rematch *MatchResult
}

// FindMatch runs enqueue-or-match for sid. A connection already holding a
// session must skip or leave first; one sitting in a room is moved out of
// it (the room teardown to broadcast is returned on the result).
func (o *Orchestrator) FindMatch(ctx context.Context, sid core.ConnID, filter domain.MatchFilter) (MatchResult, error) {
	o.mu.Lock()
	if !o.Registry.SetFilter(sid, filter) {
		o.mu.Unlock()
		return MatchResult{}, ErrUnknownConnection
	}
	if _, paired := o.Sessions.PeerOf(sid); paired {
		o.mu.Unlock()
		return MatchResult{}, app.ErrAlreadyPaired
	}
	var left *LeaveResult
	if lr := o.leaveRoomLocked(sid); lr.Left {
		left = &lr
	}
	sess := o.matchLocked(sid, filter)
	o.mu.Unlock()

	if sess == nil {
		return MatchResult{LeftRoom: left}, nil
	}
	res := o.enrichMatch(ctx, sess)
	res.LeftRoom = left
	return res, nil
}

// matchLocked consumes the first compatible waiting entry and creates the
// session, all under the transition lock so an entry can never be consumed
// twice. Returns nil when sid was queued instead.
func (o *Orchestrator) matchLocked(sid core.ConnID, filter domain.MatchFilter) *app.Session {
	peer, ok := o.Queue.EnqueueOrMatch(sid, filter)
	if !ok {
		return nil
	}
	sess, err := o.Sessions.Create(sid, peer)
	if err != nil {
		// Cannot happen while the pool and session map are only mutated
		// under o.mu; a waiting entry is never paired.
		log.Error().Err(err).Str("module", "orch").
			Str("sid", string(sid)).Str("peer", string(peer)).Msg("match produced paired connection")
		return nil
	}
	o.Registry.SetSession(sid, peer, sess.ID)
	o.Registry.SetSession(peer, sid, sess.ID)
	return sess
}

func (o *Orchestrator) enrichMatch(ctx context.Context, sess *app.Session) MatchResult {
	res := MatchResult{Matched: true}
	for i, pair := range [2][2]core.ConnID{{sess.A, sess.B}, {sess.B, sess.A}} {
		side := MatchSide{SID: pair[0], Peer: pair[1], Offerer: sess.Offerer == pair[0]}
		side.Profile, side.LookupErr = o.lookupPeer(ctx, pair[1])
		res.Sides[i] = side
	}
	return res
}

// EndSession tears down sid's active session. Only skip requeues the
// initiator, with its last-declared filter; the peer hears about the end
// and must issue its own next request. The requeue can itself complete a
// match, returned as Rematch.
func (o *Orchestrator) EndSession(ctx context.Context, sid core.ConnID, reason EndReason) EndResult {
	o.mu.Lock()
	peer, ended := o.endSessionLocked(sid)
	if !ended {
		o.mu.Unlock()
		return EndResult{}
	}
	res := EndResult{Ended: true, Peer: peer, Reason: reason}

	var rematch *app.Session
	if reason == ReasonSkip {
		if filter, ok := o.Registry.FilterOf(sid); ok {
			rematch = o.matchLocked(sid, filter)
		}
	}
	o.mu.Unlock()

	if rematch != nil {
		r := o.enrichMatch(ctx, rematch)
		res.Rematch = &r
	}
	return res
}

func (o *Orchestrator) endSessionLocked(sid core.ConnID) (core.ConnID, bool) {
	sess, ok := o.Sessions.End(sid)
	if !ok {
		return "", false
	}
	peer, _ := sess.Other(sid)
	o.Registry.ClearSession(sid)
	o.Registry.ClearSession(peer)
	o.Ice.Release(sid)
	o.Ice.Release(peer)
	return peer, true
}

// PeerProfile serves the "like" flow: display metadata of the current
// session peer. Read-only, no transition lock.
func (o *Orchestrator) PeerProfile(ctx context.Context, sid core.ConnID) (*domain.Profile, string, bool) {
	peer, ok := o.Sessions.PeerOf(sid)
	if !ok {
		return nil, "", false
	}
	p, errMsg := o.lookupPeer(ctx, peer)
	return p, errMsg, true
}
