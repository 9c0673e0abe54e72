package orch

import (
	"context"

	"github.com/dkeye/Mingle/internal/core"
	"github.com/dkeye/Mingle/internal/domain"
)

type JoinResult struct {
	Room      domain.RoomID
	Others    []core.MemberDTO
	OtherSIDs []core.ConnID
	Joined    core.MemberDTO

	// Teardown of whatever sid was doing before the join.
	LeftRoom    *LeaveResult
	SessionPeer core.ConnID
	HadSession  bool
}

type LeaveResult struct {
	Left      bool
	Room      domain.RoomID
	Remaining []core.ConnID
}

type DisconnectResult struct {
	Found       bool
	WasWaiting  bool
	SessionPeer core.ConnID
	HadSession  bool
	LeftRoom    *LeaveResult
}

// JoinRoom admits sid into roomID. A connection may sit in one room at a
// time, so any previous room, waiting-pool entry or session is torn down
// first; the result carries everything the adapter must broadcast. The
// snapshot of prior members goes back to the joiner, who answers the offers
// those members will send.
func (o *Orchestrator) JoinRoom(ctx context.Context, sid core.ConnID, roomID domain.RoomID, uid domain.UserID) (JoinResult, error) {
	o.mu.Lock()
	if !o.Registry.BindUser(sid, uid) {
		o.mu.Unlock()
		return JoinResult{}, ErrUnknownConnection
	}
	res := JoinResult{Room: roomID}
	o.Queue.Remove(sid)
	if peer, ended := o.endSessionLocked(sid); ended {
		res.SessionPeer = peer
		res.HadSession = true
	}
	if lr := o.leaveRoomLocked(sid); lr.Left {
		res.LeftRoom = &lr
	}

	room := o.Rooms.GetOrCreate(roomID)
	res.Others = room.AddMember(sid, uid)
	o.Registry.SetRoom(sid, roomID)
	res.OtherSIDs = room.MemberSIDs(sid)
	o.mu.Unlock()

	p, errMsg := o.lookupUser(ctx, uid)
	room.SetProfile(sid, p, errMsg)

	res.Joined = core.MemberDTO{ConnectionID: sid, UserID: string(uid), Error: errMsg}
	if p != nil {
		res.Joined.Name = p.Name
		res.Joined.Avatar = p.Avatar
		res.Joined.Bio = p.Bio
	}
	return res, nil
}

func (o *Orchestrator) LeaveRoom(sid core.ConnID) LeaveResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leaveRoomLocked(sid)
}

func (o *Orchestrator) leaveRoomLocked(sid core.ConnID) LeaveResult {
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return LeaveResult{}
	}
	res := LeaveResult{Left: true, Room: roomID}
	if room, ok := o.Rooms.Get(roomID); ok {
		room.RemoveMember(sid)
		res.Remaining = room.MemberSIDs("")
		if room.MemberCount() == 0 {
			o.Rooms.StopRoom(roomID)
		}
	}
	o.Registry.ClearRoom(sid)
	o.Ice.Release(sid)
	return res
}

// ToggleMic records the mute flag and returns the room peers to notify.
func (o *Orchestrator) ToggleMic(sid core.ConnID, muted bool) ([]core.ConnID, bool) {
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, false
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok || !room.SetMuted(sid, muted) {
		return nil, false
	}
	return room.MemberSIDs(sid), true
}

// Disconnect is the implicit leave-everything signal. Idempotent against
// skip/leave paths that already ran: whatever is left is removed, and only
// that is reported for notification. A non-nil conn must still own the
// registry record; a superseded transport's late teardown finds its record
// already rebound to the new socket and does nothing.
func (o *Orchestrator) Disconnect(sid core.ConnID, conn core.SignalConnection) DisconnectResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	if conn != nil {
		if cur, ok := o.Registry.Conn(sid); !ok || cur != conn {
			return DisconnectResult{}
		}
	}

	res := DisconnectResult{}
	res.WasWaiting = o.Queue.Remove(sid)
	if peer, ended := o.endSessionLocked(sid); ended {
		res.SessionPeer = peer
		res.HadSession = true
	}
	if lr := o.leaveRoomLocked(sid); lr.Left {
		res.LeftRoom = &lr
	}
	o.Ice.Release(sid)
	cleanup := o.Registry.Remove(sid)
	res.Found = cleanup.Found
	return res
}
