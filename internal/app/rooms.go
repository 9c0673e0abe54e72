package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/core"
	"github.com/dkeye/Mingle/internal/domain"
)

// member is a connection's participation in a room. Profile is filled in
// after join, once the external lookup returns; until then (or when the
// lookup failed) snapshots carry an error marker instead of metadata.
type member struct {
	UserID    domain.UserID
	Profile   *domain.Profile
	LookupErr string
	Muted     bool
}

// Room is a threadsafe in-memory presence set. It never closes
// adapter-owned transport resources. Membership order is join order, so the
// snapshot handed to a newcomer is stable.
type Room struct {
	id      domain.RoomID
	mu      sync.RWMutex
	members map[core.ConnID]*member
	order   []core.ConnID
}

func newRoom(id domain.RoomID) *Room {
	return &Room{id: id, members: make(map[core.ConnID]*member)}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) Contains(sid core.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sid]
	return ok
}

// AddMember admits sid and returns the snapshot of the members that were
// already present. Existing members act as offerer toward the newcomer, so
// this snapshot is exactly the set the newcomer will answer.
func (r *Room) AddMember(sid core.ConnID, uid domain.UserID) []core.MemberDTO {
	r.mu.Lock()
	defer r.mu.Unlock()
	prior := r.snapshotLocked(sid)
	if _, ok := r.members[sid]; !ok {
		r.order = append(r.order, sid)
	}
	r.members[sid] = &member{UserID: uid}
	log.Info().Str("module", "app.rooms").Str("room", string(r.id)).
		Str("sid", string(sid)).Str("user", string(uid)).Msg("member added")
	return prior
}

func (r *Room) RemoveMember(sid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[sid]; !ok {
		return
	}
	delete(r.members, sid)
	for i, id := range r.order {
		if id == sid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "app.rooms").Str("room", string(r.id)).Str("sid", string(sid)).Msg("member removed")
}

// SetProfile attaches the looked-up display metadata. errMsg is recorded
// instead when the lookup failed; membership is never rolled back for it.
func (r *Room) SetProfile(sid core.ConnID, p *domain.Profile, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[sid]; ok {
		m.Profile = p
		m.LookupErr = errMsg
	}
}

func (r *Room) SetMuted(sid core.ConnID, muted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[sid]
	if !ok {
		return false
	}
	m.Muted = muted
	return true
}

func (r *Room) MemberSIDs(except core.ConnID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnID, 0, len(r.order))
	for _, sid := range r.order {
		if sid == except {
			continue
		}
		out = append(out, sid)
	}
	return out
}

func (r *Room) MembersSnapshot() []core.MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked("")
}

func (r *Room) snapshotLocked(except core.ConnID) []core.MemberDTO {
	out := make([]core.MemberDTO, 0, len(r.order))
	for _, sid := range r.order {
		if sid == except {
			continue
		}
		out = append(out, r.members[sid].dto(sid))
	}
	return out
}

func (m *member) dto(sid core.ConnID) core.MemberDTO {
	d := core.MemberDTO{ConnectionID: sid, UserID: string(m.UserID)}
	if m.Profile != nil {
		d.Name = m.Profile.Name
		d.Avatar = m.Profile.Avatar
		d.Bio = m.Profile.Bio
	} else {
		d.Error = m.LookupErr
	}
	return d
}

// RoomManager owns the named rooms.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomID]*Room)}
}

func (f *RoomManager) GetOrCreate(id domain.RoomID) *Room {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = newRoom(id)
	f.rooms[id] = room
	return room
}

func (f *RoomManager) Get(id domain.RoomID) (*Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManager) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: string(id), MemberCount: r.MemberCount()})
	}
	return out
}

func (f *RoomManager) StopRoom(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, id)
}
