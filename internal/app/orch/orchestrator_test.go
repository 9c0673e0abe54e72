package orch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Mingle/internal/app"
	"github.com/dkeye/Mingle/internal/core"
	"github.com/dkeye/Mingle/internal/domain"
	"github.com/dkeye/Mingle/internal/profile"
)

type fakeConn struct{}

func (fakeConn) TrySend(core.Frame) error { return nil }
func (fakeConn) Close()                   {}

func newTestOrch() *Orchestrator {
	dir := profile.NewMemoryDirectory()
	dir.Put(domain.Profile{UserID: "u1", Name: "Ann"})
	dir.Put(domain.Profile{UserID: "u2", Name: "Bob"})
	return New(app.NewRegistry(), app.NewMatchQueue(), app.NewSessionMap(),
		app.NewRoomManager(), app.NewIceBuffers(), dir)
}

func connect(o *Orchestrator, sid core.ConnID, uid domain.UserID) {
	o.Registry.Bind(sid, fakeConn{}, nil)
	if uid != "" {
		o.Registry.BindUser(sid, uid)
	}
}

func anywhere(i domain.Interest) domain.MatchFilter {
	return domain.MatchFilter{Interest: i, Location: domain.LocationAnywhere}
}

func TestFindMatchPairsCompatibleStrangers(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	first, err := o.FindMatch(ctx, "a", anywhere(domain.InterestFriendship))
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if first.Matched {
		t.Fatal("lone requester must wait, not match")
	}

	second, err := o.FindMatch(ctx, "b", anywhere(domain.InterestFriendship))
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if !second.Matched {
		t.Fatal("compatible pair must match")
	}

	var aSide, bSide MatchSide
	for _, s := range second.Sides {
		switch s.SID {
		case "a":
			aSide = s
		case "b":
			bSide = s
		}
	}
	if aSide.Peer != "b" || bSide.Peer != "a" {
		t.Errorf("sides point at %q and %q, want each other", aSide.Peer, bSide.Peer)
	}
	if aSide.Offerer == bSide.Offerer {
		t.Error("exactly one side must be the offerer")
	}
	if aSide.Profile == nil || aSide.Profile.Name != "Bob" {
		t.Errorf("a's enrichment = %+v, want Bob's profile", aSide.Profile)
	}
	if bSide.Profile == nil || bSide.Profile.Name != "Ann" {
		t.Errorf("b's enrichment = %+v, want Ann's profile", bSide.Profile)
	}
	if o.Queue.Len() != 0 {
		t.Errorf("pool len = %d after match, want 0", o.Queue.Len())
	}
}

func TestFindMatchRefusesPairedConnection(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	o.FindMatch(ctx, "a", anywhere(domain.InterestFriendship))
	o.FindMatch(ctx, "b", anywhere(domain.InterestFriendship))

	if _, err := o.FindMatch(ctx, "a", anywhere(domain.InterestFriendship)); !errors.Is(err, app.ErrAlreadyPaired) {
		t.Errorf("err = %v, want ErrAlreadyPaired", err)
	}
}

func TestFindMatchUnknownConnection(t *testing.T) {
	o := newTestOrch()
	if _, err := o.FindMatch(context.Background(), "ghost", anywhere(domain.InterestDating)); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("err = %v, want ErrUnknownConnection", err)
	}
}

func TestFindMatchLeavesRoomFirst(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	o.JoinRoom(ctx, "a", "lounge", "u1")
	o.JoinRoom(ctx, "b", "lounge", "u2")

	res, err := o.FindMatch(ctx, "a", anywhere(domain.InterestDating))
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if res.LeftRoom == nil || res.LeftRoom.Room != "lounge" {
		t.Fatalf("LeftRoom = %+v, want lounge teardown", res.LeftRoom)
	}
	if len(res.LeftRoom.Remaining) != 1 || res.LeftRoom.Remaining[0] != "b" {
		t.Errorf("Remaining = %v, want [b]", res.LeftRoom.Remaining)
	}
	if _, ok := o.Registry.RoomOf("a"); ok {
		t.Error("requester must no longer be in a room")
	}
}

func TestSkipRequeuesInitiatorWithLastFilter(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	f := anywhere(domain.InterestStartup)
	o.FindMatch(ctx, "a", f)
	o.FindMatch(ctx, "b", f)

	res := o.EndSession(ctx, "a", ReasonSkip)
	if !res.Ended || res.Peer != "b" || res.Reason != ReasonSkip {
		t.Fatalf("EndSession = %+v, want skip against b", res)
	}
	if res.Rematch != nil {
		t.Fatal("empty pool cannot produce a rematch")
	}
	if !o.Queue.Contains("a") {
		t.Error("skipper must be back in the pool")
	}
	if o.Queue.Contains("b") {
		t.Error("skipped peer must not be requeued")
	}
	if _, paired := o.Sessions.PeerOf("a"); paired {
		t.Error("session must be gone")
	}
}

func TestSkipCanRematchImmediately(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	connect(o, "c", "u1")
	ctx := context.Background()

	f := anywhere(domain.InterestEmployment)
	o.FindMatch(ctx, "a", f)
	o.FindMatch(ctx, "b", f)
	o.FindMatch(ctx, "c", f) // waits while a and b talk

	res := o.EndSession(ctx, "a", ReasonSkip)
	if res.Rematch == nil || !res.Rematch.Matched {
		t.Fatal("skip with a compatible waiter must rematch")
	}
	sids := map[core.ConnID]bool{}
	for _, s := range res.Rematch.Sides {
		sids[s.SID] = true
	}
	if !sids["a"] || !sids["c"] {
		t.Errorf("rematch sides = %v, want a and c", sids)
	}
	if o.Queue.Len() != 0 {
		t.Errorf("pool len = %d, want 0", o.Queue.Len())
	}
}

func TestLeaveEndsWithoutRequeue(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	f := anywhere(domain.InterestDating)
	o.FindMatch(ctx, "a", f)
	o.FindMatch(ctx, "b", f)

	res := o.EndSession(ctx, "b", ReasonLeave)
	if !res.Ended || res.Peer != "a" {
		t.Fatalf("EndSession = %+v, want leave against a", res)
	}
	if o.Queue.Contains("a") || o.Queue.Contains("b") {
		t.Error("leave must not requeue anyone")
	}
}

func TestEndSessionWithoutSession(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	if res := o.EndSession(context.Background(), "a", ReasonSkip); res.Ended {
		t.Error("no session to end, result must be empty")
	}
}

func TestJoinRoomFanout(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "")
	connect(o, "b", "")
	connect(o, "c", "")
	ctx := context.Background()

	o.JoinRoom(ctx, "a", "lounge", "u1")
	o.JoinRoom(ctx, "b", "lounge", "u2")
	res, err := o.JoinRoom(ctx, "c", "lounge", "u9")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if len(res.Others) != 2 {
		t.Fatalf("joiner sees %d members, want 2", len(res.Others))
	}
	if len(res.OtherSIDs) != 2 {
		t.Fatalf("broadcast targets = %v, want the 2 existing members", res.OtherSIDs)
	}
	if res.Joined.ConnectionID != "c" || res.Joined.UserID != "u9" {
		t.Errorf("Joined = %+v, want c/u9", res.Joined)
	}
	// u9 has no stored profile; membership holds anyway with the error marker.
	if res.Joined.Error != "profile not found" {
		t.Errorf("Joined.Error = %q, want profile not found", res.Joined.Error)
	}
	if res.Others[0].Name != "Ann" {
		t.Errorf("first member dto = %+v, want Ann's metadata", res.Others[0])
	}
}

func TestJoinRoomTearsDownSession(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	f := anywhere(domain.InterestFriendship)
	o.FindMatch(ctx, "a", f)
	o.FindMatch(ctx, "b", f)

	res, err := o.JoinRoom(ctx, "a", "lounge", "u1")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if !res.HadSession || res.SessionPeer != "b" {
		t.Fatalf("join result = %+v, want session against b torn down", res)
	}
	if _, paired := o.Sessions.PeerOf("b"); paired {
		t.Error("peer's session must be gone too")
	}
}

func TestJoinRoomMovesBetweenRooms(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "")
	connect(o, "b", "")
	ctx := context.Background()

	o.JoinRoom(ctx, "a", "red", "u1")
	o.JoinRoom(ctx, "b", "red", "u2")

	res, _ := o.JoinRoom(ctx, "a", "blue", "u1")
	if res.LeftRoom == nil || res.LeftRoom.Room != "red" {
		t.Fatalf("LeftRoom = %+v, want red teardown", res.LeftRoom)
	}
	if roomID, _ := o.Registry.RoomOf("a"); roomID != "blue" {
		t.Errorf("room of a = %q, want blue", roomID)
	}
}

func TestLastLeaverStopsRoom(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "")
	ctx := context.Background()

	o.JoinRoom(ctx, "a", "lounge", "u1")
	res := o.LeaveRoom("a")
	if !res.Left || len(res.Remaining) != 0 {
		t.Fatalf("LeaveRoom = %+v, want empty remaining", res)
	}
	if _, ok := o.Rooms.Get("lounge"); ok {
		t.Error("empty room must be stopped")
	}
}

func TestDisconnectCascade(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	f := anywhere(domain.InterestDating)
	o.FindMatch(ctx, "a", f)
	o.FindMatch(ctx, "b", f)

	res := o.Disconnect("a", nil)
	if !res.Found || !res.HadSession || res.SessionPeer != "b" {
		t.Fatalf("Disconnect = %+v, want session teardown against b", res)
	}
	if _, paired := o.Sessions.PeerOf("b"); paired {
		t.Error("peer must be unpaired")
	}
	if o.Registry.Len() != 1 {
		t.Errorf("registry len = %d, want only b left", o.Registry.Len())
	}

	// Second disconnect is a no-op race, not an error.
	if again := o.Disconnect("a", nil); again.Found {
		t.Error("repeated disconnect must report not found")
	}
}

func TestDisconnectWhileWaiting(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	o.FindMatch(ctx, "a", anywhere(domain.InterestDating))
	res := o.Disconnect("a", nil)
	if !res.WasWaiting {
		t.Error("disconnect must report the dropped pool entry")
	}

	// The departed entry can never be matched afterwards.
	got, _ := o.FindMatch(ctx, "b", anywhere(domain.InterestDating))
	if got.Matched {
		t.Error("disconnected waiter must not be matched")
	}
}

func TestCandidateCannotLandOnEndedSession(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	f := anywhere(domain.InterestDating)
	o.FindMatch(ctx, "a", f)
	o.FindMatch(ctx, "b", f)

	if _, buffered, ok := o.SessionCandidate("a", webrtc.ICECandidateInit{Candidate: "c1"}); !ok || !buffered {
		t.Fatalf("SessionCandidate = buffered %v ok %v, want buffered on the fresh link", buffered, ok)
	}

	o.EndSession(ctx, "a", ReasonLeave)
	if _, _, ok := o.SessionCandidate("a", webrtc.ICECandidateInit{Candidate: "c2"}); ok {
		t.Error("candidate after session teardown must be dropped")
	}

	// The same pair matches again: the old buffer must not leak into the
	// new handshake's first flush.
	o.FindMatch(ctx, "a", f)
	o.FindMatch(ctx, "b", f)
	if got := o.DescriptionForwarded("a", "b"); len(got) != 0 {
		t.Errorf("first flush replayed %v, want nothing", got)
	}
}

func TestRoomCandidateRequiresMembership(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "")
	connect(o, "b", "")
	ctx := context.Background()

	o.JoinRoom(ctx, "a", "lounge", "u1")
	o.JoinRoom(ctx, "b", "lounge", "u2")

	if buffered, ok := o.RoomCandidate("a", "b", webrtc.ICECandidateInit{Candidate: "c1"}); !ok || !buffered {
		t.Fatalf("RoomCandidate = buffered %v ok %v, want buffered for co-members", buffered, ok)
	}

	o.LeaveRoom("a")
	if _, ok := o.RoomCandidate("a", "b", webrtc.ICECandidateInit{Candidate: "c2"}); ok {
		t.Error("candidate after leaving the room must be dropped")
	}
}

type taggedConn struct {
	fakeConn
	tag int
}

func TestDisconnectIgnoresStaleTransport(t *testing.T) {
	o := newTestOrch()
	old := taggedConn{tag: 1}
	o.Registry.Bind("a", old, nil)
	connect(o, "b", "u2")
	ctx := context.Background()

	// Reconnect rebinds the record; the old transport's late teardown
	// arrives afterwards.
	neu := taggedConn{tag: 2}
	o.Registry.Bind("a", neu, nil)
	o.Registry.BindUser("a", "u1")
	f := anywhere(domain.InterestDating)
	o.FindMatch(ctx, "a", f)
	o.FindMatch(ctx, "b", f)

	if res := o.Disconnect("a", old); res.Found {
		t.Fatal("stale transport must not tear down the rebound record")
	}
	if _, ok := o.Registry.Conn("a"); !ok {
		t.Error("rebound record lost")
	}
	if _, paired := o.Sessions.PeerOf("a"); !paired {
		t.Error("live session torn down by the stale transport")
	}

	if res := o.Disconnect("a", neu); !res.Found {
		t.Error("owning transport must still be able to disconnect")
	}
}

func TestRoomPeerGate(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "")
	connect(o, "b", "")
	connect(o, "x", "")
	ctx := context.Background()

	o.JoinRoom(ctx, "a", "lounge", "u1")
	o.JoinRoom(ctx, "b", "lounge", "u2")
	o.JoinRoom(ctx, "x", "other", "u2")

	if !o.RoomPeer("a", "b") {
		t.Error("co-members must pass the gate")
	}
	if o.RoomPeer("a", "x") {
		t.Error("member of another room must not pass")
	}
	if o.RoomPeer("ghost", "b") {
		t.Error("roomless sender must not pass")
	}
}

func TestConcurrentFindMatchNeverDoubleMatches(t *testing.T) {
	o := newTestOrch()
	ctx := context.Background()
	const n = 20

	sids := make([]core.ConnID, n)
	for i := range sids {
		sids[i] = core.ConnID(string(rune('a' + i)))
		connect(o, sids[i], "u1")
	}

	var wg sync.WaitGroup
	for _, sid := range sids {
		wg.Add(1)
		go func(sid core.ConnID) {
			defer wg.Done()
			if _, err := o.FindMatch(ctx, sid, anywhere(domain.InterestFriendship)); err != nil {
				t.Errorf("FindMatch(%s): %v", sid, err)
			}
		}(sid)
	}
	wg.Wait()

	// Every connection ends up either paired or waiting, never both, and
	// pairings are mutual.
	paired := 0
	for _, sid := range sids {
		peer, ok := o.Sessions.PeerOf(sid)
		if ok {
			paired++
			if o.Queue.Contains(sid) {
				t.Errorf("%s is paired and waiting at once", sid)
			}
			if back, _ := o.Sessions.PeerOf(peer); back != sid {
				t.Errorf("%s paired with %s, but %s points at %s", sid, peer, peer, back)
			}
		} else if !o.Queue.Contains(sid) {
			t.Errorf("%s is neither paired nor waiting", sid)
		}
	}
	if paired%2 != 0 {
		t.Errorf("paired count = %d, want even", paired)
	}
	if o.Sessions.Len() != paired/2 {
		t.Errorf("session map len = %d, want %d", o.Sessions.Len(), paired/2)
	}
}

func TestPeerProfile(t *testing.T) {
	o := newTestOrch()
	connect(o, "a", "u1")
	connect(o, "b", "u2")
	ctx := context.Background()

	f := anywhere(domain.InterestDating)
	o.FindMatch(ctx, "a", f)
	o.FindMatch(ctx, "b", f)

	p, errMsg, ok := o.PeerProfile(ctx, "a")
	if !ok || errMsg != "" || p == nil || p.Name != "Bob" {
		t.Errorf("PeerProfile = %+v/%q/%v, want Bob", p, errMsg, ok)
	}
	if _, _, ok := o.PeerProfile(ctx, "ghost"); ok {
		t.Error("no session, no profile")
	}
}
