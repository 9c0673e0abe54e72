package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/app/orch"
	"github.com/dkeye/Mingle/internal/core"
	"github.com/dkeye/Mingle/internal/domain"
)

func (ctl *SignalWSController) handleJoinRoom(
	ctx context.Context,
	sid core.ConnID,
	conn core.SignalConnection,
	data []byte,
) {
	type joinRoomPayload struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId" validate:"required"`
		UserID string `json:"userId" validate:"required"`
	}
	var p joinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join-room payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}

	res, err := ctl.Orch.JoinRoom(ctx, sid, domain.RoomID(p.RoomID), domain.UserID(p.UserID))
	if err != nil {
		ctl.sendError(conn, "unknown connection")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Msg("joined room")

	if res.HadSession {
		ctl.sendTo(res.SessionPeer, typeOnlyEvent{Type: "peer-left"})
	}
	ctl.fanoutRoomLeave(res.LeftRoom, sid, "user-left")

	ctl.sendJSON(conn, struct {
		Type  string           `json:"type"`
		Users []core.MemberDTO `json:"users"`
	}{Type: "room-users", Users: res.Others})

	joined := struct {
		Type string `json:"type"`
		core.MemberDTO
	}{Type: "user-joined", MemberDTO: res.Joined}
	for _, other := range res.OtherSIDs {
		ctl.sendTo(other, joined)
	}
}

// handleRoomDescription relays a directed offer or answer inside the
// sender's room. Existing members offer toward newcomers, newcomers answer;
// either way the forwarded description readies the link and flushes its
// pending candidates.
func (ctl *SignalWSController) handleRoomDescription(
	sid core.ConnID,
	conn core.SignalConnection,
	data []byte,
	kind string,
) {
	type roomSDPPayload struct {
		Type   string `json:"type"`
		SDP    string `json:"sdp" validate:"required"`
		Target string `json:"targetConnectionId" validate:"required"`
	}
	var p roomSDPPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad room sdp payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}

	target := core.ConnID(p.Target)
	if !ctl.Orch.RoomPeer(sid, target) {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).
			Str("target", p.Target).Str("kind", kind).Msg("stale room target, dropping")
		return
	}

	ctl.sendTo(target, struct {
		Type string      `json:"type"`
		SDP  string      `json:"sdp"`
		From core.ConnID `json:"from"`
	}{Type: kind, SDP: p.SDP, From: sid})

	for _, cand := range ctl.Orch.DescriptionForwarded(sid, target) {
		ctl.sendCandidate(target, "room-ice-candidate", sid, cand)
	}
}

func (ctl *SignalWSController) handleRoomCandidate(
	sid core.ConnID,
	conn core.SignalConnection,
	data []byte,
) {
	type roomCandidatePayload struct {
		Type          string  `json:"type"`
		Candidate     string  `json:"candidate" validate:"required"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
		Target        string  `json:"targetConnectionId" validate:"required"`
	}
	var p roomCandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad room candidate payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}

	target := core.ConnID(p.Target)
	cand := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}

	buffered, ok := ctl.Orch.RoomCandidate(sid, target, cand)
	if !ok {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).
			Str("target", p.Target).Msg("stale room target, dropping")
		return
	}
	if !buffered {
		ctl.sendCandidate(target, "room-ice-candidate", sid, cand)
	}
}

func (ctl *SignalWSController) handleCutCall(sid core.ConnID) {
	lr := ctl.Orch.LeaveRoom(sid)
	ctl.fanoutRoomLeave(&lr, sid, "call-ended")
}

func (ctl *SignalWSController) handleLeaveRoom(sid core.ConnID) {
	lr := ctl.Orch.LeaveRoom(sid)
	ctl.fanoutRoomLeave(&lr, sid, "user-left")
}

func (ctl *SignalWSController) handleToggleMic(
	sid core.ConnID,
	conn core.SignalConnection,
	data []byte,
) {
	type toggleMicPayload struct {
		Type    string `json:"type"`
		IsMuted bool   `json:"isMuted"`
	}
	var p toggleMicPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad toggle-mic payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	peers, ok := ctl.Orch.ToggleMic(sid, p.IsMuted)
	if !ok {
		return
	}
	ev := struct {
		Type         string      `json:"type"`
		ConnectionID core.ConnID `json:"connectionId"`
		IsMuted      bool        `json:"isMuted"`
	}{Type: "peer-mic-toggled", ConnectionID: sid, IsMuted: p.IsMuted}
	for _, peer := range peers {
		ctl.sendTo(peer, ev)
	}
}

// fanoutRoomLeave tells the remaining members that sid is gone.
func (ctl *SignalWSController) fanoutRoomLeave(lr *orch.LeaveResult, sid core.ConnID, kind string) {
	if lr == nil || !lr.Left {
		return
	}
	ev := struct {
		Type         string      `json:"type"`
		ConnectionID core.ConnID `json:"connectionId"`
	}{Type: kind, ConnectionID: sid}
	for _, member := range lr.Remaining {
		ctl.sendTo(member, ev)
	}
}
