package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/app"
	"github.com/dkeye/Mingle/internal/app/orch"
	"github.com/dkeye/Mingle/internal/core"
	"github.com/dkeye/Mingle/internal/domain"
)

func (ctl *SignalWSController) handleRegisterUser(
	sid core.ConnID,
	conn core.SignalConnection,
	data []byte,
) {
	type registerPayload struct {
		Type   string `json:"type"`
		UserID string `json:"userId" validate:"required"`
	}
	var p registerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad register payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.RegisterUser(sid, domain.UserID(p.UserID)); err != nil {
		ctl.sendError(conn, "unknown connection")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", p.UserID).Msg("user registered")
}

func (ctl *SignalWSController) handleFindMatch(
	ctx context.Context,
	sid core.ConnID,
	conn core.SignalConnection,
	data []byte,
) {
	type findMatchPayload struct {
		Type         string `json:"type"`
		Interest     string `json:"interest" validate:"required,oneof=dating startup employment friendship"`
		LocationType string `json:"locationType" validate:"required,oneof=anywhere nearby"`
		State        string `json:"state" validate:"required_if=LocationType nearby"`
		Country      string `json:"country" validate:"required_if=LocationType nearby"`
	}
	var p findMatchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad find-match payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}

	filter := domain.MatchFilter{
		Interest: domain.Interest(p.Interest),
		Location: domain.LocationMode(p.LocationType),
		Region:   domain.Region{State: p.State, Country: p.Country},
	}
	res, err := ctl.Orch.FindMatch(ctx, sid, filter)
	if err != nil {
		if errors.Is(err, app.ErrAlreadyPaired) {
			ctl.sendError(conn, "already in session")
		} else {
			ctl.sendError(conn, "unknown connection")
		}
		return
	}
	ctl.fanoutRoomLeave(res.LeftRoom, sid, "user-left")
	if res.Matched {
		ctl.emitMatch(res)
	}
	// Queued: nothing to say, the client waits for match-found.
}

type matchFoundEvent struct {
	Type             string          `json:"type"`
	PeerConnectionID core.ConnID     `json:"peerConnectionId"`
	Offerer          bool            `json:"offerer"`
	Profile          *domain.Profile `json:"profile,omitempty"`
	Error            string          `json:"error,omitempty"`
}

func (ctl *SignalWSController) emitMatch(res orch.MatchResult) {
	for _, side := range res.Sides {
		ctl.sendTo(side.SID, matchFoundEvent{
			Type:             "match-found",
			PeerConnectionID: side.Peer,
			Offerer:          side.Offerer,
			Profile:          side.Profile,
			Error:            side.LookupErr,
		})
	}
}

// handleDescription relays an offer or answer to the session peer and
// flushes any candidates that were waiting for it.
func (ctl *SignalWSController) handleDescription(
	sid core.ConnID,
	conn core.SignalConnection,
	data []byte,
	kind string,
) {
	type sdpPayload struct {
		Type string `json:"type"`
		SDP  string `json:"sdp" validate:"required"`
	}
	var p sdpPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad sdp payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}

	peer, ok := ctl.Orch.SessionPeer(sid)
	if !ok {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("kind", kind).Msg("no active session, dropping")
		return
	}

	sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(kind), SDP: p.SDP}
	ctl.sendTo(peer, struct {
		Type string      `json:"type"`
		SDP  string      `json:"sdp"`
		From core.ConnID `json:"from"`
	}{Type: sd.Type.String(), SDP: sd.SDP, From: sid})

	for _, cand := range ctl.Orch.DescriptionForwarded(sid, peer) {
		ctl.sendCandidate(peer, "ice-candidate", sid, cand)
	}
}

func (ctl *SignalWSController) handleCandidate(
	sid core.ConnID,
	conn core.SignalConnection,
	data []byte,
) {
	cand, ok := parseCandidate(conn, ctl, data)
	if !ok {
		return
	}
	peer, buffered, ok := ctl.Orch.SessionCandidate(sid, cand)
	if !ok {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("candidate: no active session, dropping")
		return
	}
	if !buffered {
		ctl.sendCandidate(peer, "ice-candidate", sid, cand)
	}
}

func (ctl *SignalWSController) handleLike(ctx context.Context, sid core.ConnID, conn core.SignalConnection) {
	p, errMsg, ok := ctl.Orch.PeerProfile(ctx, sid)
	if !ok {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("like: no active session, dropping")
		return
	}
	ctl.sendJSON(conn, struct {
		Type    string          `json:"type"`
		Profile *domain.Profile `json:"profile,omitempty"`
		Error   string          `json:"error,omitempty"`
	}{Type: "peer-profile", Profile: p, Error: errMsg})
}

func (ctl *SignalWSController) handleSkip(ctx context.Context, sid core.ConnID) {
	res := ctl.Orch.EndSession(ctx, sid, orch.ReasonSkip)
	if !res.Ended {
		return
	}
	ctl.sendTo(res.Peer, typeOnlyEvent{Type: "skip"})
	if res.Rematch != nil {
		ctl.emitMatch(*res.Rematch)
	}
}

func (ctl *SignalWSController) handleLeave(ctx context.Context, sid core.ConnID) {
	res := ctl.Orch.EndSession(ctx, sid, orch.ReasonLeave)
	if !res.Ended {
		return
	}
	ctl.sendTo(res.Peer, typeOnlyEvent{Type: "peer-left"})
}

// candidateEvent mirrors ICECandidateInit: sdpMid and sdpMLineIndex pass
// through as received, an omitted field stays omitted and a zero index
// stays a zero index.
type candidateEvent struct {
	Type          string      `json:"type"`
	Candidate     string      `json:"candidate"`
	SDPMid        *string     `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16     `json:"sdpMLineIndex,omitempty"`
	From          core.ConnID `json:"from"`
}

func (ctl *SignalWSController) sendCandidate(to core.ConnID, kind string, from core.ConnID, ci webrtc.ICECandidateInit) {
	ctl.sendTo(to, candidateEvent{
		Type:          kind,
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
		From:          from,
	})
}

func parseCandidate(conn core.SignalConnection, ctl *SignalWSController, data []byte) (webrtc.ICECandidateInit, bool) {
	type candidatePayload struct {
		Type          string  `json:"type"`
		Candidate     string  `json:"candidate" validate:"required"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(conn, "bad_payload")
		return webrtc.ICECandidateInit{}, false
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return webrtc.ICECandidateInit{}, false
	}

	return webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}, true
}
