package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/Mingle/internal/core"
)

type typeOnlyEvent struct {
	Type string `json:"type"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.handleDisconnect(sid, c)
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	lim := rate.NewLimiter(rate.Limit(20), 40)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			if !lim.Allow() {
				log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("rate limit hit, closing")
				return
			}
			ctl.dispatch(ctx, sid, c, data)
		}
	}
}

func (ctl *SignalWSController) dispatch(ctx context.Context, sid core.ConnID, c core.SignalConnection, data []byte) {
	// A fault in one handler must never take down the pumps or other
	// connections; the sender just gets a generic error.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("module", "signal").Str("sid", string(sid)).Msg("handler panic")
			ctl.sendError(c, "internal error")
		}
	}()

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case "register-user":
		ctl.handleRegisterUser(sid, c, data)
	case "find-match":
		ctl.handleFindMatch(ctx, sid, c, data)
	case "offer", "answer":
		ctl.handleDescription(sid, c, data, env.Type)
	case "ice-candidate":
		ctl.handleCandidate(sid, c, data)
	case "like":
		ctl.handleLike(ctx, sid, c)
	case "skip":
		ctl.handleSkip(ctx, sid)
	case "leave":
		ctl.handleLeave(ctx, sid)
	case "join-room":
		ctl.handleJoinRoom(ctx, sid, c, data)
	case "room-offer", "room-answer":
		ctl.handleRoomDescription(sid, c, data, env.Type)
	case "room-ice-candidate":
		ctl.handleRoomCandidate(sid, c, data)
	case "cut-call":
		ctl.handleCutCall(sid)
	case "toggle-mic":
		ctl.handleToggleMic(sid, c, data)
	case "leave-room":
		ctl.handleLeaveRoom(sid)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// sendTo delivers to another connection by id. Unknown targets are a
// silent drop; the peer likely already left.
func (ctl *SignalWSController) sendTo(sid core.ConnID, v any) {
	conn, ok := ctl.Orch.Registry.Conn(sid)
	if !ok {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("sendTo: no connection")
		return
	}
	ctl.sendJSON(conn, v)
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, msg string) {
	ctl.sendJSON(c, errorEvent{Type: "error", Error: msg})
}
