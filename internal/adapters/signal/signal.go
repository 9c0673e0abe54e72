package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/app/orch"
	"github.com/dkeye/Mingle/internal/config"
	"github.com/dkeye/Mingle/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

var validate = validator.New()

type SignalWSController struct {
	Orch       *orch.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.ConnID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	// A reconnect with the same client token supersedes the old transport.
	// Closing the old socket unblocks its read pump; the pump's own teardown
	// then finds the record rebound and does nothing.
	if old, ok := ctl.Orch.Registry.Conn(sid); ok {
		ctl.Orch.Registry.Cancel(sid)
		old.Close()
		ctl.handleDisconnect(sid, old)
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.Bind(sid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

func (ctl *SignalWSController) handleDisconnect(sid core.ConnID, conn core.SignalConnection) {
	res := ctl.Orch.Disconnect(sid, conn)
	if !res.Found {
		return
	}
	if res.HadSession {
		ctl.sendTo(res.SessionPeer, typeOnlyEvent{Type: "peer-left"})
	}
	ctl.fanoutRoomLeave(res.LeftRoom, sid, "user-left")
	log.Info().Str("module", "signal").Str("sid", string(sid)).
		Bool("was_waiting", res.WasWaiting).Bool("had_session", res.HadSession).
		Msg("disconnect cascade done")
}
