package signal

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/app"
	"github.com/dkeye/nyx/internal/config"
	"github.com/dkeye/nyx/internal/core"
)

// SignalWSController serves the relay's WebSocket endpoint.
// One controller is shared by all connections.
type SignalWSController struct {
	Relay   *app.Relay
	Limiter *RegisterRateLimiter

	sendBuffer int
	readLimit  int64
	pingPeriod time.Duration
	active     atomic.Int64
}

func NewSignalWSController(relay *app.Relay, limiter *RegisterRateLimiter, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Relay:      relay,
		Limiter:    limiter,
		sendBuffer: cfg.Relay.SendBuffer,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
	}
}

// Connections returns the number of open signaling connections.
func (ctl *SignalWSController) Connections() int64 {
	return ctl.active.Load()
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
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
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
	sid := c.GetString("client_token")
	id := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", sid).Str("conn", string(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}

	ctl.active.Add(1)
	ctl.Relay.Metrics.ConnOpened()

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}
