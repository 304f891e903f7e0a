package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit      int64
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	AllowedOrigins []string
	RateAttempts   int
	RateInterval   time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    64 * 1024,
		SendBuffer:   64,
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		PingPeriod:   54 * time.Second,
		RateAttempts: 20,
		RateInterval: time.Minute,
	}
}

type SignalWSController struct {
	Coord   *app.Coordinator
	Limiter *RoomRateLimiter

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(coord *app.Coordinator, opts Options) *SignalWSController {
	ctl := &SignalWSController{
		Coord:   coord,
		Limiter: NewRoomRateLimiter(opts.RateAttempts, opts.RateInterval),
		opts:    opts,
	}
	ctl.upgrader = websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)}
	return ctl
}

// originChecker allows every origin when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// WsSignalConn implements core.SignalConnection over a websocket. Frames are
// queued on a bounded channel and written by a single writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
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

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.ConnID(uuid.NewString())
	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Coord.Registry.Register(id, conn, cancel); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("register")
		cancel()
		conn.Close()
		return
	}
	log.Info().
		Str("module", "signal").
		Str("conn", string(id)).
		Str("client", c.GetString("client_token")).
		Str("remote", c.ClientIP()).
		Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
