package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump owns the connection lifetime: when it returns, the coordinator is
// told about the disconnect before the transport is released.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id domain.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		if err := ctl.Coord.Disconnect(id); err != nil && !errors.Is(err, domain.ErrAlreadyRemoved) {
			log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("disconnect")
		}
		ctl.Limiter.Forget(id)
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(id, core.Frame(data))
		}
	}
}

func (ctl *SignalWSController) handleSignal(id domain.ConnID, data core.Frame) {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad json")
		ctl.sendError(id, "bad payload")
		return
	}

	switch env.Type {
	case core.EventCreateRoom:
		ctl.handleCreate(id, env)
	case core.EventJoinRoom:
		ctl.handleJoin(id, env)
	case core.EventSignal:
		ctl.handleRelay(id, env)
	case core.EventLeaveRoom:
		ctl.handleLeave(id)
	case core.EventPing:
		ctl.handlePing(id)
	case core.EventWhoAmI:
		ctl.handleWhoAmI(id)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
		ctl.sendError(id, "unknown event")
	}
}

func (ctl *SignalWSController) send(id domain.ConnID, env core.Envelope) {
	if err := ctl.Coord.Registry.SendTo(id, env); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Str("event", string(env.Type)).Msg("send dropped")
	}
}

func (ctl *SignalWSController) sendError(id domain.ConnID, msg string) {
	ctl.send(id, core.Envelope{Type: core.EventError, Error: msg})
}
