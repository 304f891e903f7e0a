package signal

import (
	"errors"

	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/rs/zerolog/log"
)

// Rejections are already reported to the caller by the coordinator; the
// handlers only add rate limiting in front of it.

func (ctl *SignalWSController) handleCreate(id domain.ConnID, env core.Envelope) {
	if !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("create rate limited")
		ctl.send(id, core.Envelope{Type: core.EventCreateError, Error: app.ClientMessage(domain.ErrRateLimited)})
		return
	}
	_ = ctl.Coord.CreateRoom(id, env.Room)
}

func (ctl *SignalWSController) handleJoin(id domain.ConnID, env core.Envelope) {
	if !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("join rate limited")
		ctl.send(id, core.Envelope{Type: core.EventJoinError, Error: app.ClientMessage(domain.ErrRateLimited)})
		return
	}
	_ = ctl.Coord.JoinRoom(id, env.Room)
}

// handleRelay passes the payload on untouched. Stale or foreign signals are
// dropped silently; the coordinator logs them.
func (ctl *SignalWSController) handleRelay(id domain.ConnID, env core.Envelope) {
	_ = ctl.Coord.Signal(id, env.Room, env.Data)
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(id domain.ConnID) {
	if err := ctl.Coord.Leave(id); err != nil {
		if errors.Is(err, domain.ErrNotInRoom) {
			ctl.sendError(id, "Not in a room")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("leave")
	}
}
