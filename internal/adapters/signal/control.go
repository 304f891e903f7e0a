package signal

import (
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
)

func (ctl *SignalWSController) handlePing(id domain.ConnID) {
	ctl.send(id, core.Envelope{Type: core.EventPong})
}

func (ctl *SignalWSController) handleWhoAmI(id domain.ConnID) {
	resp := core.Envelope{Type: core.EventWhoAmI, Conn: id}
	if code, ok := ctl.Coord.Registry.RoomOf(id); ok {
		resp.Room = code
	}
	ctl.send(id, resp)
}
