package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	Room   domain.RoomCode
}

// Registry tracks live connections, the room each one belongs to and the
// per-room delivery groups. It knows nothing about room rules.
type Registry struct {
	mu     sync.RWMutex
	conns  map[domain.ConnID]*connEntry
	groups map[domain.RoomCode]map[domain.ConnID]struct{}
	policy Policy

	drained []chan struct{}
}

func NewRegistry(policy Policy) *Registry {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		conns:  make(map[domain.ConnID]*connEntry),
		groups: make(map[domain.RoomCode]map[domain.ConnID]struct{}),
		policy: policy,
	}
}

func (r *Registry) Register(id domain.ConnID, conn core.SignalConnection, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return domain.ErrDuplicateConn
	}
	r.conns[id] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("live", len(r.conns)).Msg("registered")
	return nil
}

// Unregister forgets the connection and returns the rooms it belonged to
// (zero or one). A second call returns ErrAlreadyRemoved.
func (r *Registry) Unregister(id domain.ConnID) ([]domain.RoomCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[id]
	if !ok {
		return nil, domain.ErrAlreadyRemoved
	}
	delete(r.conns, id)

	var rooms []domain.RoomCode
	if entry.Room != "" {
		r.leaveLocked(id, entry.Room)
		rooms = append(rooms, entry.Room)
	}
	if len(r.conns) == 0 {
		for _, ch := range r.drained {
			close(ch)
		}
		r.drained = nil
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("rooms", len(rooms)).Msg("unregistered")
	return rooms, nil
}

// WaitEmpty blocks until every registered connection has been unregistered
// or ctx is done.
func (r *Registry) WaitEmpty(ctx context.Context) error {
	r.mu.Lock()
	if len(r.conns) == 0 {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	r.drained = append(r.drained, ch)
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) Live(id domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) RoomOf(id domain.ConnID) (domain.RoomCode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[id]
	if !ok || entry.Room == "" {
		return "", false
	}
	return entry.Room, true
}

// JoinTransportGroup makes id reachable through SendToRoomExcept(code, ...).
func (r *Registry) JoinTransportGroup(id domain.ConnID, code domain.RoomCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[id]
	if !ok {
		return domain.ErrUnreachablePeer
	}
	if entry.Room != "" && entry.Room != code {
		return domain.ErrAlreadyInRoom
	}
	g, ok := r.groups[code]
	if !ok {
		g = make(map[domain.ConnID]struct{}, 2)
		r.groups[code] = g
	}
	g[id] = struct{}{}
	entry.Room = code
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(code)).Msg("joined group")
	return nil
}

func (r *Registry) leaveLocked(id domain.ConnID, code domain.RoomCode) {
	g, ok := r.groups[code]
	if !ok {
		return
	}
	delete(g, id)
	if len(g) == 0 {
		delete(r.groups, code)
	}
}

// DropGroup dissolves the group and clears the back-reference of every
// connection still in it.
func (r *Registry) DropGroup(code domain.RoomCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.groups[code] {
		if entry, ok := r.conns[id]; ok && entry.Room == code {
			entry.Room = ""
		}
	}
	delete(r.groups, code)
	log.Debug().Str("module", "app.registry").Str("room", string(code)).Msg("dropped group")
}

// SendTo delivers env to exactly one connection. A missing connection is an
// expected disconnect race: the error is logged by the caller, never fatal.
func (r *Registry) SendTo(id domain.ConnID, env core.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	return r.sendFrame(id, frame)
}

// SendToRoomExcept delivers env to every group member but sender and returns
// how many connections accepted it.
func (r *Registry) SendToRoomExcept(code domain.RoomCode, sender domain.ConnID, env core.Envelope) int {
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("encode envelope")
		return 0
	}

	r.mu.RLock()
	targets := make([]domain.ConnID, 0, len(r.groups[code]))
	for id := range r.groups[code] {
		if id != sender {
			targets = append(targets, id)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, id := range targets {
		if err := r.sendFrame(id, frame); err != nil {
			continue
		}
		sent++
	}
	return sent
}

func (r *Registry) sendFrame(id domain.ConnID, frame core.Frame) error {
	r.mu.RLock()
	entry, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("send to gone connection dropped")
		return domain.ErrUnreachablePeer
	}

	err := entry.Conn.TrySend(frame)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrBackpressure):
		action := r.policy.OnBackPressure(id)
		log.Warn().Str("module", "app.registry").Str("conn", string(id)).Str("action", action.String()).Msg("backpressure")
		if action == KickConnection {
			r.kick(entry)
		}
	default:
		log.Debug().Err(err).Str("module", "app.registry").Str("conn", string(id)).Msg("send failed")
	}
	return err
}

func (r *Registry) kick(entry *connEntry) {
	if entry.Cancel != nil {
		entry.Cancel()
	}
	entry.Conn.Close()
}

// Cancel stops the connection's pumps; cleanup then runs through the normal
// disconnect path.
func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	entry, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	r.kick(entry)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}

func (r *Registry) CancelAll() {
	r.mu.RLock()
	entries := make([]*connEntry, 0, len(r.conns))
	for _, e := range r.conns {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	for _, e := range entries {
		r.kick(e)
	}
	log.Info().Str("module", "app.registry").Int("count", len(entries)).Msg("canceled all connections")
}
