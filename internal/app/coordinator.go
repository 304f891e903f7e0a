package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Coordinator runs the room protocol. All operations are serialized by one
// mutex, so check-then-set sequences (fullness, collisions) cannot interleave.
// Every operation both notifies the caller over the registry and returns the
// outcome, so it can be exercised without a transport.
type Coordinator struct {
	Registry   *Registry
	Rooms      *RoomTable
	Events     core.EventPublisher
	MaxCodeLen int
	Now        func() time.Time

	mu sync.Mutex
}

func NewCoordinator(reg *Registry, rooms *RoomTable) *Coordinator {
	return &Coordinator{
		Registry:   reg,
		Rooms:      rooms,
		Events:     core.NopPublisher{},
		MaxCodeLen: domain.DefaultMaxRoomCodeLen,
		Now:        time.Now,
	}
}

func (c *Coordinator) logger(id domain.ConnID, code domain.RoomCode) *zerolog.Logger {
	l := log.With().Str("module", "app.coordinator").Str("conn", string(id))
	if code != "" {
		l = l.Str("room", string(code))
	}
	lg := l.Logger()
	return &lg
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// CreateRoom allocates a pending room with id as initiator. A colliding code
// is rejected with ErrRoomExists rather than orphaning the first creator.
func (c *Coordinator) CreateRoom(id domain.ConnID, code domain.RoomCode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger := c.logger(id, code)

	if err := c.checkCaller(id, code); err != nil {
		logger.Info().Err(err).Msg("create rejected")
		c.reject(id, core.EventCreateError, err)
		return err
	}
	if _, err := c.Rooms.Create(code, id, c.now()); err != nil {
		logger.Info().Err(err).Msg("create rejected")
		c.reject(id, core.EventCreateError, err)
		return err
	}
	if err := c.Registry.JoinTransportGroup(id, code); err != nil {
		c.Rooms.Delete(code)
		logger.Warn().Err(err).Msg("create rolled back")
		return err
	}

	logger.Info().Msg("room created")
	c.sendTo(id, core.Envelope{Type: core.EventRoomCreated, Room: code})
	c.publish(core.LifecycleEvent{Kind: core.LifecycleCreated, Room: code, Conn: id})
	return nil
}

// JoinRoom fills the receiver slot. Preconditions are checked in order:
// the room must exist, then it must not be full.
func (c *Coordinator) JoinRoom(id domain.ConnID, code domain.RoomCode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger := c.logger(id, code)

	if err := c.checkCaller(id, code); err != nil {
		logger.Info().Err(err).Msg("join rejected")
		c.reject(id, core.EventJoinError, err)
		return err
	}
	if _, err := c.Rooms.Fill(code, id, c.now()); err != nil {
		logger.Info().Err(err).Msg("join rejected")
		c.reject(id, core.EventJoinError, err)
		return err
	}
	if err := c.Registry.JoinTransportGroup(id, code); err != nil {
		// The receiver slot is never reassigned, so the rendezvous is over.
		logger.Warn().Err(err).Msg("join failed after fill, closing room")
		c.closeRoom(code, id, core.Envelope{Type: core.EventPeerDisconnected}, core.CloseDisconnect)
		return err
	}

	logger.Info().Msg("joined room")
	c.sendTo(id, core.Envelope{Type: core.EventJoinedRoom, Room: code})
	if n := c.Registry.SendToRoomExcept(code, id, core.Envelope{Type: core.EventPeerJoined, Room: code}); n == 0 {
		logger.Warn().Msg("initiator unreachable for peer-joined")
	}
	c.publish(core.LifecycleEvent{Kind: core.LifecycleJoined, Room: code, Conn: id})
	return nil
}

// Signal forwards data verbatim to the other member. Stale rooms and
// non-members are dropped and only logged; the sender is never told.
func (c *Coordinator) Signal(id domain.ConnID, code domain.RoomCode, data json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger := c.logger(id, code)

	room, ok := c.Rooms.Get(code)
	if !ok {
		logger.Debug().Msg("stale signal dropped")
		return domain.ErrStaleSignal
	}
	if !room.Has(id) {
		logger.Warn().Msg("signal from non-member dropped")
		return domain.ErrNotMember
	}
	n := c.Registry.SendToRoomExcept(code, id, core.Envelope{Type: core.EventSignal, Data: data})
	logger.Debug().Int("bytes", len(data)).Int("sent_to", n).Msg("signal relayed")
	return nil
}

// Leave closes the caller's room without closing its connection.
func (c *Coordinator) Leave(id domain.ConnID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	code, ok := c.Registry.RoomOf(id)
	if !ok {
		return domain.ErrNotInRoom
	}
	c.closeRoom(code, id, core.Envelope{Type: core.EventPeerDisconnected}, core.CloseLeave)
	c.sendTo(id, core.Envelope{Type: core.EventLeftRoom, Room: code})
	c.logger(id, code).Info().Msg("left room")
	return nil
}

// Disconnect unregisters id and tears down its room, telling the other
// member. Calling it twice returns ErrAlreadyRemoved and notifies nobody.
func (c *Coordinator) Disconnect(id domain.ConnID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	codes, err := c.Registry.Unregister(id)
	if err != nil {
		c.logger(id, "").Debug().Err(err).Msg("disconnect ignored")
		return err
	}
	for _, code := range codes {
		c.closeRoom(code, id, core.Envelope{Type: core.EventPeerDisconnected}, core.CloseDisconnect)
	}
	return nil
}

// Drain waits until every registered connection has been through Disconnect,
// including the lifecycle events it publishes.
func (c *Coordinator) Drain(ctx context.Context) error {
	if err := c.Registry.WaitEmpty(ctx); err != nil {
		return err
	}
	// The last Disconnect unregisters under c.mu and publishes before releasing it.
	c.mu.Lock()
	defer c.mu.Unlock()
	return nil
}

// SweepIdle closes pending rooms older than ttl and tells their initiators.
// Active rooms are left alone.
func (c *Coordinator) SweepIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := c.Rooms.PendingBefore(c.now().Add(-ttl))
	for _, code := range expired {
		c.closeRoom(code, "", core.Envelope{Type: core.EventRoomExpired, Room: code}, core.CloseExpired)
	}
	if len(expired) > 0 {
		log.Info().Str("module", "app.coordinator").Int("count", len(expired)).Msg("expired idle rooms")
	}
	return len(expired)
}

// RunJanitor sweeps idle rooms every interval until ctx is done.
func (c *Coordinator) RunJanitor(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.coordinator").Msg("janitor stopped")
			return
		case <-ticker.C:
			c.SweepIdle(ttl)
		}
	}
}

func (c *Coordinator) Stats() core.Stats {
	pending, active := c.Rooms.Counts()
	return core.Stats{
		Connections: c.Registry.Count(),
		Rooms:       pending + active,
		Pending:     pending,
		Active:      active,
	}
}

func (c *Coordinator) checkCaller(id domain.ConnID, code domain.RoomCode) error {
	if err := domain.ValidateRoomCode(code, c.MaxCodeLen); err != nil {
		return err
	}
	if !c.Registry.Live(id) {
		return domain.ErrUnreachablePeer
	}
	if _, ok := c.Registry.RoomOf(id); ok {
		return domain.ErrAlreadyInRoom
	}
	return nil
}

// closeRoom deletes the room, notifies everyone in its group except by, then
// dissolves the group. Callers hold c.mu.
func (c *Coordinator) closeRoom(code domain.RoomCode, by domain.ConnID, notice core.Envelope, reason core.CloseReason) {
	room, ok := c.Rooms.Delete(code)
	if !ok {
		return
	}
	logger := c.logger(by, code)
	if by != "" && !room.Has(by) {
		logger.Warn().Msg("closing room on behalf of non-member")
	}
	n := c.Registry.SendToRoomExcept(code, by, notice)
	c.Registry.DropGroup(code)
	ev := logger.Info().Str("reason", string(reason)).Int("members", len(room.Members())).Int("notified", n)
	if peer, ok := room.Other(by); ok {
		ev = ev.Str("peer", string(peer))
	}
	ev.Msg("room closed")
	c.publish(core.LifecycleEvent{Kind: core.LifecycleClosed, Room: code, Conn: by, Reason: reason})
}

func (c *Coordinator) reject(id domain.ConnID, event core.EventType, err error) {
	if errors.Is(err, domain.ErrUnreachablePeer) {
		return
	}
	c.sendTo(id, core.Envelope{Type: event, Error: ClientMessage(err)})
}

func (c *Coordinator) sendTo(id domain.ConnID, env core.Envelope) {
	if err := c.Registry.SendTo(id, env); err != nil {
		c.logger(id, env.Room).Debug().Err(err).Str("event", string(env.Type)).Msg("notification dropped")
	}
}

func (c *Coordinator) publish(ev core.LifecycleEvent) {
	if c.Events == nil {
		return
	}
	ev.At = c.now()
	if err := c.Events.Publish(context.Background(), ev); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("kind", string(ev.Kind)).Msg("publish lifecycle event")
	}
}

// ClientMessage is the human-readable text sent in join-error/create-error.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, domain.ErrRoomFull):
		return "Room is full"
	case errors.Is(err, domain.ErrRoomExists):
		return "Room already exists"
	case errors.Is(err, domain.ErrAlreadyInRoom):
		return "Already in a room"
	case errors.Is(err, domain.ErrInvalidRoomCode):
		return "Invalid room code"
	case errors.Is(err, domain.ErrRateLimited):
		return "Too many attempts"
	default:
		return err.Error()
	}
}
