package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.LifecycleEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev core.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []core.LifecycleKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.LifecycleKind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestCoordinator() *Coordinator {
	return NewCoordinator(NewRegistry(SimplePolicy{}), NewRoomTable())
}

func TestJoinUnknownRoom(t *testing.T) {
	c := newTestCoordinator()
	b := register(t, c.Registry, "b")

	err := c.JoinRoom("b", "NOPE1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Equal(t, core.Envelope{Type: core.EventJoinError, Error: "Room not found"}, b.last(t))
	assert.Zero(t, c.Stats().Rooms, "a failed join never creates a room")
	_, ok := c.Registry.RoomOf("b")
	assert.False(t, ok)
}

func TestCreateRoomCollisionIsRejected(t *testing.T) {
	c := newTestCoordinator()
	a := register(t, c.Registry, "a")
	b := register(t, c.Registry, "b")

	require.NoError(t, c.CreateRoom("a", "ABCDE"))
	assert.Equal(t, core.Envelope{Type: core.EventRoomCreated, Room: "ABCDE"}, a.last(t))

	err := c.CreateRoom("b", "ABCDE")
	assert.ErrorIs(t, err, domain.ErrRoomExists)
	assert.Equal(t, core.Envelope{Type: core.EventCreateError, Error: "Room already exists"}, b.last(t))

	room, ok := c.Rooms.Get("ABCDE")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("a"), room.Initiator, "first creator keeps the room")
	assert.Len(t, a.envelopes(t), 1, "first creator is not disturbed")
}

func TestThirdJoinerGetsRoomFull(t *testing.T) {
	c := newTestCoordinator()
	register(t, c.Registry, "a")
	register(t, c.Registry, "b")
	cc := register(t, c.Registry, "c")

	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))

	err := c.JoinRoom("c", "R")
	assert.ErrorIs(t, err, domain.ErrRoomFull)
	assert.Equal(t, core.Envelope{Type: core.EventJoinError, Error: "Room is full"}, cc.last(t))

	room, _ := c.Rooms.Get("R")
	assert.ElementsMatch(t, []domain.ConnID{"a", "b"}, room.Members())
}

func TestJoinNotifiesInitiatorOnly(t *testing.T) {
	c := newTestCoordinator()
	a := register(t, c.Registry, "a")
	b := register(t, c.Registry, "b")
	bystander := register(t, c.Registry, "x")

	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))

	assert.Equal(t, []core.EventType{core.EventRoomCreated, core.EventPeerJoined}, a.types(t))
	assert.Equal(t, core.Envelope{Type: core.EventPeerJoined, Room: "R"}, a.last(t))
	assert.Equal(t, []core.EventType{core.EventJoinedRoom}, b.types(t))
	assert.Equal(t, core.Envelope{Type: core.EventJoinedRoom, Room: "R"}, b.last(t))
	assert.Empty(t, bystander.envelopes(t))
}

func TestSignalOrderingAndOpacity(t *testing.T) {
	c := newTestCoordinator()
	a := register(t, c.Registry, "a")
	b := register(t, c.Registry, "b")
	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))
	a.reset()
	b.reset()

	for i := 0; i < 50; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"seq":%d,"candidate":"c%d"}`, i, i))
		require.NoError(t, c.Signal("a", "R", payload))
	}

	got := b.envelopes(t)
	require.Len(t, got, 50)
	for i, env := range got {
		assert.Equal(t, core.EventSignal, env.Type)
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d,"candidate":"c%d"}`, i, i), string(env.Data))
	}
	assert.Empty(t, a.envelopes(t), "sender never receives its own signal")

	require.NoError(t, c.Signal("b", "R", json.RawMessage(`{"type":"answer"}`)))
	assert.JSONEq(t, `{"type":"answer"}`, string(a.last(t).Data))
}

func TestSignalRejections(t *testing.T) {
	c := newTestCoordinator()
	a := register(t, c.Registry, "a")
	register(t, c.Registry, "b")
	outsider := register(t, c.Registry, "x")
	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))
	a.reset()

	err := c.Signal("x", "R", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrNotMember)
	assert.Empty(t, a.envelopes(t))

	err = c.Signal("a", "GONE", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrStaleSignal)
	assert.Empty(t, outsider.envelopes(t), "rejections are not surfaced to the sender")
}

func TestSignalInPendingRoomIsDropped(t *testing.T) {
	c := newTestCoordinator()
	a := register(t, c.Registry, "a")
	require.NoError(t, c.CreateRoom("a", "R"))
	a.reset()

	assert.NoError(t, c.Signal("a", "R", json.RawMessage(`{"type":"offer"}`)))
	assert.Empty(t, a.envelopes(t))
}

func TestDisconnectSymmetry(t *testing.T) {
	for _, leaver := range []domain.ConnID{"a", "b"} {
		t.Run(string(leaver), func(t *testing.T) {
			c := newTestCoordinator()
			conns := map[domain.ConnID]*fakeConn{
				"a": register(t, c.Registry, "a"),
				"b": register(t, c.Registry, "b"),
			}
			late := register(t, c.Registry, "late")
			require.NoError(t, c.CreateRoom("a", "R"))
			require.NoError(t, c.JoinRoom("b", "R"))

			stayer := domain.ConnID("a")
			if leaver == "a" {
				stayer = "b"
			}

			require.NoError(t, c.Disconnect(leaver))
			assert.Equal(t, core.Envelope{Type: core.EventPeerDisconnected}, conns[stayer].last(t))

			_, ok := c.Rooms.Get("R")
			assert.False(t, ok)
			_, ok = c.Registry.RoomOf(stayer)
			assert.False(t, ok, "stayer is free to create a fresh room")

			assert.ErrorIs(t, c.JoinRoom("late", "R"), domain.ErrRoomNotFound)
			assert.Equal(t, "Room not found", late.last(t).Error)
		})
	}
}

func TestDisconnectTwiceNotifiesOnce(t *testing.T) {
	c := newTestCoordinator()
	a := register(t, c.Registry, "a")
	register(t, c.Registry, "b")
	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))
	a.reset()

	require.NoError(t, c.Disconnect("b"))
	assert.ErrorIs(t, c.Disconnect("b"), domain.ErrAlreadyRemoved)
	assert.Equal(t, []core.EventType{core.EventPeerDisconnected}, a.types(t))
}

func TestDisconnectPendingRoom(t *testing.T) {
	c := newTestCoordinator()
	register(t, c.Registry, "a")
	require.NoError(t, c.CreateRoom("a", "R"))

	require.NoError(t, c.Disconnect("a"))
	assert.Zero(t, c.Stats().Rooms)
	assert.Zero(t, c.Registry.Count())
}

func TestSignalAfterDisconnectIsStale(t *testing.T) {
	c := newTestCoordinator()
	register(t, c.Registry, "a")
	register(t, c.Registry, "b")
	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))
	require.NoError(t, c.Disconnect("a"))

	assert.ErrorIs(t, c.Signal("b", "R", json.RawMessage(`{}`)), domain.ErrStaleSignal)
}

func TestAlreadyInRoom(t *testing.T) {
	c := newTestCoordinator()
	a := register(t, c.Registry, "a")
	register(t, c.Registry, "b")
	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.CreateRoom("b", "S"))

	assert.ErrorIs(t, c.CreateRoom("a", "T"), domain.ErrAlreadyInRoom)
	assert.Equal(t, core.Envelope{Type: core.EventCreateError, Error: "Already in a room"}, a.last(t))

	assert.ErrorIs(t, c.JoinRoom("a", "S"), domain.ErrAlreadyInRoom)
	assert.Equal(t, core.EventJoinError, a.last(t).Type)

	room, _ := c.Rooms.Get("S")
	assert.Empty(t, room.Receiver)
}

func TestInvalidRoomCode(t *testing.T) {
	c := newTestCoordinator()
	c.MaxCodeLen = 6
	a := register(t, c.Registry, "a")

	assert.ErrorIs(t, c.CreateRoom("a", ""), domain.ErrInvalidRoomCode)
	assert.ErrorIs(t, c.JoinRoom("a", "TOOLONG"), domain.ErrInvalidRoomCode)
	assert.Equal(t, "Invalid room code", a.last(t).Error)
	assert.Zero(t, c.Stats().Rooms)
}

func TestOperationsFromUnregisteredConnection(t *testing.T) {
	c := newTestCoordinator()
	assert.ErrorIs(t, c.CreateRoom("ghost", "R"), domain.ErrUnreachablePeer)
	assert.Zero(t, c.Stats().Rooms)
}

func TestLeaveKeepsConnection(t *testing.T) {
	c := newTestCoordinator()
	a := register(t, c.Registry, "a")
	b := register(t, c.Registry, "b")
	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))

	require.NoError(t, c.Leave("b"))
	assert.Equal(t, core.Envelope{Type: core.EventPeerDisconnected}, a.last(t))
	assert.Equal(t, core.Envelope{Type: core.EventLeftRoom, Room: "R"}, b.last(t))
	assert.True(t, c.Registry.Live("b"))
	assert.Zero(t, c.Stats().Rooms)

	assert.ErrorIs(t, c.Leave("b"), domain.ErrNotInRoom)
	require.NoError(t, c.CreateRoom("b", "R2"), "leaver can start over")
}

func TestConcurrentJoinersOnlyOneWins(t *testing.T) {
	c := newTestCoordinator()
	register(t, c.Registry, "a")
	require.NoError(t, c.CreateRoom("a", "R"))

	const joiners = 32
	for i := 0; i < joiners; i++ {
		register(t, c.Registry, domain.ConnID(fmt.Sprintf("j%d", i)))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []domain.ConnID
		full int
	)
	for i := 0; i < joiners; i++ {
		id := domain.ConnID(fmt.Sprintf("j%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.JoinRoom(id, "R")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins = append(wins, id)
			} else if assert.ErrorIs(t, err, domain.ErrRoomFull) {
				full++
			}
		}()
	}
	wg.Wait()

	require.Len(t, wins, 1)
	assert.Equal(t, joiners-1, full)
	room, _ := c.Rooms.Get("R")
	assert.Equal(t, wins[0], room.Receiver)
}

func TestConcurrentSignalAndDisconnect(t *testing.T) {
	c := newTestCoordinator()
	register(t, c.Registry, "a")
	register(t, c.Registry, "b")
	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			err := c.Signal("a", "R", json.RawMessage(`{}`))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrStaleSignal)
			}
		}
	}()
	go func() {
		defer wg.Done()
		_ = c.Disconnect("b")
	}()
	wg.Wait()

	assert.Zero(t, c.Stats().Rooms)
}

func TestSweepIdleExpiresPendingOnly(t *testing.T) {
	c := newTestCoordinator()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return now }
	a := register(t, c.Registry, "a")
	register(t, c.Registry, "b")
	register(t, c.Registry, "c")

	require.NoError(t, c.CreateRoom("a", "PEND"))
	require.NoError(t, c.CreateRoom("b", "BUSY"))
	require.NoError(t, c.JoinRoom("c", "BUSY"))

	assert.Zero(t, c.SweepIdle(0), "zero ttl disables expiry")
	assert.Zero(t, c.SweepIdle(time.Minute))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.SweepIdle(time.Minute))
	assert.Equal(t, core.Envelope{Type: core.EventRoomExpired, Room: "PEND"}, a.last(t))

	_, ok := c.Rooms.Get("PEND")
	assert.False(t, ok)
	_, ok = c.Rooms.Get("BUSY")
	assert.True(t, ok)
	_, ok = c.Registry.RoomOf("a")
	assert.False(t, ok)
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	c := newTestCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunJanitor(ctx, time.Minute, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	c := newTestCoordinator()
	pub := &recordingPublisher{}
	c.Events = pub
	register(t, c.Registry, "a")
	register(t, c.Registry, "b")

	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))
	require.NoError(t, c.Disconnect("a"))

	assert.Equal(t, []core.LifecycleKind{core.LifecycleCreated, core.LifecycleJoined, core.LifecycleClosed}, pub.kinds())
	assert.Equal(t, core.CloseDisconnect, pub.events[2].Reason)
}

func TestStats(t *testing.T) {
	c := newTestCoordinator()
	register(t, c.Registry, "a")
	register(t, c.Registry, "b")
	register(t, c.Registry, "c")
	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))
	require.NoError(t, c.CreateRoom("c", "S"))

	assert.Equal(t, core.Stats{Connections: 3, Rooms: 2, Pending: 1, Active: 1}, c.Stats())
}

func TestEndToEndScenario(t *testing.T) {
	c := newTestCoordinator()
	c1 := register(t, c.Registry, "client1")
	c2 := register(t, c.Registry, "client2")
	c3 := register(t, c.Registry, "client3")

	require.NoError(t, c.CreateRoom("client1", "ABCDE"))
	assert.Equal(t, core.Envelope{Type: core.EventRoomCreated, Room: "ABCDE"}, c1.last(t))

	require.NoError(t, c.JoinRoom("client2", "ABCDE"))
	assert.Equal(t, core.Envelope{Type: core.EventJoinedRoom, Room: "ABCDE"}, c2.last(t))
	assert.Equal(t, core.Envelope{Type: core.EventPeerJoined, Room: "ABCDE"}, c1.last(t))

	offer := json.RawMessage(`{"type":"offer","sdp":"..."}`)
	require.NoError(t, c.Signal("client1", "ABCDE", offer))
	got := c2.last(t)
	assert.Equal(t, core.EventSignal, got.Type)
	assert.JSONEq(t, string(offer), string(got.Data))

	require.NoError(t, c.Disconnect("client2"))
	assert.Equal(t, core.Envelope{Type: core.EventPeerDisconnected}, c1.last(t))

	assert.ErrorIs(t, c.JoinRoom("client3", "ABCDE"), domain.ErrRoomNotFound)
	assert.Equal(t, core.Envelope{Type: core.EventJoinError, Error: "Room not found"}, c3.last(t))
}

func TestDrainWaitsForDisconnectEvents(t *testing.T) {
	c := newTestCoordinator()
	pub := &recordingPublisher{}
	c.Events = pub
	register(t, c.Registry, "a")
	register(t, c.Registry, "b")
	register(t, c.Registry, "solo")
	require.NoError(t, c.CreateRoom("a", "R"))
	require.NoError(t, c.JoinRoom("b", "R"))
	require.NoError(t, c.CreateRoom("solo", "P"))

	c.Registry.CancelAll()
	for _, id := range []domain.ConnID{"a", "b", "solo"} {
		go func() { _ = c.Disconnect(id) }()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Drain(ctx))

	closed := 0
	for _, k := range pub.kinds() {
		if k == core.LifecycleClosed {
			closed++
		}
	}
	assert.Equal(t, 2, closed, "both rooms report room-closed before Drain returns")
	assert.Zero(t, c.Stats().Rooms)
}

func TestDrainTimesOut(t *testing.T) {
	c := newTestCoordinator()
	register(t, c.Registry, "a")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Drain(ctx), context.DeadlineExceeded)
}
