package app

import (
	"sync"
	"time"

	"github.com/dkeye/Rendezvous/internal/domain"
)

// RoomTable owns the room code -> Room mapping. Every method is atomic on its
// own; the Coordinator serializes multi-step protocol operations on top.
// Readers always get copies.
type RoomTable struct {
	mu    sync.RWMutex
	rooms map[domain.RoomCode]*domain.Room
}

func NewRoomTable() *RoomTable {
	return &RoomTable{rooms: make(map[domain.RoomCode]*domain.Room)}
}

func (t *RoomTable) Get(code domain.RoomCode) (domain.Room, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rooms[code]
	if !ok {
		return domain.Room{}, false
	}
	return *r, true
}

// Create rejects a code that already names a live room.
func (t *RoomTable) Create(code domain.RoomCode, initiator domain.ConnID, now time.Time) (domain.Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rooms[code]; ok {
		return domain.Room{}, domain.ErrRoomExists
	}
	r := domain.NewRoom(code, initiator, now)
	t.rooms[code] = r
	return *r, nil
}

// Fill assigns the receiver slot. Existence is checked before fullness, and
// a filled slot is never reassigned.
func (t *RoomTable) Fill(code domain.RoomCode, receiver domain.ConnID, now time.Time) (domain.Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[code]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if r.Full() {
		return domain.Room{}, domain.ErrRoomFull
	}
	r.Receiver = receiver
	r.JoinedAt = now
	return *r, nil
}

func (t *RoomTable) Delete(code domain.RoomCode) (domain.Room, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[code]
	if !ok {
		return domain.Room{}, false
	}
	delete(t.rooms, code)
	return *r, true
}

// PendingBefore lists rooms still waiting for a receiver that were created
// before cutoff.
func (t *RoomTable) PendingBefore(cutoff time.Time) []domain.RoomCode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.RoomCode
	for code, r := range t.rooms {
		if r.State() == domain.RoomPending && r.CreatedAt.Before(cutoff) {
			out = append(out, code)
		}
	}
	return out
}

func (t *RoomTable) Counts() (pending, active int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.rooms {
		if r.State() == domain.RoomActive {
			active++
		} else {
			pending++
		}
	}
	return pending, active
}
