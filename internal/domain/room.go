package domain

import "time"

type (
	RoomCode string
	ConnID   string
)

type RoomState int

const (
	RoomPending RoomState = iota
	RoomActive
)

func (s RoomState) String() string {
	switch s {
	case RoomPending:
		return "pending"
	case RoomActive:
		return "active"
	default:
		return "unknown"
	}
}

// Room is a two-party rendezvous. A closed room is never stored, it is simply
// absent from the table.
type Room struct {
	Code      RoomCode
	Initiator ConnID
	Receiver  ConnID
	CreatedAt time.Time
	JoinedAt  time.Time
}

func NewRoom(code RoomCode, initiator ConnID, now time.Time) *Room {
	return &Room{Code: code, Initiator: initiator, CreatedAt: now}
}

func (r *Room) State() RoomState {
	if r.Receiver == "" {
		return RoomPending
	}
	return RoomActive
}

func (r *Room) Full() bool { return r.Receiver != "" }

func (r *Room) Has(id ConnID) bool {
	return id != "" && (r.Initiator == id || r.Receiver == id)
}

// Other returns the member that is not id, if there is one.
func (r *Room) Other(id ConnID) (ConnID, bool) {
	switch id {
	case r.Initiator:
		return r.Receiver, r.Receiver != ""
	case r.Receiver:
		return r.Initiator, true
	}
	return "", false
}

func (r *Room) Members() []ConnID {
	if r.Receiver == "" {
		return []ConnID{r.Initiator}
	}
	return []ConnID{r.Initiator, r.Receiver}
}
