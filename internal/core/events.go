package core

import (
	"context"
	"time"

	"github.com/dkeye/Rendezvous/internal/domain"
)

type CloseReason string

const (
	CloseDisconnect CloseReason = "disconnect"
	CloseLeave      CloseReason = "leave"
	CloseExpired    CloseReason = "expired"
)

type LifecycleKind string

const (
	LifecycleCreated LifecycleKind = "room-created"
	LifecycleJoined  LifecycleKind = "room-joined"
	LifecycleClosed  LifecycleKind = "room-closed"
)

// LifecycleEvent is an audit record of a room transition. It never carries
// signal payloads.
type LifecycleEvent struct {
	Kind   LifecycleKind   `json:"kind"`
	Room   domain.RoomCode `json:"room"`
	Conn   domain.ConnID   `json:"conn"`
	Reason CloseReason     `json:"reason,omitempty"`
	At     time.Time       `json:"at"`
}

// EventPublisher must not block the caller on a slow sink.
type EventPublisher interface {
	Publish(ctx context.Context, ev LifecycleEvent) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LifecycleEvent) error { return nil }
func (NopPublisher) Close() error                                  { return nil }

// Stats is a read-only snapshot for the HTTP API; it never exposes room codes.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Pending     int `json:"pending"`
	Active      int `json:"active"`
}
