package core

import (
	"encoding/json"

	"github.com/dkeye/Rendezvous/internal/domain"
)

type EventType string

// Client to server.
const (
	EventCreateRoom EventType = "create-room"
	EventJoinRoom   EventType = "join-room"
	EventSignal     EventType = "signal"
	EventLeaveRoom  EventType = "leave-room"
	EventPing       EventType = "ping"
	EventWhoAmI     EventType = "whoami"
)

// Server to client.
const (
	EventRoomCreated      EventType = "room-created"
	EventCreateError      EventType = "create-error"
	EventJoinedRoom       EventType = "joined-room"
	EventJoinError        EventType = "join-error"
	EventPeerJoined       EventType = "peer-joined"
	EventPeerDisconnected EventType = "peer-disconnected"
	EventLeftRoom         EventType = "left-room"
	EventRoomExpired      EventType = "room-expired"
	EventPong             EventType = "pong"
	EventError            EventType = "error"
)

// Envelope is the single JSON shape used in both directions. Data carries
// signal payloads verbatim and is never inspected.
type Envelope struct {
	Type  EventType       `json:"type"`
	Room  domain.RoomCode `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Conn  domain.ConnID   `json:"conn,omitempty"`
}

func (e Envelope) Encode() (Frame, error) {
	return json.Marshal(e)
}

func DecodeEnvelope(f Frame) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(f, &e)
	return e, err
}
