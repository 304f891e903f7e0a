// Package domain contains entities without transport, just room meta-data
package domain

import "errors"

const DefaultMaxRoomCodeLen = 64

var (
	ErrInvalidRoomCode = errors.New("invalid room code")
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrAlreadyInRoom   = errors.New("already in a room")
	ErrNotInRoom       = errors.New("not in a room")
	ErrNotMember       = errors.New("not a room member")
	ErrStaleSignal     = errors.New("signal for a closed room")
	ErrUnreachablePeer = errors.New("peer unreachable")
	ErrAlreadyRemoved  = errors.New("connection already removed")
	ErrDuplicateConn   = errors.New("connection already registered")
	ErrRateLimited     = errors.New("too many attempts")
)

// ValidateRoomCode treats the code as an opaque key and only bounds its size.
func ValidateRoomCode(code RoomCode, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxRoomCodeLen
	}
	if len(code) == 0 || len(code) > maxLen {
		return ErrInvalidRoomCode
	}
	return nil
}
