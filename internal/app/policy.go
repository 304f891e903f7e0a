package app

import (
	"strings"

	"github.com/dkeye/Rendezvous/internal/domain"
)

type BackpressureAction int

const (
	DropMessage BackpressureAction = iota
	KickConnection
)

func (a BackpressureAction) String() string {
	if a == KickConnection {
		return "kick"
	}
	return "drop"
}

// Policy decides what happens to a connection whose outbound buffer is full.
type Policy interface {
	OnBackPressure(id domain.ConnID) BackpressureAction
}

// SimplePolicy kicks slow connections; the peer sees peer-disconnected.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ConnID) BackpressureAction {
	return KickConnection
}

type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.ConnID) BackpressureAction {
	return DropMessage
}

// PolicyFromString maps the config value; anything but "drop" kicks.
func PolicyFromString(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), "drop") {
		return DropPolicy{}
	}
	return SimplePolicy{}
}
