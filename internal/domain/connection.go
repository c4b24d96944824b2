package domain

import (
	"fmt"
	"time"
)

type ConnectionPhase int

const (
	Disconnected ConnectionPhase = iota
	Connecting
	Connected
	Reconnecting
)

func (p ConnectionPhase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionState is the voice-session supervisor's state. Delay is only
// meaningful while Reconnecting.
type ConnectionState struct {
	Phase ConnectionPhase
	Delay time.Duration
}

func (s ConnectionState) String() string {
	if s.Phase == Reconnecting {
		return fmt.Sprintf("reconnecting(%s)", s.Delay)
	}
	return s.Phase.String()
}
