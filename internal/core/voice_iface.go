package core

import (
	"context"

	"github.com/dkeye/tsstatus/internal/domain"
)

// VoiceEvent is a push notification from the voice server, named without
// its "notify" prefix (cliententerview, clientleftview, clientmoved, ...).
type VoiceEvent struct {
	Name   string
	Params map[string]string
}

// VoiceSession is one live connection to the voice server's query interface.
// Every call is bounded by the session's own transport timeout.
type VoiceSession interface {
	ChannelList(ctx context.Context) ([]domain.Channel, error)
	// ClientList returns real voice users only.
	ClientList(ctx context.Context) ([]domain.Client, error)
	// RegisterEvent subscribes to push notifications. id is only used by
	// channel-scoped events.
	RegisterEvent(ctx context.Context, event string, id int) error

	OnEvent(func(VoiceEvent))
	// OnError receives asynchronous errors such as failed keepalives.
	OnError(func(error))
	// OnClose fires once when the underlying connection goes away.
	OnClose(func(error))

	Quit(ctx context.Context) error
}

// VoiceDialer opens a logged-in session bound to the configured virtual server.
type VoiceDialer interface {
	Dial(ctx context.Context) (VoiceSession, error)
}
