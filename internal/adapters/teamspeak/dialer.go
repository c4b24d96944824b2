package teamspeak

import (
	"context"

	"github.com/dkeye/tsstatus/internal/core"
)

// Dialer opens query sessions with a fixed configuration.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

func (d *Dialer) Dial(ctx context.Context) (core.VoiceSession, error) {
	c, err := Dial(ctx, d.cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}
