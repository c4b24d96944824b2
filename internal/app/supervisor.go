package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/core"
	"github.com/dkeye/tsstatus/internal/domain"
)

// quitTimeout bounds the best-effort quit of a discarded session.
const quitTimeout = 2 * time.Second

var errSessionClosed = errors.New("voice session closed")

// Events that can change who sits where.
var dirtyEvents = map[string]bool{
	"cliententerview": true,
	"clientleftview":  true,
	"clientmoved":     true,
	"channelcreated":  true,
	"channeldeleted":  true,
	"channeledited":   true,
	"channelmoved":    true,
}

// Supervisor keeps one voice session alive:
//
//	Disconnected -> Connecting -> Connected
//	Connecting   -> Reconnecting(ConnectFailureDelay) on dial or subscribe failure
//	Connected    -> Reconnecting(ReconnectDelay) on fatal error, fatal query
//	                failure or close
//	Reconnecting -> Connecting once the delay elapsed
type Supervisor struct {
	app    *App
	dialer core.VoiceDialer

	// OnTransition, if set, observes every state change.
	OnTransition func(domain.ConnectionState)
}

func NewSupervisor(a *App, dialer core.VoiceDialer) *Supervisor {
	return &Supervisor{app: a, dialer: dialer}
}

// Run blocks until ctx is cancelled. The active session is closed on the
// way out.
func (s *Supervisor) Run(ctx context.Context) {
	var delay time.Duration
	for {
		if delay > 0 && !sleepCtx(ctx, delay) {
			s.transition(domain.ConnectionState{Phase: domain.Disconnected})
			return
		}
		if ctx.Err() != nil {
			s.transition(domain.ConnectionState{Phase: domain.Disconnected})
			return
		}

		s.transition(domain.ConnectionState{Phase: domain.Connecting})
		logger := log.With().Str("module", "app.supervisor").Str("session", uuid.NewString()).Logger()

		sess, lost, fault, err := s.connect(ctx, &logger)
		if err != nil {
			if ctx.Err() != nil {
				s.transition(domain.ConnectionState{Phase: domain.Disconnected})
				return
			}
			logger.Error().Err(err).Msg("voice connect failed")
			delay = s.app.cfg.ConnectFailureDelay
			s.transition(domain.ConnectionState{Phase: domain.Reconnecting, Delay: delay})
			continue
		}

		s.app.bindSession(sess, fault)
		s.transition(domain.ConnectionState{Phase: domain.Connected})
		logger.Info().Msg("voice session established")
		// Anything may have changed while we were away.
		s.app.MarkDirty()

		select {
		case <-ctx.Done():
			s.app.setSession(nil)
			s.closeBestEffort(sess)
			s.transition(domain.ConnectionState{Phase: domain.Disconnected})
			return
		case err := <-lost:
			logger.Warn().Err(err).Msg("voice session lost")
		}

		s.app.setSession(nil)
		s.closeBestEffort(sess)
		delay = s.app.cfg.ReconnectDelay
		s.transition(domain.ConnectionState{Phase: domain.Reconnecting, Delay: delay})
	}
}

// connect dials and installs the notification subscriptions. The returned
// channel yields once when this session dies; fault feeds it from query
// failures seen by other components. Handlers capture their own channel,
// so callbacks from a discarded session never affect a newer one.
func (s *Supervisor) connect(ctx context.Context, logger *zerolog.Logger) (core.VoiceSession, <-chan error, func(error), error) {
	sess, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	lost := make(chan error, 1)
	signalLost := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	sess.OnEvent(func(ev core.VoiceEvent) {
		if dirtyEvents[ev.Name] {
			s.app.MarkDirty()
		}
	})
	sess.OnError(func(err error) {
		logger.Error().Err(err).Msg("voice session error")
		if IsTransportFatal(err) {
			signalLost(err)
		}
	})
	sess.OnClose(func(err error) {
		if err == nil {
			err = errSessionClosed
		}
		signalLost(err)
	})
	fault := func(err error) {
		logger.Error().Err(err).Msg("voice query failed fatally")
		signalLost(err)
	}

	subs := []struct {
		event string
		id    int
	}{
		{"server", 0},
		{"channel", 0},
	}
	for _, sub := range subs {
		if err := sess.RegisterEvent(ctx, sub.event, sub.id); err != nil {
			s.closeBestEffort(sess)
			return nil, nil, nil, fmt.Errorf("register %s events: %w", sub.event, err)
		}
	}
	return sess, lost, fault, nil
}

// closeBestEffort quits a session that is being discarded. Its error is
// deliberately dropped: the connection is gone either way.
func (s *Supervisor) closeBestEffort(sess core.VoiceSession) {
	ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()
	_ = sess.Quit(ctx)
}

func (s *Supervisor) transition(st domain.ConnectionState) {
	s.app.setConnectionState(st)
	log.Debug().Str("module", "app.supervisor").Str("state", st.String()).Msg("connection state")
	if s.OnTransition != nil {
		s.OnTransition(st)
	}
}

// sleepCtx waits d or until ctx is done; it reports whether d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
