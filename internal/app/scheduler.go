package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/domain"
)

// Scheduler drives the display-update cadence. Every tick is evaluated
// under the render lock, so at most one edit is ever in flight.
type Scheduler struct {
	app *App
}

func NewScheduler(a *App) *Scheduler {
	return &Scheduler{app: a}
}

// Run ticks until ctx is cancelled. Ticks never overlap; a slow tick only
// delays the next one.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.app.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.Tick(ctx)
			switch {
			case err == nil, errors.Is(err, domain.ErrRateLimited):
			case errors.Is(err, domain.ErrSourceUnavailable):
				log.Debug().Err(err).Str("module", "app.scheduler").Msg("tick skipped")
			default:
				log.Error().Err(err).Str("module", "app.scheduler").Func(withRetryAfter(err)).Msg("tick failed")
			}
		}
	}
}

// Tick evaluates the triggers once. It returns domain.ErrRateLimited when a
// trigger fired inside the edit-spacing window; the pending flag then stays
// set and the next eligible tick picks it up.
func (s *Scheduler) Tick(ctx context.Context) error {
	a := s.app
	a.renderMu.Lock()
	defer a.renderMu.Unlock()

	if a.closed.Load() || !a.ref.Active() {
		return nil
	}

	now := a.clock.Now()
	never := a.ref.LastUpdateAt.IsZero()
	since := now.Sub(a.ref.LastUpdateAt)
	needRegular := never || since >= a.cfg.UpdateInterval
	needForce := never || since >= a.cfg.ForceRefreshInterval
	pending := a.dirty.Load()

	if !pending && !needRegular && !needForce {
		return nil
	}
	if !a.edits.Allow(now) {
		return domain.ErrRateLimited
	}

	a.dirty.Swap(false)
	err := a.renderLocked(ctx, needForce, now)
	if err != nil && !displayGone(err) {
		// Nothing was rendered; keep the trigger for the next tick.
		a.dirty.Store(true)
	}
	return err
}

// renderLocked reads a snapshot and, if warranted, edits the display.
// Requires renderMu.
func (a *App) renderLocked(ctx context.Context, force bool, now time.Time) error {
	if !a.ref.Active() {
		return nil
	}
	logger := log.With().Str("module", "app.scheduler").Str("tick", uuid.NewString()).Logger()

	channels, clients, err := a.queryOccupancy(ctx)
	if err != nil {
		return err
	}
	snap := BuildSnapshot(channels, clients, a.cfg.StatusFilter)
	a.lastSnapshot = &snap

	fp, warranted := ShouldRender(snap, a.ref.Fingerprint, force)
	if !warranted {
		return nil
	}

	content := a.cfg.Formatter.Render(snap, now)
	a.edits.Record(now)

	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	if err := a.display.EditMessage(cctx, a.ref.ChannelID, a.ref.MessageID, content); err != nil {
		if displayGone(err) {
			a.clearDisplayLocked(err)
		}
		return fmt.Errorf("edit display: %w", err)
	}

	a.ref.Fingerprint = fp
	a.ref.LastUpdateAt = now
	a.persistLocked()
	logger.Debug().
		Bool("forced", force).
		Int("groups", len(snap.Groups)).
		Int("members", snap.MemberCount()).
		Msg("display updated")

	a.publishSnapshot(snap, now)
	return nil
}
