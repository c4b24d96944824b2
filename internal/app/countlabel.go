package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/domain"
)

const countPlaceholder = "%COUNT%"

// CountLabeler mirrors the occupant count into a channel name on its own
// cadence, independent of the display path.
type CountLabeler struct {
	app *App
}

func NewCountLabeler(a *App) *CountLabeler {
	return &CountLabeler{app: a}
}

// Enabled reports whether a count channel is configured and resolved.
func (c *CountLabeler) Enabled() bool {
	c.app.countMu.Lock()
	defer c.app.countMu.Unlock()
	return c.app.countChannel != 0
}

// Resolve checks the configured count channel once. A channel that cannot
// be found disables the feature instead of failing startup.
func (c *CountLabeler) Resolve(ctx context.Context) {
	a := c.app
	a.countMu.Lock()
	defer a.countMu.Unlock()

	if a.countChannel == 0 {
		log.Warn().Str("module", "app.count").Msg("count channel not set, count feature disabled")
		return
	}
	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	info, err := a.display.FetchChannel(cctx, a.countChannel)
	if errors.Is(err, domain.ErrDisplayMissing) {
		log.Error().Str("module", "app.count").Str("channel_id", a.countChannel.String()).
			Msg("count channel not found, count feature disabled")
		a.countChannel = 0
		return
	}
	if err != nil {
		// Transient; keep the id and let cycles retry against it.
		log.Error().Err(err).Str("module", "app.count").Msg("count channel lookup failed")
		return
	}
	log.Info().Str("module", "app.count").Str("channel", info.Name).Msg("count channel resolved")
}

func (c *CountLabeler) Run(ctx context.Context) {
	ticker := time.NewTicker(c.app.cfg.CountInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.Cycle(ctx)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrSourceUnavailable):
				log.Debug().Err(err).Str("module", "app.count").Msg("count cycle skipped")
			default:
				log.Warn().Err(err).Str("module", "app.count").Func(withRetryAfter(err)).Msg("count cycle failed")
			}
		}
	}
}

// Cycle recomputes the count and renames the label if it changed and the
// rename guard allows it. A skipped change is not remembered; the next
// cycle compares against the then-current count.
func (c *CountLabeler) Cycle(ctx context.Context) error {
	a := c.app
	a.countMu.Lock()
	defer a.countMu.Unlock()

	if a.countChannel == 0 || a.closed.Load() {
		return nil
	}
	channels, clients, err := a.queryOccupancy(ctx)
	if err != nil {
		return err
	}
	count := CountOccupants(channels, clients, a.cfg.CountExcludeDefault)
	if a.count.Known && a.count.LastCount == count {
		return nil
	}

	now := a.clock.Now()
	if !a.count.Renames.Allow(now) {
		return fmt.Errorf("rename to %d deferred: %w", count, domain.ErrRateLimited)
	}

	name := FormatCountLabel(a.cfg.CountTemplate, count)
	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	if err := a.display.RenameChannel(cctx, a.countChannel, name); err != nil {
		return fmt.Errorf("rename count channel: %w", err)
	}

	a.count.LastCount = count
	a.count.Known = true
	a.count.Renames.Record(now)
	log.Info().Str("module", "app.count").Int("count", count).Str("name", name).Msg("count label updated")

	a.publishCount(count, now)
	return nil
}

func FormatCountLabel(template string, count int) string {
	return strings.ReplaceAll(template, countPlaceholder, strconv.Itoa(count))
}
