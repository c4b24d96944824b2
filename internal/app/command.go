package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/domain"
)

const (
	replyNotConnected = "Not connected to TS server yet!"
	replyCreateFailed = "Failed to create status embed: "
)

// CommandHandler reacts to messaging-platform events: the ready signal,
// the create-display command and deletion of the display message.
type CommandHandler struct {
	app *App
}

func NewCommandHandler(a *App) *CommandHandler {
	return &CommandHandler{app: a}
}

// HandleReady records the bot identity and drops a persisted display that
// no longer exists. Transient lookup failures keep the reference.
func (h *CommandHandler) HandleReady(ctx context.Context, botID snowflake.ID) {
	a := h.app
	a.setBotID(botID)

	a.renderMu.Lock()
	defer a.renderMu.Unlock()
	if !a.ref.Active() {
		return
	}
	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	err := a.display.FetchMessage(cctx, a.ref.ChannelID, a.ref.MessageID)
	switch {
	case err == nil:
		a.MarkDirty()
	case displayGone(err):
		a.clearDisplayLocked(err)
	default:
		log.Warn().Err(err).Str("module", "app.command").Msg("could not verify restored display")
	}
}

// IsCreateCommand reports whether content mentions the bot first and
// contains the creation keyword.
func (h *CommandHandler) IsCreateCommand(content string) bool {
	botID := h.app.BotID()
	if botID == 0 || content == "" {
		return false
	}
	mention := fmt.Sprintf("<@%s>", botID)
	mentionNick := fmt.Sprintf("<@!%s>", botID)
	if !strings.HasPrefix(content, mention) && !strings.HasPrefix(content, mentionNick) {
		return false
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(h.app.cfg.CreateKeyword))
}

func (h *CommandHandler) HandleMessageCreate(ctx context.Context, msg domain.IncomingMessage) {
	if msg.AuthorBot || !h.IsCreateCommand(msg.Content) {
		return
	}
	h.createDisplay(ctx, msg)
}

// createDisplay posts a fresh display in the invoking channel, replacing
// any previous reference, and renders it immediately unless an edit was
// issued inside the spacing window.
func (h *CommandHandler) createDisplay(ctx context.Context, msg domain.IncomingMessage) {
	a := h.app
	logger := log.With().Str("module", "app.command").Str("channel_id", msg.ChannelID.String()).Logger()

	if a.Session() == nil {
		h.reply(ctx, msg, replyNotConnected)
		return
	}

	now := a.clock.Now()
	placeholder := a.cfg.Formatter.Placeholder(now)
	sctx, cancel := a.callCtx(ctx)
	id, err := a.display.SendMessage(sctx, msg.ChannelID, domain.OutgoingMessage{Embed: &placeholder})
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("create display failed")
		h.reply(ctx, msg, replyCreateFailed+err.Error())
		return
	}

	a.renderMu.Lock()
	a.ref = domain.DisplayRef{
		MessageID:    id,
		ChannelID:    msg.ChannelID,
		GuildID:      msg.GuildID,
		LastUpdateAt: now,
	}
	a.persistLocked()
	a.dirty.Swap(false)
	if !a.edits.Allow(now) {
		// The placeholder stands until the next eligible tick.
		a.MarkDirty()
	} else if err := a.renderLocked(ctx, true, now); err != nil {
		logger.Error().Err(err).Func(withRetryAfter(err)).Msg("initial render failed")
		if !displayGone(err) {
			a.MarkDirty()
		}
	}
	a.renderMu.Unlock()
	logger.Info().Str("message_id", id.String()).Msg("display created")

	// Best effort: the trigger message may already be gone or we may lack
	// permission to delete it; neither affects the display.
	dctx, dcancel := a.callCtx(ctx)
	defer dcancel()
	_ = a.display.DeleteMessage(dctx, msg.ChannelID, msg.ID)
}

// HandleMessageDelete forgets the display when its message is deleted.
func (h *CommandHandler) HandleMessageDelete(channelID, messageID snowflake.ID) {
	a := h.app
	a.renderMu.Lock()
	defer a.renderMu.Unlock()
	if !a.ref.Active() || a.ref.MessageID != messageID {
		return
	}
	a.clearDisplayLocked(fmt.Errorf("message %s deleted: %w", messageID, domain.ErrDisplayMissing))
}

func (h *CommandHandler) reply(ctx context.Context, msg domain.IncomingMessage, text string) {
	cctx, cancel := h.app.callCtx(ctx)
	defer cancel()
	_, err := h.app.display.SendMessage(cctx, msg.ChannelID, domain.OutgoingMessage{Content: text, ReplyTo: msg.ID})
	if err != nil {
		log.Warn().Err(err).Str("module", "app.command").Msg("reply failed")
	}
}
