package core

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/dkeye/tsstatus/internal/domain"
)

// DisplayClient is the messaging-platform surface the bot drives.
// Edits and fetches of a vanished target fail with domain.ErrDisplayMissing.
type DisplayClient interface {
	SendMessage(ctx context.Context, channelID snowflake.ID, msg domain.OutgoingMessage) (snowflake.ID, error)
	EditMessage(ctx context.Context, channelID, messageID snowflake.ID, content domain.DisplayContent) error
	DeleteMessage(ctx context.Context, channelID, messageID snowflake.ID) error
	FetchChannel(ctx context.Context, channelID snowflake.ID) (domain.ChannelInfo, error)
	FetchMessage(ctx context.Context, channelID, messageID snowflake.ID) error
	RenameChannel(ctx context.Context, channelID snowflake.ID, name string) error
}

// DisplayStore persists the display reference across restarts.
type DisplayStore interface {
	// Load returns a zero DisplayRef when nothing was stored yet.
	Load() (domain.DisplayRef, error)
	Save(ref domain.DisplayRef) error
}
