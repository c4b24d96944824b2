package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DisplayRef identifies the single message that mirrors occupancy.
// A zero MessageID or ChannelID means there is no active display.
type DisplayRef struct {
	MessageID snowflake.ID `json:"message_id"`
	ChannelID snowflake.ID `json:"channel_id"`
	GuildID   snowflake.ID `json:"guild_id"`

	// Fingerprint of the last snapshot that was actually rendered.
	Fingerprint  string    `json:"fingerprint"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

func (r DisplayRef) Active() bool {
	return r.MessageID != 0 && r.ChannelID != 0
}

// DisplayField is one named section of the rendered display.
type DisplayField struct {
	Name   string
	Value  string
	Inline bool
}

// DisplayContent is the platform-neutral content model of the display.
type DisplayContent struct {
	Title       string
	Description string
	Color       int
	Fields      []DisplayField
	Footer      string
	Timestamp   time.Time
}

// OutgoingMessage is what the bot posts. Either Content or Embed may be empty.
type OutgoingMessage struct {
	Content string
	Embed   *DisplayContent
	ReplyTo snowflake.ID
}

// IncomingMessage is a message observed on the messaging platform.
type IncomingMessage struct {
	ID        snowflake.ID
	ChannelID snowflake.ID
	GuildID   snowflake.ID
	AuthorBot bool
	Content   string
}

// ChannelInfo is the subset of a messaging channel the bot needs.
type ChannelInfo struct {
	ID      snowflake.ID `json:"id"`
	GuildID snowflake.ID `json:"guild_id,omitempty"`
	Name    string       `json:"name"`
}
