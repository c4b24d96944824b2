package discord

import (
	"time"

	"github.com/dkeye/tsstatus/internal/domain"
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

func toEmbed(c domain.DisplayContent) embed {
	e := embed{
		Title:       c.Title,
		Description: c.Description,
		Color:       c.Color,
	}
	for _, f := range c.Fields {
		e.Fields = append(e.Fields, embedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if c.Footer != "" {
		e.Footer = &embedFooter{Text: c.Footer}
	}
	if !c.Timestamp.IsZero() {
		e.Timestamp = c.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}

type messageReference struct {
	MessageID       string `json:"message_id"`
	FailIfNotExists bool   `json:"fail_if_not_exists"`
}

type allowedMentions struct {
	Parse       []string `json:"parse"`
	RepliedUser bool     `json:"replied_user"`
}

// messagePayload is the body of create and edit calls. Content is always
// sent so an edit clears any previous text.
type messagePayload struct {
	Content         string            `json:"content"`
	Embeds          []embed           `json:"embeds"`
	Reference       *messageReference `json:"message_reference,omitempty"`
	AllowedMentions *allowedMentions  `json:"allowed_mentions,omitempty"`
}

func newMessagePayload(msg domain.OutgoingMessage) messagePayload {
	p := messagePayload{Content: msg.Content, Embeds: []embed{}}
	if msg.Embed != nil {
		p.Embeds = append(p.Embeds, toEmbed(*msg.Embed))
	}
	if msg.ReplyTo != 0 {
		p.Reference = &messageReference{MessageID: msg.ReplyTo.String()}
		p.AllowedMentions = &allowedMentions{Parse: []string{}, RepliedUser: true}
	}
	return p
}
