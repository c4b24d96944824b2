package app

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dkeye/tsstatus/internal/domain"
)

// Platform limits for a single embed.
const (
	maxFields     = 25
	maxFieldName  = 256
	maxFieldValue = 1024
)

const (
	truncationMarker  = "..."
	inactiveFieldName = "Inactive Channels"
	overflowFieldName = "More Channels"
)

// Formatter turns snapshots into display content. It holds no state.
type Formatter struct {
	Title      string
	Color      int
	MaxNameLen int
}

// Render is deterministic: the same snapshot and time give the same content.
func (f Formatter) Render(s domain.OccupancySnapshot, at time.Time) domain.DisplayContent {
	c := f.frame(at)
	for _, g := range s.Groups {
		lines := make([]string, 0, len(g.Members))
		for _, m := range g.Members {
			lines = append(lines, "- "+truncate(m, f.MaxNameLen, truncationMarker))
		}
		value := strings.Join(lines, "\n")
		if value == "" {
			value = "Empty"
		}
		c.Fields = append(c.Fields, field(g.Name, value))
	}
	summary := len(s.EmptyGroupNames) > 0
	if len(c.Fields) > maxFields || (summary && len(c.Fields) == maxFields) {
		// The last slot summarizes every group that did not fit.
		keep := maxFields - 1
		c.Fields = append(c.Fields[:keep], overflowField(s.Groups[keep:], s.EmptyGroupNames))
		return c
	}
	if summary {
		c.Fields = append(c.Fields, field(inactiveFieldName, strings.Join(s.EmptyGroupNames, ", ")))
	}
	return c
}

func overflowField(groups []domain.Group, empty []string) domain.DisplayField {
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, fmt.Sprintf("%s (%d)", g.Name, len(g.Members)))
	}
	value := strings.Join(parts, ", ")
	if len(empty) > 0 {
		value += "\n" + inactiveFieldName + ": " + strings.Join(empty, ", ")
	}
	return field(overflowFieldName, value)
}

// Placeholder is posted when a display is first created.
func (f Formatter) Placeholder(at time.Time) domain.DisplayContent {
	c := f.frame(at)
	c.Description = "Loading status..."
	return c
}

func (f Formatter) frame(at time.Time) domain.DisplayContent {
	return domain.DisplayContent{
		Title:     f.Title,
		Color:     f.Color,
		Footer:    "Last updated",
		Timestamp: at,
	}
}

func field(name, value string) domain.DisplayField {
	return domain.DisplayField{
		Name:  truncate(name, maxFieldName-len(truncationMarker), truncationMarker),
		Value: truncate(value, maxFieldValue-len(truncationMarker), truncationMarker),
	}
}

// truncate cuts s to max runes and appends marker if anything was cut.
// max <= 0 disables truncation.
func truncate(s string, max int, marker string) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + marker
}
