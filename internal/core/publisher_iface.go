package core

import (
	"time"

	"github.com/dkeye/tsstatus/internal/domain"
)

// OccupancyPublisher fans rendered state out to secondary consumers.
// Failures never affect the display.
type OccupancyPublisher interface {
	PublishSnapshot(snap domain.OccupancySnapshot, at time.Time) error
	PublishCount(count int, at time.Time) error
}

// StatusReport is a read-only view of the running bot for operators.
type StatusReport struct {
	Connection   string                    `json:"connection"`
	Display      domain.DisplayRef         `json:"display"`
	PendingDirty bool                      `json:"pending_dirty"`
	LastEditAt   time.Time                 `json:"last_edit_at"`
	LastCount    *int                      `json:"last_count,omitempty"`
	Snapshot     *domain.OccupancySnapshot `json:"snapshot,omitempty"`
}

type StatusProvider interface {
	Status() StatusReport
}
