// Package model contains domain records passed between layers and
// persisted by the repository.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// RawEvent processing statuses.
const (
	RawEventStatusPending   = "pending"
	RawEventStatusProcessed = "processed"
	RawEventStatusFailed    = "failed"
)

// Failure reasons recorded on raw events. These are stable strings: the
// operator endpoints filter on them and the replay path matches on them.
const (
	FailureUnknownUser      = "unknown user"
	FailureIdentityLookup   = "identity lookup failed"
	FailureMalformedPayload = "malformed payload"
	FailureNoMapping        = "no mapping"
	FailureQueueFull        = "queue full"
	FailurePanic            = "processing panic"
	FailureStoreWrite       = "store write failed"
)

// RawEvent is the immutable audit copy of one inbound provider callback.
// Rows are written exactly once; only status, failure reason and the
// processing timestamp ever change afterwards. Rows are never deleted,
// they are the replay source.
type RawEvent struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	Provider      string         `gorm:"size:64;index:idx_raw_events_status,priority:2" json:"provider"`
	EventType     string         `gorm:"size:128" json:"event_type"`
	UserID        string         `gorm:"size:64;index" json:"user_id,omitempty"` // empty until identity resolved
	Payload       datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	Status        string         `gorm:"size:16;index:idx_raw_events_status,priority:1" json:"status"`
	FailureReason string         `gorm:"size:255" json:"failure_reason,omitempty"`
	ReceivedAt    time.Time      `json:"received_at"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
}

// TableName sets the raw event table name.
func (RawEvent) TableName() string { return "raw_events" }
