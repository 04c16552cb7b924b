// Package repository persists raw events, canonical records and provider
// connections behind a single Store interface.
package repository

import (
	"context"
	"time"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/priority"
)

// Store provides read/write access to the pipeline state.
type Store interface {
	// AppendRawEvent stores a raw event exactly as received.
	AppendRawEvent(ctx context.Context, event *model.RawEvent) error

	// RawEvent returns one raw event by id. Returns ErrNotFound if unknown.
	RawEvent(ctx context.Context, id string) (model.RawEvent, error)

	// MarkRawEventProcessed moves a raw event to its processed terminal state.
	MarkRawEventProcessed(ctx context.Context, id string) error

	// MarkRawEventFailed moves a raw event to failed with a reason.
	MarkRawEventFailed(ctx context.Context, id, reason string) error

	// ListRawEvents returns raw events newest first, optionally filtered by
	// status and provider. limit caps the result.
	ListRawEvents(ctx context.Context, status, provider string, limit int) ([]model.RawEvent, error)

	// ResetRawEventForReplay moves a terminal raw event back to pending so
	// it can be enqueued again. Pending events are ErrNotReplayable.
	ResetRawEventForReplay(ctx context.Context, id string) error

	// CountRawEventsByStatus returns the backlog per status.
	CountRawEventsByStatus(ctx context.Context) (map[string]int64, error)

	// ApplyMetric runs the conflict decision for one canonical metric and
	// executes it atomically. The returned action reports what happened.
	ApplyMetric(ctx context.Context, m model.CanonicalMetric) (priority.Action, error)

	// ApplySleep reconciles one sleep session within its source.
	ApplySleep(ctx context.Context, s model.SleepSession) (priority.Action, error)

	// ApplyActivity reconciles one activity session within its source.
	ApplyActivity(ctx context.Context, a model.ActivitySession) (priority.Action, error)

	// ApplySummary merges summary fields per field ownership. Returns the
	// number of fields the incoming source won.
	ApplySummary(ctx context.Context, userID, date string, fields map[string]float64, source string, prio int) (int, error)

	// BestMetric returns the winning value for one (user, date, type) key.
	BestMetric(ctx context.Context, userID, metricType, date string) (model.CanonicalMetric, error)

	// MetricTimeline returns the winning value per day over an inclusive
	// date range, oldest first.
	MetricTimeline(ctx context.Context, userID, metricType, from, to string) ([]model.CanonicalMetric, error)

	// SleepsInRange returns sleep sessions starting within [from, to).
	SleepsInRange(ctx context.Context, userID string, from, to time.Time) ([]model.SleepSession, error)

	// ActivitiesInRange returns activity sessions starting within [from, to).
	ActivitiesInRange(ctx context.Context, userID string, from, to time.Time) ([]model.ActivitySession, error)

	// Summary returns the merged daily summary for one (user, date) key.
	Summary(ctx context.Context, userID, date string) (model.DailySummary, error)

	// UpsertConnection links a provider-side user to an internal account.
	UpsertConnection(ctx context.Context, provider, providerUserID, userID string) error

	// LookupConnection resolves a provider-side user to an internal account
	// id. Returns identity.ErrUnknownUser when the pair is not linked.
	LookupConnection(ctx context.Context, provider, providerUserID string) (string, error)

	// Close releases the underlying database handle.
	Close() error
}
