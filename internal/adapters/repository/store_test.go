package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/vitals/internal/domain/identity"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/priority"
	"gorm.io/datatypes"
)

// floatEqual compares two float64 values with a small tolerance for floating-point precision
func floatEqual(a, b float64) bool {
	const tolerance = 1e-9
	return math.Abs(a-b) < tolerance
}

func newTestStore(t *testing.T) *DBStore {
	t.Helper()
	store, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "vitals.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mkMetric(user, date, metricType, source string, value float64, prio int, recordedAt time.Time) model.CanonicalMetric {
	return model.CanonicalMetric{
		UserID:     user,
		Date:       date,
		MetricType: metricType,
		Source:     source,
		Value:      value,
		Unit:       model.UnitScore,
		RecordedAt: recordedAt,
		Priority:   prio,
	}
}

func mkRawEvent(provider, eventType string, receivedAt time.Time) *model.RawEvent {
	return &model.RawEvent{
		ID:         uuid.NewString(),
		Provider:   provider,
		EventType:  eventType,
		Payload:    datatypes.JSON([]byte(`{"ping":true}`)),
		Status:     model.RawEventStatusPending,
		ReceivedAt: receivedAt,
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
}

func TestDBStore_RawEventLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	first := mkRawEvent("pulseband", "recovery", base)
	second := mkRawEvent("somnus", "sleep", base.Add(time.Minute))
	third := mkRawEvent("pulseband", "workout", base.Add(2*time.Minute))
	for _, event := range []*model.RawEvent{first, second, third} {
		if err := store.AppendRawEvent(ctx, event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Round trip
	loaded, err := store.RawEvent(ctx, first.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Provider != "pulseband" || loaded.Status != model.RawEventStatusPending {
		t.Errorf("unexpected event %+v", loaded)
	}
	if string(loaded.Payload) != `{"ping":true}` {
		t.Errorf("payload changed: %s", loaded.Payload)
	}

	if _, err := store.RawEvent(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}

	// Status transitions
	if err := store.MarkRawEventProcessed(ctx, second.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := store.MarkRawEventFailed(ctx, third.ID, model.FailureNoMapping); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkRawEventProcessed(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}

	failed, err := store.RawEvent(ctx, third.ID)
	if err != nil {
		t.Fatalf("load failed event: %v", err)
	}
	if failed.Status != model.RawEventStatusFailed || failed.FailureReason != model.FailureNoMapping {
		t.Errorf("unexpected failed event %+v", failed)
	}
	if failed.ProcessedAt == nil {
		t.Error("expected processed_at to be set")
	}

	// Listing: newest first, filterable by status and provider
	all, err := store.ListRawEvents(ctx, "", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].ID != third.ID || all[2].ID != first.ID {
		t.Errorf("expected newest first, got %s .. %s", all[0].ID, all[2].ID)
	}

	onlyFailed, err := store.ListRawEvents(ctx, model.RawEventStatusFailed, "", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(onlyFailed) != 1 || onlyFailed[0].ID != third.ID {
		t.Errorf("unexpected failed listing %+v", onlyFailed)
	}

	onlyPulseband, err := store.ListRawEvents(ctx, "", "pulseband", 10)
	if err != nil {
		t.Fatalf("list by provider: %v", err)
	}
	if len(onlyPulseband) != 2 {
		t.Errorf("expected 2 pulseband events, got %d", len(onlyPulseband))
	}

	limited, err := store.ListRawEvents(ctx, "", "", 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}

	counts, err := store.CountRawEventsByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[model.RawEventStatusPending] != 1 || counts[model.RawEventStatusProcessed] != 1 || counts[model.RawEventStatusFailed] != 1 {
		t.Errorf("unexpected counts %+v", counts)
	}
}

func TestDBStore_RawEventReplay(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	event := mkRawEvent("somnus", "sleep", time.Now().UTC())

	if err := store.AppendRawEvent(ctx, event); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Pending events are not replayable
	if err := store.ResetRawEventForReplay(ctx, event.ID); !errors.Is(err, ErrNotReplayable) {
		t.Errorf("expected ErrNotReplayable for pending event, got %v", err)
	}

	if err := store.MarkRawEventFailed(ctx, event.ID, model.FailureUnknownUser); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.ResetRawEventForReplay(ctx, event.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}

	reset, err := store.RawEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reset.Status != model.RawEventStatusPending {
		t.Errorf("expected pending after reset, got %s", reset.Status)
	}
	if reset.FailureReason != "" {
		t.Errorf("expected failure reason cleared, got %q", reset.FailureReason)
	}
	if reset.ProcessedAt != nil {
		t.Errorf("expected processed_at cleared, got %v", reset.ProcessedAt)
	}

	// Processed events can be replayed too
	if err := store.MarkRawEventProcessed(ctx, event.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := store.ResetRawEventForReplay(ctx, event.ID); err != nil {
		t.Fatalf("reset processed: %v", err)
	}

	if err := store.ResetRawEventForReplay(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDBStore_MetricPriorityOrders(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)

	high := mkMetric("user-1", "2026-03-14", model.MetricRecovery, "pulseband", 72, 100, at)
	low := mkMetric("user-1", "2026-03-14", model.MetricRecovery, "healthsync", 80, 40, at.Add(time.Hour))

	// High priority first: the later low-priority write is discarded
	store := newTestStore(t)
	action, err := store.ApplyMetric(ctx, high)
	if err != nil {
		t.Fatalf("apply high: %v", err)
	}
	if action != priority.Insert {
		t.Errorf("expected insert, got %s", action)
	}
	action, err = store.ApplyMetric(ctx, low)
	if err != nil {
		t.Fatalf("apply low: %v", err)
	}
	if action != priority.Skip {
		t.Errorf("expected skip, got %s", action)
	}
	best, err := store.BestMetric(ctx, "user-1", model.MetricRecovery, "2026-03-14")
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if !floatEqual(best.Value, 72) || best.Source != "pulseband" {
		t.Errorf("expected 72 from pulseband, got %v from %s", best.Value, best.Source)
	}

	// Low priority first: the later high-priority write displaces it
	store = newTestStore(t)
	if _, err := store.ApplyMetric(ctx, low); err != nil {
		t.Fatalf("apply low: %v", err)
	}
	action, err = store.ApplyMetric(ctx, high)
	if err != nil {
		t.Fatalf("apply high: %v", err)
	}
	if action != priority.Overwrite {
		t.Errorf("expected overwrite, got %s", action)
	}
	best, err = store.BestMetric(ctx, "user-1", model.MetricRecovery, "2026-03-14")
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if !floatEqual(best.Value, 72) || best.Source != "pulseband" {
		t.Errorf("expected 72 from pulseband, got %v from %s", best.Value, best.Source)
	}

	var rows int64
	store.db.Model(&model.CanonicalMetric{}).Count(&rows)
	if rows != 1 {
		t.Errorf("expected displaced row to be gone, have %d rows", rows)
	}
}

func TestDBStore_MetricSameSourceOverwrite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)

	if _, err := store.ApplyMetric(ctx, mkMetric("user-1", "2026-03-14", model.MetricHRV, "somnus", 48, 70, at)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	action, err := store.ApplyMetric(ctx, mkMetric("user-1", "2026-03-14", model.MetricHRV, "somnus", 52, 70, at.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if action != priority.Overwrite {
		t.Errorf("expected overwrite for same source, got %s", action)
	}

	best, err := store.BestMetric(ctx, "user-1", model.MetricHRV, "2026-03-14")
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if !floatEqual(best.Value, 52) {
		t.Errorf("expected updated value 52, got %v", best.Value)
	}

	var rows int64
	store.db.Model(&model.CanonicalMetric{}).Count(&rows)
	if rows != 1 {
		t.Errorf("same-source update must not add rows, have %d", rows)
	}
}

func TestDBStore_MetricEqualPriorityAlongside(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

	if _, err := store.ApplyMetric(ctx, mkMetric("user-1", "2026-03-14", model.MetricRestingHR, "somnus", 51, 70, at)); err != nil {
		t.Fatalf("apply somnus: %v", err)
	}
	action, err := store.ApplyMetric(ctx, mkMetric("user-1", "2026-03-14", model.MetricRestingHR, "trailwatch", 54, 70, at.Add(time.Hour)))
	if err != nil {
		t.Fatalf("apply trailwatch: %v", err)
	}
	if action != priority.InsertAlongside {
		t.Errorf("expected insert_alongside, got %s", action)
	}

	var rows int64
	store.db.Model(&model.CanonicalMetric{}).Count(&rows)
	if rows != 2 {
		t.Fatalf("expected both equal-priority rows retained, have %d", rows)
	}

	// Equal priority: the more recently recorded observation wins reads
	best, err := store.BestMetric(ctx, "user-1", model.MetricRestingHR, "2026-03-14")
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.Source != "trailwatch" {
		t.Errorf("expected trailwatch (later recorded_at), got %s", best.Source)
	}

	// Same recorded_at as well: the lexicographically smaller source wins
	tied := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	if _, err := store.ApplyMetric(ctx, mkMetric("user-1", "2026-03-15", model.MetricRestingHR, "trailwatch", 55, 70, tied)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := store.ApplyMetric(ctx, mkMetric("user-1", "2026-03-15", model.MetricRestingHR, "somnus", 50, 70, tied)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	best, err = store.BestMetric(ctx, "user-1", model.MetricRestingHR, "2026-03-15")
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.Source != "somnus" {
		t.Errorf("expected somnus on full tie, got %s", best.Source)
	}
}

func TestDBStore_MetricOverwriteDisplacesAllLower(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)

	// Two equal-priority rows, then a higher-priority arrival displaces both
	if _, err := store.ApplyMetric(ctx, mkMetric("user-1", "2026-03-14", model.MetricRestingHR, "somnus", 51, 70, at)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := store.ApplyMetric(ctx, mkMetric("user-1", "2026-03-14", model.MetricRestingHR, "trailwatch", 54, 70, at)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	action, err := store.ApplyMetric(ctx, mkMetric("user-1", "2026-03-14", model.MetricRestingHR, "pulseband", 49, 100, at))
	if err != nil {
		t.Fatalf("apply high: %v", err)
	}
	if action != priority.Overwrite {
		t.Errorf("expected overwrite, got %s", action)
	}

	var rows int64
	store.db.Model(&model.CanonicalMetric{}).Count(&rows)
	if rows != 1 {
		t.Errorf("expected lower-priority rows displaced, have %d", rows)
	}
	best, err := store.BestMetric(ctx, "user-1", model.MetricRestingHR, "2026-03-14")
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.Source != "pulseband" || !floatEqual(best.Value, 49) {
		t.Errorf("expected pulseband 49, got %s %v", best.Source, best.Value)
	}
}

func TestDBStore_MetricTimeline(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

	seed := []model.CanonicalMetric{
		mkMetric("user-1", "2026-03-10", model.MetricHRV, "somnus", 44, 70, at),
		mkMetric("user-1", "2026-03-11", model.MetricHRV, "somnus", 46, 70, at.AddDate(0, 0, 1)),
		mkMetric("user-1", "2026-03-11", model.MetricHRV, "trailwatch", 41, 70, at.AddDate(0, 0, 1).Add(time.Hour)),
		// 2026-03-12 has no observation
		mkMetric("user-1", "2026-03-13", model.MetricHRV, "somnus", 49, 70, at.AddDate(0, 0, 3)),
		mkMetric("user-2", "2026-03-11", model.MetricHRV, "somnus", 60, 70, at),
	}
	for _, m := range seed {
		if _, err := store.ApplyMetric(ctx, m); err != nil {
			t.Fatalf("apply %s/%s: %v", m.Date, m.Source, err)
		}
	}

	timeline, err := store.MetricTimeline(ctx, "user-1", model.MetricHRV, "2026-03-10", "2026-03-14")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(timeline) != 3 {
		t.Fatalf("expected 3 days with data, got %d", len(timeline))
	}
	if timeline[0].Date != "2026-03-10" || timeline[1].Date != "2026-03-11" || timeline[2].Date != "2026-03-13" {
		t.Errorf("unexpected dates %s %s %s", timeline[0].Date, timeline[1].Date, timeline[2].Date)
	}
	// The 11th has two equal-priority rows; the later recorded one wins
	if timeline[1].Source != "trailwatch" || !floatEqual(timeline[1].Value, 41) {
		t.Errorf("expected trailwatch 41 on the 11th, got %s %v", timeline[1].Source, timeline[1].Value)
	}

	empty, err := store.MetricTimeline(ctx, "user-1", model.MetricHRV, "2027-01-01", "2027-01-31")
	if err != nil {
		t.Fatalf("empty timeline: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty timeline, got %d entries", len(empty))
	}
}

func TestDBStore_BestMetricMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.BestMetric(ctx, "nobody", model.MetricHRV, "2026-03-14"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Summary(ctx, "nobody", "2026-03-14"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDBStore_SleepReconciliation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	start := time.Date(2026, 3, 13, 22, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)

	session := model.SleepSession{
		UserID: "user-1", Source: "somnus", ExternalID: "sess-1",
		StartTime: start, EndTime: end, DurationS: 28800,
		LightS: 14000, DeepS: 7000, RemS: 6000, AwakeS: 1800,
		Efficiency: 88, Priority: 70,
	}
	action, err := store.ApplySleep(ctx, session)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if action != priority.Insert {
		t.Errorf("expected insert, got %s", action)
	}

	// Same source and external id: a revised upload updates in place
	revised := session
	revised.Efficiency = 91
	revised.DeepS = 7400
	action, err = store.ApplySleep(ctx, revised)
	if err != nil {
		t.Fatalf("apply revised: %v", err)
	}
	if action != priority.Overwrite {
		t.Errorf("expected overwrite, got %s", action)
	}

	// Same source, no external id, overlapping window: still the same session
	shifted := session
	shifted.ExternalID = ""
	shifted.StartTime = start.Add(30 * time.Minute)
	shifted.EndTime = end.Add(30 * time.Minute)
	shifted.Efficiency = 90
	action, err = store.ApplySleep(ctx, shifted)
	if err != nil {
		t.Fatalf("apply shifted: %v", err)
	}
	if action != priority.Overwrite {
		t.Errorf("expected overwrite for overlapping window, got %s", action)
	}

	// A different source covering the same night stays separate
	other := session
	other.Source = "pulseband"
	other.ExternalID = "pb-9"
	other.Priority = 100
	action, err = store.ApplySleep(ctx, other)
	if err != nil {
		t.Fatalf("apply other source: %v", err)
	}
	if action != priority.Insert {
		t.Errorf("expected insert for other source, got %s", action)
	}

	sleeps, err := store.SleepsInRange(ctx, "user-1", start.Add(-time.Hour), end.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sleeps))
	}
	for _, s := range sleeps {
		if s.Source == "somnus" && !floatEqual(s.Efficiency, 90) {
			t.Errorf("expected somnus session updated to 90, got %v", s.Efficiency)
		}
	}

	// Range bounds are [from, to) on start time
	none, err := store.SleepsInRange(ctx, "user-1", end.Add(24*time.Hour), end.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no sessions out of range, got %d", len(none))
	}
}

func TestDBStore_ActivityReconciliation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	start := time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)

	run := model.ActivitySession{
		UserID: "user-1", Source: "trailwatch", ExternalID: "777",
		StartTime: start, EndTime: start.Add(time.Hour), DurationS: 3600,
		Sport: "trail_running", DistanceM: 9200, Calories: 640, Priority: 70,
	}
	if _, err := store.ApplyActivity(ctx, run); err != nil {
		t.Fatalf("apply: %v", err)
	}

	run.Calories = 655
	action, err := store.ApplyActivity(ctx, run)
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if action != priority.Overwrite {
		t.Errorf("expected overwrite, got %s", action)
	}

	same := run
	same.Source = "pulseband"
	same.ExternalID = ""
	same.Priority = 100
	if _, err := store.ApplyActivity(ctx, same); err != nil {
		t.Fatalf("apply other source: %v", err)
	}

	activities, err := store.ActivitiesInRange(ctx, "user-1", start.Add(-time.Hour), start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(activities))
	}
	for _, a := range activities {
		if a.Source == "trailwatch" && !floatEqual(a.Calories, 655) {
			t.Errorf("expected trailwatch calories updated to 655, got %v", a.Calories)
		}
	}
}

func TestDBStore_SummaryFieldMerge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	won, err := store.ApplySummary(ctx, "user-1", "2026-03-14", map[string]float64{
		model.SummaryFieldSteps:         9000,
		model.SummaryFieldActiveMinutes: 45,
	}, "somnus", 70)
	if err != nil {
		t.Fatalf("apply somnus: %v", err)
	}
	if won != 2 {
		t.Errorf("expected somnus to win 2 fields, won %d", won)
	}

	// Lower priority keeps its uncontested field, loses the contested one
	won, err = store.ApplySummary(ctx, "user-1", "2026-03-14", map[string]float64{
		model.SummaryFieldSteps:    9500,
		model.SummaryFieldCalories: 2100.5,
	}, "healthsync", 40)
	if err != nil {
		t.Fatalf("apply healthsync: %v", err)
	}
	if won != 1 {
		t.Errorf("expected healthsync to win 1 field, won %d", won)
	}

	// Equal priority challenger loses the field
	won, err = store.ApplySummary(ctx, "user-1", "2026-03-14", map[string]float64{
		model.SummaryFieldSteps: 10000,
	}, "trailwatch", 70)
	if err != nil {
		t.Fatalf("apply trailwatch: %v", err)
	}
	if won != 0 {
		t.Errorf("expected trailwatch to win nothing, won %d", won)
	}

	summary, err := store.Summary(ctx, "user-1", "2026-03-14")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Steps == nil || *summary.Steps != 9000 {
		t.Errorf("expected steps 9000 from somnus, got %v", summary.Steps)
	}
	if summary.ActiveMinutes == nil || *summary.ActiveMinutes != 45 {
		t.Errorf("expected active minutes 45, got %v", summary.ActiveMinutes)
	}
	if summary.CaloriesBurned == nil || !floatEqual(*summary.CaloriesBurned, 2100.5) {
		t.Errorf("expected calories 2100.5 from healthsync, got %v", summary.CaloriesBurned)
	}

	// The incumbent refreshes its own field
	won, err = store.ApplySummary(ctx, "user-1", "2026-03-14", map[string]float64{
		model.SummaryFieldSteps: 9100,
	}, "somnus", 70)
	if err != nil {
		t.Fatalf("refresh somnus: %v", err)
	}
	if won != 1 {
		t.Errorf("expected incumbent refresh to win, won %d", won)
	}

	// Higher priority takes fields over
	won, err = store.ApplySummary(ctx, "user-1", "2026-03-14", map[string]float64{
		model.SummaryFieldSteps:  11000,
		model.SummaryFieldStrain: 14.2,
	}, "pulseband", 100)
	if err != nil {
		t.Fatalf("apply pulseband: %v", err)
	}
	if won != 2 {
		t.Errorf("expected pulseband to win 2 fields, won %d", won)
	}

	summary, err = store.Summary(ctx, "user-1", "2026-03-14")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Steps == nil || *summary.Steps != 11000 {
		t.Errorf("expected steps 11000 from pulseband, got %v", summary.Steps)
	}
	if summary.Strain == nil || !floatEqual(*summary.Strain, 14.2) {
		t.Errorf("expected strain 14.2, got %v", summary.Strain)
	}

	// Provenance survives the database round trip
	owner, ok := summary.Owner(model.SummaryFieldSteps)
	if !ok {
		t.Fatal("expected steps to have an owner")
	}
	if owner.Source != "pulseband" || owner.Priority != 100 {
		t.Errorf("unexpected steps owner %+v", owner)
	}
	owner, ok = summary.Owner(model.SummaryFieldCalories)
	if !ok {
		t.Fatal("expected calories to have an owner")
	}
	if owner.Source != "healthsync" {
		t.Errorf("unexpected calories owner %+v", owner)
	}

	var rows int64
	store.db.Model(&model.DailySummary{}).Count(&rows)
	if rows != 1 {
		t.Errorf("expected a single summary row per user and date, have %d", rows)
	}
}

func TestDBStore_Connections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.LookupConnection(ctx, "pulseband", "pb-1001"); !errors.Is(err, identity.ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}

	if err := store.UpsertConnection(ctx, "pulseband", "pb-1001", "user-abc"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	userID, err := store.LookupConnection(ctx, "pulseband", "pb-1001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if userID != "user-abc" {
		t.Errorf("expected user-abc, got %s", userID)
	}

	// Relinking the same provider identity moves it to a new user
	if err := store.UpsertConnection(ctx, "pulseband", "pb-1001", "user-xyz"); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	userID, err = store.LookupConnection(ctx, "pulseband", "pb-1001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if userID != "user-xyz" {
		t.Errorf("expected user-xyz after relink, got %s", userID)
	}

	var rows int64
	store.db.Model(&model.ProviderConnection{}).Count(&rows)
	if rows != 1 {
		t.Errorf("expected upsert to keep one row, have %d", rows)
	}
}

func TestDBStore_ConcurrentMetricWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)

	// Distinct priorities racing on one key must converge on the highest
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := mkMetric("user-1", "2026-03-14", model.MetricRecovery,
				fmt.Sprintf("source-%d", i), float64(60+i), (i+1)*10, at)
			if _, err := store.ApplyMetric(ctx, m); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent apply: %v", err)
	}

	best, err := store.BestMetric(ctx, "user-1", model.MetricRecovery, "2026-03-14")
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.Source != "source-7" || !floatEqual(best.Value, 67) {
		t.Errorf("expected source-7 value 67 to win, got %s %v", best.Source, best.Value)
	}

	var rows int64
	store.db.Model(&model.CanonicalMetric{}).Count(&rows)
	if rows != 1 {
		t.Errorf("expected one surviving row, have %d", rows)
	}
}
