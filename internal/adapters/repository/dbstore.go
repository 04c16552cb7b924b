package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/vitals/internal/domain/identity"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/priority"
	"github.com/okian/vitals/pkg/metrics"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Database driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const defaultMaxWriteAttempts = 3

// DBStore implements Store on a relational database via gorm. SQLite
// serves tests and single-node deployments, Postgres serves production.
type DBStore struct {
	db               *gorm.DB
	driver           string
	maxWriteAttempts int
}

// Open connects to the database, runs migrations and returns the store.
func Open(driver, dsn string, opts ...Option) (*DBStore, error) {
	var dial gorm.Dialector
	switch driver {
	case DriverSQLite:
		dial = sqlite.Open(dsn)
	case DriverPostgres:
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	s := &DBStore{
		db:               db,
		driver:           driver,
		maxWriteAttempts: defaultMaxWriteAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection serializes writes
		// and keeps shared in-memory databases on one handle.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(
		&model.RawEvent{},
		&model.CanonicalMetric{},
		&model.SleepSession{},
		&model.ActivitySession{},
		&model.DailySummary{},
		&model.ProviderConnection{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// locked applies a pessimistic row lock where the backend supports it.
// SQLite serializes writers at the database level already.
func (s *DBStore) locked(tx *gorm.DB) *gorm.DB {
	if s.driver == DriverPostgres {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// retryable reports whether a failed write may succeed on a fresh attempt.
// Unique-index collisions mean a concurrent writer created the key first;
// the retry re-reads and resolves against it.
func retryable(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock detected")
}

// Raw event lifecycle.

func (s *DBStore) AppendRawEvent(ctx context.Context, event *model.RawEvent) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append raw event: %w", err)
	}
	metrics.RecordRawEventStored(event.Provider, event.Status)
	return nil
}

func (s *DBStore) RawEvent(ctx context.Context, id string) (model.RawEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var event model.RawEvent
	err := s.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.RawEvent{}, ErrNotFound
	}
	if err != nil {
		return model.RawEvent{}, fmt.Errorf("load raw event: %w", err)
	}
	return event, nil
}

func (s *DBStore) MarkRawEventProcessed(ctx context.Context, id string) error {
	return s.markRawEvent(ctx, id, model.RawEventStatusProcessed, "")
}

func (s *DBStore) MarkRawEventFailed(ctx context.Context, id, reason string) error {
	return s.markRawEvent(ctx, id, model.RawEventStatusFailed, reason)
}

func (s *DBStore) markRawEvent(ctx context.Context, id, status, reason string) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.RawEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":         status,
		"failure_reason": reason,
		"processed_at":   &now,
	})
	if res.Error != nil {
		return fmt.Errorf("mark raw event %s: %w", status, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DBStore) ListRawEvents(ctx context.Context, status, provider string, limit int) ([]model.RawEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	q := s.db.WithContext(ctx).Model(&model.RawEvent{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}

	var events []model.RawEvent
	if err := q.Order("received_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list raw events: %w", err)
	}
	return events, nil
}

func (s *DBStore) ResetRawEventForReplay(ctx context.Context, id string) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event model.RawEvent
		err := s.locked(tx).First(&event, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load raw event: %w", err)
		}
		if event.Status == model.RawEventStatusPending {
			return fmt.Errorf("%w: already pending", ErrNotReplayable)
		}
		return tx.Model(&model.RawEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":         model.RawEventStatusPending,
			"failure_reason": "",
			"processed_at":   nil,
		}).Error
	})
}

func (s *DBStore) CountRawEventsByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&model.RawEvent{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count raw events: %w", err)
	}

	counts := map[string]int64{
		model.RawEventStatusPending:   0,
		model.RawEventStatusProcessed: 0,
		model.RawEventStatusFailed:    0,
	}
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

// Canonical writes. Each conflict decision runs inside one transaction
// against locked key rows, so a decision never acts on state another
// writer changed underneath it.

func (s *DBStore) ApplyMetric(ctx context.Context, m model.CanonicalMetric) (priority.Action, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	var action priority.Action
	var err error
	for attempt := 0; attempt < s.maxWriteAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordStoreWriteRetry()
		}
		action, err = s.applyMetricOnce(ctx, m)
		if err == nil {
			metrics.RecordResolverDecision(action.String())
			return action, nil
		}
		if !retryable(err) {
			return action, err
		}
	}
	return action, fmt.Errorf("%w: metric %s/%s/%s: %v", ErrWriteContention, m.UserID, m.Date, m.MetricType, err)
}

func (s *DBStore) applyMetricOnce(ctx context.Context, m model.CanonicalMetric) (priority.Action, error) {
	action := priority.Skip
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []model.CanonicalMetric
		err := s.locked(tx).
			Where("user_id = ? AND date = ? AND metric_type = ?", m.UserID, m.Date, m.MetricType).
			Find(&existing).Error
		if err != nil {
			return fmt.Errorf("load metric peers: %w", err)
		}

		// The incumbent is the incoming source's own row when it has one,
		// otherwise the current winner.
		var incumbent *priority.Stored
		var own *model.CanonicalMetric
		var winner *model.CanonicalMetric
		for i := range existing {
			row := &existing[i]
			if row.Source == m.Source {
				own = row
			}
			if winner == nil || row.Priority > winner.Priority {
				winner = row
			}
		}
		switch {
		case own != nil:
			incumbent = &priority.Stored{Source: own.Source, Priority: own.Priority}
		case winner != nil:
			incumbent = &priority.Stored{Source: winner.Source, Priority: winner.Priority}
		}

		action = priority.Resolve(incumbent, m.Source, m.Priority)
		switch action {
		case priority.Insert, priority.InsertAlongside:
			return tx.Create(&m).Error
		case priority.Overwrite:
			if own != nil {
				return tx.Model(&model.CanonicalMetric{}).Where("id = ?", own.ID).Updates(map[string]interface{}{
					"value":       m.Value,
					"unit":        m.Unit,
					"recorded_at": m.RecordedAt,
					"priority":    m.Priority,
				}).Error
			}
			// A higher-priority arrival displaces every lower-priority peer.
			if err := tx.Where("user_id = ? AND date = ? AND metric_type = ? AND priority < ?",
				m.UserID, m.Date, m.MetricType, m.Priority).
				Delete(&model.CanonicalMetric{}).Error; err != nil {
				return err
			}
			return tx.Create(&m).Error
		default:
			// Skip stores nothing; the losing write is discarded by decision,
			// not by accident.
			return nil
		}
	})
	return action, err
}

func (s *DBStore) ApplySleep(ctx context.Context, sl model.SleepSession) (priority.Action, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	var action priority.Action
	var err error
	for attempt := 0; attempt < s.maxWriteAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordStoreWriteRetry()
		}
		action, err = s.applySleepOnce(ctx, sl)
		if err == nil {
			return action, nil
		}
		if !retryable(err) {
			return action, err
		}
	}
	return action, fmt.Errorf("%w: sleep %s/%s: %v", ErrWriteContention, sl.UserID, sl.Source, err)
}

func (s *DBStore) applySleepOnce(ctx context.Context, sl model.SleepSession) (priority.Action, error) {
	action := priority.Insert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existingID, err := s.matchSession(tx, "sleep_sessions", sl.UserID, sl.Source, sl.ExternalID, sl.StartTime, sl.EndTime)
		if err != nil {
			return err
		}
		if existingID == 0 {
			action = priority.Insert
			return tx.Create(&sl).Error
		}
		action = priority.Overwrite
		return tx.Model(&model.SleepSession{}).Where("id = ?", existingID).Updates(map[string]interface{}{
			"external_id": sl.ExternalID,
			"start_time":  sl.StartTime,
			"end_time":    sl.EndTime,
			"duration_s":  sl.DurationS,
			"light_s":     sl.LightS,
			"deep_s":      sl.DeepS,
			"rem_s":       sl.RemS,
			"awake_s":     sl.AwakeS,
			"other_s":     sl.OtherS,
			"efficiency":  sl.Efficiency,
			"priority":    sl.Priority,
		}).Error
	})
	return action, err
}

func (s *DBStore) ApplyActivity(ctx context.Context, a model.ActivitySession) (priority.Action, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	var action priority.Action
	var err error
	for attempt := 0; attempt < s.maxWriteAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordStoreWriteRetry()
		}
		action, err = s.applyActivityOnce(ctx, a)
		if err == nil {
			return action, nil
		}
		if !retryable(err) {
			return action, err
		}
	}
	return action, fmt.Errorf("%w: activity %s/%s: %v", ErrWriteContention, a.UserID, a.Source, err)
}

func (s *DBStore) applyActivityOnce(ctx context.Context, a model.ActivitySession) (priority.Action, error) {
	action := priority.Insert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existingID, err := s.matchSession(tx, "activity_sessions", a.UserID, a.Source, a.ExternalID, a.StartTime, a.EndTime)
		if err != nil {
			return err
		}
		if existingID == 0 {
			action = priority.Insert
			return tx.Create(&a).Error
		}
		action = priority.Overwrite
		return tx.Model(&model.ActivitySession{}).Where("id = ?", existingID).Updates(map[string]interface{}{
			"external_id":      a.ExternalID,
			"start_time":       a.StartTime,
			"end_time":         a.EndTime,
			"duration_s":       a.DurationS,
			"sport":            a.Sport,
			"distance_m":       a.DistanceM,
			"elevation_gain_m": a.ElevationGainM,
			"calories":         a.Calories,
			"avg_heart_rate":   a.AvgHeartRate,
			"max_heart_rate":   a.MaxHeartRate,
			"zone1_s":          a.Zone1S,
			"zone2_s":          a.Zone2S,
			"zone3_s":          a.Zone3S,
			"zone4_s":          a.Zone4S,
			"zone5_s":          a.Zone5S,
			"strain":           a.Strain,
			"priority":         a.Priority,
		}).Error
	})
	return action, err
}

// matchSession finds the session an incoming one reconciles with: the same
// source's row with the same external id, else the same source's row with
// an overlapping window. Sessions from different sources never merge.
func (s *DBStore) matchSession(tx *gorm.DB, table, userID, source, externalID string, startTime, endTime time.Time) (uint, error) {
	var ids []uint

	if externalID != "" {
		err := s.locked(tx).Table(table).
			Where("user_id = ? AND source = ? AND external_id = ?", userID, source, externalID).
			Limit(1).Pluck("id", &ids).Error
		if err != nil {
			return 0, fmt.Errorf("match session by external id: %w", err)
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}

	err := s.locked(tx).Table(table).
		Where("user_id = ? AND source = ? AND start_time < ? AND end_time > ?", userID, source, endTime, startTime).
		Order("start_time").
		Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("match session by window: %w", err)
	}
	if len(ids) > 0 {
		return ids[0], nil
	}
	return 0, nil
}

func (s *DBStore) ApplySummary(ctx context.Context, userID, date string, fields map[string]float64, source string, prio int) (int, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	var won int
	var err error
	for attempt := 0; attempt < s.maxWriteAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordStoreWriteRetry()
		}
		won, err = s.applySummaryOnce(ctx, userID, date, fields, source, prio)
		if err == nil {
			return won, nil
		}
		if !retryable(err) {
			return won, err
		}
	}
	return won, fmt.Errorf("%w: summary %s/%s: %v", ErrWriteContention, userID, date, err)
}

func (s *DBStore) applySummaryOnce(ctx context.Context, userID, date string, fields map[string]float64, source string, prio int) (int, error) {
	won := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won = 0

		var row model.DailySummary
		err := s.locked(tx).Where("user_id = ? AND date = ?", userID, date).First(&row).Error
		created := false
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = model.DailySummary{UserID: userID, Date: date}
			created = true
		} else if err != nil {
			return fmt.Errorf("load summary row: %w", err)
		}

		// Fields are contested one by one; iteration order is fixed so a
		// retry replays identically.
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			var incumbent *priority.Stored
			if owner, ok := row.Owner(name); ok {
				incumbent = &priority.Stored{Source: owner.Source, Priority: owner.Priority}
			}
			if !priority.ResolveField(incumbent, source, prio) {
				continue
			}
			if !setSummaryField(&row, name, fields[name]) {
				continue
			}
			row.SetOwner(name, model.FieldOwner{Source: source, Priority: prio})
			won++
		}

		if won == 0 && !created {
			return nil
		}
		if created {
			return tx.Create(&row).Error
		}
		return tx.Save(&row).Error
	})
	return won, err
}

// setSummaryField writes one named field on the summary row. Unknown names
// are the normalizer's problem, not ours; they are ignored.
func setSummaryField(row *model.DailySummary, name string, v float64) bool {
	switch name {
	case model.SummaryFieldSteps:
		n := int(v)
		row.Steps = &n
	case model.SummaryFieldActiveMinutes:
		n := int(v)
		row.ActiveMinutes = &n
	case model.SummaryFieldCalories:
		row.CaloriesBurned = &v
	case model.SummaryFieldDistance:
		row.DistanceM = &v
	case model.SummaryFieldStrain:
		row.Strain = &v
	case model.SummaryFieldAvgStress:
		row.AvgStress = &v
	default:
		return false
	}
	return true
}

// Reads.

func (s *DBStore) BestMetric(ctx context.Context, userID, metricType, date string) (model.CanonicalMetric, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var m model.CanonicalMetric
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND metric_type = ? AND date = ?", userID, metricType, date).
		Order("priority DESC, recorded_at DESC, source ASC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.CanonicalMetric{}, ErrNotFound
	}
	if err != nil {
		return model.CanonicalMetric{}, fmt.Errorf("best metric: %w", err)
	}
	return m, nil
}

func (s *DBStore) MetricTimeline(ctx context.Context, userID, metricType, from, to string) ([]model.CanonicalMetric, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var rows []model.CanonicalMetric
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND metric_type = ? AND date >= ? AND date <= ?", userID, metricType, from, to).
		Order("date ASC, priority DESC, recorded_at DESC, source ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("metric timeline: %w", err)
	}

	// One winner per day: rows are ordered best first within each date.
	timeline := make([]model.CanonicalMetric, 0, len(rows))
	for _, row := range rows {
		if n := len(timeline); n > 0 && timeline[n-1].Date == row.Date {
			continue
		}
		timeline = append(timeline, row)
	}
	return timeline, nil
}

func (s *DBStore) SleepsInRange(ctx context.Context, userID string, from, to time.Time) ([]model.SleepSession, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var rows []model.SleepSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND start_time >= ? AND start_time < ?", userID, from, to).
		Order("start_time ASC, source ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sleeps in range: %w", err)
	}
	return rows, nil
}

func (s *DBStore) ActivitiesInRange(ctx context.Context, userID string, from, to time.Time) ([]model.ActivitySession, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var rows []model.ActivitySession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND start_time >= ? AND start_time < ?", userID, from, to).
		Order("start_time ASC, source ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("activities in range: %w", err)
	}
	return rows, nil
}

func (s *DBStore) Summary(ctx context.Context, userID, date string) (model.DailySummary, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var row model.DailySummary
	err := s.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, date).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.DailySummary{}, ErrNotFound
	}
	if err != nil {
		return model.DailySummary{}, fmt.Errorf("load summary: %w", err)
	}
	return row, nil
}

// Provider connections.

func (s *DBStore) UpsertConnection(ctx context.Context, provider, providerUserID, userID string) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	conn := model.ProviderConnection{
		Provider:       provider,
		ProviderUserID: providerUserID,
		UserID:         userID,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id"}),
	}).Create(&conn).Error
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

func (s *DBStore) LookupConnection(ctx context.Context, provider, providerUserID string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var conn model.ProviderConnection
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_user_id = ?", provider, providerUserID).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", identity.ErrUnknownUser
	}
	if err != nil {
		return "", fmt.Errorf("lookup connection: %w", err)
	}
	return conn.UserID, nil
}
