package model

import "time"

// DateLayout is the calendar-date key format used by date-bucketed tables.
// Dates are stored as plain strings so the key compares identically on
// every supported database.
const DateLayout = "2006-01-02"

// DateOf buckets a timestamp into its UTC calendar date.
func DateOf(t time.Time) string { return t.UTC().Format(DateLayout) }

// Canonical metric types. Mappers translate provider-native names into
// these; consumers only ever see this set.
const (
	MetricRecovery    = "recovery_score"
	MetricReadiness   = "readiness_score"
	MetricHRV         = "hrv"
	MetricRestingHR   = "resting_hr"
	MetricHeartRate   = "heart_rate"
	MetricSpO2        = "spo2"
	MetricWeight      = "weight"
	MetricBodyTemp    = "body_temp_deviation"
	MetricStress      = "stress"
	MetricRespiration = "respiratory_rate"
)

// Canonical units.
const (
	UnitScore   = "score"
	UnitMs      = "ms"
	UnitBpm     = "bpm"
	UnitPercent = "percent"
	UnitKcal    = "kcal"
	UnitMeters  = "m"
	UnitSeconds = "s"
	UnitMinutes = "min"
	UnitCelsius = "celsius"
	UnitKg      = "kg"
	UnitCount   = "count"
	UnitBreaths = "brpm"
)

// CanonicalMetric is a point-in-time scalar observation. At most one row
// exists per (user, date, metric type, source); the priority column is the
// source priority captured at write time, so reads never consult the
// priority table.
type CanonicalMetric struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	UserID     string    `gorm:"size:64;uniqueIndex:idx_metrics_key,priority:1" json:"user_id"`
	Date       string    `gorm:"size:10;uniqueIndex:idx_metrics_key,priority:2" json:"date"`
	MetricType string    `gorm:"size:64;uniqueIndex:idx_metrics_key,priority:3" json:"metric_type"`
	Source     string    `gorm:"size:64;uniqueIndex:idx_metrics_key,priority:4" json:"source"`
	Value      float64   `json:"value"`
	Unit       string    `gorm:"size:32" json:"unit"`
	RecordedAt time.Time `json:"recorded_at"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
}

// TableName sets the canonical metric table name.
func (CanonicalMetric) TableName() string { return "canonical_metrics" }
