package model

import "time"

// SleepSession is one normalized sleep window. Sessions are keyed by
// (user, start time, source) rather than by date because they span
// midnight; a provider-supplied external id additionally identifies
// updates to the same session.
type SleepSession struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	UserID     string    `gorm:"size:64;uniqueIndex:idx_sleeps_key,priority:1" json:"user_id"`
	Source     string    `gorm:"size:64;uniqueIndex:idx_sleeps_key,priority:2" json:"source"`
	StartTime  time.Time `gorm:"uniqueIndex:idx_sleeps_key,priority:3" json:"start_time"`
	ExternalID string    `gorm:"size:128;index" json:"external_id,omitempty"`
	EndTime    time.Time `json:"end_time"`
	DurationS  int       `json:"duration_s"`

	// Stage breakdown in seconds. Unknown provider stages land in OtherS,
	// never dropped.
	LightS int `json:"light_s"`
	DeepS  int `json:"deep_s"`
	RemS   int `json:"rem_s"`
	AwakeS int `json:"awake_s"`
	OtherS int `json:"other_s"`

	Efficiency float64   `json:"efficiency"` // 0..100 quality score
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
}

// TableName sets the sleep session table name.
func (SleepSession) TableName() string { return "sleep_sessions" }

// ActivitySession is one normalized workout/activity window, keyed the
// same way as sleep sessions.
type ActivitySession struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	UserID     string    `gorm:"size:64;uniqueIndex:idx_activities_key,priority:1" json:"user_id"`
	Source     string    `gorm:"size:64;uniqueIndex:idx_activities_key,priority:2" json:"source"`
	StartTime  time.Time `gorm:"uniqueIndex:idx_activities_key,priority:3" json:"start_time"`
	ExternalID string    `gorm:"size:128;index" json:"external_id,omitempty"`
	EndTime    time.Time `json:"end_time"`
	DurationS  int       `json:"duration_s"`
	Sport      string    `gorm:"size:64" json:"sport"`

	DistanceM      float64 `json:"distance_m"`
	ElevationGainM float64 `json:"elevation_gain_m"`
	Calories       float64 `json:"calories"`
	AvgHeartRate   float64 `json:"avg_heart_rate"`
	MaxHeartRate   float64 `json:"max_heart_rate"`

	// Heart-rate zone breakdown in seconds, lowest to highest intensity.
	Zone1S int `json:"zone1_s"`
	Zone2S int `json:"zone2_s"`
	Zone3S int `json:"zone3_s"`
	Zone4S int `json:"zone4_s"`
	Zone5S int `json:"zone5_s"`

	Strain    float64   `json:"strain"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// TableName sets the activity session table name.
func (ActivitySession) TableName() string { return "activity_sessions" }
