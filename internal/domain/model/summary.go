package model

import (
	"time"

	"gorm.io/datatypes"
)

// Summary field names. These are the keys of DailySummary.FieldSources and
// the unit of priority resolution for summaries: each field is contested
// independently.
const (
	SummaryFieldSteps         = "steps"
	SummaryFieldActiveMinutes = "active_minutes"
	SummaryFieldCalories      = "calories_burned"
	SummaryFieldDistance      = "distance_m"
	SummaryFieldStrain        = "strain"
	SummaryFieldAvgStress     = "avg_stress"
)

// FieldOwner records which source last wrote a summary field and the
// priority that source held at write time.
type FieldOwner struct {
	Source   string `json:"source"`
	Priority int    `json:"priority"`
}

// DailySummary is the single merged row per (user, date). Fields are
// nullable so an absent field is distinguishable from a zero value; the
// FieldSources map carries per-field provenance.
type DailySummary struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	UserID string `gorm:"size:64;uniqueIndex:idx_summaries_key,priority:1" json:"user_id"`
	Date   string `gorm:"size:10;uniqueIndex:idx_summaries_key,priority:2" json:"date"`

	Steps          *int     `json:"steps,omitempty"`
	ActiveMinutes  *int     `json:"active_minutes,omitempty"`
	CaloriesBurned *float64 `json:"calories_burned,omitempty"`
	DistanceM      *float64 `json:"distance_m,omitempty"`
	Strain         *float64 `json:"strain,omitempty"`
	AvgStress      *float64 `json:"avg_stress,omitempty"`

	FieldSources datatypes.JSONMap `gorm:"type:jsonb" json:"field_sources"`
	CreatedAt    time.Time         `json:"-"`
	UpdatedAt    time.Time         `json:"-"`
}

// TableName sets the daily summary table name.
func (DailySummary) TableName() string { return "daily_summaries" }

// Owner returns the provenance entry for a field, if any. Values read back
// from the database arrive as generic JSON maps, so both representations
// are handled.
func (s *DailySummary) Owner(field string) (FieldOwner, bool) {
	raw, ok := s.FieldSources[field]
	if !ok {
		return FieldOwner{}, false
	}
	switch v := raw.(type) {
	case FieldOwner:
		return v, true
	case map[string]interface{}:
		var o FieldOwner
		if src, ok := v["source"].(string); ok {
			o.Source = src
		}
		if p, ok := v["priority"].(float64); ok {
			o.Priority = int(p)
		}
		return o, true
	default:
		return FieldOwner{}, false
	}
}

// SetOwner records the provenance entry for a field.
func (s *DailySummary) SetOwner(field string, owner FieldOwner) {
	if s.FieldSources == nil {
		s.FieldSources = datatypes.JSONMap{}
	}
	s.FieldSources[field] = map[string]interface{}{
		"source":   owner.Source,
		"priority": owner.Priority,
	}
}
