package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/vitals/internal/domain/model"
)

// Trailwatch is a GPS sports watch. Callbacks are batched: one push can
// carry several activity or daily records, timestamps are epoch seconds
// and heart-rate zones arrive keyed by zone number.
const (
	ProviderTrailwatch = "trailwatch"

	TrailwatchActivity = "activity"
	TrailwatchDailies  = "dailies"
)

func registerTrailwatch(r *Registry) {
	r.RegisterEnvelope(ProviderTrailwatch, trailwatchEnvelope)
	r.Register(ProviderTrailwatch, TrailwatchActivity, mapTrailwatchActivity)
	r.Register(ProviderTrailwatch, TrailwatchDailies, mapTrailwatchDailies)
}

type trailwatchBody struct {
	NotificationType string            `json:"notification_type"`
	DeviceUserID     string            `json:"device_user_id"`
	Records          []json.RawMessage `json:"records"`
}

func trailwatchEnvelope(payload []byte) (Envelope, error) {
	var body trailwatchBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.NotificationType == "" {
		return Envelope{}, fmt.Errorf("%w: missing notification_type", ErrMalformedPayload)
	}
	if body.DeviceUserID == "" {
		return Envelope{}, ErrMissingUser
	}
	return Envelope{EventType: body.NotificationType, ProviderUserID: body.DeviceUserID}, nil
}

type trailwatchActivity struct {
	ActivityID         *int64             `json:"activity_id"`
	ActivityType       string             `json:"activity_type"`
	StartTimeInSeconds *int64             `json:"start_time_in_seconds"`
	DurationInSeconds  *float64           `json:"duration_in_seconds"`
	DistanceInMeters   *float64           `json:"distance_in_meters"`
	ElevationGain      *float64           `json:"total_elevation_gain_in_meters"`
	ActiveKilocalories *float64           `json:"active_kilocalories"`
	AvgHeartRate       *float64           `json:"average_heart_rate_in_beats_per_minute"`
	MaxHeartRate       *float64           `json:"max_heart_rate_in_beats_per_minute"`
	ZoneSeconds        map[string]float64 `json:"time_in_heart_rate_zones"`
}

func mapTrailwatchActivity(in Input) Output {
	var out Output
	var body trailwatchBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	for i, raw := range body.Records {
		var act trailwatchActivity
		if !decodeJSON(raw, &act) {
			out.Problems = append(out.Problems, Problem{
				Field:  fmt.Sprintf("records[%d]", i),
				Reason: "activity object malformed",
			})
			continue
		}
		if act.StartTimeInSeconds == nil || act.DurationInSeconds == nil || *act.DurationInSeconds <= 0 {
			out.Problems = append(out.Problems, Problem{
				Field:  fmt.Sprintf("records[%d]", i),
				Reason: "activity window missing or invalid",
			})
			continue
		}

		start := time.Unix(*act.StartTimeInSeconds, 0).UTC()
		duration := int(*act.DurationInSeconds)
		session := model.ActivitySession{
			UserID:    in.UserID,
			Source:    ProviderTrailwatch,
			StartTime: start,
			EndTime:   start.Add(time.Duration(duration) * time.Second),
			DurationS: duration,
			Sport:     strings.ToLower(act.ActivityType),
		}
		if act.ActivityID != nil {
			session.ExternalID = strconv.FormatInt(*act.ActivityID, 10)
		}
		if act.DistanceInMeters != nil {
			session.DistanceM = *act.DistanceInMeters
		}
		if act.ElevationGain != nil {
			session.ElevationGainM = *act.ElevationGain
		}
		if act.ActiveKilocalories != nil {
			session.Calories = *act.ActiveKilocalories
		}
		if act.AvgHeartRate != nil {
			session.AvgHeartRate = *act.AvgHeartRate
		}
		if act.MaxHeartRate != nil {
			session.MaxHeartRate = *act.MaxHeartRate
		}
		for zone, seconds := range act.ZoneSeconds {
			s := int(seconds)
			switch zone {
			case "1":
				session.Zone1S += s
			case "2":
				session.Zone2S += s
			case "3":
				session.Zone3S += s
			case "4":
				session.Zone4S += s
			case "5":
				session.Zone5S += s
			default:
				out.Problems = append(out.Problems, Problem{
					Field:  fmt.Sprintf("records[%d].time_in_heart_rate_zones.%s", i, zone),
					Reason: "unknown heart rate zone",
				})
			}
		}
		out.Activities = append(out.Activities, session)
	}
	return out
}

type trailwatchDaily struct {
	CalendarDate        string   `json:"calendar_date"`
	Steps               *float64 `json:"steps"`
	DistanceInMeters    *float64 `json:"distance_in_meters"`
	ActiveTimeInSeconds *float64 `json:"active_time_in_seconds"`
	ActiveKilocalories  *float64 `json:"active_kilocalories"`
	AverageStressLevel  *float64 `json:"average_stress_level"`
	RestingHeartRate    *float64 `json:"resting_heart_rate_in_beats_per_minute"`
}

func mapTrailwatchDailies(in Input) Output {
	var out Output
	var body trailwatchBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	for i, raw := range body.Records {
		var d trailwatchDaily
		if !decodeJSON(raw, &d) {
			out.Problems = append(out.Problems, Problem{
				Field:  fmt.Sprintf("records[%d]", i),
				Reason: "daily object malformed",
			})
			continue
		}
		if d.CalendarDate == "" {
			out.Problems = append(out.Problems, Problem{
				Field:  fmt.Sprintf("records[%d].calendar_date", i),
				Reason: "missing calendar date",
			})
			continue
		}

		fields := map[string]float64{}
		if d.Steps != nil {
			fields[model.SummaryFieldSteps] = *d.Steps
		}
		if d.DistanceInMeters != nil {
			fields[model.SummaryFieldDistance] = *d.DistanceInMeters
		}
		if d.ActiveTimeInSeconds != nil {
			fields[model.SummaryFieldActiveMinutes] = *d.ActiveTimeInSeconds / secondsPerMinute
		}
		if d.ActiveKilocalories != nil {
			fields[model.SummaryFieldCalories] = *d.ActiveKilocalories
		}
		if d.AverageStressLevel != nil {
			fields[model.SummaryFieldAvgStress] = *d.AverageStressLevel
		}
		if len(fields) > 0 {
			out.Summaries = append(out.Summaries, SummaryPatch{Date: d.CalendarDate, Fields: fields})
		}

		if d.RestingHeartRate != nil {
			recordedAt := in.ReceivedAt
			if day, err := time.Parse(model.DateLayout, d.CalendarDate); err == nil {
				recordedAt = day.Add(23*time.Hour + 59*time.Minute)
			}
			out.Metrics = append(out.Metrics, model.CanonicalMetric{
				UserID:     in.UserID,
				Date:       d.CalendarDate,
				MetricType: model.MetricRestingHR,
				Source:     ProviderTrailwatch,
				Value:      *d.RestingHeartRate,
				Unit:       model.UnitBpm,
				RecordedAt: recordedAt,
			})
		}
	}
	return out
}
