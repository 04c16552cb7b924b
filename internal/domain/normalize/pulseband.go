package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okian/vitals/internal/domain/model"
)

// Pulseband is a dedicated recovery band. It pushes one object per
// callback with a typed envelope; durations arrive in milliseconds and
// workout energy in kilojoules.
const (
	ProviderPulseband = "pulseband"

	PulsebandRecoveryUpdated = "recovery.updated"
	PulsebandSleepUpdated    = "sleep.updated"
	PulsebandWorkoutUpdated  = "workout.updated"
)

const (
	msPerSecond      = 1000
	kcalPerKilojoule = 0.239006
)

func registerPulseband(r *Registry) {
	r.RegisterEnvelope(ProviderPulseband, pulsebandEnvelope)
	r.Register(ProviderPulseband, PulsebandRecoveryUpdated, mapPulsebandRecovery)
	r.Register(ProviderPulseband, PulsebandSleepUpdated, mapPulsebandSleep)
	r.Register(ProviderPulseband, PulsebandWorkoutUpdated, mapPulsebandWorkout)
}

type pulsebandBody struct {
	EventType string          `json:"event_type"`
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data"`
}

func pulsebandEnvelope(payload []byte) (Envelope, error) {
	var body pulsebandBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.EventType == "" {
		return Envelope{}, fmt.Errorf("%w: missing event_type", ErrMalformedPayload)
	}
	if body.UserID == "" {
		return Envelope{}, ErrMissingUser
	}
	return Envelope{EventType: body.EventType, ProviderUserID: body.UserID}, nil
}

type pulsebandRecovery struct {
	CycleID          string   `json:"cycle_id"`
	RecoveryScore    *float64 `json:"recovery_score"`
	HRVRmssdMilli    *float64 `json:"hrv_rmssd_milli"`
	RestingHeartRate *float64 `json:"resting_heart_rate"`
	SpO2Percentage   *float64 `json:"spo2_percentage"`
	RecordedAt       string   `json:"recorded_at"`
}

func mapPulsebandRecovery(in Input) Output {
	var out Output
	var body pulsebandBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	var rec pulsebandRecovery
	if !decodeJSON(body.Data, &rec) {
		out.Problems = append(out.Problems, Problem{Field: "data", Reason: "recovery object malformed"})
		return out
	}

	recordedAt, ok := parseRFC3339(rec.RecordedAt)
	if !ok {
		recordedAt = in.ReceivedAt
		out.Problems = append(out.Problems, Problem{Field: "data.recorded_at", Reason: "unparseable timestamp, using receipt time"})
	}
	date := model.DateOf(recordedAt)

	add := func(metricType, unit string, v *float64) {
		if v == nil {
			return
		}
		out.Metrics = append(out.Metrics, model.CanonicalMetric{
			UserID:     in.UserID,
			Date:       date,
			MetricType: metricType,
			Source:     ProviderPulseband,
			Value:      *v,
			Unit:       unit,
			RecordedAt: recordedAt,
		})
	}
	add(model.MetricRecovery, model.UnitScore, rec.RecoveryScore)
	add(model.MetricHRV, model.UnitMs, rec.HRVRmssdMilli)
	add(model.MetricRestingHR, model.UnitBpm, rec.RestingHeartRate)
	add(model.MetricSpO2, model.UnitPercent, rec.SpO2Percentage)
	return out
}

type pulsebandSleep struct {
	SleepID          string             `json:"sleep_id"`
	Start            string             `json:"start"`
	End              string             `json:"end"`
	StageSummary     map[string]float64 `json:"stage_summary"`
	EfficiencyPct    *float64           `json:"sleep_efficiency_percentage"`
	RespiratoryRate  *float64           `json:"respiratory_rate"`
	RecoveryBaseline *float64           `json:"recovery_baseline"`
}

func mapPulsebandSleep(in Input) Output {
	var out Output
	var body pulsebandBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	var sl pulsebandSleep
	if !decodeJSON(body.Data, &sl) {
		out.Problems = append(out.Problems, Problem{Field: "data", Reason: "sleep object malformed"})
		return out
	}

	start, okStart := parseRFC3339(sl.Start)
	end, okEnd := parseRFC3339(sl.End)
	if !okStart || !okEnd || !end.After(start) {
		out.Problems = append(out.Problems, Problem{Field: "data.start/end", Reason: "sleep window invalid"})
		return out
	}

	session := model.SleepSession{
		UserID:     in.UserID,
		Source:     ProviderPulseband,
		StartTime:  start.UTC(),
		EndTime:    end.UTC(),
		ExternalID: sl.SleepID,
		DurationS:  int(end.Sub(start).Seconds()),
	}

	// Stage names are provider vocabulary; anything unrecognized is kept
	// in the "other" bucket rather than dropped.
	for stage, milli := range sl.StageSummary {
		if milli < 0 {
			out.Problems = append(out.Problems, Problem{
				Field:  "data.stage_summary." + stage,
				Reason: "negative duration",
			})
			continue
		}
		seconds := int(milli) / msPerSecond
		switch strings.ToLower(stage) {
		case "light_sleep_milli", "light_milli":
			session.LightS += seconds
		case "slow_wave_sleep_milli", "deep_milli":
			session.DeepS += seconds
		case "rem_sleep_milli", "rem_milli":
			session.RemS += seconds
		case "awake_milli":
			session.AwakeS += seconds
		default:
			session.OtherS += seconds
		}
	}
	if sl.EfficiencyPct != nil {
		session.Efficiency = *sl.EfficiencyPct
	}
	out.Sleeps = append(out.Sleeps, session)

	if sl.RespiratoryRate != nil {
		out.Metrics = append(out.Metrics, model.CanonicalMetric{
			UserID:     in.UserID,
			Date:       model.DateOf(end),
			MetricType: model.MetricRespiration,
			Source:     ProviderPulseband,
			Value:      *sl.RespiratoryRate,
			Unit:       model.UnitBreaths,
			RecordedAt: end.UTC(),
		})
	}
	return out
}

type pulsebandWorkout struct {
	WorkoutID         string             `json:"workout_id"`
	Sport             string             `json:"sport"`
	Start             string             `json:"start"`
	End               string             `json:"end"`
	Strain            *float64           `json:"strain"`
	Kilojoule         *float64           `json:"kilojoule"`
	AverageHeartRate  *float64           `json:"average_heart_rate"`
	MaxHeartRate      *float64           `json:"max_heart_rate"`
	DistanceMeter     *float64           `json:"distance_meter"`
	AltitudeGainMeter *float64           `json:"altitude_gain_meter"`
	ZoneDurationMilli map[string]float64 `json:"zone_duration_milli"`
}

func mapPulsebandWorkout(in Input) Output {
	var out Output
	var body pulsebandBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	var w pulsebandWorkout
	if !decodeJSON(body.Data, &w) {
		out.Problems = append(out.Problems, Problem{Field: "data", Reason: "workout object malformed"})
		return out
	}

	start, okStart := parseRFC3339(w.Start)
	end, okEnd := parseRFC3339(w.End)
	if !okStart || !okEnd || !end.After(start) {
		out.Problems = append(out.Problems, Problem{Field: "data.start/end", Reason: "workout window invalid"})
		return out
	}

	session := model.ActivitySession{
		UserID:     in.UserID,
		Source:     ProviderPulseband,
		StartTime:  start.UTC(),
		EndTime:    end.UTC(),
		ExternalID: w.WorkoutID,
		DurationS:  int(end.Sub(start).Seconds()),
		Sport:      strings.ToLower(w.Sport),
	}
	if w.Strain != nil {
		session.Strain = *w.Strain
	}
	if w.Kilojoule != nil {
		session.Calories = *w.Kilojoule * kcalPerKilojoule
	}
	if w.AverageHeartRate != nil {
		session.AvgHeartRate = *w.AverageHeartRate
	}
	if w.MaxHeartRate != nil {
		session.MaxHeartRate = *w.MaxHeartRate
	}
	if w.DistanceMeter != nil {
		session.DistanceM = *w.DistanceMeter
	}
	if w.AltitudeGainMeter != nil {
		session.ElevationGainM = *w.AltitudeGainMeter
	}
	for zone, milli := range w.ZoneDurationMilli {
		seconds := int(milli) / msPerSecond
		switch strings.ToLower(zone) {
		case "zone_one_milli":
			session.Zone1S += seconds
		case "zone_two_milli":
			session.Zone2S += seconds
		case "zone_three_milli":
			session.Zone3S += seconds
		case "zone_four_milli":
			session.Zone4S += seconds
		case "zone_five_milli":
			session.Zone5S += seconds
		default:
			// Zone zero is rest time; unknown zones are not part of the
			// canonical breakdown.
		}
	}
	out.Activities = append(out.Activities, session)
	return out
}
