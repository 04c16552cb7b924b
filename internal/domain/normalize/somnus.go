package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okian/vitals/internal/domain/model"
)

// Somnus is a sleep-focused ring. Sleep stages arrive as a hypnogram
// array of named segments; daily records carry their own calendar day.
const (
	ProviderSomnus = "somnus"

	SomnusSleep         = "sleep"
	SomnusDailyActivity = "daily_activity"
	SomnusReadiness     = "readiness"
)

const secondsPerMinute = 60

func registerSomnus(r *Registry) {
	r.RegisterEnvelope(ProviderSomnus, somnusEnvelope)
	r.Register(ProviderSomnus, SomnusSleep, mapSomnusSleep)
	r.Register(ProviderSomnus, SomnusDailyActivity, mapSomnusDailyActivity)
	r.Register(ProviderSomnus, SomnusReadiness, mapSomnusReadiness)
}

type somnusBody struct {
	DataType string          `json:"data_type"`
	MemberID string          `json:"member_id"`
	Record   json.RawMessage `json:"record"`
}

func somnusEnvelope(payload []byte) (Envelope, error) {
	var body somnusBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.DataType == "" {
		return Envelope{}, fmt.Errorf("%w: missing data_type", ErrMalformedPayload)
	}
	if body.MemberID == "" {
		return Envelope{}, ErrMissingUser
	}
	return Envelope{EventType: body.DataType, ProviderUserID: body.MemberID}, nil
}

type somnusHypnogramSegment struct {
	Stage   string   `json:"stage"`
	Seconds *float64 `json:"seconds"`
}

type somnusSleep struct {
	ID              string                   `json:"id"`
	Day             string                   `json:"day"`
	BedtimeStart    string                   `json:"bedtime_start"`
	BedtimeEnd      string                   `json:"bedtime_end"`
	Hypnogram       []somnusHypnogramSegment `json:"hypnogram"`
	Efficiency      *float64                 `json:"efficiency"`
	AverageHRV      *float64                 `json:"average_hrv"`
	LowestHeartRate *float64                 `json:"lowest_heart_rate"`
}

func mapSomnusSleep(in Input) Output {
	var out Output
	var body somnusBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	var sl somnusSleep
	if !decodeJSON(body.Record, &sl) {
		out.Problems = append(out.Problems, Problem{Field: "record", Reason: "sleep object malformed"})
		return out
	}

	start, okStart := parseRFC3339(sl.BedtimeStart)
	end, okEnd := parseRFC3339(sl.BedtimeEnd)
	if !okStart || !okEnd || !end.After(start) {
		out.Problems = append(out.Problems, Problem{Field: "record.bedtime_start/bedtime_end", Reason: "sleep window invalid"})
		return out
	}

	session := model.SleepSession{
		UserID:     in.UserID,
		Source:     ProviderSomnus,
		StartTime:  start.UTC(),
		EndTime:    end.UTC(),
		ExternalID: sl.ID,
		DurationS:  int(end.Sub(start).Seconds()),
	}
	if sl.Efficiency != nil {
		session.Efficiency = *sl.Efficiency
	}

	// The hypnogram is an ordered list of named segments. Segment names
	// outside the canonical vocabulary are bucketed into "other".
	for i, seg := range sl.Hypnogram {
		if seg.Seconds == nil || *seg.Seconds < 0 {
			out.Problems = append(out.Problems, Problem{
				Field:  fmt.Sprintf("record.hypnogram[%d]", i),
				Reason: "segment duration missing or negative",
			})
			continue
		}
		seconds := int(*seg.Seconds)
		switch strings.ToLower(seg.Stage) {
		case "light":
			session.LightS += seconds
		case "deep":
			session.DeepS += seconds
		case "rem":
			session.RemS += seconds
		case "awake":
			session.AwakeS += seconds
		default:
			session.OtherS += seconds
		}
	}
	out.Sleeps = append(out.Sleeps, session)

	date := sl.Day
	if date == "" {
		date = model.DateOf(end)
	}
	addMetric := func(metricType, unit string, v *float64) {
		if v == nil {
			return
		}
		out.Metrics = append(out.Metrics, model.CanonicalMetric{
			UserID:     in.UserID,
			Date:       date,
			MetricType: metricType,
			Source:     ProviderSomnus,
			Value:      *v,
			Unit:       unit,
			RecordedAt: end.UTC(),
		})
	}
	addMetric(model.MetricHRV, model.UnitMs, sl.AverageHRV)
	addMetric(model.MetricRestingHR, model.UnitBpm, sl.LowestHeartRate)
	return out
}

type somnusDailyActivity struct {
	Day                   string   `json:"day"`
	Steps                 *float64 `json:"steps"`
	HighActivitySeconds   *float64 `json:"high_activity_seconds"`
	MediumActivitySeconds *float64 `json:"medium_activity_seconds"`
	TotalCalories         *float64 `json:"total_calories"`
	WalkingDistanceMeters *float64 `json:"equivalent_walking_distance"`
}

func mapSomnusDailyActivity(in Input) Output {
	var out Output
	var body somnusBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	var da somnusDailyActivity
	if !decodeJSON(body.Record, &da) {
		out.Problems = append(out.Problems, Problem{Field: "record", Reason: "daily activity object malformed"})
		return out
	}
	if da.Day == "" {
		out.Problems = append(out.Problems, Problem{Field: "record.day", Reason: "missing calendar day"})
		return out
	}

	fields := map[string]float64{}
	if da.Steps != nil {
		fields[model.SummaryFieldSteps] = *da.Steps
	}
	if da.HighActivitySeconds != nil || da.MediumActivitySeconds != nil {
		var active float64
		if da.HighActivitySeconds != nil {
			active += *da.HighActivitySeconds
		}
		if da.MediumActivitySeconds != nil {
			active += *da.MediumActivitySeconds
		}
		fields[model.SummaryFieldActiveMinutes] = active / secondsPerMinute
	}
	if da.TotalCalories != nil {
		fields[model.SummaryFieldCalories] = *da.TotalCalories
	}
	if da.WalkingDistanceMeters != nil {
		fields[model.SummaryFieldDistance] = *da.WalkingDistanceMeters
	}
	if len(fields) == 0 {
		out.Problems = append(out.Problems, Problem{Field: "record", Reason: "no mappable activity fields"})
		return out
	}
	out.Summaries = append(out.Summaries, SummaryPatch{Date: da.Day, Fields: fields})
	return out
}

type somnusReadiness struct {
	Day                  string   `json:"day"`
	Score                *float64 `json:"score"`
	TemperatureDeviation *float64 `json:"temperature_deviation"`
	RecordedAt           string   `json:"timestamp"`
}

func mapSomnusReadiness(in Input) Output {
	var out Output
	var body somnusBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	var rd somnusReadiness
	if !decodeJSON(body.Record, &rd) {
		out.Problems = append(out.Problems, Problem{Field: "record", Reason: "readiness object malformed"})
		return out
	}

	recordedAt, ok := parseRFC3339(rd.RecordedAt)
	if !ok {
		recordedAt = in.ReceivedAt
	}
	date := rd.Day
	if date == "" {
		date = model.DateOf(recordedAt)
	}

	if rd.Score != nil {
		out.Metrics = append(out.Metrics, model.CanonicalMetric{
			UserID:     in.UserID,
			Date:       date,
			MetricType: model.MetricReadiness,
			Source:     ProviderSomnus,
			Value:      *rd.Score,
			Unit:       model.UnitScore,
			RecordedAt: recordedAt.UTC(),
		})
	}
	if rd.TemperatureDeviation != nil {
		out.Metrics = append(out.Metrics, model.CanonicalMetric{
			UserID:     in.UserID,
			Date:       date,
			MetricType: model.MetricBodyTemp,
			Source:     ProviderSomnus,
			Value:      *rd.TemperatureDeviation,
			Unit:       model.UnitCelsius,
			RecordedAt: recordedAt.UTC(),
		})
	}
	if out.Empty() {
		out.Problems = append(out.Problems, Problem{Field: "record", Reason: "no mappable readiness fields"})
	}
	return out
}
