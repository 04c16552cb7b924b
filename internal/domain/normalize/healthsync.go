package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/okian/vitals/internal/domain/model"
)

// Healthsync is a phone-level health aggregator. It has no hardware of
// its own; it relays whatever the phone collected, as daily totals or as
// typed point samples. Its vocabulary of sample types grows without
// notice, so unknown types surface as problems instead of failures.
const (
	ProviderHealthsync = "healthsync"

	HealthsyncDailyTotals  = "daily_totals"
	HealthsyncPointMetrics = "point_metrics"
)

func registerHealthsync(r *Registry) {
	r.RegisterEnvelope(ProviderHealthsync, healthsyncEnvelope)
	r.Register(ProviderHealthsync, HealthsyncDailyTotals, mapHealthsyncDailyTotals)
	r.Register(ProviderHealthsync, HealthsyncPointMetrics, mapHealthsyncPointMetrics)
}

type healthsyncBody struct {
	Kind      string          `json:"kind"`
	AccountID string          `json:"account_id"`
	Data      json.RawMessage `json:"data"`
}

func healthsyncEnvelope(payload []byte) (Envelope, error) {
	var body healthsyncBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing kind", ErrMalformedPayload)
	}
	if body.AccountID == "" {
		return Envelope{}, ErrMissingUser
	}
	return Envelope{EventType: body.Kind, ProviderUserID: body.AccountID}, nil
}

type healthsyncDailyTotals struct {
	Date   string `json:"date"`
	Totals struct {
		StepCount        *float64 `json:"step_count"`
		ActiveMinutes    *float64 `json:"active_minutes"`
		CaloriesExpended *float64 `json:"calories_expended"`
		DistanceDelta    *float64 `json:"distance_delta"`
	} `json:"totals"`
}

func mapHealthsyncDailyTotals(in Input) Output {
	var out Output
	var body healthsyncBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	var dt healthsyncDailyTotals
	if !decodeJSON(body.Data, &dt) {
		out.Problems = append(out.Problems, Problem{Field: "data", Reason: "daily totals object malformed"})
		return out
	}
	if dt.Date == "" {
		out.Problems = append(out.Problems, Problem{Field: "data.date", Reason: "missing calendar date"})
		return out
	}

	fields := map[string]float64{}
	if dt.Totals.StepCount != nil {
		fields[model.SummaryFieldSteps] = *dt.Totals.StepCount
	}
	if dt.Totals.ActiveMinutes != nil {
		fields[model.SummaryFieldActiveMinutes] = *dt.Totals.ActiveMinutes
	}
	if dt.Totals.CaloriesExpended != nil {
		fields[model.SummaryFieldCalories] = *dt.Totals.CaloriesExpended
	}
	if dt.Totals.DistanceDelta != nil {
		fields[model.SummaryFieldDistance] = *dt.Totals.DistanceDelta
	}
	if len(fields) == 0 {
		out.Problems = append(out.Problems, Problem{Field: "data.totals", Reason: "no mappable totals"})
		return out
	}
	out.Summaries = append(out.Summaries, SummaryPatch{Date: dt.Date, Fields: fields})
	return out
}

type healthsyncPoint struct {
	DataType  string   `json:"data_type"`
	Value     *float64 `json:"value"`
	Timestamp string   `json:"timestamp"`
}

type healthsyncPoints struct {
	Points []healthsyncPoint `json:"points"`
}

func mapHealthsyncPointMetrics(in Input) Output {
	var out Output
	var body healthsyncBody
	if !decodeJSON(in.Payload, &body) {
		out.Problems = append(out.Problems, Problem{Field: "payload", Reason: "not valid JSON"})
		return out
	}

	var pts healthsyncPoints
	if !decodeJSON(body.Data, &pts) {
		out.Problems = append(out.Problems, Problem{Field: "data", Reason: "points object malformed"})
		return out
	}

	for i, p := range pts.Points {
		if p.Value == nil {
			out.Problems = append(out.Problems, Problem{
				Field:  fmt.Sprintf("data.points[%d]", i),
				Reason: "missing value",
			})
			continue
		}
		recordedAt, ok := parseRFC3339(p.Timestamp)
		if !ok {
			out.Problems = append(out.Problems, Problem{
				Field:  fmt.Sprintf("data.points[%d].timestamp", i),
				Reason: "unparseable timestamp",
			})
			continue
		}

		metricType, unit, value := "", "", *p.Value
		switch p.DataType {
		case "heart_rate_bpm":
			metricType, unit = model.MetricHeartRate, model.UnitBpm
		case "oxygen_saturation":
			// Arrives as a 0..1 fraction.
			metricType, unit = model.MetricSpO2, model.UnitPercent
			value *= 100
		case "body_weight_kg":
			metricType, unit = model.MetricWeight, model.UnitKg
		case "body_temperature_delta":
			metricType, unit = model.MetricBodyTemp, model.UnitCelsius
		default:
			out.Problems = append(out.Problems, Problem{
				Field:  fmt.Sprintf("data.points[%d].data_type", i),
				Reason: fmt.Sprintf("unknown sample type %q", p.DataType),
			})
			continue
		}

		out.Metrics = append(out.Metrics, model.CanonicalMetric{
			UserID:     in.UserID,
			Date:       model.DateOf(recordedAt),
			MetricType: metricType,
			Source:     ProviderHealthsync,
			Value:      value,
			Unit:       unit,
			RecordedAt: recordedAt.UTC(),
		})
	}
	return out
}
