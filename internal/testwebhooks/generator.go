package testwebhooks

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/okian/vitals/internal/domain/normalize"
	"github.com/okian/vitals/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	activityIDDivisor  = 100000000
	eventKindDivisor   = 8
)

// Constants for callback kind cases.
const (
	casePulsebandRecovery = 0
	casePulsebandSleep    = 1
	caseSomnusSleep       = 2
	caseSomnusActivity    = 3
	caseTrailwatchDaily   = 4
	caseTrailwatchWorkout = 5
	caseHealthsyncTotals  = 6
	caseHealthsyncPoints  = 7
)

// Constants for generated vitals ranges.
const (
	recoveryScoreMin     = 25.0
	recoveryScoreRange   = 75.0
	hrvMin               = 40.0
	hrvRange             = 80.0
	restingHRMin         = 42.0
	restingHRRange       = 28.0
	spo2Min              = 94.0
	spo2Range            = 5.5
	respirationMin       = 13.0
	respirationRange     = 4.0
	efficiencyMin        = 82.0
	efficiencyRange      = 15.0
	heartRateMin         = 55.0
	heartRateRange       = 90.0
	maxHeartRateLift     = 25.0
	oxygenFractionMin    = 0.94
	oxygenFractionRange  = 0.055
	bodyWeightMin        = 55.0
	bodyWeightRange      = 40.0
	stepsMin             = 2000
	stepsRange           = 16000
	activeMinutesMin     = 20
	activeMinutesRange   = 160
	highActivityMaxS     = 3600
	mediumActivityMaxS   = 5400
	caloriesMin          = 1600.0
	caloriesRange        = 1800.0
	workoutCaloriesMin   = 180.0
	workoutCaloriesRange = 700.0
	distanceMin          = 1500.0
	distanceRange        = 11000.0
	stressMin            = 12.0
	stressRange          = 70.0
	workoutDurationMinS  = 1500
	workoutDurationRange = 6300
	elevationGainMax     = 900.0
	heartRateZones       = 5
)

// Constants for sleep window construction.
const (
	sleepDurationMinS   = 23400 // 6h30m
	sleepDurationRangeS = 7200  // up to 8h30m
	lightStageShare     = 52
	deepStageShare      = 20
	remStageShare       = 21
	daySpread           = 7
	bedtimeJitterMaxMin = 45
)

// Unit conversion constants.
const (
	millisecondsPerSecond = 1000
	secondsPerMinute      = 60
)

// dateLayout is the calendar-date format every provider uses on the wire.
const dateLayout = "2006-01-02"

// providerDevicePrefix gives each provider its own device id namespace so a
// linked account carries four distinct provider-side ids.
var providerDevicePrefix = map[string]string{
	normalize.ProviderPulseband:  "pb-",
	normalize.ProviderSomnus:     "som-",
	normalize.ProviderTrailwatch: "tw-",
	normalize.ProviderHealthsync: "hs-",
}

// workoutSports are the activity types trailwatch callbacks report.
var workoutSports = []string{"RUNNING", "CYCLING", "HIKING", "LAP_SWIMMING"}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// makeUserID returns the canonical account id for a synthetic user index.
func makeUserID(index int) string {
	return fmt.Sprintf("user-%04d", index+1)
}

// makeDeviceID returns the provider-side id a synthetic account uses with
// one provider.
func makeDeviceID(provider string, index int) string {
	return fmt.Sprintf("%s%04d", providerDevicePrefix[provider], index+1)
}

// generateWebhooks creates the configured number of provider callbacks
// spread across the synthetic accounts and the last few days.
func generateWebhooks(ctx context.Context, config *Config, stats *Stats) ([]Webhook, error) {
	logger.Get().Info(ctx, "generating provider callbacks",
		logger.Int("numEvents", config.NumEvents),
		logger.Int("numUsers", config.NumUsers))

	webhooks := make([]Webhook, config.NumEvents)
	now := time.Now().UTC()

	// Generate callbacks concurrently
	type webhookResult struct {
		index   int
		webhook Webhook
		err     error
	}

	resultChan := make(chan webhookResult, config.NumEvents)

	// Use worker pool for callback generation
	workerCount := minInt(config.Workers, config.NumEvents)
	perWorker := config.NumEvents / workerCount

	for worker := 0; worker < workerCount; worker++ {
		start := worker * perWorker
		end := start + perWorker
		if worker == workerCount-1 {
			end = config.NumEvents // Last worker gets remaining callbacks
		}

		go func(start, end int) {
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					resultChan <- webhookResult{index: i, err: ctx.Err()}
					return
				default:
					webhook, err := generateSingleWebhook(i, config.NumUsers, now)
					resultChan <- webhookResult{index: i, webhook: webhook, err: err}
				}
			}
		}(start, end)
	}

	// Collect results
	for i := 0; i < config.NumEvents; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during callback generation: %w", ctx.Err())
		case result := <-resultChan:
			if result.err != nil {
				return nil, fmt.Errorf("failed to generate callback %d: %w", result.index, result.err)
			}
			webhooks[result.index] = result.webhook
		}
	}

	stats.WebhooksGenerated = len(webhooks)
	logger.Get().Info(ctx, "generated callbacks successfully", logger.Int("count", len(webhooks)))

	return webhooks, nil
}

// generateSingleWebhook creates a single callback for the account and day
// derived from the index, with the kind drawn at random.
func generateSingleWebhook(index, numUsers int, now time.Time) (Webhook, error) {
	userIndex := index % numUsers
	day := now.AddDate(0, 0, -(index % daySpread))

	kindNum, _ := rand.Int(rand.Reader, big.NewInt(eventKindDivisor))

	var (
		provider string
		kind     string
		body     map[string]any
	)
	switch kindNum.Int64() {
	case casePulsebandRecovery:
		provider, kind = normalize.ProviderPulseband, "recovery.updated"
		body = pulsebandRecoveryBody(userIndex, day)
	case casePulsebandSleep:
		provider, kind = normalize.ProviderPulseband, "sleep.updated"
		body = pulsebandSleepBody(index, userIndex, day)
	case caseSomnusSleep:
		provider, kind = normalize.ProviderSomnus, "sleep"
		body = somnusSleepBody(index, userIndex, day)
	case caseSomnusActivity:
		provider, kind = normalize.ProviderSomnus, "daily_activity"
		body = somnusActivityBody(userIndex, day)
	case caseTrailwatchDaily:
		provider, kind = normalize.ProviderTrailwatch, "dailies"
		body = trailwatchDailyBody(userIndex, day)
	case caseTrailwatchWorkout:
		provider, kind = normalize.ProviderTrailwatch, "activity"
		body = trailwatchWorkoutBody(userIndex, day)
	case caseHealthsyncTotals:
		provider, kind = normalize.ProviderHealthsync, "daily_totals"
		body = healthsyncTotalsBody(userIndex, day)
	default:
		provider, kind = normalize.ProviderHealthsync, "point_metrics"
		body = healthsyncPointsBody(userIndex, day)
	}

	raw, err := marshalJSON(body)
	if err != nil {
		return Webhook{}, fmt.Errorf("failed to marshal %s %s callback: %w", provider, kind, err)
	}

	return Webhook{
		Provider:     provider,
		Kind:         kind,
		DeviceUserID: makeDeviceID(provider, userIndex),
		UserID:       makeUserID(userIndex),
		Body:         raw,
	}, nil
}

// sleepWindow builds a plausible overnight window ending on the given day.
func sleepWindow(index int, day time.Time) (time.Time, time.Time, int) {
	durS := sleepDurationMinS + int(getRandomFloat()*sleepDurationRangeS)
	jitter := time.Duration(index%bedtimeJitterMaxMin) * time.Minute
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).
		Add(-90*time.Minute + jitter)
	end := start.Add(time.Duration(durS) * time.Second)
	return start, end, durS
}

// stageSplit divides a sleep duration into stage seconds.
func stageSplit(durS int) (light, deep, rem, awake int) {
	light = durS * lightStageShare / PercentageMultiplier
	deep = durS * deepStageShare / PercentageMultiplier
	rem = durS * remStageShare / PercentageMultiplier
	awake = durS - light - deep - rem
	return light, deep, rem, awake
}

func pulsebandRecoveryBody(userIndex int, day time.Time) map[string]any {
	recordedAt := time.Date(day.Year(), day.Month(), day.Day(), 7, 5, 0, 0, time.UTC)
	return map[string]any{
		"event_type": "recovery.updated",
		"user_id":    makeDeviceID(normalize.ProviderPulseband, userIndex),
		"data": map[string]any{
			"cycle_id":           uuid.New().String(),
			"recovery_score":     roundTo1(recoveryScoreMin + getRandomFloat()*recoveryScoreRange),
			"hrv_rmssd_milli":    roundTo1(hrvMin + getRandomFloat()*hrvRange),
			"resting_heart_rate": roundTo1(restingHRMin + getRandomFloat()*restingHRRange),
			"spo2_percentage":    roundTo1(spo2Min + getRandomFloat()*spo2Range),
			"recorded_at":        recordedAt.Format(time.RFC3339),
		},
	}
}

func pulsebandSleepBody(index, userIndex int, day time.Time) map[string]any {
	start, end, durS := sleepWindow(index, day)
	light, deep, rem, awake := stageSplit(durS)
	return map[string]any{
		"event_type": "sleep.updated",
		"user_id":    makeDeviceID(normalize.ProviderPulseband, userIndex),
		"data": map[string]any{
			"sleep_id": uuid.New().String(),
			"start":    start.Format(time.RFC3339),
			"end":      end.Format(time.RFC3339),
			"stage_summary": map[string]any{
				"light_sleep_milli":     light * millisecondsPerSecond,
				"slow_wave_sleep_milli": deep * millisecondsPerSecond,
				"rem_sleep_milli":       rem * millisecondsPerSecond,
				"awake_milli":           awake * millisecondsPerSecond,
			},
			"sleep_efficiency_percentage": roundTo1(efficiencyMin + getRandomFloat()*efficiencyRange),
			"respiratory_rate":            roundTo1(respirationMin + getRandomFloat()*respirationRange),
		},
	}
}

func somnusSleepBody(index, userIndex int, day time.Time) map[string]any {
	start, end, durS := sleepWindow(index, day)
	light, deep, rem, awake := stageSplit(durS)
	return map[string]any{
		"data_type": "sleep",
		"member_id": makeDeviceID(normalize.ProviderSomnus, userIndex),
		"record": map[string]any{
			"id":                uuid.New().String(),
			"day":               day.Format(dateLayout),
			"bedtime_start":     start.Format(time.RFC3339),
			"bedtime_end":       end.Format(time.RFC3339),
			"efficiency":        roundTo1(efficiencyMin + getRandomFloat()*efficiencyRange),
			"average_hrv":       roundTo1(hrvMin + getRandomFloat()*hrvRange),
			"lowest_heart_rate": roundTo1(restingHRMin + getRandomFloat()*restingHRRange),
			"hypnogram": []map[string]any{
				{"stage": "light", "seconds": light},
				{"stage": "deep", "seconds": deep},
				{"stage": "rem", "seconds": rem},
				{"stage": "awake", "seconds": awake},
			},
		},
	}
}

func somnusActivityBody(userIndex int, day time.Time) map[string]any {
	return map[string]any{
		"data_type": "daily_activity",
		"member_id": makeDeviceID(normalize.ProviderSomnus, userIndex),
		"record": map[string]any{
			"day":                         day.Format(dateLayout),
			"steps":                       stepsMin + int(getRandomFloat()*stepsRange),
			"high_activity_seconds":       int(getRandomFloat() * highActivityMaxS),
			"medium_activity_seconds":     int(getRandomFloat() * mediumActivityMaxS),
			"total_calories":              roundTo1(caloriesMin + getRandomFloat()*caloriesRange),
			"equivalent_walking_distance": roundTo1(distanceMin + getRandomFloat()*distanceRange),
		},
	}
}

func trailwatchDailyBody(userIndex int, day time.Time) map[string]any {
	activeMinutes := activeMinutesMin + int(getRandomFloat()*activeMinutesRange)
	return map[string]any{
		"notification_type": "dailies",
		"device_user_id":    makeDeviceID(normalize.ProviderTrailwatch, userIndex),
		"records": []map[string]any{{
			"calendar_date":          day.Format(dateLayout),
			"steps":                  stepsMin + int(getRandomFloat()*stepsRange),
			"distance_in_meters":     roundTo1(distanceMin + getRandomFloat()*distanceRange),
			"active_time_in_seconds": activeMinutes * secondsPerMinute,
			"active_kilocalories":    roundTo1(caloriesMin + getRandomFloat()*caloriesRange),
			"average_stress_level":   roundTo1(stressMin + getRandomFloat()*stressRange),
			"resting_heart_rate_in_beats_per_minute": roundTo1(restingHRMin + getRandomFloat()*restingHRRange),
		}},
	}
}

func trailwatchWorkoutBody(userIndex int, day time.Time) map[string]any {
	durS := workoutDurationMinS + int(getRandomFloat()*workoutDurationRange)
	start := time.Date(day.Year(), day.Month(), day.Day(), 17, 10, 0, 0, time.UTC)
	avgHR := heartRateMin + getRandomFloat()*heartRateRange

	sportNum, _ := rand.Int(rand.Reader, big.NewInt(int64(len(workoutSports))))
	activityID, _ := rand.Int(rand.Reader, big.NewInt(activityIDDivisor))

	zoneS := durS / heartRateZones
	return map[string]any{
		"notification_type": "activity",
		"device_user_id":    makeDeviceID(normalize.ProviderTrailwatch, userIndex),
		"records": []map[string]any{{
			"activity_id":                    activityID.Int64(),
			"activity_type":                  workoutSports[sportNum.Int64()],
			"start_time_in_seconds":          start.Unix(),
			"duration_in_seconds":            durS,
			"distance_in_meters":             roundTo1(distanceMin + getRandomFloat()*distanceRange),
			"total_elevation_gain_in_meters": roundTo1(getRandomFloat() * elevationGainMax),
			"active_kilocalories":            roundTo1(workoutCaloriesMin + getRandomFloat()*workoutCaloriesRange),
			"average_heart_rate_in_beats_per_minute": roundTo1(avgHR),
			"max_heart_rate_in_beats_per_minute":     roundTo1(avgHR + maxHeartRateLift),
			"time_in_heart_rate_zones": map[string]any{
				"1": zoneS,
				"2": zoneS,
				"3": zoneS,
				"4": zoneS,
				"5": durS - (heartRateZones-1)*zoneS,
			},
		}},
	}
}

func healthsyncTotalsBody(userIndex int, day time.Time) map[string]any {
	return map[string]any{
		"kind":       "daily_totals",
		"account_id": makeDeviceID(normalize.ProviderHealthsync, userIndex),
		"data": map[string]any{
			"date": day.Format(dateLayout),
			"totals": map[string]any{
				"step_count":        stepsMin + int(getRandomFloat()*stepsRange),
				"active_minutes":    activeMinutesMin + int(getRandomFloat()*activeMinutesRange),
				"calories_expended": roundTo1(caloriesMin + getRandomFloat()*caloriesRange),
				"distance_delta":    roundTo1(distanceMin + getRandomFloat()*distanceRange),
			},
		},
	}
}

func healthsyncPointsBody(userIndex int, day time.Time) map[string]any {
	timestamp := time.Date(day.Year(), day.Month(), day.Day(), 10, 40, 0, 0, time.UTC).Format(time.RFC3339)
	return map[string]any{
		"kind":       "point_metrics",
		"account_id": makeDeviceID(normalize.ProviderHealthsync, userIndex),
		"data": map[string]any{
			"points": []map[string]any{
				{
					"data_type": "heart_rate_bpm",
					"value":     roundTo1(heartRateMin + getRandomFloat()*heartRateRange),
					"timestamp": timestamp,
				},
				{
					"data_type": "oxygen_saturation",
					"value":     roundTo3(oxygenFractionMin + getRandomFloat()*oxygenFractionRange),
					"timestamp": timestamp,
				},
				{
					"data_type": "body_weight_kg",
					"value":     roundTo1(bodyWeightMin + getRandomFloat()*bodyWeightRange),
					"timestamp": timestamp,
				},
			},
		},
	}
}

// roundTo1 keeps one decimal so payloads read like real device exports.
func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}

// roundTo3 keeps three decimals for fraction-valued points.
func roundTo3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// minInt returns the minimum of two integers.
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
