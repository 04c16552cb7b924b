package normalize_test

import (
	"testing"
	"time"

	"github.com/okian/vitals/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTrailwatchActivity(t *testing.T) {
	Convey("Given a batched activity push with one broken record", t, func() {
		payload := `{
			"notification_type": "activity",
			"device_user_id": "tw-5509",
			"records": [
				{
					"activity_id": 9000817,
					"activity_type": "TRAIL_RUNNING",
					"start_time_in_seconds": 1773516600,
					"duration_in_seconds": 5400,
					"distance_in_meters": 14200,
					"total_elevation_gain_in_meters": 410,
					"active_kilocalories": 812,
					"average_heart_rate_in_beats_per_minute": 149,
					"max_heart_rate_in_beats_per_minute": 176,
					"time_in_heart_rate_zones": {"1": 600, "2": 1800, "3": 2100, "4": 780, "5": 120}
				},
				{"activity_id": 9000818, "activity_type": "CYCLING"},
				{
					"activity_id": 9000819,
					"activity_type": "OPEN_WATER_SWIMMING",
					"start_time_in_seconds": 1773528000,
					"duration_in_seconds": 1800
				}
			]
		}`

		Convey("When it is normalized", func() {
			out := normalizeOne(t, "trailwatch", "activity", payload)

			Convey("Then the valid records map and the broken one is a problem", func() {
				So(out.Activities, ShouldHaveLength, 2)
				So(out.Problems, ShouldHaveLength, 1)
				So(out.Problems[0].Field, ShouldEqual, "records[1]")
			})

			Convey("Then the run keeps its external id, sport and zones", func() {
				run := out.Activities[0]
				So(run.ExternalID, ShouldEqual, "9000817")
				So(run.Sport, ShouldEqual, "trail_running")
				So(run.DurationS, ShouldEqual, 5400)
				So(run.EndTime.Sub(run.StartTime), ShouldEqual, 5400*time.Second)
				So(run.DistanceM, ShouldEqual, 14200)
				So(run.ElevationGainM, ShouldEqual, 410)
				So(run.Calories, ShouldEqual, 812)
				So(run.Zone1S, ShouldEqual, 600)
				So(run.Zone2S, ShouldEqual, 1800)
				So(run.Zone3S, ShouldEqual, 2100)
				So(run.Zone4S, ShouldEqual, 780)
				So(run.Zone5S, ShouldEqual, 120)
			})

			Convey("Then the swim maps even without optional fields", func() {
				swim := out.Activities[1]
				So(swim.Sport, ShouldEqual, "open_water_swimming")
				So(swim.DurationS, ShouldEqual, 1800)
				So(swim.Calories, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a record with a zone key outside the canonical five", t, func() {
		payload := `{
			"notification_type": "activity",
			"device_user_id": "tw-5509",
			"records": [{
				"activity_id": 9000820,
				"activity_type": "HIKING",
				"start_time_in_seconds": 1773516600,
				"duration_in_seconds": 3600,
				"time_in_heart_rate_zones": {"2": 1200, "7": 300}
			}]
		}`

		Convey("When it is normalized", func() {
			out := normalizeOne(t, "trailwatch", "activity", payload)

			Convey("Then the session survives and the odd zone is a problem", func() {
				So(out.Activities, ShouldHaveLength, 1)
				So(out.Activities[0].Zone2S, ShouldEqual, 1200)
				So(out.Problems, ShouldHaveLength, 1)
				So(out.Problems[0].Field, ShouldEqual, "records[0].time_in_heart_rate_zones.7")
			})
		})
	})
}

func TestTrailwatchDailies(t *testing.T) {
	Convey("Given a dailies push with totals and a resting heart rate", t, func() {
		payload := `{
			"notification_type": "dailies",
			"device_user_id": "tw-5509",
			"records": [{
				"calendar_date": "2026-03-14",
				"steps": 11200,
				"distance_in_meters": 8400,
				"active_time_in_seconds": 3900,
				"active_kilocalories": 640,
				"average_stress_level": 31,
				"resting_heart_rate_in_beats_per_minute": 52
			}]
		}`

		Convey("When it is normalized", func() {
			out := normalizeOne(t, "trailwatch", "dailies", payload)

			Convey("Then the totals become a summary patch", func() {
				So(out.Summaries, ShouldHaveLength, 1)
				p := out.Summaries[0]
				So(p.Date, ShouldEqual, "2026-03-14")
				So(p.Fields[model.SummaryFieldSteps], ShouldEqual, 11200)
				So(p.Fields[model.SummaryFieldDistance], ShouldEqual, 8400)
				So(p.Fields[model.SummaryFieldActiveMinutes], ShouldAlmostEqual, 65, 0.001)
				So(p.Fields[model.SummaryFieldCalories], ShouldEqual, 640)
				So(p.Fields[model.SummaryFieldAvgStress], ShouldEqual, 31)
			})

			Convey("Then the resting heart rate is anchored to the end of its day", func() {
				So(out.Metrics, ShouldHaveLength, 1)
				m := out.Metrics[0]
				So(m.MetricType, ShouldEqual, model.MetricRestingHR)
				So(m.Value, ShouldEqual, 52)
				So(m.Date, ShouldEqual, "2026-03-14")
				So(m.RecordedAt.Equal(time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)), ShouldBeTrue)
			})
		})
	})

	Convey("Given a daily record without a calendar date", t, func() {
		payload := `{
			"notification_type": "dailies",
			"device_user_id": "tw-5509",
			"records": [{"steps": 100}]
		}`

		Convey("When it is normalized", func() {
			out := normalizeOne(t, "trailwatch", "dailies", payload)

			Convey("Then the record cannot be bucketed and is a problem", func() {
				So(out.Empty(), ShouldBeTrue)
				So(out.Problems, ShouldHaveLength, 1)
			})
		})
	})
}
