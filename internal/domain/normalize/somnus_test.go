package normalize_test

import (
	"testing"

	"github.com/okian/vitals/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSomnusSleep(t *testing.T) {
	Convey("Given a sleep record with a hypnogram", t, func() {
		payload := `{
			"data_type": "sleep",
			"member_id": "sn-119",
			"record": {
				"id": "slp-2026-03-14",
				"day": "2026-03-14",
				"bedtime_start": "2026-03-13T23:05:00Z",
				"bedtime_end": "2026-03-14T07:05:00Z",
				"hypnogram": [
					{"stage": "light", "seconds": 14400},
					{"stage": "deep", "seconds": 6300},
					{"stage": "rem", "seconds": 6000},
					{"stage": "awake", "seconds": 1500},
					{"stage": "restless", "seconds": 600}
				],
				"efficiency": 88.0,
				"average_hrv": 52.3,
				"lowest_heart_rate": 44
			}
		}`

		Convey("When it is normalized", func() {
			out := normalizeOne(t, "somnus", "sleep", payload)

			Convey("Then segments are summed per stage with unknown names in other", func() {
				So(out.Problems, ShouldBeEmpty)
				So(out.Sleeps, ShouldHaveLength, 1)
				s := out.Sleeps[0]
				So(s.ExternalID, ShouldEqual, "slp-2026-03-14")
				So(s.DurationS, ShouldEqual, 28800)
				So(s.LightS, ShouldEqual, 14400)
				So(s.DeepS, ShouldEqual, 6300)
				So(s.RemS, ShouldEqual, 6000)
				So(s.AwakeS, ShouldEqual, 1500)
				So(s.OtherS, ShouldEqual, 600)
				So(s.Efficiency, ShouldAlmostEqual, 88.0, 0.001)
			})

			Convey("Then the nightly vitals become metrics on the record day", func() {
				So(out.Metrics, ShouldHaveLength, 2)
				hrv, ok := findMetric(out.Metrics, model.MetricHRV)
				So(ok, ShouldBeTrue)
				So(hrv.Date, ShouldEqual, "2026-03-14")
				So(hrv.Value, ShouldAlmostEqual, 52.3, 0.001)
				rhr, ok := findMetric(out.Metrics, model.MetricRestingHR)
				So(ok, ShouldBeTrue)
				So(rhr.Value, ShouldEqual, 44)
				So(rhr.Source, ShouldEqual, "somnus")
			})
		})
	})

	Convey("Given a hypnogram with a segment missing its duration", t, func() {
		payload := `{
			"data_type": "sleep",
			"member_id": "sn-119",
			"record": {
				"id": "slp-x",
				"bedtime_start": "2026-03-13T23:05:00Z",
				"bedtime_end": "2026-03-14T07:05:00Z",
				"hypnogram": [
					{"stage": "light", "seconds": 3600},
					{"stage": "deep"}
				]
			}
		}`

		Convey("When it is normalized", func() {
			out := normalizeOne(t, "somnus", "sleep", payload)

			Convey("Then the broken segment is a problem and the rest still maps", func() {
				So(out.Sleeps, ShouldHaveLength, 1)
				So(out.Sleeps[0].LightS, ShouldEqual, 3600)
				So(out.Sleeps[0].DeepS, ShouldEqual, 0)
				So(out.Problems, ShouldHaveLength, 1)
				So(out.Problems[0].Field, ShouldEqual, "record.hypnogram[1]")
			})

			Convey("Then the day falls back to the bedtime end", func() {
				So(out.Sleeps[0].EndTime.Format(model.DateLayout), ShouldEqual, "2026-03-14")
			})
		})
	})
}

func TestSomnusDailyActivity(t *testing.T) {
	Convey("Given a daily activity record", t, func() {
		payload := `{
			"data_type": "daily_activity",
			"member_id": "sn-119",
			"record": {
				"day": "2026-03-14",
				"steps": 8450,
				"high_activity_seconds": 600,
				"medium_activity_seconds": 2100,
				"total_calories": 2380,
				"equivalent_walking_distance": 6200
			}
		}`

		Convey("When it is normalized", func() {
			out := normalizeOne(t, "somnus", "daily_activity", payload)

			Convey("Then a summary patch covers the fields it carries", func() {
				So(out.Problems, ShouldBeEmpty)
				So(out.Summaries, ShouldHaveLength, 1)
				p := out.Summaries[0]
				So(p.Date, ShouldEqual, "2026-03-14")
				So(p.Fields[model.SummaryFieldSteps], ShouldEqual, 8450)
				So(p.Fields[model.SummaryFieldActiveMinutes], ShouldAlmostEqual, 45, 0.001)
				So(p.Fields[model.SummaryFieldCalories], ShouldEqual, 2380)
				So(p.Fields[model.SummaryFieldDistance], ShouldEqual, 6200)
			})

			Convey("Then fields the record never mentions stay out of the patch", func() {
				_, ok := out.Summaries[0].Fields[model.SummaryFieldAvgStress]
				So(ok, ShouldBeFalse)
			})
		})
	})

	Convey("Given a daily activity record with no usable fields", t, func() {
		payload := `{
			"data_type": "daily_activity",
			"member_id": "sn-119",
			"record": {"day": "2026-03-14"}
		}`

		Convey("When it is normalized", func() {
			out := normalizeOne(t, "somnus", "daily_activity", payload)

			Convey("Then it yields a problem instead of an empty patch", func() {
				So(out.Empty(), ShouldBeTrue)
				So(out.Problems, ShouldHaveLength, 1)
			})
		})
	})
}

func TestSomnusReadiness(t *testing.T) {
	Convey("Given a readiness record", t, func() {
		payload := `{
			"data_type": "readiness",
			"member_id": "sn-119",
			"record": {
				"day": "2026-03-14",
				"score": 81,
				"temperature_deviation": -0.3,
				"timestamp": "2026-03-14T06:50:00Z"
			}
		}`

		Convey("When it is normalized", func() {
			out := normalizeOne(t, "somnus", "readiness", payload)

			Convey("Then readiness and temperature deviation become metrics", func() {
				So(out.Metrics, ShouldHaveLength, 2)
				rd, ok := findMetric(out.Metrics, model.MetricReadiness)
				So(ok, ShouldBeTrue)
				So(rd.Value, ShouldEqual, 81)
				So(rd.Unit, ShouldEqual, model.UnitScore)
				tmp, ok := findMetric(out.Metrics, model.MetricBodyTemp)
				So(ok, ShouldBeTrue)
				So(tmp.Value, ShouldAlmostEqual, -0.3, 0.001)
				So(tmp.Unit, ShouldEqual, model.UnitCelsius)
			})
		})
	})
}
