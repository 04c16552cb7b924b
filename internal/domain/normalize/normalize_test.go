package normalize_test

import (
	"errors"
	"testing"
	"time"

	normalize "github.com/okian/vitals/internal/domain/normalize"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistryDispatch(t *testing.T) {
	Convey("Given the default registry", t, func() {
		r := normalize.NewDefaultRegistry()

		Convey("When listing providers", func() {
			providers := r.Providers()

			Convey("Then all built-in providers are registered", func() {
				So(providers, ShouldResemble, []string{"healthsync", "pulseband", "somnus", "trailwatch"})
			})
		})

		Convey("When checking provider knowledge", func() {
			So(r.KnownProvider("pulseband"), ShouldBeTrue)
			So(r.KnownProvider("garagebuild"), ShouldBeFalse)
		})

		Convey("When looking up a registered mapper", func() {
			fn, ok := r.Lookup("pulseband", "recovery.updated")

			Convey("Then the mapper is found", func() {
				So(ok, ShouldBeTrue)
				So(fn, ShouldNotBeNil)
			})
		})

		Convey("When looking up an unknown event type for a known provider", func() {
			_, ok := r.Lookup("pulseband", "cycle.updated")

			Convey("Then the lookup misses so the caller can mark the event failed", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When normalizing with an unregistered pair", func() {
			_, ok := r.Normalize(normalize.Input{Provider: "pulseband", EventType: "cycle.updated"})
			So(ok, ShouldBeFalse)
		})
	})
}

func TestRegistryIsAdditive(t *testing.T) {
	Convey("Given an empty registry", t, func() {
		r := normalize.NewRegistry()

		Convey("When registering a new provider at runtime", func() {
			r.RegisterEnvelope("labstrap", func(payload []byte) (normalize.Envelope, error) {
				return normalize.Envelope{EventType: "reading", ProviderUserID: "x"}, nil
			})
			r.Register("labstrap", "reading", func(in normalize.Input) normalize.Output {
				return normalize.Output{}
			})

			Convey("Then it becomes dispatchable without touching others", func() {
				So(r.KnownProvider("labstrap"), ShouldBeTrue)
				_, ok := r.Lookup("labstrap", "reading")
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func TestEnvelopeParsing(t *testing.T) {
	Convey("Given the default registry", t, func() {
		r := normalize.NewDefaultRegistry()

		Convey("When parsing a valid pulseband envelope", func() {
			env, err := r.ParseEnvelope("pulseband", []byte(`{"event_type":"recovery.updated","user_id":"pb-801","data":{}}`))

			Convey("Then event type and provider user id come back", func() {
				So(err, ShouldBeNil)
				So(env.EventType, ShouldEqual, "recovery.updated")
				So(env.ProviderUserID, ShouldEqual, "pb-801")
			})
		})

		Convey("When parsing an envelope for an unknown provider", func() {
			_, err := r.ParseEnvelope("garagebuild", []byte(`{}`))

			Convey("Then the unknown provider sentinel is returned", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, normalize.ErrUnknownProvider), ShouldBeTrue)
			})
		})

		Convey("When the body is not JSON", func() {
			_, err := r.ParseEnvelope("pulseband", []byte(`not-json`))

			Convey("Then the malformed payload sentinel is returned", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, normalize.ErrMalformedPayload), ShouldBeTrue)
			})
		})

		Convey("When the body carries no provider user id", func() {
			_, err := r.ParseEnvelope("somnus", []byte(`{"data_type":"sleep","record":{}}`))

			Convey("Then the missing user sentinel is returned", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, normalize.ErrMissingUser), ShouldBeTrue)
			})
		})
	})
}

func TestOutputShape(t *testing.T) {
	Convey("Given normalization outputs", t, func() {
		Convey("When the output holds no records", func() {
			out := normalize.Output{Problems: []normalize.Problem{{Field: "x", Reason: "y"}}}

			Convey("Then it is empty even with problems attached", func() {
				So(out.Empty(), ShouldBeTrue)
				So(out.RecordCount(), ShouldEqual, 0)
			})
		})

		Convey("When the output holds records of each kind", func() {
			r := normalize.NewDefaultRegistry()
			in := normalize.Input{
				UserID:     "user-1",
				Provider:   "pulseband",
				EventType:  "recovery.updated",
				ReceivedAt: time.Now(),
				Payload:    []byte(`{"event_type":"recovery.updated","user_id":"pb-801","data":{"recovery_score":72,"recorded_at":"2026-03-14T07:10:00Z"}}`),
			}
			out, ok := r.Normalize(in)

			Convey("Then the counters reflect it", func() {
				So(ok, ShouldBeTrue)
				So(out.Empty(), ShouldBeFalse)
				So(out.RecordCount(), ShouldEqual, 1)
			})
		})
	})
}
