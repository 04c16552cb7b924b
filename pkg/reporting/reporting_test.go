package reporting

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestReportingDisabled(t *testing.T) {
	Convey("Given reporting with no DSN configured", t, func() {
		err := Init(Config{})

		Convey("Then initialization succeeds but reporting stays disabled", func() {
			So(err, ShouldBeNil)
			So(Enabled(), ShouldBeFalse)
		})

		Convey("When capturing errors and panics", func() {
			Convey("Then every call is a safe no-op", func() {
				So(func() {
					CaptureError(errors.New("boom"), map[string]string{"component": "worker"})
					CaptureError(nil, nil)
					CapturePanic("unexpected", nil)
					CapturePanic(nil, nil)
					Flush()
				}, ShouldNotPanic)
			})
		})
	})
}
