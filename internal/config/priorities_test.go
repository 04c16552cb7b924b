package config_test

import (
	"os"
	"testing"

	"github.com/okian/vitals/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestLoadPriorities(t *testing.T) {
	convey.Convey("Given a priorities file", t, func() {
		convey.Convey("When loading a well-formed file", func() {
			yamlContent := `
default_priority: 10
sources:
  pulseband: 100
  somnus: 70
  trailwatch: 70
  healthsync: 40
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			ps, err := config.LoadPriorities(tmpFile)

			convey.Convey("Then ranks and default come back", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ps, convey.ShouldNotBeNil)
				convey.So(ps.DefaultPriority, convey.ShouldEqual, 10)
				convey.So(ps.Sources["pulseband"], convey.ShouldEqual, 100)
				convey.So(ps.Sources["somnus"], convey.ShouldEqual, 70)
				convey.So(ps.Sources["trailwatch"], convey.ShouldEqual, 70)
				convey.So(ps.Sources["healthsync"], convey.ShouldEqual, 40)
			})
		})

		convey.Convey("When loading a file with only sources", func() {
			yamlContent := `
sources:
  pulseband: 100
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			ps, err := config.LoadPriorities(tmpFile)

			convey.Convey("Then the default priority stays zero", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ps.DefaultPriority, convey.ShouldEqual, 0)
				convey.So(ps.Sources, convey.ShouldHaveLength, 1)
			})
		})

		convey.Convey("When the file does not exist", func() {
			ps, err := config.LoadPriorities("/non/existent/priorities.yaml")

			convey.Convey("Then an error is returned", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(ps, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the file is not valid YAML", func() {
			tmpFile := createTempConfigFile(`sources: [broken`)
			defer func() { _ = os.Remove(tmpFile) }()

			ps, err := config.LoadPriorities(tmpFile)

			convey.Convey("Then an error is returned", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(ps, convey.ShouldBeNil)
			})
		})
	})
}

func TestWatchPriorities(t *testing.T) {
	convey.Convey("Given a priorities file under watch", t, func() {
		yamlContent := `
sources:
  pulseband: 100
`
		tmpFile := createTempConfigFile(yamlContent)
		defer func() { _ = os.Remove(tmpFile) }()

		convey.Convey("When starting and stopping a watch", func() {
			stop, err := config.WatchPriorities(tmpFile,
				func(*config.PrioritySet) {},
				func(error) {},
			)

			convey.Convey("Then the watch starts cleanly and can be stopped", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stop, convey.ShouldNotBeNil)
				stop()
			})
		})

		convey.Convey("When watching a file that does not exist", func() {
			stop, err := config.WatchPriorities("/non/existent/priorities.yaml",
				func(*config.PrioritySet) {},
				func(error) {},
			)

			convey.Convey("Then an error is returned", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(stop, convey.ShouldBeNil)
			})
		})
	})
}
