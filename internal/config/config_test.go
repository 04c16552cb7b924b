package config_test

import (
	"runtime"
	"testing"

	"github.com/okian/vitals/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.DBDriver, convey.ShouldEqual, "sqlite")
			convey.So(cfg.EventQueueSize, convey.ShouldEqual, 100_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*4)
			convey.So(cfg.IdentityCacheSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.IdentityTimeoutMS, convey.ShouldEqual, 2000)
			convey.So(cfg.SignatureMaxSkewS, convey.ShouldEqual, 300)
			convey.So(cfg.MaxBodyBytes, convey.ShouldEqual, 1<<20)
			convey.So(cfg.PrioritiesFile, convey.ShouldEqual, "priorities.yaml")
			convey.So(cfg.DefaultPriority, convey.ShouldEqual, 0)
			convey.So(cfg.MaxListLimit, convey.ShouldEqual, 500)
		})
	})
}
