package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/datatypes"

	"github.com/okian/vitals/internal/adapters/repository"
	service "github.com/okian/vitals/internal/app"
	"github.com/okian/vitals/internal/domain/identity"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/priority"
	"github.com/okian/vitals/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// newTestService builds a service on a throwaway database so tests never
// write into the working directory.
func newTestService(t *testing.T, opts ...service.Option) *service.Service {
	t.Helper()
	base := []service.Option{
		service.WithDatabase(repository.DriverSQLite, filepath.Join(t.TempDir(), "vitals.db")),
		service.WithWorkerCount(2),
		service.WithQueueCapacity(64),
	}
	return service.New(append(base, opts...)...)
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a freshly constructed service", t, func() {
		svc := newTestService(t)
		ctx := context.Background()

		Convey("Stats report it as stopped before Start", func() {
			stats := svc.GetStats()
			So(stats["service"], ShouldEqual, "vitals")
			So(stats["started"], ShouldBeFalse)
			So(stats, ShouldNotContainKey, "queue")
		})

		Convey("When the service is started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			Convey("It reports runtime stats", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldBeTrue)
				So(stats["providers"], ShouldContain, "pulseband")
				So(stats["providers"], ShouldContain, "somnus")
				So(stats["providers"], ShouldContain, "trailwatch")
				So(stats["providers"], ShouldContain, "healthsync")
				So(stats, ShouldContainKey, "queue")
				So(stats, ShouldContainKey, "workers")
			})

			Convey("All four providers are routable", func() {
				for _, p := range []string{"pulseband", "somnus", "trailwatch", "healthsync"} {
					So(svc.KnownProvider(p), ShouldBeTrue)
				}
				So(svc.KnownProvider("fitbitron"), ShouldBeFalse)
			})

			Convey("A second Start is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})

			Convey("Stop tears it down and is safe to repeat", func() {
				svc.Stop()
				svc.Stop()
				So(svc.GetStats()["started"], ShouldBeFalse)
			})

			Convey("The service can be restarted after Stop", func() {
				svc.Stop()
				So(svc.Start(ctx), ShouldBeNil)
				So(svc.GetStats()["started"], ShouldBeTrue)
			})
		})
	})
}

func TestServiceOptions(t *testing.T) {
	Convey("Given a service with explicit sizing", t, func() {
		table := priority.NewTable(priority.WithRanks(map[string]int{"pulseband": 90}))
		svc := newTestService(t,
			service.WithWorkerCount(3),
			service.WithQueueCapacity(8),
			service.WithIdentityCacheSize(32),
			service.WithPriorityTable(table),
		)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		stats := svc.GetStats()

		Convey("The worker pool matches the configured size", func() {
			workers, ok := stats["workers"].(map[string]interface{})
			So(ok, ShouldBeTrue)
			So(workers["total"], ShouldEqual, 3)
		})

		Convey("The queue matches the configured capacity", func() {
			queue, ok := stats["queue"].(map[string]interface{})
			So(ok, ShouldBeTrue)
			So(queue["capacity"], ShouldEqual, 8)
			So(queue["depth"], ShouldEqual, 0)
		})

		Convey("The injected priority table is the one in use", func() {
			So(stats["priority_version"], ShouldEqual, table.Version())
		})
	})
}

func TestServiceIdentity(t *testing.T) {
	Convey("Given a running service", t, func() {
		svc := newTestService(t)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Linked connections resolve to the internal user", func() {
			So(svc.LinkConnection(ctx, "pulseband", "pb-9", "user-9"), ShouldBeNil)

			got, err := svc.ResolveUser(ctx, "pulseband", "pb-9")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, "user-9")

			Convey("and repeat lookups are served from the cache", func() {
				_, err := svc.ResolveUser(ctx, "pulseband", "pb-9")
				So(err, ShouldBeNil)
				So(svc.GetStats()["identity_cache_size"], ShouldEqual, 1)
			})
		})

		Convey("Unlinked device owners are rejected", func() {
			_, err := svc.ResolveUser(ctx, "pulseband", "pb-ghost")
			So(errors.Is(err, identity.ErrUnknownUser), ShouldBeTrue)
		})

		Convey("Relinking a connection takes effect immediately", func() {
			So(svc.LinkConnection(ctx, "somnus", "som-4", "user-old"), ShouldBeNil)
			got, err := svc.ResolveUser(ctx, "somnus", "som-4")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, "user-old")

			So(svc.LinkConnection(ctx, "somnus", "som-4", "user-new"), ShouldBeNil)
			got, err = svc.ResolveUser(ctx, "somnus", "som-4")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, "user-new")
		})
	})
}

func TestServiceCrashRecovery(t *testing.T) {
	Convey("Given a pending raw event left behind by a dead process", t, func() {
		dbPath := filepath.Join(t.TempDir(), "vitals.db")
		ctx := context.Background()

		first := service.New(
			service.WithDatabase(repository.DriverSQLite, dbPath),
			service.WithWorkerCount(2),
			service.WithQueueCapacity(16),
		)
		So(first.Start(ctx), ShouldBeNil)
		So(first.LinkConnection(ctx, "pulseband", "pb-crash", "user-crash"), ShouldBeNil)

		payload := `{"event_type":"recovery.updated","user_id":"pb-crash","data":{"cycle_id":"c-77","recovery_score":58,"hrv_rmssd_milli":64,"recorded_at":"2026-03-20T06:45:00Z"}}`
		event := &model.RawEvent{
			ID:         uuid.NewString(),
			Provider:   "pulseband",
			EventType:  "recovery.updated",
			UserID:     "user-crash",
			Payload:    datatypes.JSON(payload),
			Status:     model.RawEventStatusPending,
			ReceivedAt: time.Now().UTC(),
		}
		// Persisted but never enqueued, as if the process died between
		// the two steps.
		So(first.AppendRawEvent(ctx, event), ShouldBeNil)
		first.Stop()

		Convey("When the service starts again on the same database", func() {
			second := service.New(
				service.WithDatabase(repository.DriverSQLite, dbPath),
				service.WithWorkerCount(2),
				service.WithQueueCapacity(16),
			)
			So(second.Start(ctx), ShouldBeNil)
			defer second.Stop()
			So(waitDrained(ctx, second), ShouldBeTrue)

			Convey("The event is requeued and processed", func() {
				processed, err := second.ListRawEvents(ctx, model.RawEventStatusProcessed, "", 10)
				So(err, ShouldBeNil)
				So(processed, ShouldHaveLength, 1)
				So(processed[0].ID, ShouldEqual, event.ID)

				best, err := second.BestMetric(ctx, "user-crash", model.MetricHRV, "2026-03-20")
				So(err, ShouldBeNil)
				So(best.Value, ShouldEqual, 64)
			})
		})
	})
}
