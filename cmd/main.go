package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/vitals/internal/adapters/http/api"
	"github.com/okian/vitals/internal/adapters/http/site"
	"github.com/okian/vitals/internal/adapters/http/swagger"
	app "github.com/okian/vitals/internal/app"
	"github.com/okian/vitals/internal/config"
	"github.com/okian/vitals/internal/domain/priority"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
	"github.com/okian/vitals/pkg/reporting"
)

// HTTP server timeout constants.
const (
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize logging
	if err := logger.Init(); err != nil {
		// Logger isn't available yet, fall back to stderr
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	// Crash reporting stays disabled without a DSN.
	if err := reporting.Init(reporting.Config{DSN: cfg.SentryDSN, Environment: cfg.Environment}); err != nil {
		log.Warn(ctx, "error reporting disabled", logger.Error(err))
	}
	defer reporting.Flush()

	table := loadPriorityTable(ctx, cfg, log)
	stopWatch := watchPriorityTable(cfg, table, log)
	defer stopWatch()

	// Create and start the service with configuration options
	svc := app.New(
		app.WithLogger(log),
		app.WithDatabase(cfg.DBDriver, cfg.DBDSN),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueCapacity(cfg.EventQueueSize),
		app.WithIdentityCacheSize(cfg.IdentityCacheSize),
		app.WithPriorityTable(table),
	)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// Router and routes. The catch-all landing site goes last so every
	// API route stays more specific than it.
	r := chi.NewRouter()
	swagger.Register(ctx, r)

	verifier := api.NewVerifier(cfg.WebhookSecrets, time.Duration(cfg.SignatureMaxSkewS)*time.Second)
	apiServer := api.NewServer(svc, verifier, api.ServerConfig{
		MaxBodyBytes:    cfg.MaxBodyBytes,
		IdentityTimeout: time.Duration(cfg.IdentityTimeoutMS) * time.Millisecond,
		MaxListLimit:    cfg.MaxListLimit,
		MaxRangeDays:    cfg.MaxRangeDays,
	})
	apiServer.Register(ctx, r)
	site.Register(ctx, r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.ReadTimeoutS) * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutS) * time.Second,
		IdleTimeout:       time.Duration(cfg.IdleTimeoutS) * time.Second,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// loadPriorityTable builds the source ranking from the priorities file.
// A missing or unreadable file leaves every source at the configured
// default priority rather than blocking startup.
func loadPriorityTable(ctx context.Context, cfg *config.Config, log logger.Logger) *priority.Table {
	set, err := config.LoadPriorities(cfg.PrioritiesFile)
	if err != nil {
		log.Warn(ctx, "priorities file not loaded; all sources rank equal",
			logger.String("path", cfg.PrioritiesFile),
			logger.Error(err),
		)
		return priority.NewTable(priority.WithDefaultPriority(cfg.DefaultPriority))
	}
	table := priority.NewTable(
		priority.WithRanks(set.Sources),
		priority.WithDefaultPriority(set.DefaultPriority),
	)
	metrics.UpdatePriorityVersion(table.Version())
	return table
}

// watchPriorityTable hot-reloads the ranking when the priorities file
// changes. A malformed edit keeps the previous table in place.
func watchPriorityTable(cfg *config.Config, table *priority.Table, log logger.Logger) func() {
	stopWatch, err := config.WatchPriorities(cfg.PrioritiesFile,
		func(set *config.PrioritySet) {
			table.Reload(set.Sources, set.DefaultPriority)
			metrics.RecordPriorityReload()
			metrics.UpdatePriorityVersion(table.Version())
			log.Info(context.Background(), "priority table reloaded",
				logger.Int("version", table.Version()),
				logger.Int("sources", len(set.Sources)),
			)
		},
		func(err error) {
			log.Warn(context.Background(), "priorities reload failed; keeping previous table", logger.Error(err))
		},
	)
	if err != nil {
		log.Warn(context.Background(), "priorities watcher not started", logger.Error(err))
		return func() {}
	}
	return stopWatch
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	// Update memory usage
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	// Update goroutine count
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	// Update GC pause time
	if m.NumGC > 0 {
		// Average pause over the life of the process
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
