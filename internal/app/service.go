// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/okian/vitals/internal/adapters/mq/queue"
	workerpool "github.com/okian/vitals/internal/adapters/mq/worker"
	repository "github.com/okian/vitals/internal/adapters/repository"
	"github.com/okian/vitals/internal/domain/identity"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/normalize"
	"github.com/okian/vitals/internal/domain/priority"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
)

// shutdownTimeout bounds the worker drain on Stop.
const shutdownTimeout = 30 * time.Second

// backlogRefreshInterval is how often the raw event backlog gauges are
// recomputed from the store.
const backlogRefreshInterval = 30 * time.Second

// Service implements the API dependencies for the ingestion pipeline.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      *repository.DBStore
	registry   *normalize.Registry
	resolver   identity.Resolver
	eventQueue eventqueue.Queue
	workerPool *workerpool.Pool
	ranks      *priority.Table

	// Configuration
	dbDriver          string
	dbDSN             string
	workerCount       int
	queueCapacity     int
	identityCacheSize int

	// State
	started   bool
	startedAt time.Time
	stopCh    chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDatabase selects the persistence backend and its DSN.
func WithDatabase(driver, dsn string) Option {
	return func(s *Service) {
		if driver != "" {
			s.dbDriver = driver
		}
		if dsn != "" {
			s.dbDSN = dsn
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueCapacity sets the maximum size of the raw event queue.
func WithQueueCapacity(capacity int) Option {
	return func(s *Service) {
		if capacity > 0 {
			s.queueCapacity = capacity
		}
	}
}

// WithIdentityCacheSize bounds the provider-identity cache.
func WithIdentityCacheSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.identityCacheSize = size
		}
	}
}

// WithPriorityTable injects the live source-priority table. The table is
// shared with whatever reloads it; the service only ever reads.
func WithPriorityTable(t *priority.Table) Option {
	return func(s *Service) {
		if t != nil {
			s.ranks = t
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dbDriver:          repository.DriverSQLite,
		dbDSN:             "vitals.db",
		workerCount:       runtime.NumCPU() * 4,
		queueCapacity:     100_000,
		identityCacheSize: 10_000,
		ranks:             priority.NewTable(),
		stopCh:            make(chan struct{}),
		logger:            nil, // Will be replaced when service starts
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting vitals service...")

	// Initialize components
	store, err := repository.Open(s.dbDriver, s.dbDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = store
	s.registry = normalize.NewDefaultRegistry()
	s.resolver = identity.NewResolver(store,
		identity.WithCacheSize(s.identityCacheSize),
	)
	s.eventQueue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueCapacity),
	)

	// Create and start the worker pool
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, store, s.registry, s.ranks)
	s.workerPool.Start(ctx)

	// Crash recovery: the queue holds only ids, the rows are the copy of
	// record. Whatever was in flight when the process died is still
	// pending in the store and goes back on the queue here.
	requeued, err := s.requeuePending(ctx)
	if err != nil {
		s.logger.Warn(ctx, "requeueing pending events", logger.Error(err))
	}

	s.stopCh = make(chan struct{})
	go s.backlogLoop(store, s.stopCh)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "vitals service started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueCapacity", s.queueCapacity),
		logger.Int("requeuedPending", requeued),
	)

	return nil
}

// requeuePending pushes every pending raw event back onto the queue,
// oldest first.
func (s *Service) requeuePending(ctx context.Context) (int, error) {
	pending, err := s.store.ListRawEvents(ctx, model.RawEventStatusPending, "", s.queueCapacity)
	if err != nil {
		return 0, fmt.Errorf("list pending events: %w", err)
	}
	requeued := 0
	for i := len(pending) - 1; i >= 0; i-- {
		if !s.eventQueue.Enqueue(ctx, pending[i].ID) {
			// Queue full; the rest stays pending until the next restart.
			break
		}
		requeued++
	}
	return requeued, nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping vitals service...")

	// Drain and stop the worker pool
	if s.workerPool != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.workerPool.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(context.Background(), "worker pool shutdown", logger.Error(err))
		}
		cancel()
	}

	// Close the store
	if s.store != nil {
		_ = s.store.Close()
	}

	// Signal cleanup loop to stop
	select {
	case <-s.stopCh:
		// Channel already closed
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(context.Background(), "vitals service stopped")
}

// backlogLoop keeps the raw event backlog gauges current while the
// service runs. The store handle and stop channel are bound at Start so
// a restart cycle never hands this loop a swapped store.
func (s *Service) backlogLoop(store *repository.DBStore, stop <-chan struct{}) {
	ticker := time.NewTicker(backlogRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			counts, err := store.CountRawEventsByStatus(context.Background())
			if err != nil {
				continue
			}
			for status, n := range counts {
				metrics.UpdateRawEventBacklog(status, int(n))
			}
		}
	}
}

// KnownProvider reports whether a provider has registered mappings.
func (s *Service) KnownProvider(provider string) bool {
	return s.registry.KnownProvider(provider)
}

// ParseEnvelope extracts the event type and provider-side user id.
func (s *Service) ParseEnvelope(provider string, payload []byte) (normalize.Envelope, error) {
	return s.registry.ParseEnvelope(provider, payload)
}

// ResolveUser maps a provider-side user id to an internal account.
func (s *Service) ResolveUser(ctx context.Context, provider, providerUserID string) (string, error) {
	return s.resolver.Resolve(ctx, provider, providerUserID)
}

// AppendRawEvent persists the audit copy of a callback.
func (s *Service) AppendRawEvent(ctx context.Context, event *model.RawEvent) error {
	return s.store.AppendRawEvent(ctx, event)
}

// MarkRawEventFailed flips a stored event to failed with a reason.
func (s *Service) MarkRawEventFailed(ctx context.Context, id, reason string) error {
	return s.store.MarkRawEventFailed(ctx, id, reason)
}

// Enqueue submits a raw event id for asynchronous processing.
func (s *Service) Enqueue(ctx context.Context, id string) bool {
	ok := s.eventQueue.Enqueue(ctx, id)
	if !ok {
		s.logger.Warn(ctx, "event queue full",
			logger.String("eventID", id),
		)
	}
	return ok
}

// BestMetric returns the winning row for a metric key.
func (s *Service) BestMetric(ctx context.Context, userID, metricType, date string) (model.CanonicalMetric, error) {
	return s.store.BestMetric(ctx, userID, metricType, date)
}

// MetricTimeline returns the winning value per date over a range.
func (s *Service) MetricTimeline(ctx context.Context, userID, metricType, from, to string) ([]model.CanonicalMetric, error) {
	return s.store.MetricTimeline(ctx, userID, metricType, from, to)
}

// SleepsInRange returns sleep sessions starting inside [from, to).
func (s *Service) SleepsInRange(ctx context.Context, userID string, from, to time.Time) ([]model.SleepSession, error) {
	return s.store.SleepsInRange(ctx, userID, from, to)
}

// ActivitiesInRange returns activity sessions starting inside [from, to).
func (s *Service) ActivitiesInRange(ctx context.Context, userID string, from, to time.Time) ([]model.ActivitySession, error) {
	return s.store.ActivitiesInRange(ctx, userID, from, to)
}

// Summary returns the merged daily summary row.
func (s *Service) Summary(ctx context.Context, userID, date string) (model.DailySummary, error) {
	return s.store.Summary(ctx, userID, date)
}

// ListRawEvents returns stored raw events, newest first.
func (s *Service) ListRawEvents(ctx context.Context, status, provider string, limit int) ([]model.RawEvent, error) {
	return s.store.ListRawEvents(ctx, status, provider, limit)
}

// ResetRawEventForReplay flips a settled event back to pending.
func (s *Service) ResetRawEventForReplay(ctx context.Context, id string) error {
	return s.store.ResetRawEventForReplay(ctx, id)
}

// LinkConnection upserts a provider connection and drops any stale cache
// entry so the next callback resolves to the new account.
func (s *Service) LinkConnection(ctx context.Context, provider, providerUserID, userID string) error {
	if err := s.store.UpsertConnection(ctx, provider, providerUserID, userID); err != nil {
		return err
	}
	s.resolver.Invalidate(provider, providerUserID)
	return nil
}

// CountRawEventsByStatus exposes backlog counts for monitoring.
func (s *Service) CountRawEventsByStatus(ctx context.Context) (map[string]int64, error) {
	return s.store.CountRawEventsByStatus(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"service": "vitals",
		"started": s.started,
	}
	if !s.started {
		return stats
	}

	stats["uptime_seconds"] = int(time.Since(s.startedAt).Seconds())
	stats["providers"] = s.registry.Providers()
	stats["priority_version"] = s.ranks.Version()
	stats["identity_cache_size"] = s.resolver.CacheSize()

	depth := s.eventQueue.Len(ctx)
	capacity := s.eventQueue.Cap(ctx)
	queueStats := map[string]interface{}{
		"depth":    depth,
		"capacity": capacity,
	}
	if capacity > 0 {
		queueStats["utilization"] = float64(depth) / float64(capacity)
	}
	stats["queue"] = queueStats

	stats["workers"] = map[string]interface{}{
		"total": s.workerPool.Size(),
		"busy":  s.workerPool.Busy(),
	}

	if counts, err := s.store.CountRawEventsByStatus(ctx); err == nil {
		stats["raw_events"] = counts
		for status, n := range counts {
			metrics.UpdateRawEventBacklog(status, int(n))
		}
	}

	return stats
}
