// Package worker drains the queue and runs raw events through
// normalization and conflict resolution.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/normalize"
	"github.com/okian/vitals/internal/domain/priority"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
	"github.com/okian/vitals/pkg/reporting"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	metricsUpdateInterval   = 5 * time.Second
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Store is the slice of the repository the workers need.
type Store interface {
	RawEvent(ctx context.Context, id string) (model.RawEvent, error)
	MarkRawEventProcessed(ctx context.Context, id string) error
	MarkRawEventFailed(ctx context.Context, id, reason string) error
	ApplyMetric(ctx context.Context, m model.CanonicalMetric) (priority.Action, error)
	ApplySleep(ctx context.Context, s model.SleepSession) (priority.Action, error)
	ApplyActivity(ctx context.Context, a model.ActivitySession) (priority.Action, error)
	ApplySummary(ctx context.Context, userID, date string, fields map[string]float64, source string, prio int) (int, error)
}

// Normalizer translates one raw payload into canonical records.
type Normalizer interface {
	Normalize(in normalize.Input) (normalize.Output, bool)
}

// Ranker reports the priority a source holds right now.
type Ranker interface {
	PriorityOf(source string) int
}

// Queue defines how workers receive raw event ids.
type Queue interface {
	Dequeue(ctx context.Context) <-chan string
}

// Worker processes raw events off the queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	// It will process any remaining events before stopping.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing raw events.
type InMemoryWorker struct {
	queue      Queue
	store      Store
	normalizer Normalizer
	ranks      Ranker
	name       string

	// Shared busy gauge, set by the pool
	busy *atomic.Int64

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, store Store, normalizer Normalizer, ranks Ranker, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      queue,
		store:      store,
		normalizer: normalizer,
		ranks:      ranks,
		name:       "worker", // default name
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(w)
	}

	// Set up logger with worker name if not already set
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer func() {
		close(w.done)
	}()

	idChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case id, ok := <-idChan:
			if !ok {
				// Channel closed, worker should stop
				return
			}

			if err := w.processEvent(ctx, id); err != nil {
				w.logger.Error(ctx, "error processing event", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	// Signal shutdown
	close(w.shutdown)

	// Wait for worker to finish or context to timeout
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent runs one raw event through normalization and writes the
// outcome back to the store. Every exit marks the event processed or
// failed; events never stay pending once dequeued.
func (w *InMemoryWorker) processEvent(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() {
		latency := time.Since(start).Milliseconds()
		metrics.RecordWorkerProcessingLatency(float64(latency))
	}()
	if w.busy != nil {
		w.busy.Add(1)
		defer w.busy.Add(-1)
	}

	event, err := w.store.RawEvent(ctx, id)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "load_error")
		return fmt.Errorf("load raw event %s: %w", id, err)
	}

	// A mapper panic must not take the worker down, and the event must
	// not be left pending.
	defer func() {
		if r := recover(); r != nil {
			reporting.CapturePanic(r, map[string]string{
				"provider": event.Provider,
				"event_id": id,
			})
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "panic")
			metrics.RecordEventFailed(event.Provider, "panic")
			if markErr := w.store.MarkRawEventFailed(ctx, id, model.FailurePanic); markErr != nil {
				w.logger.Error(ctx, "marking panicked event failed", logger.Error(markErr))
			}
			err = fmt.Errorf("panic processing event %s: %v", id, r)
		}
	}()

	normStart := time.Now()
	out, ok := w.normalizer.Normalize(normalize.Input{
		UserID:     event.UserID,
		Provider:   event.Provider,
		EventType:  event.EventType,
		ReceivedAt: event.ReceivedAt,
		Payload:    []byte(event.Payload),
	})
	metrics.RecordNormalizeLatency(float64(time.Since(normStart).Milliseconds()))

	if !ok {
		metrics.RecordEventFailed(event.Provider, "no_mapping")
		w.logger.Warn(ctx, "no mapper registered",
			logger.String("provider", event.Provider),
			logger.String("event_type", event.EventType),
		)
		return w.store.MarkRawEventFailed(ctx, id, model.FailureNoMapping)
	}

	for _, p := range out.Problems {
		metrics.RecordUnmappableField()
		w.logger.Warn(ctx, "unmappable field",
			logger.String("event_id", id),
			logger.String("provider", event.Provider),
			logger.String("field", p.Field),
			logger.String("reason", p.Reason),
		)
	}

	// An event fails only when nothing at all was extracted and at least
	// one problem explains why. Partial extraction still counts as
	// processed; the problems are on record.
	if out.RecordCount() == 0 && len(out.Problems) > 0 {
		metrics.RecordEventFailed(event.Provider, "malformed_payload")
		return w.store.MarkRawEventFailed(ctx, id, model.FailureMalformedPayload)
	}

	if err := w.apply(ctx, event, out); err != nil {
		metrics.RecordEventFailed(event.Provider, "store_write")
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "store_write")
		if markErr := w.store.MarkRawEventFailed(ctx, id, model.FailureStoreWrite); markErr != nil {
			w.logger.Error(ctx, "marking failed event", logger.Error(markErr))
		}
		return fmt.Errorf("apply records for event %s: %w", id, err)
	}

	if err := w.store.MarkRawEventProcessed(ctx, id); err != nil {
		return fmt.Errorf("mark event %s processed: %w", id, err)
	}
	metrics.RecordEventProcessed()
	return nil
}

// apply writes every normalized record. The priority a source holds is
// captured here, once per record, so a later ranking reload never
// rewrites history.
func (w *InMemoryWorker) apply(ctx context.Context, event model.RawEvent, out normalize.Output) error {
	for _, m := range out.Metrics {
		m.Priority = w.ranks.PriorityOf(m.Source)
		if _, err := w.store.ApplyMetric(ctx, m); err != nil {
			return fmt.Errorf("metric %s: %w", m.MetricType, err)
		}
		metrics.RecordRecordNormalized(normalize.KindMetric)
	}
	for _, s := range out.Sleeps {
		s.Priority = w.ranks.PriorityOf(s.Source)
		if _, err := w.store.ApplySleep(ctx, s); err != nil {
			return fmt.Errorf("sleep session: %w", err)
		}
		metrics.RecordRecordNormalized(normalize.KindSleep)
	}
	for _, a := range out.Activities {
		a.Priority = w.ranks.PriorityOf(a.Source)
		if _, err := w.store.ApplyActivity(ctx, a); err != nil {
			return fmt.Errorf("activity session: %w", err)
		}
		metrics.RecordRecordNormalized(normalize.KindActivity)
	}
	for _, patch := range out.Summaries {
		prio := w.ranks.PriorityOf(event.Provider)
		if _, err := w.store.ApplySummary(ctx, event.UserID, patch.Date, patch.Fields, event.Provider, prio); err != nil {
			return fmt.Errorf("summary %s: %w", patch.Date, err)
		}
		metrics.RecordRecordNormalized(normalize.KindSummary)
	}
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers    []*InMemoryWorker
	queue      Queue
	store      Store
	normalizer Normalizer
	ranks      Ranker

	// Busy worker gauge shared with the workers
	busy atomic.Int64

	// Shutdown control
	shutdown chan struct{}

	// Logging
	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, queue Queue, store Store, normalizer Normalizer, ranks Ranker) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:    make([]*InMemoryWorker, workerCount),
		queue:      queue,
		store:      store,
		normalizer: normalizer,
		ranks:      ranks,
		shutdown:   make(chan struct{}),
		logger:     logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		w := NewInMemoryWorker(
			queue,
			store,
			normalizer,
			ranks,
			WithName("worker-"+strconv.Itoa(i)),
		)
		w.busy = &pool.busy
		pool.workers[i] = w
	}

	// Initialize worker metrics
	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(workerCount)

	return pool
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Busy returns the number of workers currently processing an event.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}

	// Start metrics updater
	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater starts a background goroutine that updates worker metrics.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

// updateMetrics updates worker-related metrics.
func (p *Pool) updateMetrics() {
	busy := int(p.busy.Load())
	metrics.UpdateWorkerActiveCount(busy)
	metrics.UpdateWorkerIdleCount(len(p.workers) - busy)
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	// Signal shutdown to the metrics updater
	close(p.shutdown)

	// Wait for all workers to finish
	for _, worker := range p.workers {
		select {
		case <-worker.done:
			// Worker finished
		case <-time.After(workerShutdownTimeout):
			// Worker timeout
		}
	}
}

// Shutdown gracefully shuts down the entire worker pool. Closing the
// queue first lets workers drain what is already enqueued.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	// Signal shutdown to the metrics updater
	close(p.shutdown)

	// Wait for all workers to finish or context to timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, worker := range p.workers {
		select {
		case <-worker.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}

	return nil
}
