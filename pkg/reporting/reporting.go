// Package reporting forwards errors and recovered panics to Sentry.
package reporting

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// Default reporting configuration constants.
const (
	defaultFlushTimeout = 2 * time.Second
)

// Config holds the Sentry client configuration.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

var enabled atomic.Bool

// Init configures the Sentry client. With an empty DSN reporting stays
// disabled and every capture call is a no-op, which keeps tests hermetic.
func Init(cfg Config) error {
	if cfg.DSN == "" {
		enabled.Store(false)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			// Strip credentials before anything leaves the process.
			if event.Request != nil && event.Request.Headers != nil {
				delete(event.Request.Headers, "Authorization")
				delete(event.Request.Headers, "Cookie")
			}
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	enabled.Store(true)
	return nil
}

// Enabled reports whether captures are being forwarded.
func Enabled() bool { return enabled.Load() }

// CaptureError reports err with optional string tags.
func CaptureError(err error, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CapturePanic reports a value recovered from a panic. The caller decides
// whether to re-panic; this only records it.
func CapturePanic(recovered interface{}, tags map[string]string) {
	if recovered == nil || !enabled.Load() {
		return
	}
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", recovered)
	}
	CaptureError(err, tags)
}

// Flush blocks until buffered events are sent or the timeout elapses.
// Call during shutdown so in-flight captures are not lost.
func Flush() {
	if !enabled.Load() {
		return
	}
	sentry.Flush(defaultFlushTimeout)
}
