// Package normalize turns provider-native webhook payloads into canonical
// domain records. One mapper exists per (provider, event type) pair; the
// registry dispatches to it. Mappers are pure and total: they never fail,
// anything that cannot be mapped is reported as a Problem next to whatever
// did map.
package normalize

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/okian/vitals/internal/domain/model"
)

// Canonical record kinds, used for counting and logging.
const (
	KindMetric   = "metric"
	KindSleep    = "sleep"
	KindActivity = "activity"
	KindSummary  = "summary"
)

// Input is one raw event handed to a mapper. Payload is the verbatim
// callback body; mappers re-decode what they need from it.
type Input struct {
	UserID     string
	Provider   string
	EventType  string
	ReceivedAt time.Time
	Payload    []byte
}

// Problem describes one sub-record or field that could not be mapped.
// Problems are data, not errors: they ride along with the records that did
// map so a single bad field never discards a valid payload.
type Problem struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// SummaryPatch is a partial daily-summary write. Only the fields present
// in Fields are contested; absent fields are left to whoever owns them.
type SummaryPatch struct {
	Date   string
	Fields map[string]float64
}

// Output is everything one raw event normalized into.
type Output struct {
	Metrics    []model.CanonicalMetric
	Sleeps     []model.SleepSession
	Activities []model.ActivitySession
	Summaries  []SummaryPatch
	Problems   []Problem
}

// Empty reports whether normalization produced no records at all.
func (o Output) Empty() bool {
	return len(o.Metrics) == 0 && len(o.Sleeps) == 0 && len(o.Activities) == 0 && len(o.Summaries) == 0
}

// RecordCount returns the number of canonical records produced.
func (o Output) RecordCount() int {
	return len(o.Metrics) + len(o.Sleeps) + len(o.Activities) + len(o.Summaries)
}

// Func maps one raw event to canonical records.
type Func func(in Input) Output

// Envelope is the dispatch header of a callback: which event this is and
// which provider-side user it belongs to. The gateway extracts it before
// the raw event is stored so identity resolution can run up front.
type Envelope struct {
	EventType      string
	ProviderUserID string
}

// EnvelopeFunc extracts the envelope from a callback body.
type EnvelopeFunc func(payload []byte) (Envelope, error)

type mapperKey struct {
	provider  string
	eventType string
}

// Registry resolves providers and event types to their handlers. It is
// populated at startup; adding a provider is additive and touches no
// existing mapper.
type Registry struct {
	mu        sync.RWMutex
	envelopes map[string]EnvelopeFunc
	mappers   map[mapperKey]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		envelopes: make(map[string]EnvelopeFunc),
		mappers:   make(map[mapperKey]Func),
	}
}

// NewDefaultRegistry creates a registry with every built-in provider
// registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	registerPulseband(r)
	registerSomnus(r)
	registerTrailwatch(r)
	registerHealthsync(r)
	return r
}

// RegisterEnvelope installs the envelope extractor for a provider.
func (r *Registry) RegisterEnvelope(provider string, fn EnvelopeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes[provider] = fn
}

// Register installs the mapper for a (provider, event type) pair.
func (r *Registry) Register(provider, eventType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers[mapperKey{provider: provider, eventType: eventType}] = fn
}

// KnownProvider reports whether a provider has an envelope extractor.
func (r *Registry) KnownProvider(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.envelopes[provider]
	return ok
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.envelopes))
	for name := range r.envelopes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ParseEnvelope extracts the envelope of a callback for a known provider.
func (r *Registry) ParseEnvelope(provider string, payload []byte) (Envelope, error) {
	r.mu.RLock()
	fn, ok := r.envelopes[provider]
	r.mu.RUnlock()
	if !ok {
		return Envelope{}, ErrUnknownProvider
	}
	return fn(payload)
}

// Lookup returns the mapper for a (provider, event type) pair.
func (r *Registry) Lookup(provider, eventType string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.mappers[mapperKey{provider: provider, eventType: eventType}]
	return fn, ok
}

// Normalize dispatches one raw event to its mapper.
func (r *Registry) Normalize(in Input) (Output, bool) {
	fn, ok := r.Lookup(in.Provider, in.EventType)
	if !ok {
		return Output{}, false
	}
	return fn(in), true
}

// parseRFC3339 parses a provider timestamp, reporting success instead of
// failing so callers can downgrade a bad timestamp to a Problem.
func parseRFC3339(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// decodeJSON unmarshals into out, reporting success.
func decodeJSON(raw []byte, out interface{}) bool {
	return json.Unmarshal(raw, out) == nil
}
