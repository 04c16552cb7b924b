// Package priority ranks data sources and decides how conflicting
// observations of the same key are reconciled.
package priority

import "sync"

// Default table configuration constants.
const (
	defaultUnknownPriority = 0 // unlisted sources never outrank a listed one
)

// Action is the resolver's verdict for an incoming record.
type Action int

const (
	// Insert stores the incoming record; nothing existed for its key.
	Insert Action = iota
	// Overwrite replaces the stored record with the incoming one.
	Overwrite
	// Skip discards the incoming record; the stored one stays canonical.
	Skip
	// InsertAlongside stores the incoming record next to an equal-priority
	// record from another source; both stay visible.
	InsertAlongside
)

// String returns the action name used in logs and metric labels.
func (a Action) String() string {
	switch a {
	case Insert:
		return "insert"
	case Overwrite:
		return "overwrite"
	case Skip:
		return "skip"
	case InsertAlongside:
		return "insert_alongside"
	default:
		return "unknown"
	}
}

// Stored is the view of an existing record the resolver needs: who wrote
// it and the priority that source held at write time.
type Stored struct {
	Source   string
	Priority int
}

// Resolve applies the decision table for whole-record keys:
//
//	no existing record            -> Insert
//	same source                   -> Overwrite (update from the same provider)
//	incoming priority higher      -> Overwrite (incoming becomes canonical)
//	incoming priority lower       -> Skip (incoming is discarded, not stored)
//	equal priority, other source  -> InsertAlongside (both rows retained)
//
// It is pure: the caller captures the incoming priority before calling and
// executes the verdict atomically with the read that produced existing.
func Resolve(existing *Stored, incomingSource string, incomingPriority int) Action {
	switch {
	case existing == nil:
		return Insert
	case existing.Source == incomingSource:
		return Overwrite
	case incomingPriority > existing.Priority:
		return Overwrite
	case incomingPriority < existing.Priority:
		return Skip
	default:
		return InsertAlongside
	}
}

// ResolveField reports whether a source may write one summary field. The
// same table as Resolve, applied per field: a write is allowed when the
// field has no owner, the writer is the incumbent, or the writer strictly
// outranks the incumbent. Equal-priority challengers lose; a summary field
// holds a single value, there is no alongside slot.
func ResolveField(incumbent *Stored, incomingSource string, incomingPriority int) bool {
	switch {
	case incumbent == nil:
		return true
	case incumbent.Source == incomingSource:
		return true
	default:
		return incomingPriority > incumbent.Priority
	}
}

// Table is the source-reliability ranking. It is configuration, not code:
// the mapping is injected at startup and replaceable at runtime. Reload
// swaps the whole mapping atomically so concurrent readers never observe
// a partially applied update, and bumps the version so operators can
// confirm which ranking produced a given write.
type Table struct {
	mu       sync.RWMutex
	ranks    map[string]int
	fallback int
	version  int
}

// Option applies a configuration option to the Table.
type Option func(*Table)

// WithRanks sets the initial source ranking.
func WithRanks(ranks map[string]int) Option {
	return func(t *Table) {
		if ranks != nil {
			t.ranks = copyRanks(ranks)
		}
	}
}

// WithDefaultPriority sets the priority assigned to unlisted sources.
func WithDefaultPriority(p int) Option {
	return func(t *Table) {
		t.fallback = p
	}
}

// NewTable creates a priority table with configuration options.
func NewTable(opts ...Option) *Table {
	t := &Table{
		ranks:    make(map[string]int),
		fallback: defaultUnknownPriority,
		version:  1,
	}

	// Apply all options
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// PriorityOf returns the rank of a source, or the default for unlisted
// sources.
func (t *Table) PriorityOf(source string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.ranks[source]; ok {
		return p
	}
	return t.fallback
}

// Reload replaces the ranking atomically and bumps the table version.
func (t *Table) Reload(ranks map[string]int, fallback int) {
	next := copyRanks(ranks)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ranks = next
	t.fallback = fallback
	t.version++
}

// Version returns the current table version. It starts at 1 and
// increments once per reload.
func (t *Table) Version() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Snapshot returns a copy of the active ranking.
func (t *Table) Snapshot() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyRanks(t.ranks)
}

// DefaultPriority returns the rank assigned to unlisted sources.
func (t *Table) DefaultPriority() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fallback
}

func copyRanks(ranks map[string]int) map[string]int {
	out := make(map[string]int, len(ranks))
	for source, p := range ranks {
		out[source] = p
	}
	return out
}
