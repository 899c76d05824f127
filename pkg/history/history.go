// Package history implements bounded, linear, branch-discarding undo/redo
// over whole-document snapshots.
//
// The model is a ring of snapshots plus a cursor. It is a sampling policy,
// not an operation log: the workspace captures the full page collection on a
// debounce timer after a quiet period, so one history entry corresponds to a
// burst of edits rather than a keystroke. Undoing and then editing discards
// the redoable future, the standard branch-discard semantics.
package history

import (
	"sync"
	"time"

	"github.com/notewell/notewell/pkg/models"
)

// DefaultCapacity bounds the number of retained snapshots. Beyond it the
// oldest entry is evicted.
const DefaultCapacity = 50

// Snapshot is an immutable deep copy of the page collection at one moment.
type Snapshot struct {
	Pages []*models.Page
	At    time.Time
}

// History is a capped snapshot sequence with a cursor. Safe for concurrent
// use; every snapshot going in or out is deep-copied, so callers can never
// mutate retained state through a returned slice.
type History struct {
	mu       sync.Mutex
	entries  []Snapshot
	cursor   int // index of the current snapshot; -1 when empty
	capacity int
	suppress bool // consume-once: set by Undo/Redo, cleared by the next Push
	now      func() time.Time
}

// Option configures a History.
type Option func(*History)

// WithCapacity overrides the snapshot cap. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(h *History) {
		if n >= 1 {
			h.capacity = n
		}
	}
}

// WithClock injects a clock for deterministic snapshot timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// New returns an empty history.
func New(opts ...Option) *History {
	h := &History{
		cursor:   -1,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Push records a new snapshot as the current state.
//
// Any entries beyond the cursor (the redo branch) are discarded first. If an
// Undo or Redo flagged suppression, this call consumes the flag and records
// nothing: restoring a snapshot must not itself become a new history entry,
// or redo-after-undo would be silently swallowed.
func (h *History) Push(pages []*models.Page) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.suppress {
		h.suppress = false
		return
	}

	h.entries = append(h.entries[:h.cursor+1], Snapshot{
		Pages: models.ClonePages(pages),
		At:    h.now(),
	})
	h.cursor++

	if len(h.entries) > h.capacity {
		over := len(h.entries) - h.capacity
		h.entries = append([]Snapshot(nil), h.entries[over:]...)
		h.cursor -= over
	}
}

// Undo steps the cursor back one snapshot and returns a copy of it. The
// second result is false when there is nothing to undo. A successful Undo
// flags the next Push as suppressed.
func (h *History) Undo() ([]*models.Page, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor <= 0 {
		return nil, false
	}
	h.cursor--
	h.suppress = true
	return models.ClonePages(h.entries[h.cursor].Pages), true
}

// Redo steps the cursor forward one snapshot and returns a copy of it. The
// second result is false when there is nothing to redo. A successful Redo
// flags the next Push as suppressed.
func (h *History) Redo() ([]*models.Page, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor < 0 || h.cursor >= len(h.entries)-1 {
		return nil, false
	}
	h.cursor++
	h.suppress = true
	return models.ClonePages(h.entries[h.cursor].Pages), true
}

// CanUndo reports whether Undo would succeed.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor > 0
}

// CanRedo reports whether Redo would succeed.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor >= 0 && h.cursor < len(h.entries)-1
}

// Reset discards all history and starts a fresh single-entry history at the
// given state. Used when a different document collection is loaded wholesale,
// such as an identity switch.
func (h *History) Reset(pages []*models.Page) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = []Snapshot{{Pages: models.ClonePages(pages), At: h.now()}}
	h.cursor = 0
	h.suppress = false
}

// Len returns the number of retained snapshots.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
