// Package localtrack suppresses remote-feed echoes of this client's own
// writes.
//
// Every optimistic mutation marks the entity it touched before the remote
// write is issued. When the change feed later reports a row change for the
// same entity within a short window, the event is an echo of what local state
// already holds and is dropped; replaying it would flicker at best and, at
// worst, clobber a newer local edit with a stale remote snapshot.
//
// Markers are keyed per (collection, id) pair rather than held in a single
// slot, so one rapid local edit cannot overwrite the marker of a different
// in-flight edit and leak its echo through. A marker is consumed the first
// time it matches, so a second, genuinely remote event for the same entity is
// not masked. The expiry window bounds how long a marker can hide a
// legitimate external change that happens to arrive early: after the window
// the echo is re-applied, which is harmless because it is idempotent.
package localtrack

import (
	"sync"
	"time"
)

// Collection names the two entity streams the tracker distinguishes.
type Collection string

const (
	CollectionPages  Collection = "pages"
	CollectionBlocks Collection = "blocks"
)

// DefaultWindow is how long a marker stays valid. Self-echoes normally
// arrive within the few hundred milliseconds of persistence latency; two
// seconds covers slow links without masking external edits for long.
const DefaultWindow = 2 * time.Second

type markerKey struct {
	collection Collection
	id         string
}

// Tracker records local-change markers. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	marks  map[markerKey]time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWindow overrides the marker validity window.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) { t.window = d }
}

// WithClock injects a clock, used by tests to step time deterministically.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New returns an empty tracker with the default two second window.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		window: DefaultWindow,
		now:    time.Now,
		marks:  make(map[markerKey]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Mark records that this client is about to commit, or just committed, a
// mutation to id in collection. Re-marking the same entity refreshes its
// timestamp.
func (t *Tracker) Mark(collection Collection, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks[markerKey{collection, id}] = t.now()
}

// IsLocal reports whether a remote event for (collection, id) is an echo of
// a local change. A true result consumes the marker: at most one event is
// suppressed per Mark call. Expired markers for other entities are swept
// opportunistically while the lock is held.
func (t *Tracker) IsLocal(collection Collection, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, at := range t.marks {
		if now.Sub(at) > t.window {
			delete(t.marks, k)
		}
	}

	key := markerKey{collection, id}
	at, ok := t.marks[key]
	if !ok {
		return false
	}
	if now.Sub(at) > t.window {
		delete(t.marks, key)
		return false
	}
	delete(t.marks, key)
	return true
}

// Len returns the number of outstanding markers, expired or not.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.marks)
}
