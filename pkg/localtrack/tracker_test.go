package localtrack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests step time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.now)), clock
}

func TestIsLocalConsumesMarkerExactlyOnce(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Mark(CollectionBlocks, "b1")
	assert.True(t, tr.IsLocal(CollectionBlocks, "b1"), "first matching event is an echo")
	assert.False(t, tr.IsLocal(CollectionBlocks, "b1"), "marker is consumed after one hit")
}

func TestIsLocalExpiry(t *testing.T) {
	tr, clock := newTestTracker()

	tr.Mark(CollectionPages, "p1")
	clock.advance(DefaultWindow + time.Millisecond)
	assert.False(t, tr.IsLocal(CollectionPages, "p1"), "events after the window are genuine")
}

func TestIsLocalWithinWindow(t *testing.T) {
	tr, clock := newTestTracker()

	tr.Mark(CollectionPages, "p1")
	clock.advance(DefaultWindow - time.Millisecond)
	assert.True(t, tr.IsLocal(CollectionPages, "p1"))
}

func TestIsLocalMismatch(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Mark(CollectionBlocks, "b1")
	assert.False(t, tr.IsLocal(CollectionBlocks, "b2"), "different id is not suppressed")
	assert.False(t, tr.IsLocal(CollectionPages, "b1"), "different collection is not suppressed")
	assert.True(t, tr.IsLocal(CollectionBlocks, "b1"), "original marker is still live")
}

func TestConcurrentMarkersDoNotOverwriteEachOther(t *testing.T) {
	// The keyed map keeps one marker per entity; a burst of local edits to
	// different entities suppresses one echo each.
	tr, _ := newTestTracker()

	tr.Mark(CollectionBlocks, "b1")
	tr.Mark(CollectionBlocks, "b2")
	tr.Mark(CollectionPages, "p1")

	assert.True(t, tr.IsLocal(CollectionBlocks, "b2"))
	assert.True(t, tr.IsLocal(CollectionBlocks, "b1"))
	assert.True(t, tr.IsLocal(CollectionPages, "p1"))
}

func TestExpiredMarkersAreSwept(t *testing.T) {
	tr, clock := newTestTracker()

	tr.Mark(CollectionBlocks, "b1")
	tr.Mark(CollectionBlocks, "b2")
	require.Equal(t, 2, tr.Len())

	clock.advance(DefaultWindow + time.Second)
	tr.IsLocal(CollectionBlocks, "unrelated")
	assert.Equal(t, 0, tr.Len(), "sweep drops expired markers")
}

func TestCustomWindow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	tr := New(WithClock(clock.now), WithWindow(100*time.Millisecond))

	tr.Mark(CollectionBlocks, "b1")
	clock.advance(150 * time.Millisecond)
	assert.False(t, tr.IsLocal(CollectionBlocks, "b1"))
}
