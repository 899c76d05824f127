package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/store/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestOutbox(t *testing.T) (*Outbox, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	o, err := New(filepath.Join(t.TempDir(), "outbox.db"), WithClock(clk.now))
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o, clk
}

func TestEnqueueAndDrain(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOutbox(t)
	st := memory.New()

	page := &models.Page{ID: models.NewPageID(), OwnerID: models.NewUserID(), Title: "queued"}
	payload, err := json.Marshal(page)
	require.NoError(t, err)
	require.NoError(t, o.Enqueue(ctx, OpCreatePage, page.ID.String(), payload))

	n, err := o.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, o.Drain(ctx, st))

	got, err := st.GetPage(ctx, page.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "replayed create must land in the store")
	assert.Equal(t, "queued", got.Title)

	n, err = o.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "replayed entries are removed")
}

func TestFailedReplayIsRescheduled(t *testing.T) {
	ctx := context.Background()
	o, clk := newTestOutbox(t)
	st := memory.New()

	// Updating a page that does not exist fails with ErrNotFound and must
	// stay queued with a later next_attempt.
	page := &models.Page{ID: models.NewPageID(), OwnerID: models.NewUserID(), Title: "ghost"}
	payload, err := json.Marshal(page)
	require.NoError(t, err)
	require.NoError(t, o.Enqueue(ctx, OpUpdatePage, page.ID.String(), payload))

	require.Error(t, o.Drain(ctx, st))

	n, err := o.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed entry stays queued")

	due, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "failed entry is backed off, not immediately due")

	// Once the page exists and the backoff has elapsed, replay succeeds.
	require.NoError(t, st.CreatePage(ctx, &models.Page{ID: page.ID, OwnerID: page.OwnerID, Title: "stale"}))
	clk.advance(10 * time.Second)
	require.NoError(t, o.Drain(ctx, st))

	got, err := st.GetPage(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "ghost", got.Title)
}

func TestApplyDispatch(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	block := &models.Block{ID: models.NewBlockID(), PageID: models.NewPageID(), Type: models.BlockTypeText, Content: "hello"}
	payload, err := json.Marshal(block)
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, st, Operation{Op: OpCreateBlock, EntityID: block.ID.String(), Payload: payload}))

	fields, err := json.Marshal(map[string]any{"content": "patched", "position": 3})
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, st, Operation{Op: OpPatchBlock, EntityID: block.ID.String(), Payload: fields}))

	got, err := st.GetBlock(ctx, block.ID)
	require.NoError(t, err)
	assert.Equal(t, "patched", got.Content)
	assert.Equal(t, 3, got.Position, "positions survive the JSON round trip")

	require.NoError(t, Apply(ctx, st, Operation{Op: OpDeleteBlock, EntityID: block.ID.String()}))
	got, err = st.GetBlock(ctx, block.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApplyUpsertBlocks(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	pageID := models.NewPageID()

	blocks := []*models.Block{
		{ID: models.NewBlockID(), PageID: pageID, Type: models.BlockTypeText, Position: 0},
		{ID: models.NewBlockID(), PageID: pageID, Type: models.BlockTypeBullet, Position: 1},
	}
	payload, err := json.Marshal(blocks)
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, st, Operation{Op: OpUpsertBlocks, Payload: payload}))

	listed, err := st.ListBlocks(ctx, pageID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestApplyUnknownOp(t *testing.T) {
	assert.Error(t, Apply(context.Background(), memory.New(), Operation{Op: Op("compact")}))
}

func TestIsTransientSQLiteErr(t *testing.T) {
	assert.True(t, isTransientSQLiteErr(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isTransientSQLiteErr(errors.New("UNIQUE constraint failed")))
	assert.False(t, isTransientSQLiteErr(nil))
}
