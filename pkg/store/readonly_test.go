package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/store"
	"github.com/notewell/notewell/pkg/store/memory"
)

// watchless hides the memory store's feed capability.
type watchless struct {
	store.Store
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	owner := models.NewUserID()

	page := &models.Page{ID: models.NewPageID(), OwnerID: owner, Title: "before"}
	require.NoError(t, inner.CreatePage(ctx, page))

	ro := store.NewReadOnlyStore(inner, nil)

	assert.ErrorIs(t, ro.CreatePage(ctx, &models.Page{ID: models.NewPageID(), OwnerID: owner}), store.ErrReadOnly)
	assert.ErrorIs(t, ro.PatchPage(ctx, page.ID, map[string]any{"title": "after"}), store.ErrReadOnly)
	assert.ErrorIs(t, ro.DeletePage(ctx, page.ID), store.ErrReadOnly)
	assert.ErrorIs(t, ro.CreateBlock(ctx, &models.Block{ID: models.NewBlockID(), PageID: page.ID, Type: models.BlockTypeText}), store.ErrReadOnly)
	assert.ErrorIs(t, ro.UpsertBlocks(ctx, []*models.Block{{ID: models.NewBlockID(), PageID: page.ID, Type: models.BlockTypeText}}), store.ErrReadOnly)

	// Reads keep working.
	got, err := ro.GetPage(ctx, page.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "before", got.Title, "no write leaked through")
}

func TestReadOnlyTogglesAtRuntime(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()

	readOnly := true
	ro := store.NewReadOnlyStore(inner, func() bool { return readOnly })

	page := &models.Page{ID: models.NewPageID(), OwnerID: models.NewUserID(), Title: "queued"}
	assert.ErrorIs(t, ro.CreatePage(ctx, page), store.ErrReadOnly)

	readOnly = false
	require.NoError(t, ro.CreatePage(ctx, page))

	got, err := ro.GetPage(ctx, page.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestReadOnlyForwardsWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner := memory.New()
	owner := models.NewUserID()

	ro := store.NewReadOnlyStore(inner, nil)
	events, err := ro.WatchPages(ctx, owner)
	require.NoError(t, err)

	page := &models.Page{ID: models.NewPageID(), OwnerID: owner, Title: "pushed"}
	require.NoError(t, inner.CreatePage(ctx, page))

	ev := <-events
	assert.Equal(t, store.ActionCreate, ev.Action)
	assert.Equal(t, page.ID, ev.ID)
}

func TestReadOnlyWithoutFeed(t *testing.T) {
	ctx := context.Background()
	ro := store.NewReadOnlyStore(watchless{memory.New()}, nil)

	_, err := ro.WatchPages(ctx, models.NewUserID())
	assert.ErrorIs(t, err, store.ErrWatchUnsupported)

	_, err = ro.WatchBlocks(ctx, models.NewUserID())
	assert.ErrorIs(t, err, store.ErrWatchUnsupported)
}
