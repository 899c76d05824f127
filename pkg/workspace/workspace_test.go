package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/outbox"
	"github.com/notewell/notewell/pkg/store"
	"github.com/notewell/notewell/pkg/store/memory"
)

// sinkRecorder captures notifications behind a lock.
type sinkRecorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *sinkRecorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func (r *sinkRecorder) last() Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes[len(r.notes)-1]
}

// watchless hides the memory store's Watcher capability so a workspace runs
// without a feed, the way the relational backend does.
type watchless struct {
	store.Store
}

// failingStore errors on the selected operations and otherwise delegates.
type failingStore struct {
	store.Store
	failPatchBlock bool
	failCreatePage bool
}

var errBackend = errors.New("backend unavailable")

func (f *failingStore) PatchBlock(ctx context.Context, id models.BlockID, fields map[string]any) error {
	if f.failPatchBlock {
		return errBackend
	}
	return f.Store.PatchBlock(ctx, id, fields)
}

func (f *failingStore) CreatePage(ctx context.Context, page *models.Page) error {
	if f.failCreatePage {
		return errBackend
	}
	return f.Store.CreatePage(ctx, page)
}

func newLoadedWorkspace(t *testing.T, opts ...Option) (*Workspace, *memory.Store, models.UserID) {
	t.Helper()
	st := memory.New()
	opts = append([]Option{WithDebounce(0)}, opts...)
	w := New(st, opts...)
	userID := models.NewUserID()
	require.NoError(t, w.Load(context.Background(), userID))
	t.Cleanup(w.Close)
	return w, st, userID
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestLoadBootstrapsStarterPage(t *testing.T) {
	w, st, userID := newLoadedWorkspace(t)

	pages := w.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, "Getting started", pages[0].Title)
	require.NotEmpty(t, pages[0].Blocks)
	assert.Equal(t, models.BlockTypeHeading1, pages[0].Blocks[0].Type)
	assert.Equal(t, pages[0].ID, w.ActivePageID())

	// The starter page is persisted, not just local.
	stored, err := st.ListPages(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	blocks, err := st.ListBlocks(context.Background(), stored[0].ID)
	require.NoError(t, err)
	assert.Len(t, blocks, len(pages[0].Blocks))

	assert.False(t, w.CanUndo(), "history starts fresh at the loaded state")
}

func TestLoadBootstrapFailureIsFatal(t *testing.T) {
	st := &failingStore{Store: memory.New(), failCreatePage: true}
	w := New(st, WithDebounce(0))
	assert.Error(t, w.Load(context.Background(), models.NewUserID()))
}

func TestLoadRequiresUser(t *testing.T) {
	w := New(memory.New())
	assert.Error(t, w.Load(context.Background(), models.UserID{}))
}

func TestMutatorsRequireUser(t *testing.T) {
	w := New(memory.New(), WithDebounce(0))
	assert.Nil(t, w.CreatePage())
	assert.False(t, w.DeletePage(models.NewPageID()))
	assert.Nil(t, w.UpdatePageTitle(models.NewPageID(), "x"))
	assert.Nil(t, w.AddBlock(models.NewPageID(), models.BlockTypeText, nil))
}

func TestCreatePageAppendsAndActivates(t *testing.T) {
	w, st, userID := newLoadedWorkspace(t)

	page := w.CreatePage()
	require.NotNil(t, page)
	assert.Equal(t, models.DefaultPageTitle, page.Title)
	assert.Equal(t, 1, page.Position, "position is the prior page count")
	require.Len(t, page.Blocks, 1)
	assert.Equal(t, models.BlockTypeHeading1, page.Blocks[0].Type)
	assert.Equal(t, page.ID, w.ActivePageID())

	w.Flush()
	stored, err := st.ListPages(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	blocks, err := st.ListBlocks(context.Background(), page.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}

func TestDeletePageActivatesFirstRemaining(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	starter := w.Pages()[0]
	second := w.CreatePage()
	require.Equal(t, second.ID, w.ActivePageID())

	require.True(t, w.DeletePage(second.ID))
	assert.Equal(t, starter.ID, w.ActivePageID())

	require.True(t, w.DeletePage(starter.ID))
	assert.True(t, w.ActivePageID().IsZero(), "no pages left means no active page")

	assert.False(t, w.DeletePage(starter.ID), "deleting a missing page is a no-op")
}

func TestUpdatePageTitleWritesOnlyTitle(t *testing.T) {
	w, st, _ := newLoadedWorkspace(t)
	page := w.Pages()[0]
	icon := page.Icon

	updated := w.UpdatePageTitle(page.ID, "Renamed")
	require.NotNil(t, updated)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, icon, updated.Icon, "icon untouched")

	w.Flush()
	stored, err := st.GetPage(context.Background(), page.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Title)
	assert.Equal(t, icon, stored.Icon)

	assert.Nil(t, w.UpdatePageTitle(models.NewPageID(), "x"), "missing page is a silent no-op")
}

func TestAddBlockAfterSiblingShiftsTail(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	page := w.Pages()[0]
	for i := len(page.Blocks); i < 5; i++ {
		require.NotNil(t, w.AddBlock(page.ID, models.BlockTypeText, nil))
	}

	before := w.ActivePage()
	anchor := before.Blocks[2].ID
	added := w.AddBlock(page.ID, models.BlockTypeText, &anchor)
	require.NotNil(t, added)

	after := w.ActivePage()
	require.Len(t, after.Blocks, 6)
	assert.Equal(t, added.ID, after.Blocks[3].ID, "inserted right after the anchor")

	seen := map[int]bool{}
	for i, b := range after.Blocks {
		assert.Equal(t, i, b.Position, "positions stay dense")
		assert.False(t, seen[b.Position], "no position collisions")
		seen[b.Position] = true
	}
	for i, b := range before.Blocks[3:] {
		assert.Equal(t, b.ID, after.Blocks[4+i].ID, "tail shifted by one")
	}
}

func TestAddBlockInitializesTypeFields(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	page := w.Pages()[0]

	checklist := w.AddBlock(page.ID, models.BlockTypeChecklist, nil)
	require.NotNil(t, checklist)
	require.NotNil(t, checklist.Checked)
	assert.False(t, *checklist.Checked)

	callout := w.AddBlock(page.ID, models.BlockTypeCallout, nil)
	require.NotNil(t, callout)
	assert.Equal(t, models.CalloutInfo, callout.CalloutType)

	assert.Nil(t, w.AddBlock(models.NewPageID(), models.BlockTypeText, nil), "unknown page is a silent no-op")
	assert.Nil(t, w.AddBlock(page.ID, models.BlockType("hologram"), nil), "unknown type is rejected")
}

func TestUpdateBlockMergesOnlyProvidedFields(t *testing.T) {
	w, st, _ := newLoadedWorkspace(t)
	page := w.Pages()[0]
	block := w.AddBlock(page.ID, models.BlockTypeChecklist, nil)
	require.NotNil(t, block)

	content := "buy milk"
	updated := w.UpdateBlock(block.ID, BlockPatch{Content: &content})
	require.NotNil(t, updated)
	assert.Equal(t, "buy milk", updated.Content)
	require.NotNil(t, updated.Checked)
	assert.False(t, *updated.Checked, "checked untouched by a content-only patch")

	w.Flush()
	stored, err := st.GetBlock(context.Background(), block.ID)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", stored.Content)
	require.NotNil(t, stored.Checked)
	assert.False(t, *stored.Checked)
}

func TestUpdateBlockValidatesTableContent(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	page := w.Pages()[0]
	block := w.AddBlock(page.ID, models.BlockTypeTable, nil)
	require.NotNil(t, block)

	bad := `{"rows": "not-a-grid"}`
	assert.Nil(t, w.UpdateBlock(block.ID, BlockPatch{Content: &bad}))

	good := `{"rows": [["a", "b"], ["1", "2"]], "header": true}`
	assert.NotNil(t, w.UpdateBlock(block.ID, BlockPatch{Content: &good}))
}

func TestDeleteBlockRemovesByID(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	page := w.Pages()[0]
	block := w.AddBlock(page.ID, models.BlockTypeText, nil)
	require.NotNil(t, block)
	countBefore := len(w.ActivePage().Blocks)

	require.True(t, w.DeleteBlock(block.ID))
	after := w.ActivePage()
	assert.Len(t, after.Blocks, countBefore-1)
	assert.Equal(t, -1, after.BlockIndex(block.ID))

	assert.False(t, w.DeleteBlock(block.ID), "deleting a missing block is a no-op")
}

func TestReorderBlocksRewritesEveryPosition(t *testing.T) {
	w, st, _ := newLoadedWorkspace(t)
	page := w.CreatePage()
	require.NotNil(t, page)
	b1 := page.Blocks[0]
	b2 := w.AddBlock(page.ID, models.BlockTypeText, nil)
	b3 := w.AddBlock(page.ID, models.BlockTypeText, nil)

	require.True(t, w.ReorderBlocks(page.ID, []models.BlockID{b3.ID, b1.ID, b2.ID}))

	after := pageByID(w.Pages(), page.ID)
	require.Len(t, after.Blocks, 3)
	assert.Equal(t, b3.ID, after.Blocks[0].ID)
	assert.Equal(t, b1.ID, after.Blocks[1].ID)
	assert.Equal(t, b2.ID, after.Blocks[2].ID)
	for i, b := range after.Blocks {
		assert.Equal(t, i, b.Position)
	}

	w.Flush()
	stored, err := st.ListBlocks(context.Background(), page.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, b3.ID, stored[0].ID, "persisted positions: b3=0")
	assert.Equal(t, b1.ID, stored[1].ID, "b1=1")
	assert.Equal(t, b2.ID, stored[2].ID, "b2=2")
}

func TestReorderBlocksRejectsNonPermutation(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	page := w.CreatePage()
	b1 := page.Blocks[0]
	b2 := w.AddBlock(page.ID, models.BlockTypeText, nil)

	assert.False(t, w.ReorderBlocks(page.ID, []models.BlockID{b1.ID}), "wrong length")
	assert.False(t, w.ReorderBlocks(page.ID, []models.BlockID{b1.ID, b1.ID}), "duplicate id")
	assert.False(t, w.ReorderBlocks(page.ID, []models.BlockID{b1.ID, models.NewBlockID()}), "foreign id")

	after := pageByID(w.Pages(), page.ID)
	assert.Equal(t, b1.ID, after.Blocks[0].ID, "rejected reorder leaves state untouched")
	assert.Equal(t, b2.ID, after.Blocks[1].ID)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	page := w.Pages()[0]

	w.UpdatePageTitle(page.ID, "First rename")
	w.UpdatePageTitle(page.ID, "Second rename")

	require.True(t, w.Undo())
	assert.Equal(t, "First rename", pageByID(w.Pages(), page.ID).Title)

	require.True(t, w.Redo())
	assert.Equal(t, "Second rename", pageByID(w.Pages(), page.ID).Title)

	require.True(t, w.Undo())
	require.True(t, w.Undo())
	assert.Equal(t, page.Title, pageByID(w.Pages(), page.ID).Title, "back to the loaded state")
	assert.False(t, w.Undo(), "nothing further to undo")
}

func TestUndoBranchDiscard(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	page := w.Pages()[0]

	w.UpdatePageTitle(page.ID, "one")
	w.UpdatePageTitle(page.ID, "two")
	require.True(t, w.Undo())
	require.True(t, w.Undo())
	require.True(t, w.CanRedo())

	// A new edit after undoing discards the redoable future.
	w.UpdatePageTitle(page.ID, "three")
	assert.False(t, w.CanRedo())
	assert.Equal(t, "three", pageByID(w.Pages(), page.ID).Title)

	require.True(t, w.Undo())
	assert.Equal(t, page.Title, pageByID(w.Pages(), page.ID).Title)
}

func TestUndoRestoresDeletedPage(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	page := w.CreatePage()
	require.True(t, w.DeletePage(page.ID))
	require.Nil(t, pageByID(w.Pages(), page.ID))

	require.True(t, w.Undo())
	restored := pageByID(w.Pages(), page.ID)
	require.NotNil(t, restored, "undo restores the deleted page locally")
	assert.Len(t, restored.Blocks, len(page.Blocks))
}

func TestRemoteChangeIsReconciled(t *testing.T) {
	w, st, userID := newLoadedWorkspace(t)
	ctx := context.Background()

	// Another device creates a page directly in the store.
	remote := &models.Page{OwnerID: userID, Title: "from another device", Position: 99}
	require.NoError(t, st.CreatePage(ctx, remote))

	eventually(t, func() bool {
		return pageByID(w.Pages(), remote.ID) != nil
	}, "remote page never reconciled")
	assert.Equal(t, "from another device", pageByID(w.Pages(), remote.ID).Title)
}

func TestRemoteWinsOverUnsyncedLocalEdit(t *testing.T) {
	w, st, _ := newLoadedWorkspace(t)
	ctx := context.Background()
	page := w.Pages()[0]
	block := w.AddBlock(page.ID, models.BlockTypeText, nil)
	require.NotNil(t, block)
	w.Flush()

	contentA := "A"
	require.NotNil(t, w.UpdateBlock(block.ID, BlockPatch{Content: &contentA}))
	w.Flush()

	// A genuine external edit arrives after the local marker was consumed
	// by the patch echo: remote wins, local state shows "B".
	external, err := st.GetBlock(ctx, block.ID)
	require.NoError(t, err)
	external.Content = "B"
	require.NoError(t, st.UpdateBlock(ctx, external))

	eventually(t, func() bool {
		b := pageByID(w.Pages(), page.ID).Block(block.ID)
		return b != nil && b.Content == "B"
	}, "external edit never won")
}

func TestSelfEchoDoesNotDuplicatePages(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t)
	page := w.CreatePage()
	require.NotNil(t, page)
	w.Flush()

	// Give the echo time to arrive; the tracker must have swallowed it.
	time.Sleep(50 * time.Millisecond)
	count := 0
	for _, p := range w.Pages() {
		if p.ID == page.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRemoteDeleteFixesActivePage(t *testing.T) {
	w, st, _ := newLoadedWorkspace(t)
	starter := w.Pages()[0]
	second := w.CreatePage()
	require.Equal(t, second.ID, w.ActivePageID())
	w.Flush()

	require.NoError(t, st.DeletePage(context.Background(), second.ID))
	eventually(t, func() bool {
		return w.ActivePageID() == starter.ID
	}, "active page not repaired after remote delete")
	assert.Nil(t, pageByID(w.Pages(), second.ID))
}

func TestPersistFailureNotifiesAndKeepsLocalState(t *testing.T) {
	sink := &sinkRecorder{}
	ob, err := outbox.New(t.TempDir() + "/outbox.db")
	require.NoError(t, err)
	defer ob.Close()

	inner := memory.New()
	st := &failingStore{Store: inner, failPatchBlock: true}
	w := New(&watchless{st}, WithDebounce(0), WithNotifier(sink), WithOutbox(ob))
	userID := models.NewUserID()
	require.NoError(t, w.Load(context.Background(), userID))
	defer w.Close()

	page := w.Pages()[0]
	block := w.AddBlock(page.ID, models.BlockTypeText, nil)
	require.NotNil(t, block)
	w.Flush()

	content := "kept locally"
	require.NotNil(t, w.UpdateBlock(block.ID, BlockPatch{Content: &content}))
	w.Flush()

	// Local state keeps the edit, the user hears about the failure, and the
	// write is queued for replay.
	assert.Equal(t, "kept locally", pageByID(w.Pages(), page.ID).Block(block.ID).Content)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, SeverityError, sink.last().Severity)

	n, err := ob.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Once the backend recovers, draining the outbox lands the edit.
	st.failPatchBlock = false
	require.NoError(t, ob.Drain(context.Background(), inner))
	stored, err := inner.GetBlock(context.Background(), block.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept locally", stored.Content)
}

func TestDebouncedHistoryCoalescesBursts(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t, WithDebounce(30*time.Millisecond))
	page := w.Pages()[0]

	// A burst of renames within the quiet period lands as one entry.
	w.UpdatePageTitle(page.ID, "a")
	w.UpdatePageTitle(page.ID, "ab")
	w.UpdatePageTitle(page.ID, "abc")
	eventually(t, w.CanUndo, "burst snapshot never captured")

	require.True(t, w.Undo())
	assert.Equal(t, page.Title, pageByID(w.Pages(), page.ID).Title,
		"one undo steps over the whole burst")
}

func TestUndoRacingDebouncedCapture(t *testing.T) {
	w, _, _ := newLoadedWorkspace(t, WithDebounce(time.Millisecond))
	page := w.Pages()[0]

	// Sleeping for exactly the debounce makes the capture timer fire right
	// as Undo takes the lock, on some fraction of the iterations. The edit
	// must land as one history entry no matter which side wins.
	prev := page.Title
	for i := 0; i < 200; i++ {
		title := fmt.Sprintf("draft %d", i)
		require.NotNil(t, w.UpdatePageTitle(page.ID, title))
		time.Sleep(time.Millisecond)

		require.True(t, w.Undo(), "iteration %d: undo", i)
		require.Equal(t, prev, pageByID(w.Pages(), page.ID).Title,
			"iteration %d: undo steps back exactly one edit", i)
		require.True(t, w.CanRedo(), "iteration %d: the redo branch survives", i)
		require.True(t, w.Redo(), "iteration %d: redo", i)
		require.Equal(t, title, pageByID(w.Pages(), page.ID).Title,
			"iteration %d: redo restores the edit", i)

		// Settle the restore's suppressed capture before the next edit.
		w.Flush()
		prev = title
	}
}

func TestRemoteBlockKeepsPageTimestamp(t *testing.T) {
	w, st, _ := newLoadedWorkspace(t)
	page := w.Pages()[0]
	before := page.UpdatedAt

	// Another device appends a block to the starter page.
	remote := &models.Block{
		PageID:   page.ID,
		Type:     models.BlockTypeText,
		Content:  "typed elsewhere",
		Position: len(page.Blocks),
	}
	require.NoError(t, st.CreateBlock(context.Background(), remote))

	eventually(t, func() bool {
		return pageByID(w.Pages(), page.ID).Block(remote.ID) != nil
	}, "remote block never reconciled")

	// Merging the block must not restamp the page row with this device's
	// clock; the page itself did not change.
	assert.Equal(t, before, pageByID(w.Pages(), page.ID).UpdatedAt)
}

// laggyStore delays the first block patch long enough for a racing second
// patch to overtake it, were writes not serialized.
type laggyStore struct {
	store.Store
	mu      sync.Mutex
	delayed bool
	order   []string
}

func (s *laggyStore) PatchBlock(ctx context.Context, id models.BlockID, fields map[string]any) error {
	s.mu.Lock()
	first := !s.delayed
	s.delayed = true
	s.mu.Unlock()
	if first {
		time.Sleep(30 * time.Millisecond)
	}
	s.mu.Lock()
	if content, ok := fields["content"].(string); ok {
		s.order = append(s.order, content)
	}
	s.mu.Unlock()
	return s.Store.PatchBlock(ctx, id, fields)
}

func (s *laggyStore) patched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func TestPersistsReachBackendInMutationOrder(t *testing.T) {
	inner := memory.New()
	st := &laggyStore{Store: inner}
	w := New(&watchless{st}, WithDebounce(0))
	require.NoError(t, w.Load(context.Background(), models.NewUserID()))
	defer w.Close()

	page := w.Pages()[0]
	block := w.AddBlock(page.ID, models.BlockTypeText, nil)
	require.NotNil(t, block)
	w.Flush()

	one, two := "one", "two"
	require.NotNil(t, w.UpdateBlock(block.ID, BlockPatch{Content: &one}))
	require.NotNil(t, w.UpdateBlock(block.ID, BlockPatch{Content: &two}))
	w.Flush()

	assert.Equal(t, []string{"one", "two"}, st.patched(),
		"writes reach the backend in mutation order")
	stored, err := inner.GetBlock(context.Background(), block.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", stored.Content, "the backend settles on the newest value")
}

func TestSetUserReloadsAndResetsHistory(t *testing.T) {
	w, st, _ := newLoadedWorkspace(t)
	first := w.Pages()[0]
	w.UpdatePageTitle(first.ID, "edited")
	require.True(t, w.CanUndo())
	w.Flush()

	other := models.NewUserID()
	require.NoError(t, w.SetUser(context.Background(), other))

	pages := w.Pages()
	require.Len(t, pages, 1, "fresh identity bootstraps its own starter page")
	assert.NotEqual(t, first.ID, pages[0].ID)
	assert.False(t, w.CanUndo(), "history does not leak across identities")

	// The first user's pages are untouched in the store.
	stored, err := st.GetPage(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", stored.Title)
}
