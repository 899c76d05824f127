package workspace

import (
	"context"
	"time"

	"github.com/notewell/notewell/pkg/localtrack"
	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/outbox"
)

// CreatePage creates a page at the end of the collection with one default
// heading block, makes it active, and returns it. Nil when no user is
// authenticated.
func (w *Workspace) CreatePage() *models.Page {
	w.mu.Lock()

	if w.userID.IsZero() {
		w.mu.Unlock()
		return nil
	}

	now := time.Now()
	page := &models.Page{
		ID:        models.NewPageID(),
		OwnerID:   w.userID,
		Title:     models.DefaultPageTitle,
		Position:  len(w.pages),
		CreatedAt: now,
		UpdatedAt: now,
	}
	block := &models.Block{
		ID:        models.NewBlockID(),
		PageID:    page.ID,
		Type:      models.BlockTypeHeading1,
		Position:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	page.Blocks = []*models.Block{block}

	next := make([]*models.Page, len(w.pages), len(w.pages)+1)
	copy(next, w.pages)
	w.pages = append(next, page)
	w.activePageID = page.ID

	w.tracker.Mark(localtrack.CollectionPages, page.ID.String())
	w.tracker.Mark(localtrack.CollectionBlocks, block.ID.String())
	w.scheduleSnapshotLocked()

	pageRow := page.Clone()
	pageRow.Blocks = nil
	blockRow := block.Clone()
	w.persist("the new page", []queuedWrite{
		{op: outbox.OpCreatePage, entityID: pageRow.ID.String(), payload: w.mustJSON(pageRow)},
		{op: outbox.OpCreateBlock, entityID: blockRow.ID.String(), payload: w.mustJSON(blockRow)},
	}, func(ctx context.Context) error {
		if err := w.st.CreatePage(ctx, pageRow); err != nil {
			return err
		}
		return w.st.CreateBlock(ctx, blockRow)
	})

	w.mu.Unlock()
	return page
}

// DeletePage removes a page and its blocks. If the deleted page was active,
// the first remaining page becomes active. Returns false if the page is not
// present locally.
func (w *Workspace) DeletePage(id models.PageID) bool {
	w.mu.Lock()

	if w.userID.IsZero() {
		w.mu.Unlock()
		return false
	}
	i := pageIndex(w.pages, id)
	if i < 0 {
		w.mu.Unlock()
		return false
	}
	doomed := w.pages[i]

	next := make([]*models.Page, 0, len(w.pages)-1)
	next = append(next, w.pages[:i]...)
	next = append(next, w.pages[i+1:]...)
	w.pages = next
	w.fixActiveLocked()

	w.tracker.Mark(localtrack.CollectionPages, id.String())
	blockIDs := make([]models.BlockID, len(doomed.Blocks))
	for j, b := range doomed.Blocks {
		blockIDs[j] = b.ID
		w.tracker.Mark(localtrack.CollectionBlocks, b.ID.String())
	}
	w.scheduleSnapshotLocked()

	writes := []queuedWrite{{op: outbox.OpDeletePage, entityID: id.String()}}
	for _, bid := range blockIDs {
		writes = append(writes, queuedWrite{op: outbox.OpDeleteBlock, entityID: bid.String()})
	}
	w.persist("the deleted page", writes, func(ctx context.Context) error {
		for _, bid := range blockIDs {
			if err := w.st.DeleteBlock(ctx, bid); err != nil {
				return err
			}
		}
		return w.st.DeletePage(ctx, id)
	})

	w.mu.Unlock()
	return true
}

// UpdatePageTitle renames a page. Nil when the page is not present locally.
func (w *Workspace) UpdatePageTitle(id models.PageID, title string) *models.Page {
	return w.patchPage(id, "title", func(p *models.Page) { p.Title = title }, map[string]any{"title": title})
}

// UpdatePageIcon changes a page's icon. Nil when the page is not present
// locally.
func (w *Workspace) UpdatePageIcon(id models.PageID, icon string) *models.Page {
	return w.patchPage(id, "icon", func(p *models.Page) { p.Icon = icon }, map[string]any{"icon": icon})
}

// patchPage is the shared partial-update path for page fields: only the
// provided fields are written remotely.
func (w *Workspace) patchPage(id models.PageID, desc string, apply func(*models.Page), fields map[string]any) *models.Page {
	w.mu.Lock()

	if w.userID.IsZero() {
		w.mu.Unlock()
		return nil
	}
	updated := w.replacePageLocked(id, apply)
	if updated == nil {
		w.mu.Unlock()
		return nil
	}

	w.tracker.Mark(localtrack.CollectionPages, id.String())
	w.scheduleSnapshotLocked()

	fields["updated_at"] = updated.UpdatedAt
	w.persist("the page "+desc, []queuedWrite{
		{op: outbox.OpPatchPage, entityID: id.String(), payload: w.mustJSON(fields)},
	}, func(ctx context.Context) error {
		return w.st.PatchPage(ctx, id, fields)
	})

	w.mu.Unlock()
	return updated
}

// replacePageLocked installs a cloned, mutated copy of one page in a fresh
// collection slice and stamps the modification time. Returns the clone, or
// nil when the page is missing.
func (w *Workspace) replacePageLocked(id models.PageID, apply func(*models.Page)) *models.Page {
	cp := w.swapPageLocked(id, apply)
	if cp != nil {
		cp.UpdatedAt = time.Now()
	}
	return cp
}

// swapPageLocked is replacePageLocked without the timestamp stamp.
// Reconciliation uses it directly so that merging a remote block does not
// overwrite the page row's remote clock with a local one.
func (w *Workspace) swapPageLocked(id models.PageID, apply func(*models.Page)) *models.Page {
	i := pageIndex(w.pages, id)
	if i < 0 {
		return nil
	}
	next := make([]*models.Page, len(w.pages))
	copy(next, w.pages)

	cp := next[i].Clone()
	apply(cp)
	next[i] = cp
	w.pages = next
	return cp
}

// AddBlock appends a block to a page, or inserts it immediately after the
// given sibling, and returns it. Positions are renumbered to stay dense.
// Premium gating is the caller's concern; the engine does not re-validate
// entitlement. Nil when the page (or the sibling's page) is missing locally.
func (w *Workspace) AddBlock(pageID models.PageID, blockType models.BlockType, afterBlockID *models.BlockID) *models.Block {
	w.mu.Lock()

	if w.userID.IsZero() || !models.KnownBlockType(blockType) {
		w.mu.Unlock()
		return nil
	}

	now := time.Now()
	block := &models.Block{
		ID:        models.NewBlockID(),
		PageID:    pageID,
		Type:      blockType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch blockType {
	case models.BlockTypeChecklist:
		checked := false
		block.Checked = &checked
	case models.BlockTypeCallout:
		block.CalloutType = models.CalloutInfo
	case models.BlockTypeToggle:
		collapsed := false
		block.Collapsed = &collapsed
	}

	var shifted []*models.Block
	updated := w.replacePageLocked(pageID, func(p *models.Page) {
		at := len(p.Blocks)
		if afterBlockID != nil {
			if i := p.BlockIndex(*afterBlockID); i >= 0 {
				at = i + 1
			}
		}
		p.Blocks = append(p.Blocks, nil)
		copy(p.Blocks[at+1:], p.Blocks[at:])
		p.Blocks[at] = block

		// Renumber the inserted block and everything after it; dense
		// positions mean a mid-list insert shifts the whole tail.
		for i := at; i < len(p.Blocks); i++ {
			p.Blocks[i].Position = i
			if p.Blocks[i].ID != block.ID {
				p.Blocks[i].UpdatedAt = now
			}
			shifted = append(shifted, p.Blocks[i])
		}
	})
	if updated == nil {
		w.mu.Unlock()
		return nil
	}

	for _, b := range shifted {
		w.tracker.Mark(localtrack.CollectionBlocks, b.ID.String())
	}
	w.scheduleSnapshotLocked()

	if len(shifted) == 1 {
		// Appended at the end; nothing else moved.
		row := block.Clone()
		w.persist("the new block", []queuedWrite{
			{op: outbox.OpCreateBlock, entityID: row.ID.String(), payload: w.mustJSON(row)},
		}, func(ctx context.Context) error {
			return w.st.CreateBlock(ctx, row)
		})
	} else {
		rows := make([]*models.Block, len(shifted))
		for i, b := range shifted {
			rows[i] = b.Clone()
		}
		w.persist("the new block", []queuedWrite{
			{op: outbox.OpUpsertBlocks, entityID: pageID.String(), payload: w.mustJSON(rows)},
		}, func(ctx context.Context) error {
			return w.st.UpsertBlocks(ctx, rows)
		})
	}

	w.mu.Unlock()
	return block
}

// BlockPatch is a partial block update: nil fields are left untouched both
// locally and remotely.
type BlockPatch struct {
	Content     *string
	Type        *models.BlockType
	Checked     *bool
	CalloutType *models.CalloutType
	Language    *string
	Collapsed   *bool
	EmbedURL    *string
}

// apply mutates a block in place with the provided fields.
func (p BlockPatch) apply(b *models.Block) {
	if p.Content != nil {
		b.Content = *p.Content
	}
	if p.Type != nil {
		b.Type = *p.Type
	}
	if p.Checked != nil {
		v := *p.Checked
		b.Checked = &v
	}
	if p.CalloutType != nil {
		b.CalloutType = *p.CalloutType
	}
	if p.Language != nil {
		b.Language = *p.Language
	}
	if p.Collapsed != nil {
		v := *p.Collapsed
		b.Collapsed = &v
	}
	if p.EmbedURL != nil {
		b.EmbedURL = *p.EmbedURL
	}
}

// fields returns the remote patch map holding only the provided fields.
func (p BlockPatch) fields(updatedAt time.Time) map[string]any {
	fields := map[string]any{"updated_at": updatedAt}
	if p.Content != nil {
		fields["content"] = *p.Content
	}
	if p.Type != nil {
		fields["type"] = *p.Type
	}
	if p.Checked != nil {
		fields["checked"] = *p.Checked
	}
	if p.CalloutType != nil {
		fields["callout_type"] = *p.CalloutType
	}
	if p.Language != nil {
		fields["language"] = *p.Language
	}
	if p.Collapsed != nil {
		fields["collapsed"] = *p.Collapsed
	}
	if p.EmbedURL != nil {
		fields["embed_url"] = *p.EmbedURL
	}
	return fields
}

// UpdateBlock merges a partial update into a block. Nil when the block is
// missing locally, the new type is unknown, or a table block's content is not
// a valid grid.
func (w *Workspace) UpdateBlock(id models.BlockID, patch BlockPatch) *models.Block {
	w.mu.Lock()

	if w.userID.IsZero() {
		w.mu.Unlock()
		return nil
	}
	if patch.Type != nil && !models.KnownBlockType(*patch.Type) {
		w.mu.Unlock()
		return nil
	}

	pageID, current := w.findBlockLocked(id)
	if current == nil {
		w.mu.Unlock()
		return nil
	}

	// Table content is the one payload with enough structure to validate
	// before it goes anywhere.
	if patch.Content != nil {
		effectiveType := current.Type
		if patch.Type != nil {
			effectiveType = *patch.Type
		}
		if effectiveType == models.BlockTypeTable {
			if err := models.ValidateTableContent(*patch.Content); err != nil {
				w.log.Debug().Err(err).Str("block_id", id.String()).Msg("rejected invalid table content")
				w.mu.Unlock()
				return nil
			}
		}
	}

	var updated *models.Block
	now := time.Now()
	w.replacePageLocked(pageID, func(p *models.Page) {
		b := p.Block(id)
		patch.apply(b)
		b.UpdatedAt = now
		updated = b
	})

	w.tracker.Mark(localtrack.CollectionBlocks, id.String())
	w.scheduleSnapshotLocked()

	fields := patch.fields(now)
	w.persist("the block", []queuedWrite{
		{op: outbox.OpPatchBlock, entityID: id.String(), payload: w.mustJSON(fields)},
	}, func(ctx context.Context) error {
		return w.st.PatchBlock(ctx, id, fields)
	})

	w.mu.Unlock()
	return updated
}

// DeleteBlock removes a block from its page. Returns false when the block is
// not present locally.
func (w *Workspace) DeleteBlock(id models.BlockID) bool {
	w.mu.Lock()

	if w.userID.IsZero() {
		w.mu.Unlock()
		return false
	}
	pageID, current := w.findBlockLocked(id)
	if current == nil {
		w.mu.Unlock()
		return false
	}

	w.replacePageLocked(pageID, func(p *models.Page) {
		i := p.BlockIndex(id)
		p.Blocks = append(p.Blocks[:i], p.Blocks[i+1:]...)
	})

	w.tracker.Mark(localtrack.CollectionBlocks, id.String())
	w.scheduleSnapshotLocked()

	w.persist("the deleted block", []queuedWrite{
		{op: outbox.OpDeleteBlock, entityID: id.String()},
	}, func(ctx context.Context) error {
		return w.st.DeleteBlock(ctx, id)
	})

	w.mu.Unlock()
	return true
}

// ReorderBlocks installs a complete new ordering of a page's blocks and
// rewrites every block's position to its new index, persisting all of them
// in one batch. The order must be a permutation of the page's current block
// ids; anything else is a precondition failure.
func (w *Workspace) ReorderBlocks(pageID models.PageID, order []models.BlockID) bool {
	w.mu.Lock()

	if w.userID.IsZero() {
		w.mu.Unlock()
		return false
	}
	page := pageByID(w.pages, pageID)
	if page == nil || len(order) != len(page.Blocks) {
		w.mu.Unlock()
		return false
	}
	seen := make(map[models.BlockID]bool, len(order))
	for _, id := range order {
		if seen[id] || page.Block(id) == nil {
			w.mu.Unlock()
			return false
		}
		seen[id] = true
	}

	now := time.Now()
	var rows []*models.Block
	w.replacePageLocked(pageID, func(p *models.Page) {
		reordered := make([]*models.Block, len(order))
		for i, id := range order {
			b := p.Block(id)
			b.Position = i
			b.UpdatedAt = now
			reordered[i] = b
		}
		p.Blocks = reordered
		rows = make([]*models.Block, len(reordered))
		for i, b := range reordered {
			rows[i] = b.Clone()
		}
	})

	for _, id := range order {
		w.tracker.Mark(localtrack.CollectionBlocks, id.String())
	}
	w.scheduleSnapshotLocked()

	w.persist("the new block order", []queuedWrite{
		{op: outbox.OpUpsertBlocks, entityID: pageID.String(), payload: w.mustJSON(rows)},
	}, func(ctx context.Context) error {
		return w.st.UpsertBlocks(ctx, rows)
	})

	w.mu.Unlock()
	return true
}

// findBlockLocked locates a block anywhere in the collection and returns its
// owning page id.
func (w *Workspace) findBlockLocked(id models.BlockID) (models.PageID, *models.Block) {
	for _, p := range w.pages {
		if b := p.Block(id); b != nil {
			return p.ID, b
		}
	}
	return models.PageID{}, nil
}
