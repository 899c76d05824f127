package workspace

import (
	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/store"
)

// Remote reconciliation. The feed has already filtered self-echoes, so every
// event here is a genuine external change. Remote values are merged
// unconditionally, with no timestamp comparison: if a remote UPDATE races a
// local edit that has not round-tripped yet, the remote value wins. That is
// the documented resolution policy, not a defect.

// applyRemotePage merges one page change from the feed into local state.
func (w *Workspace) applyRemotePage(ev store.PageEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch ev.Action {
	case store.ActionDelete:
		i := pageIndex(w.pages, ev.ID)
		if i < 0 {
			return
		}
		next := make([]*models.Page, 0, len(w.pages)-1)
		next = append(next, w.pages[:i]...)
		next = append(next, w.pages[i+1:]...)
		w.pages = next
		w.fixActiveLocked()

	default:
		if ev.Page == nil {
			return
		}
		incoming := ev.Page.Clone()
		next := make([]*models.Page, len(w.pages))
		copy(next, w.pages)
		if i := pageIndex(next, incoming.ID); i >= 0 {
			// Page rows never carry blocks on the feed; keep the local
			// block list.
			incoming.Blocks = next[i].Blocks
			next[i] = incoming
		} else {
			incoming.Blocks = nil
			next = append(next, incoming)
		}
		sortPagesByPosition(next)
		w.pages = next
	}

	w.log.Debug().
		Str("page_id", ev.ID.String()).
		Str("action", string(ev.Action)).
		Msg("reconciled remote page change")
	w.scheduleSnapshotLocked()
}

// applyRemoteBlock merges one block change from the feed into local state.
func (w *Workspace) applyRemoteBlock(ev store.BlockEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch ev.Action {
	case store.ActionDelete:
		pageID, current := w.findBlockLocked(ev.ID)
		if current == nil {
			return
		}
		w.swapPageLocked(pageID, func(p *models.Page) {
			i := p.BlockIndex(ev.ID)
			p.Blocks = append(p.Blocks[:i], p.Blocks[i+1:]...)
		})

	default:
		if ev.Block == nil {
			return
		}
		incoming := ev.Block.Clone()
		if pageByID(w.pages, incoming.PageID) == nil {
			// Block for a page this client has not seen yet; its page
			// event will bring the page, and a reload brings the block.
			w.log.Debug().
				Str("block_id", ev.ID.String()).
				Str("page_id", incoming.PageID.String()).
				Msg("dropped block change for unknown page")
			return
		}
		w.swapPageLocked(incoming.PageID, func(p *models.Page) {
			if i := p.BlockIndex(incoming.ID); i >= 0 {
				p.Blocks[i] = incoming
			} else {
				p.Blocks = append(p.Blocks, incoming)
			}
			sortBlocksByPosition(p.Blocks)
		})
	}

	w.log.Debug().
		Str("block_id", ev.ID.String()).
		Str("action", string(ev.Action)).
		Msg("reconciled remote block change")
	w.scheduleSnapshotLocked()
}
