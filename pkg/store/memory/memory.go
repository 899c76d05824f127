// Package memory provides an in-process implementation of
// [github.com/notewell/notewell/pkg/store.Store] with a working change feed.
//
// Every mutation is fanned out to active watchers, which makes this backend
// behave like a remote store whose committed rows echo back on the feed,
// exactly the shape the echo-suppression and reconciliation logic is written
// against. Tests use it to run the full sync loop in one process; the CLI
// exposes it as the -backend=memory demo mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/store"
)

// watchBuffer is the per-subscriber event buffer. A subscriber that stalls
// past it loses events rather than blocking writers, mirroring how a real
// push feed degrades.
const watchBuffer = 64

// Store keeps pages and blocks in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	pages    map[models.PageID]*models.Page
	blocks   map[models.BlockID]*models.Block
	pageSubs []*pageSub
	blockSub []*blockSub
	now      func() time.Time
}

type pageSub struct {
	owner models.UserID
	ch    chan store.PageEvent
	done  <-chan struct{}
}

type blockSub struct {
	owner models.UserID
	ch    chan store.BlockEvent
	done  <-chan struct{}
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		pages:  make(map[models.PageID]*models.Page),
		blocks: make(map[models.BlockID]*models.Block),
		now:    time.Now,
	}
}

func (s *Store) Migrate(ctx context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.pageSubs {
		close(sub.ch)
	}
	for _, sub := range s.blockSub {
		close(sub.ch)
	}
	s.pageSubs = nil
	s.blockSub = nil
	return nil
}

// Page operations

func (s *Store) CreatePage(ctx context.Context, page *models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page.ID.IsZero() {
		page.ID = models.NewPageID()
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = s.now()
	}
	page.UpdatedAt = s.now()

	cp := page.Clone()
	cp.Blocks = nil
	s.pages[page.ID] = cp
	s.emitPage(store.PageEvent{Action: store.ActionCreate, ID: cp.ID, Page: cp.Clone()})
	return nil
}

func (s *Store) GetPage(ctx context.Context, id models.PageID) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *Store) UpdatePage(ctx context.Context, page *models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[page.ID]; !ok {
		return store.ErrNotFound
	}
	cp := page.Clone()
	cp.Blocks = nil
	cp.UpdatedAt = s.now()
	s.pages[page.ID] = cp
	s.emitPage(store.PageEvent{Action: store.ActionUpdate, ID: cp.ID, Page: cp.Clone()})
	return nil
}

func (s *Store) PatchPage(ctx context.Context, id models.PageID, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[id]
	if !ok {
		return store.ErrNotFound
	}
	for name, value := range fields {
		var err error
		switch name {
		case "title":
			p.Title, err = asString(value)
		case "icon":
			p.Icon, err = asString(value)
		case "position":
			p.Position, err = asInt(value)
		case "updated_at":
			p.UpdatedAt, err = asTime(value)
		default:
			err = fmt.Errorf("unknown page field %q", name)
		}
		if err != nil {
			return fmt.Errorf("memory: patch page: %w", err)
		}
	}
	p.UpdatedAt = s.now()
	s.emitPage(store.PageEvent{Action: store.ActionUpdate, ID: id, Page: p.Clone()})
	return nil
}

func (s *Store) DeletePage(ctx context.Context, id models.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.pages, id)
	s.emitPage(store.PageEvent{Action: store.ActionDelete, ID: id})
	return nil
}

func (s *Store) ListPages(ctx context.Context, owner models.UserID) ([]*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.Page{}
	for _, p := range s.pages {
		if p.OwnerID == owner {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// Block operations

func (s *Store) CreateBlock(ctx context.Context, block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if block.ID.IsZero() {
		block.ID = models.NewBlockID()
	}
	if block.CreatedAt.IsZero() {
		block.CreatedAt = s.now()
	}
	block.UpdatedAt = s.now()

	cp := block.Clone()
	s.blocks[block.ID] = cp
	s.emitBlock(store.BlockEvent{Action: store.ActionCreate, ID: cp.ID, Block: cp.Clone()})
	return nil
}

func (s *Store) GetBlock(ctx context.Context, id models.BlockID) (*models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (s *Store) UpdateBlock(ctx context.Context, block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[block.ID]; !ok {
		return store.ErrNotFound
	}
	cp := block.Clone()
	cp.UpdatedAt = s.now()
	s.blocks[block.ID] = cp
	s.emitBlock(store.BlockEvent{Action: store.ActionUpdate, ID: cp.ID, Block: cp.Clone()})
	return nil
}

func (s *Store) PatchBlock(ctx context.Context, id models.BlockID, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[id]
	if !ok {
		return store.ErrNotFound
	}
	for name, value := range fields {
		var err error
		switch name {
		case "content":
			b.Content, err = asString(value)
		case "type":
			var s string
			if s, err = asString(value); err == nil {
				b.Type = models.BlockType(s)
			}
		case "checked":
			var v bool
			if v, err = asBool(value); err == nil {
				b.Checked = &v
			}
		case "callout_type":
			var s string
			if s, err = asString(value); err == nil {
				b.CalloutType = models.CalloutType(s)
			}
		case "language":
			b.Language, err = asString(value)
		case "collapsed":
			var v bool
			if v, err = asBool(value); err == nil {
				b.Collapsed = &v
			}
		case "embed_url":
			b.EmbedURL, err = asString(value)
		case "position":
			b.Position, err = asInt(value)
		case "updated_at":
			b.UpdatedAt, err = asTime(value)
		default:
			err = fmt.Errorf("unknown block field %q", name)
		}
		if err != nil {
			return fmt.Errorf("memory: patch block: %w", err)
		}
	}
	b.UpdatedAt = s.now()
	s.emitBlock(store.BlockEvent{Action: store.ActionUpdate, ID: id, Block: b.Clone()})
	return nil
}

func (s *Store) DeleteBlock(ctx context.Context, id models.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.blocks, id)
	s.emitBlock(store.BlockEvent{Action: store.ActionDelete, ID: id})
	return nil
}

func (s *Store) ListBlocks(ctx context.Context, pageID models.PageID) ([]*models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.Block{}
	for _, b := range s.blocks {
		if b.PageID == pageID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) UpsertBlocks(ctx context.Context, blocks []*models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, block := range blocks {
		cp := block.Clone()
		cp.UpdatedAt = s.now()
		action := store.ActionUpdate
		if _, ok := s.blocks[cp.ID]; !ok {
			action = store.ActionCreate
		}
		s.blocks[cp.ID] = cp
		s.emitBlock(store.BlockEvent{Action: action, ID: cp.ID, Block: cp.Clone()})
	}
	return nil
}

// Change feed

func (s *Store) WatchPages(ctx context.Context, owner models.UserID) (<-chan store.PageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &pageSub{owner: owner, ch: make(chan store.PageEvent, watchBuffer), done: ctx.Done()}
	s.pageSubs = append(s.pageSubs, sub)
	go func() {
		<-ctx.Done()
		s.dropPageSub(sub)
	}()
	return sub.ch, nil
}

func (s *Store) WatchBlocks(ctx context.Context, owner models.UserID) (<-chan store.BlockEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &blockSub{owner: owner, ch: make(chan store.BlockEvent, watchBuffer), done: ctx.Done()}
	s.blockSub = append(s.blockSub, sub)
	go func() {
		<-ctx.Done()
		s.dropBlockSub(sub)
	}()
	return sub.ch, nil
}

func (s *Store) dropPageSub(sub *pageSub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.pageSubs {
		if existing == sub {
			s.pageSubs = append(s.pageSubs[:i], s.pageSubs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

func (s *Store) dropBlockSub(sub *blockSub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.blockSub {
		if existing == sub {
			s.blockSub = append(s.blockSub[:i], s.blockSub[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// emitPage delivers to all subscribers. Ownership filtering only applies to
// events that carry the entity; deletes carry just the id and are delivered
// to everyone, matching a feed that cannot reconstruct deleted rows.
func (s *Store) emitPage(ev store.PageEvent) {
	for _, sub := range s.pageSubs {
		if ev.Page != nil && ev.Page.OwnerID != sub.owner {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-sub.done:
		default:
			// Subscriber stalled; drop rather than block the writer.
		}
	}
}

func (s *Store) emitBlock(ev store.BlockEvent) {
	for _, sub := range s.blockSub {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		default:
		}
	}
}

// Patch field coercion. Patches arrive either with native Go types or, after
// an outbox replay, with the loose types JSON decoding produces.

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case models.BlockType:
		return string(s), nil
	case models.CalloutType:
		return string(s), nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("expected int, got %T", v)
}

func asBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
}
