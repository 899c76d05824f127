package store

import (
	"context"

	"github.com/notewell/notewell/pkg/models"
)

// ReadOnlyStore wraps a Store and rejects writes while enabled reports true.
// Reads and the change feed pass through untouched, so a client keeps seeing
// remote changes during a maintenance window while its own edits stay local
// (and, with an outbox attached, queue for replay once writes reopen).
//
// The enabled check runs on every write, so read-only mode can be toggled at
// runtime without reconstructing the store.
type ReadOnlyStore struct {
	inner   Store
	enabled func() bool
}

// NewReadOnlyStore wraps st. enabled is consulted per write; nil means
// always read-only.
func NewReadOnlyStore(st Store, enabled func() bool) *ReadOnlyStore {
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &ReadOnlyStore{inner: st, enabled: enabled}
}

func (s *ReadOnlyStore) CreatePage(ctx context.Context, page *models.Page) error {
	if s.enabled() {
		return ErrReadOnly
	}
	return s.inner.CreatePage(ctx, page)
}

func (s *ReadOnlyStore) GetPage(ctx context.Context, id models.PageID) (*models.Page, error) {
	return s.inner.GetPage(ctx, id)
}

func (s *ReadOnlyStore) UpdatePage(ctx context.Context, page *models.Page) error {
	if s.enabled() {
		return ErrReadOnly
	}
	return s.inner.UpdatePage(ctx, page)
}

func (s *ReadOnlyStore) PatchPage(ctx context.Context, id models.PageID, fields map[string]any) error {
	if s.enabled() {
		return ErrReadOnly
	}
	return s.inner.PatchPage(ctx, id, fields)
}

func (s *ReadOnlyStore) DeletePage(ctx context.Context, id models.PageID) error {
	if s.enabled() {
		return ErrReadOnly
	}
	return s.inner.DeletePage(ctx, id)
}

func (s *ReadOnlyStore) ListPages(ctx context.Context, owner models.UserID) ([]*models.Page, error) {
	return s.inner.ListPages(ctx, owner)
}

func (s *ReadOnlyStore) CreateBlock(ctx context.Context, block *models.Block) error {
	if s.enabled() {
		return ErrReadOnly
	}
	return s.inner.CreateBlock(ctx, block)
}

func (s *ReadOnlyStore) GetBlock(ctx context.Context, id models.BlockID) (*models.Block, error) {
	return s.inner.GetBlock(ctx, id)
}

func (s *ReadOnlyStore) UpdateBlock(ctx context.Context, block *models.Block) error {
	if s.enabled() {
		return ErrReadOnly
	}
	return s.inner.UpdateBlock(ctx, block)
}

func (s *ReadOnlyStore) PatchBlock(ctx context.Context, id models.BlockID, fields map[string]any) error {
	if s.enabled() {
		return ErrReadOnly
	}
	return s.inner.PatchBlock(ctx, id, fields)
}

func (s *ReadOnlyStore) DeleteBlock(ctx context.Context, id models.BlockID) error {
	if s.enabled() {
		return ErrReadOnly
	}
	return s.inner.DeleteBlock(ctx, id)
}

func (s *ReadOnlyStore) ListBlocks(ctx context.Context, pageID models.PageID) ([]*models.Block, error) {
	return s.inner.ListBlocks(ctx, pageID)
}

func (s *ReadOnlyStore) UpsertBlocks(ctx context.Context, blocks []*models.Block) error {
	if s.enabled() {
		return ErrReadOnly
	}
	return s.inner.UpsertBlocks(ctx, blocks)
}

// Migrate passes through; schema preparation is the point of a maintenance
// window.
func (s *ReadOnlyStore) Migrate(ctx context.Context) error {
	return s.inner.Migrate(ctx)
}

func (s *ReadOnlyStore) Close() error {
	return s.inner.Close()
}

// WatchPages forwards to the wrapped store's feed when it has one.
func (s *ReadOnlyStore) WatchPages(ctx context.Context, owner models.UserID) (<-chan PageEvent, error) {
	if w, ok := s.inner.(Watcher); ok {
		return w.WatchPages(ctx, owner)
	}
	return nil, ErrWatchUnsupported
}

// WatchBlocks forwards to the wrapped store's feed when it has one.
func (s *ReadOnlyStore) WatchBlocks(ctx context.Context, owner models.UserID) (<-chan BlockEvent, error) {
	if w, ok := s.inner.(Watcher); ok {
		return w.WatchBlocks(ctx, owner)
	}
	return nil, ErrWatchUnsupported
}
