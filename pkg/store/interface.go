// Package store defines the persistence abstraction the workspace core is
// built against.
//
// The interface is deliberately narrow: two collections (pages, blocks) with
// per-row CRUD, partial-field patches, a batch upsert for position rewrites,
// and ordered list queries. Three implementations exist:
//
//   - [github.com/notewell/notewell/pkg/store/surrealdb.SurrealStore]: the
//     production backend, SurrealQL over a WebSocket connection with the
//     surrealcbor codec, plus live queries for the change feed
//   - [github.com/notewell/notewell/pkg/store/postgres.PostgresStore]: a
//     relational backend using GORM, without a change feed
//   - [github.com/notewell/notewell/pkg/store/memory.Store]: an in-process
//     backend with a working change feed, used in tests and demos
//
// Get methods return nil without error for missing entities. List methods
// return results ordered by Position and never return a nil slice for an
// empty result. Update methods replace the whole entity; Patch methods write
// only the provided fields and leave everything else untouched server-side.
package store

import (
	"context"
	"errors"

	"github.com/notewell/notewell/pkg/models"
)

var (
	// ErrNotFound is returned by Update/Patch/Delete when the target row
	// does not exist. Get and List return nil/empty instead.
	ErrNotFound = errors.New("store: not found")

	// ErrWatchUnsupported is returned by backends that cannot push row
	// changes. The workspace then runs without a remote feed.
	ErrWatchUnsupported = errors.New("store: change feed not supported")

	// ErrReadOnly is returned for every write while read-only mode is
	// active. See [NewReadOnlyStore].
	ErrReadOnly = errors.New("store: read-only mode")
)

// Action is the effect a change event has on a row.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// PageEvent is one row change in the pages collection. For deletes only ID
// is guaranteed; Page may be nil.
type PageEvent struct {
	Action Action
	ID     models.PageID
	Page   *models.Page
}

// BlockEvent is one row change in the blocks collection. For deletes only ID
// is guaranteed; Block may be nil.
type BlockEvent struct {
	Action Action
	ID     models.BlockID
	Block  *models.Block
}

// Store is the persistence interface for the two document collections.
type Store interface {
	// CreatePage persists a new page. The entity keeps whatever ID it
	// carries; a zero ID is assigned by the store.
	CreatePage(ctx context.Context, page *models.Page) error

	// GetPage returns the page or nil when absent. Blocks are not loaded.
	GetPage(ctx context.Context, id models.PageID) (*models.Page, error)

	// UpdatePage replaces the stored page with the given entity.
	UpdatePage(ctx context.Context, page *models.Page) error

	// PatchPage writes only the given fields (column name to value).
	PatchPage(ctx context.Context, id models.PageID, fields map[string]any) error

	// DeletePage removes the page row. Deleting its blocks is the caller's
	// responsibility; the engine deletes pages it already emptied locally.
	DeletePage(ctx context.Context, id models.PageID) error

	// ListPages returns the owner's pages ordered by Position, blocks not
	// attached.
	ListPages(ctx context.Context, owner models.UserID) ([]*models.Page, error)

	// CreateBlock persists a new block.
	CreateBlock(ctx context.Context, block *models.Block) error

	// GetBlock returns the block or nil when absent.
	GetBlock(ctx context.Context, id models.BlockID) (*models.Block, error)

	// UpdateBlock replaces the stored block with the given entity.
	UpdateBlock(ctx context.Context, block *models.Block) error

	// PatchBlock writes only the given fields (column name to value).
	PatchBlock(ctx context.Context, id models.BlockID, fields map[string]any) error

	// DeleteBlock removes the block row.
	DeleteBlock(ctx context.Context, id models.BlockID) error

	// ListBlocks returns the page's blocks ordered by Position.
	ListBlocks(ctx context.Context, pageID models.PageID) ([]*models.Block, error)

	// UpsertBlocks writes every given block in one batch. Reordering uses
	// this to rewrite the Position of all affected blocks atomically,
	// since positions are dense 0..n-1 per page and moving one block
	// shifts every block between its old and new slot.
	UpsertBlocks(ctx context.Context, blocks []*models.Block) error

	// Migrate prepares backend schema. Safe to call repeatedly.
	Migrate(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Watcher is the optional change-feed capability. Backends that support it
// push per-row change events scoped to the owner; events arrive in delivery
// order with no causal-ordering guarantee relative to this client's own
// writes, which is exactly why echo suppression exists.
//
// Both channels close when ctx is cancelled or the subscription dies. No
// reconnection is attempted here; the workspace re-subscribes on identity
// change.
type Watcher interface {
	WatchPages(ctx context.Context, owner models.UserID) (<-chan PageEvent, error)
	WatchBlocks(ctx context.Context, owner models.UserID) (<-chan BlockEvent, error)
}
