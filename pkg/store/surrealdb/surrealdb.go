// Package surrealdb implements [github.com/notewell/notewell/pkg/store.Store]
// on SurrealDB, using native SurrealQL over a WebSocket connection, and backs
// the change feed with live queries.
//
// The connection is configured with the surrealcbor codec rather than the
// default marshaler. SurrealDB speaks CBOR internally; without the codec,
// time.Time values and typed RecordIDs do not survive the round trip. Typed
// ids marshal themselves to RecordIDs (CBOR tag 8), so entities can be passed
// to the SDK's generic CRUD functions directly and all queries stay fully
// parameterized, with no string interpolation of user values anywhere.
//
// Live queries implement [github.com/notewell/notewell/pkg/store.Watcher].
// One LIVE SELECT per collection feeds a pump goroutine that normalizes SDK
// notifications (CREATE/UPDATE/DELETE plus the row payload) into typed
// events. The feed makes no ordering promise relative to
// this client's own writes; echo suppression upstream deals with that.
package surrealdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/notewell/notewell/pkg/models"
)

// SurrealStore is the SurrealDB-backed store. It is the only backend that
// also implements store.Watcher.
type SurrealStore struct {
	db    *surrealdb.DB
	codec *surrealcbor.Codec
	log   zerolog.Logger
}

// Option configures a SurrealStore.
type Option func(*SurrealStore)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *SurrealStore) { s.log = log }
}

// New connects to SurrealDB at wsURL, authenticates when credentials are
// given, and selects the namespace and database.
func New(wsURL, namespace, database, username, password string, opts ...Option) (*SurrealStore, error) {
	ctx := context.Background()

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse SurrealDB URL: %w", err)
	}

	conf := connection.NewConfig(u)
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	conn := gorillaws.New(conf)
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("connect to SurrealDB: %w", err)
	}

	if username != "" && password != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": username,
			"pass": password,
		}); err != nil {
			return nil, fmt.Errorf("authenticate with SurrealDB: %w", err)
		}
	}

	if err := db.Use(ctx, namespace, database); err != nil {
		return nil, fmt.Errorf("select namespace/database: %w", err)
	}

	s := &SurrealStore{db: db, codec: codec, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate is a no-op: SurrealDB creates tables implicitly on first insert.
func (s *SurrealStore) Migrate(ctx context.Context) error { return nil }

func (s *SurrealStore) Close() error {
	return s.db.Close(context.Background())
}

// handleNotFound maps the SDK's empty-result errors onto "no rows", which
// Get methods report as a nil entity.
func handleNotFound(err error) error {
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Expected a single or multiple results but got 0") ||
			strings.Contains(msg, "cannot unmarshal array into Go value") {
			return nil
		}
	}
	return err
}

// Page operations

func (s *SurrealStore) CreatePage(ctx context.Context, page *models.Page) error {
	if page.ID.IsZero() {
		page.ID = models.NewPageID()
	}
	if _, err := surrealdb.Create[models.Page](ctx, s.db, "pages", page); err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	return nil
}

func (s *SurrealStore) GetPage(ctx context.Context, id models.PageID) (*models.Page, error) {
	page, err := surrealdb.Select[models.Page](ctx, s.db, id.RecordID())
	if err = handleNotFound(err); err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	if page == nil || page.ID.IsZero() {
		return nil, nil
	}
	return page, nil
}

func (s *SurrealStore) UpdatePage(ctx context.Context, page *models.Page) error {
	if _, err := surrealdb.Update[models.Page](ctx, s.db, page.ID.RecordID(), page); err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	return nil
}

func (s *SurrealStore) PatchPage(ctx context.Context, id models.PageID, fields map[string]any) error {
	if _, err := surrealdb.Merge[models.Page](ctx, s.db, id.RecordID(), fields); err != nil {
		return fmt.Errorf("patch page: %w", err)
	}
	return nil
}

func (s *SurrealStore) DeletePage(ctx context.Context, id models.PageID) error {
	if _, err := surrealdb.Delete[models.Page](ctx, s.db, id.RecordID()); err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	return nil
}

func (s *SurrealStore) ListPages(ctx context.Context, owner models.UserID) ([]*models.Page, error) {
	query := "SELECT * FROM pages WHERE owner_id = $owner ORDER BY position ASC"
	result, err := surrealdb.Query[[]models.Page](ctx, s.db, query, map[string]any{
		"owner": owner.RecordID(),
	})
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	pages := []*models.Page{}
	if result != nil && len(*result) > 0 {
		for i := range (*result)[0].Result {
			page := (*result)[0].Result[i]
			pages = append(pages, &page)
		}
	}
	return pages, nil
}

// Block operations

func (s *SurrealStore) CreateBlock(ctx context.Context, block *models.Block) error {
	if block.ID.IsZero() {
		block.ID = models.NewBlockID()
	}
	if _, err := surrealdb.Create[models.Block](ctx, s.db, "blocks", block); err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

func (s *SurrealStore) GetBlock(ctx context.Context, id models.BlockID) (*models.Block, error) {
	block, err := surrealdb.Select[models.Block](ctx, s.db, id.RecordID())
	if err = handleNotFound(err); err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	if block == nil || block.ID.IsZero() {
		return nil, nil
	}
	return block, nil
}

func (s *SurrealStore) UpdateBlock(ctx context.Context, block *models.Block) error {
	if _, err := surrealdb.Update[models.Block](ctx, s.db, block.ID.RecordID(), block); err != nil {
		return fmt.Errorf("update block: %w", err)
	}
	return nil
}

func (s *SurrealStore) PatchBlock(ctx context.Context, id models.BlockID, fields map[string]any) error {
	if _, err := surrealdb.Merge[models.Block](ctx, s.db, id.RecordID(), fields); err != nil {
		return fmt.Errorf("patch block: %w", err)
	}
	return nil
}

func (s *SurrealStore) DeleteBlock(ctx context.Context, id models.BlockID) error {
	if _, err := surrealdb.Delete[models.Block](ctx, s.db, id.RecordID()); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

func (s *SurrealStore) ListBlocks(ctx context.Context, pageID models.PageID) ([]*models.Block, error) {
	query := "SELECT * FROM blocks WHERE page_id = $page ORDER BY position ASC"
	result, err := surrealdb.Query[[]models.Block](ctx, s.db, query, map[string]any{
		"page": pageID.RecordID(),
	})
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	blocks := []*models.Block{}
	if result != nil && len(*result) > 0 {
		for i := range (*result)[0].Result {
			block := (*result)[0].Result[i]
			blocks = append(blocks, &block)
		}
	}
	return blocks, nil
}

// UpsertBlocks writes every block inside one transaction so a reorder's
// position rewrite is atomic: either all positions land or none do.
func (s *SurrealStore) UpsertBlocks(ctx context.Context, blocks []*models.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	var sb strings.Builder
	params := make(map[string]any, len(blocks)*2)
	sb.WriteString("BEGIN TRANSACTION;")
	for i, block := range blocks {
		name := fmt.Sprintf("b%d", i)
		sb.WriteString(fmt.Sprintf(" UPSERT $%s_id CONTENT $%s;", name, name))
		params[name+"_id"] = block.ID.RecordID()
		params[name] = block
	}
	sb.WriteString(" COMMIT TRANSACTION;")

	if _, err := surrealdb.Query[any](ctx, s.db, sb.String(), params); err != nil {
		return fmt.Errorf("upsert %d blocks: %w", len(blocks), err)
	}
	return nil
}
