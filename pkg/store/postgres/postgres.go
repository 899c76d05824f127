// Package postgres implements [github.com/notewell/notewell/pkg/store.Store]
// on PostgreSQL using GORM.
//
// The relational schema maps the entities one to one: pages and blocks tables
// keyed by UUID, with GORM struct tags supplying the indexes. Schema setup
// goes through AutoMigrate, which only adds missing tables, columns, and
// indexes and never drops data, so it is safe to run on every start.
//
// PostgreSQL has no push channel comparable to a live query, so this backend
// does not implement [github.com/notewell/notewell/pkg/store.Watcher]. A
// workspace on this backend works fully, it just never sees changes made by
// other clients until it reloads.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/store"
)

// PostgresStore implements the Store interface using PostgreSQL with GORM.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to PostgreSQL with the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates or extends the pages and blocks tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&models.Page{},
		&models.Block{},
	)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Page operations

func (s *PostgresStore) CreatePage(ctx context.Context, page *models.Page) error {
	return s.db.WithContext(ctx).Create(page).Error
}

func (s *PostgresStore) GetPage(ctx context.Context, id models.PageID) (*models.Page, error) {
	var page models.Page
	err := s.db.WithContext(ctx).First(&page, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &page, nil
}

func (s *PostgresStore) UpdatePage(ctx context.Context, page *models.Page) error {
	// Select("*") forces zero-valued fields into the UPDATE so a cleared
	// icon or title actually clears.
	res := s.db.WithContext(ctx).Model(&models.Page{}).
		Where("id = ?", page.ID).
		Select("*").Omit("id", "created_at").
		Updates(page)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PatchPage(ctx context.Context, id models.PageID, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.Page{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeletePage(ctx context.Context, id models.PageID) error {
	res := s.db.WithContext(ctx).Delete(&models.Page{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPages(ctx context.Context, owner models.UserID) ([]*models.Page, error) {
	var pages []*models.Page
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("position").
		Find(&pages).Error
	return pages, err
}

// Block operations

func (s *PostgresStore) CreateBlock(ctx context.Context, block *models.Block) error {
	return s.db.WithContext(ctx).Create(block).Error
}

func (s *PostgresStore) GetBlock(ctx context.Context, id models.BlockID) (*models.Block, error) {
	var block models.Block
	err := s.db.WithContext(ctx).First(&block, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &block, nil
}

func (s *PostgresStore) UpdateBlock(ctx context.Context, block *models.Block) error {
	res := s.db.WithContext(ctx).Model(&models.Block{}).
		Where("id = ?", block.ID).
		Select("*").Omit("id", "created_at").
		Updates(block)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PatchBlock(ctx context.Context, id models.BlockID, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.Block{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteBlock(ctx context.Context, id models.BlockID) error {
	res := s.db.WithContext(ctx).Delete(&models.Block{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListBlocks(ctx context.Context, pageID models.PageID) ([]*models.Block, error) {
	var blocks []*models.Block
	err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("position").
		Find(&blocks).Error
	return blocks, err
}

// UpsertBlocks saves every block inside one transaction so a reorder's
// position rewrite commits atomically.
func (s *PostgresStore) UpsertBlocks(ctx context.Context, blocks []*models.Block) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, block := range blocks {
			if err := tx.Save(block).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
