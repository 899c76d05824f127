// Package models defines the document model shared by every other package:
// pages, their ordered content blocks, and the closed set of block types.
//
// The model is deliberately dumb. It carries no behavior beyond deep copying
// and a handful of pure predicates; all mutation rules live in
// [github.com/notewell/notewell/pkg/workspace]. Entities marshal three ways:
// JSON for the HTTP surface, CBOR (with typed RecordIDs) for SurrealDB, and
// database/sql values for the relational backend.
package models

import (
	"time"

	"gorm.io/gorm"
)

// BlockType enumerates every kind of content block a page can hold. The set
// is closed: persistence rejects nothing, but the editors and the premium
// gate only know these variants.
type BlockType string

const (
	BlockTypeText      BlockType = "text"
	BlockTypeHeading1  BlockType = "heading1"
	BlockTypeHeading2  BlockType = "heading2"
	BlockTypeHeading3  BlockType = "heading3"
	BlockTypeBullet    BlockType = "bullet"
	BlockTypeNumbered  BlockType = "numbered"
	BlockTypeChecklist BlockType = "checklist"
	BlockTypeDivider   BlockType = "divider"

	// Premium variants, gated behind a paid entitlement at the UI layer.
	BlockTypeCallout  BlockType = "callout"
	BlockTypeQuote    BlockType = "quote"
	BlockTypeCode     BlockType = "code"
	BlockTypeTable    BlockType = "table"
	BlockTypeToggle   BlockType = "toggle"
	BlockTypeImage    BlockType = "image"
	BlockTypeEmbed    BlockType = "embed"
	BlockTypeKanban   BlockType = "kanban"
	BlockTypeDatabase BlockType = "database"
	BlockTypeMath     BlockType = "math"
)

// CalloutType selects the accent of a callout block.
type CalloutType string

const (
	CalloutInfo    CalloutType = "info"
	CalloutWarning CalloutType = "warning"
	CalloutSuccess CalloutType = "success"
	CalloutError   CalloutType = "error"
)

// premiumBlockTypes is the fixed premium subset checked by IsPremiumBlock.
var premiumBlockTypes = map[BlockType]bool{
	BlockTypeCallout:  true,
	BlockTypeQuote:    true,
	BlockTypeCode:     true,
	BlockTypeTable:    true,
	BlockTypeToggle:   true,
	BlockTypeImage:    true,
	BlockTypeEmbed:    true,
	BlockTypeKanban:   true,
	BlockTypeDatabase: true,
	BlockTypeMath:     true,
}

// IsPremiumBlock reports whether a block type requires a paid entitlement.
//
// The check is advisory: UI entry points use it to hide premium block types
// from free-tier users, but a determined client can bypass it, so
// authoritative enforcement belongs to the persistence service, not here.
func IsPremiumBlock(t BlockType) bool {
	return premiumBlockTypes[t]
}

// KnownBlockType reports whether t is a member of the closed variant set.
func KnownBlockType(t BlockType) bool {
	switch t {
	case BlockTypeText, BlockTypeHeading1, BlockTypeHeading2, BlockTypeHeading3,
		BlockTypeBullet, BlockTypeNumbered, BlockTypeChecklist, BlockTypeDivider:
		return true
	}
	return premiumBlockTypes[t]
}

// DefaultPageTitle is used when a page is created without a title.
const DefaultPageTitle = "Untitled"

// Page is the top-level document container. Blocks are kept in rendering
// order in memory; the persistence layer stores them in a separate collection
// keyed by PageID with an explicit Position column.
//
// Ownership is exclusive: either OwnerID is set (personal page) or
// WorkspaceID is set (shared page), never both.
type Page struct {
	ID          PageID       `gorm:"type:uuid;primary_key" json:"id" cbor:"id"`
	OwnerID     UserID       `gorm:"type:uuid;index" json:"owner_id" cbor:"owner_id"`
	WorkspaceID *WorkspaceID `gorm:"type:uuid;index" json:"workspace_id,omitempty" cbor:"workspace_id,omitempty"`
	Title       string       `gorm:"not null" json:"title" cbor:"title"`
	Icon        string       `json:"icon,omitempty" cbor:"icon,omitempty"`
	Position    int          `gorm:"not null" json:"position" cbor:"position"`
	CreatedAt   time.Time    `json:"created_at" cbor:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" cbor:"updated_at"`

	// Blocks is the in-memory rendering order. It is not a column; stores
	// load it with a second query ordered by Position.
	Blocks []*Block `gorm:"-" json:"blocks,omitempty" cbor:"-"`
}

// BeforeCreate assigns an ID when gorm persists a page created without one.
func (p *Page) BeforeCreate(tx *gorm.DB) error {
	if p.ID.IsZero() {
		p.ID = NewPageID()
	}
	return nil
}

// BlockIndex returns the index of the block with the given id in rendering
// order, or -1 if the page does not contain it.
func (p *Page) BlockIndex(id BlockID) int {
	for i, b := range p.Blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// Block returns the block with the given id, or nil.
func (p *Page) Block(id BlockID) *Block {
	if i := p.BlockIndex(id); i >= 0 {
		return p.Blocks[i]
	}
	return nil
}

// Clone returns a deep copy of the page, blocks included. Snapshots handed
// to the history engine and to readers must never alias live state.
func (p *Page) Clone() *Page {
	if p == nil {
		return nil
	}
	cp := *p
	if p.WorkspaceID != nil {
		wid := *p.WorkspaceID
		cp.WorkspaceID = &wid
	}
	cp.Blocks = make([]*Block, len(p.Blocks))
	for i, b := range p.Blocks {
		cp.Blocks[i] = b.Clone()
	}
	return &cp
}

// ClonePages deep-copies a page collection. The result never shares memory
// with the input, including the outer slice.
func ClonePages(pages []*Page) []*Page {
	out := make([]*Page, len(pages))
	for i, p := range pages {
		out[i] = p.Clone()
	}
	return out
}

// Block is one typed content unit within a page.
//
// Content semantics depend on Type: plain text for text and headings, a
// JSON-encoded grid for tables, a URL for image/embed, LaTeX source for math.
// The auxiliary pointers are meaningful only for the type that owns them and
// stay nil otherwise, so partial updates can distinguish "not provided" from
// a zero value.
type Block struct {
	ID          BlockID     `gorm:"type:uuid;primary_key" json:"id" cbor:"id"`
	PageID      PageID      `gorm:"type:uuid;not null;index" json:"page_id" cbor:"page_id"`
	Type        BlockType   `gorm:"not null" json:"type" cbor:"type"`
	Content     string      `gorm:"type:text" json:"content" cbor:"content"`
	Checked     *bool       `json:"checked,omitempty" cbor:"checked,omitempty"`
	CalloutType CalloutType `json:"callout_type,omitempty" cbor:"callout_type,omitempty"`
	Language    string      `json:"language,omitempty" cbor:"language,omitempty"`
	Collapsed   *bool       `json:"collapsed,omitempty" cbor:"collapsed,omitempty"`
	EmbedURL    string      `json:"embed_url,omitempty" cbor:"embed_url,omitempty"`
	Position    int         `gorm:"not null" json:"position" cbor:"position"`
	CreatedAt   time.Time   `json:"created_at" cbor:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" cbor:"updated_at"`
}

// BeforeCreate assigns an ID when gorm persists a block created without one.
func (b *Block) BeforeCreate(tx *gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewBlockID()
	}
	return nil
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	cp := *b
	if b.Checked != nil {
		v := *b.Checked
		cp.Checked = &v
	}
	if b.Collapsed != nil {
		v := *b.Collapsed
		cp.Collapsed = &v
	}
	return &cp
}
