package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Typed IDs wrap uuid.UUID so that a PageID can never be passed where a
// BlockID is expected. Each type knows its backing table, which lets it
// marshal to a SurrealDB RecordID (CBOR tag 8) while staying a plain UUID
// string in JSON and in relational columns.

// UserID identifies the owner of pages. The identity provider supplies it;
// this package only needs it to be stable and parseable.
type UserID struct {
	uuid uuid.UUID
}

func NewUserID() UserID {
	return UserID{uuid: uuid.New()}
}

func NewUserIDFromUUID(id uuid.UUID) UserID {
	return UserID{uuid: id}
}

func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid user ID: %w", err)
	}
	return UserID{uuid: id}, nil
}

func (u UserID) UUID() uuid.UUID { return u.uuid }
func (u UserID) String() string  { return u.uuid.String() }
func (u UserID) IsZero() bool    { return u.uuid == uuid.Nil }

func (u UserID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: "users", ID: u.uuid.String()}
}

func (u UserID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.uuid.String())
}

func (u *UserID) UnmarshalJSON(data []byte) error {
	return unmarshalJSONID(data, &u.uuid)
}

func (u UserID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID("users", u.uuid)
}

func (u *UserID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, "users", &u.uuid)
}

func (u UserID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.uuid.String(), nil
}

func (u *UserID) Scan(value any) error {
	return scanUUID(value, &u.uuid)
}

func (UserID) GormDataType() string { return "uuid" }

// WorkspaceID identifies a shared workspace. A page belongs either to a user
// or to a workspace, never both.
type WorkspaceID struct {
	uuid uuid.UUID
}

func NewWorkspaceID() WorkspaceID {
	return WorkspaceID{uuid: uuid.New()}
}

func NewWorkspaceIDFromUUID(id uuid.UUID) WorkspaceID {
	return WorkspaceID{uuid: id}
}

func ParseWorkspaceID(s string) (WorkspaceID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return WorkspaceID{}, fmt.Errorf("invalid workspace ID: %w", err)
	}
	return WorkspaceID{uuid: id}, nil
}

func (w WorkspaceID) UUID() uuid.UUID { return w.uuid }
func (w WorkspaceID) String() string  { return w.uuid.String() }
func (w WorkspaceID) IsZero() bool    { return w.uuid == uuid.Nil }

func (w WorkspaceID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: "workspaces", ID: w.uuid.String()}
}

func (w WorkspaceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.uuid.String())
}

func (w *WorkspaceID) UnmarshalJSON(data []byte) error {
	return unmarshalJSONID(data, &w.uuid)
}

func (w WorkspaceID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID("workspaces", w.uuid)
}

func (w *WorkspaceID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, "workspaces", &w.uuid)
}

func (w WorkspaceID) Value() (driver.Value, error) {
	if w.IsZero() {
		return nil, nil
	}
	return w.uuid.String(), nil
}

func (w *WorkspaceID) Scan(value any) error {
	return scanUUID(value, &w.uuid)
}

func (WorkspaceID) GormDataType() string { return "uuid" }

// PageID identifies a page.
type PageID struct {
	uuid uuid.UUID
}

func NewPageID() PageID {
	return PageID{uuid: uuid.New()}
}

func NewPageIDFromUUID(id uuid.UUID) PageID {
	return PageID{uuid: id}
}

func ParsePageID(s string) (PageID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PageID{}, fmt.Errorf("invalid page ID: %w", err)
	}
	return PageID{uuid: id}, nil
}

func (p PageID) UUID() uuid.UUID { return p.uuid }
func (p PageID) String() string  { return p.uuid.String() }
func (p PageID) IsZero() bool    { return p.uuid == uuid.Nil }

func (p PageID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: "pages", ID: p.uuid.String()}
}

func (p PageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.uuid.String())
}

func (p *PageID) UnmarshalJSON(data []byte) error {
	return unmarshalJSONID(data, &p.uuid)
}

func (p PageID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID("pages", p.uuid)
}

func (p *PageID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, "pages", &p.uuid)
}

func (p PageID) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	return p.uuid.String(), nil
}

func (p *PageID) Scan(value any) error {
	return scanUUID(value, &p.uuid)
}

func (PageID) GormDataType() string { return "uuid" }

// BlockID identifies a block. Immutable once assigned.
type BlockID struct {
	uuid uuid.UUID
}

func NewBlockID() BlockID {
	return BlockID{uuid: uuid.New()}
}

func NewBlockIDFromUUID(id uuid.UUID) BlockID {
	return BlockID{uuid: id}
}

func ParseBlockID(s string) (BlockID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return BlockID{}, fmt.Errorf("invalid block ID: %w", err)
	}
	return BlockID{uuid: id}, nil
}

func (b BlockID) UUID() uuid.UUID { return b.uuid }
func (b BlockID) String() string  { return b.uuid.String() }
func (b BlockID) IsZero() bool    { return b.uuid == uuid.Nil }

func (b BlockID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: "blocks", ID: b.uuid.String()}
}

func (b BlockID) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.uuid.String())
}

func (b *BlockID) UnmarshalJSON(data []byte) error {
	return unmarshalJSONID(data, &b.uuid)
}

func (b BlockID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID("blocks", b.uuid)
}

func (b *BlockID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, "blocks", &b.uuid)
}

func (b BlockID) Value() (driver.Value, error) {
	if b.IsZero() {
		return nil, nil
	}
	return b.uuid.String(), nil
}

func (b *BlockID) Scan(value any) error {
	return scanUUID(value, &b.uuid)
}

func (BlockID) GormDataType() string { return "uuid" }

// marshalCBORID encodes a typed ID as a SurrealDB RecordID, CBOR tag 8 with
// a [table, id] payload.
func marshalCBORID(table string, id uuid.UUID) ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  8,
		Content: []any{table, id.String()},
	})
}

// unmarshalCBORID decodes a RecordID tag, accepting a bare UUID string as a
// fallback for payloads that were not produced by the surrealcbor codec.
func unmarshalCBORID(data []byte, expectedTable string, target *uuid.UUID) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err == nil && tag.Number == 8 {
		arr, ok := tag.Content.([]any)
		if !ok || len(arr) != 2 {
			return fmt.Errorf("invalid RecordID format: expected [table, id] array")
		}
		table, ok := arr[0].(string)
		if !ok {
			return fmt.Errorf("invalid RecordID format: table name must be string")
		}
		if table != expectedTable {
			return fmt.Errorf("expected table %s, got %s", expectedTable, table)
		}
		idStr, ok := arr[1].(string)
		if !ok {
			return fmt.Errorf("invalid RecordID format: ID must be string")
		}
		parsed, err := uuid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("invalid UUID in RecordID: %w", err)
		}
		*target = parsed
		return nil
	}

	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid ID payload for table %s: %w", expectedTable, err)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}
	*target = parsed
	return nil
}

func unmarshalJSONID(data []byte, target *uuid.UUID) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*target = id
	return nil
}

// scanUUID implements sql.Scanner semantics shared by all typed IDs.
func scanUUID(value any, target *uuid.UUID) error {
	if value == nil {
		*target = uuid.Nil
		return nil
	}
	switch v := value.(type) {
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("invalid UUID string: %w", err)
		}
		*target = id
	case []byte:
		id, err := uuid.Parse(string(v))
		if err != nil {
			return fmt.Errorf("invalid UUID bytes: %w", err)
		}
		*target = id
	default:
		return fmt.Errorf("unsupported UUID scan type %T", value)
	}
	return nil
}
