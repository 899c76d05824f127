// Package outbox is a durable retry queue for persistence writes that failed.
//
// The editing engine never rolls local state back when a background write
// fails; instead the failed operation lands here, in a small SQLite database
// on the client machine, and is replayed against the store later. Replay
// scheduling uses exponential backoff with jitter per operation, so a dead
// server is probed gently while a transient blip clears in a second or two.
//
// SQLite runs in WAL mode with a busy timeout, and writes are retried on the
// transient error codes WAL mode can surface under concurrent access.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/store"
)

// Op identifies what a queued operation does when replayed.
type Op string

const (
	OpCreatePage   Op = "create_page"
	OpUpdatePage   Op = "update_page"
	OpPatchPage    Op = "patch_page"
	OpDeletePage   Op = "delete_page"
	OpCreateBlock  Op = "create_block"
	OpUpdateBlock  Op = "update_block"
	OpPatchBlock   Op = "patch_block"
	OpDeleteBlock  Op = "delete_block"
	OpUpsertBlocks Op = "upsert_blocks"
)

// Operation is one queued write. Payload holds the JSON-encoded entity,
// patch field map, or block list, depending on Op; deletes need no payload.
type Operation struct {
	ID       int64
	Op       Op
	EntityID string
	Payload  []byte
	Attempts int
	LastErr  string
}

// Outbox is the SQLite-backed queue.
type Outbox struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Outbox) { o.log = log }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Outbox) { o.now = now }
}

// New opens (or creates) the outbox database and initializes the schema.
func New(path string, opts ...Option) (*Outbox, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	o := &Outbox{db: db, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate outbox: %w", err)
	}
	return o, nil
}

func (o *Outbox) Close() error { return o.db.Close() }

func (o *Outbox) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_writes (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		op           TEXT NOT NULL,
		entity_id    TEXT NOT NULL,
		payload      BLOB,
		attempts     INTEGER NOT NULL DEFAULT 0,
		last_err     TEXT NOT NULL DEFAULT '',
		next_attempt TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_next ON pending_writes(next_attempt);
	`
	_, err := o.db.Exec(schema)
	return err
}

// Enqueue records a failed write for later replay. The first replay attempt
// is due immediately.
func (o *Outbox) Enqueue(ctx context.Context, op Op, entityID string, payload []byte) error {
	now := o.now().UTC().Format(time.RFC3339Nano)
	return retryOnContention(func() error {
		_, err := o.db.ExecContext(ctx,
			`INSERT INTO pending_writes (op, entity_id, payload, next_attempt, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			string(op), entityID, payload, now, now,
		)
		return err
	})
}

// Pending returns the operations due for replay, oldest first.
func (o *Outbox) Pending(ctx context.Context) ([]Operation, error) {
	now := o.now().UTC().Format(time.RFC3339Nano)
	rows, err := o.db.QueryContext(ctx,
		`SELECT id, op, entity_id, payload, attempts, last_err
		 FROM pending_writes WHERE next_attempt <= ? ORDER BY id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending writes: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var kind string
		if err := rows.Scan(&op.ID, &kind, &op.EntityID, &op.Payload, &op.Attempts, &op.LastErr); err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}
		op.Op = Op(kind)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Len counts all queued operations, due or not.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_writes`).Scan(&n)
	return n, err
}

// MarkDone removes a successfully replayed operation.
func (o *Outbox) MarkDone(ctx context.Context, id int64) error {
	return retryOnContention(func() error {
		_, err := o.db.ExecContext(ctx, `DELETE FROM pending_writes WHERE id = ?`, id)
		return err
	})
}

// MarkFailed records another failed attempt and pushes the next one out by
// the backoff delay.
func (o *Outbox) MarkFailed(ctx context.Context, id int64, attempt int, cause error) error {
	next := o.now().Add(backoffDelay(attempt)).UTC().Format(time.RFC3339Nano)
	return retryOnContention(func() error {
		_, err := o.db.ExecContext(ctx,
			`UPDATE pending_writes SET attempts = attempts + 1, last_err = ?, next_attempt = ?
			 WHERE id = ?`,
			cause.Error(), next, id,
		)
		return err
	})
}

// Drain replays every due operation against the store. Operations that fail
// again are rescheduled; the first error is returned after the whole batch
// has been attempted.
func (o *Outbox) Drain(ctx context.Context, st store.Store) error {
	ops, err := o.Pending(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, op := range ops {
		if err := Apply(ctx, st, op); err != nil {
			o.log.Warn().Err(err).
				Int64("outbox_id", op.ID).
				Str("op", string(op.Op)).
				Str("entity_id", op.EntityID).
				Int("attempts", op.Attempts+1).
				Msg("outbox replay failed")
			if markErr := o.MarkFailed(ctx, op.ID, op.Attempts, err); markErr != nil {
				o.log.Error().Err(markErr).Int64("outbox_id", op.ID).Msg("reschedule outbox entry")
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := o.MarkDone(ctx, op.ID); err != nil {
			o.log.Error().Err(err).Int64("outbox_id", op.ID).Msg("remove replayed outbox entry")
		}
	}
	return firstErr
}

// Apply executes one queued operation against the store.
func Apply(ctx context.Context, st store.Store, op Operation) error {
	switch op.Op {
	case OpCreatePage, OpUpdatePage:
		var page models.Page
		if err := json.Unmarshal(op.Payload, &page); err != nil {
			return fmt.Errorf("decode page payload: %w", err)
		}
		if op.Op == OpCreatePage {
			return st.CreatePage(ctx, &page)
		}
		return st.UpdatePage(ctx, &page)
	case OpPatchPage:
		pageID, err := models.ParsePageID(op.EntityID)
		if err != nil {
			return fmt.Errorf("decode page id: %w", err)
		}
		var fields map[string]any
		if err := json.Unmarshal(op.Payload, &fields); err != nil {
			return fmt.Errorf("decode patch payload: %w", err)
		}
		return st.PatchPage(ctx, pageID, fields)
	case OpDeletePage:
		pageID, err := models.ParsePageID(op.EntityID)
		if err != nil {
			return fmt.Errorf("decode page id: %w", err)
		}
		return st.DeletePage(ctx, pageID)
	case OpCreateBlock, OpUpdateBlock:
		var block models.Block
		if err := json.Unmarshal(op.Payload, &block); err != nil {
			return fmt.Errorf("decode block payload: %w", err)
		}
		if op.Op == OpCreateBlock {
			return st.CreateBlock(ctx, &block)
		}
		return st.UpdateBlock(ctx, &block)
	case OpPatchBlock:
		blockID, err := models.ParseBlockID(op.EntityID)
		if err != nil {
			return fmt.Errorf("decode block id: %w", err)
		}
		var fields map[string]any
		if err := json.Unmarshal(op.Payload, &fields); err != nil {
			return fmt.Errorf("decode patch payload: %w", err)
		}
		return st.PatchBlock(ctx, blockID, fields)
	case OpDeleteBlock:
		blockID, err := models.ParseBlockID(op.EntityID)
		if err != nil {
			return fmt.Errorf("decode block id: %w", err)
		}
		return st.DeleteBlock(ctx, blockID)
	case OpUpsertBlocks:
		var blocks []*models.Block
		if err := json.Unmarshal(op.Payload, &blocks); err != nil {
			return fmt.Errorf("decode block list payload: %w", err)
		}
		return st.UpsertBlocks(ctx, blocks)
	default:
		return fmt.Errorf("unknown outbox op %q", op.Op)
	}
}

// Transient SQLite error handling, for WAL-mode contention on the local db.

const (
	retryMax       = 3
	retryBaseDelay = 50 * time.Millisecond
)

func retryOnContention(fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt < retryMax {
			time.Sleep(retryBaseDelay<<uint(attempt) + time.Duration(rand.Int63n(int64(retryBaseDelay))))
		}
	}
	return lastErr
}

func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Replay backoff, per operation.

const (
	replayBaseDelay = time.Second
	replayMaxDelay  = 5 * time.Minute
)

// backoffDelay computes the delay before the next replay attempt using
// exponential backoff with jitter.
func backoffDelay(attempt int) time.Duration {
	delay := replayBaseDelay << uint(attempt)
	if delay > replayMaxDelay || delay <= 0 {
		delay = replayMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(replayBaseDelay)))
	return delay + jitter
}
