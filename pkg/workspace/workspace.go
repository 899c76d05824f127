// Package workspace is the optimistic editing engine and orchestrator: it
// owns the canonical in-memory page collection, the active-page selection,
// and wires the store, the local-change tracker, the remote change feed, and
// the undo/redo history together into the surface the UI consumes.
//
// Every mutator follows the same pattern: validate preconditions (nil or
// false result on failure, no remote call), apply the change to local state
// synchronously, mark the affected entities as locally changed, then persist
// remotely in the background. A failed persist is reported through the
// notification sink and optionally queued for replay; local state is never
// rolled back. The one exception is the first-page bootstrap during Load,
// which fails hard because there is no prior state to fall back to.
//
// The page collection is copy-on-write: every mutation and every reconciled
// remote event installs a fresh slice with cloned entities, so a reader
// holding the previous snapshot never observes a half-updated structure. A
// single mutex serializes mutators and feed callbacks.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/notewell/notewell/pkg/feed"
	"github.com/notewell/notewell/pkg/history"
	"github.com/notewell/notewell/pkg/localtrack"
	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/outbox"
	"github.com/notewell/notewell/pkg/store"
)

// DefaultDebounce is the quiet period after a mutation before a history
// snapshot is captured. One snapshot covers a burst of edits, not a
// keystroke.
const DefaultDebounce = 500 * time.Millisecond

// defaultPersistTimeout bounds each background store write.
const defaultPersistTimeout = 10 * time.Second

// Severity grades a user-visible notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a fire-and-forget user-visible message, emitted on every
// remote failure path.
type Notification struct {
	Severity Severity
	Message  string
}

// Notifier is the toast sink.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// Workspace composes the sync core. Construct with New, then Load for an
// identity before calling any mutator.
type Workspace struct {
	st      store.Store
	tracker *localtrack.Tracker
	hist    *history.History
	fd      *feed.Feed
	ob      *outbox.Outbox
	log     zerolog.Logger
	sink    Notifier

	debounce       time.Duration
	persistTimeout time.Duration

	mu           sync.Mutex
	userID       models.UserID
	pages        []*models.Page
	activePageID models.PageID
	histTimer    *time.Timer

	persistMu     sync.Mutex
	persistQ      []persistJob
	persistActive bool
	persistWG     sync.WaitGroup
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Workspace) { w.log = log }
}

// WithNotifier sets the sink for remote-failure notifications.
func WithNotifier(sink Notifier) Option {
	return func(w *Workspace) { w.sink = sink }
}

// WithHistoryCapacity bounds the undo history.
func WithHistoryCapacity(n int) Option {
	return func(w *Workspace) { w.hist = history.New(history.WithCapacity(n)) }
}

// WithDebounce overrides the history capture delay. Zero captures a snapshot
// synchronously on every mutation, which tests rely on.
func WithDebounce(d time.Duration) Option {
	return func(w *Workspace) { w.debounce = d }
}

// WithOutbox attaches a durable retry queue for failed remote writes.
func WithOutbox(ob *outbox.Outbox) Option {
	return func(w *Workspace) { w.ob = ob }
}

// New builds a workspace over the given store. If the store implements
// [store.Watcher], remote changes stream in after Load subscribes.
func New(st store.Store, opts ...Option) *Workspace {
	w := &Workspace{
		st:             st,
		tracker:        localtrack.New(),
		hist:           history.New(),
		log:            zerolog.Nop(),
		sink:           nopNotifier{},
		debounce:       DefaultDebounce,
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	if watcher, ok := st.(store.Watcher); ok {
		w.fd = feed.New(watcher, w.tracker, feed.WithLogger(w.log))
	}
	return w
}

// Load replaces the workspace contents with the given identity's pages,
// creating a starter page when the identity has none, and (re)subscribes to
// the remote change feed. History restarts at the loaded state.
//
// Load is the bootstrap path: any failure here is returned rather than
// absorbed, since there is no prior state to keep editing.
func (w *Workspace) Load(ctx context.Context, userID models.UserID) error {
	if userID.IsZero() {
		return fmt.Errorf("load workspace: no authenticated user")
	}

	pages, err := w.st.ListPages(ctx, userID)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}
	for _, page := range pages {
		blocks, err := w.st.ListBlocks(ctx, page.ID)
		if err != nil {
			return fmt.Errorf("load blocks for page %s: %w", page.ID, err)
		}
		page.Blocks = blocks
	}

	if len(pages) == 0 {
		starter, err := w.bootstrapStarterPage(ctx, userID)
		if err != nil {
			return fmt.Errorf("create starter page: %w", err)
		}
		pages = []*models.Page{starter}
	}

	w.mu.Lock()
	w.userID = userID
	w.pages = pages
	w.activePageID = models.PageID{}
	if len(pages) > 0 {
		w.activePageID = pages[0].ID
	}
	if w.histTimer != nil {
		w.histTimer.Stop()
		w.histTimer = nil
	}
	w.hist.Reset(pages)
	w.mu.Unlock()

	if w.fd != nil {
		if err := w.fd.Subscribe(context.Background(), userID, w.applyRemotePage, w.applyRemoteBlock); err != nil {
			// No retry loop here; the next identity change re-subscribes.
			w.log.Warn().Err(err).Msg("change feed unavailable")
			w.sink.Notify(Notification{
				Severity: SeverityWarning,
				Message:  "Live updates are unavailable. Changes from other devices will not appear until reload.",
			})
		}
	}

	w.log.Info().
		Str("user_id", userID.String()).
		Int("pages", len(pages)).
		Msg("workspace loaded")
	return nil
}

// SetUser switches the authenticated identity, reloading pages and replacing
// the feed subscription.
func (w *Workspace) SetUser(ctx context.Context, userID models.UserID) error {
	return w.Load(ctx, userID)
}

// bootstrapStarterPage writes the welcome page a brand-new identity starts
// with. Writes are synchronous and fatal on failure.
func (w *Workspace) bootstrapStarterPage(ctx context.Context, userID models.UserID) (*models.Page, error) {
	now := time.Now()
	page := &models.Page{
		ID:        models.NewPageID(),
		OwnerID:   userID,
		Title:     "Getting started",
		Icon:      "👋",
		Position:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	blocks := []*models.Block{
		{ID: models.NewBlockID(), PageID: page.ID, Type: models.BlockTypeHeading1, Content: "Welcome to your workspace", Position: 0, CreatedAt: now, UpdatedAt: now},
		{ID: models.NewBlockID(), PageID: page.ID, Type: models.BlockTypeText, Content: "Write anywhere. Everything you type is saved automatically.", Position: 1, CreatedAt: now, UpdatedAt: now},
		{ID: models.NewBlockID(), PageID: page.ID, Type: models.BlockTypeText, Content: "Use the + menu to add headings, lists, and more.", Position: 2, CreatedAt: now, UpdatedAt: now},
	}

	w.tracker.Mark(localtrack.CollectionPages, page.ID.String())
	if err := w.st.CreatePage(ctx, page); err != nil {
		return nil, err
	}
	for _, b := range blocks {
		w.tracker.Mark(localtrack.CollectionBlocks, b.ID.String())
	}
	if err := w.st.UpsertBlocks(ctx, blocks); err != nil {
		return nil, err
	}

	page.Blocks = blocks
	return page, nil
}

// Close tears down the feed subscription, cancels any pending history
// capture, and waits for in-flight background persists.
func (w *Workspace) Close() {
	if w.fd != nil {
		w.fd.Close()
	}
	w.mu.Lock()
	if w.histTimer != nil {
		w.histTimer.Stop()
		w.histTimer = nil
	}
	w.mu.Unlock()
	w.persistWG.Wait()
}

// Flush captures any pending history snapshot immediately and waits for all
// in-flight background persists. Tests use it to observe settled state.
func (w *Workspace) Flush() {
	w.mu.Lock()
	w.flushSnapshotLocked()
	w.mu.Unlock()
	w.persistWG.Wait()
}

// Read surface

// Pages returns the current copy-on-write snapshot of the page collection.
// Callers must treat it as immutable.
func (w *Workspace) Pages() []*models.Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pages
}

// ActivePageID returns the id of the active page, zero when none.
func (w *Workspace) ActivePageID() models.PageID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activePageID
}

// ActivePage returns the active page from the current snapshot, or nil.
func (w *Workspace) ActivePage() *models.Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	return pageByID(w.pages, w.activePageID)
}

// SetActivePage selects a page. Returns false if the page does not exist.
func (w *Workspace) SetActivePage(id models.PageID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if pageByID(w.pages, id) == nil {
		return false
	}
	w.activePageID = id
	return true
}

// Undo / redo

// Undo restores the previous history snapshot. Local-only: the restored
// state is not pushed to the remote store, which will converge through the
// user's next edits.
func (w *Workspace) Undo() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.flushSnapshotLocked()
	snap, ok := w.hist.Undo()
	if !ok {
		return false
	}
	w.pages = snap
	w.fixActiveLocked()
	// The restore itself schedules a capture, which Push suppresses.
	w.scheduleSnapshotLocked()
	return true
}

// Redo restores the next history snapshot after an Undo.
func (w *Workspace) Redo() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.flushSnapshotLocked()
	snap, ok := w.hist.Redo()
	if !ok {
		return false
	}
	w.pages = snap
	w.fixActiveLocked()
	w.scheduleSnapshotLocked()
	return true
}

// CanUndo reports whether Undo would restore anything.
func (w *Workspace) CanUndo() bool { return w.hist.CanUndo() }

// CanRedo reports whether Redo would restore anything.
func (w *Workspace) CanRedo() bool { return w.hist.CanRedo() }

// History capture

// scheduleSnapshotLocked arms (or re-arms) the debounced history capture.
// With a zero debounce the capture happens synchronously.
func (w *Workspace) scheduleSnapshotLocked() {
	if w.debounce <= 0 {
		w.hist.Push(w.pages)
		return
	}
	if w.histTimer != nil {
		w.histTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		// A fired timer can lose the lock race against a flush or a
		// re-arm; only the current timer may capture.
		if w.histTimer != t {
			return
		}
		w.histTimer = nil
		w.hist.Push(w.pages)
	})
	w.histTimer = t
}

// flushSnapshotLocked fires a pending debounced capture immediately, so that
// an Undo restores the state the user actually sees. Stop can report the
// timer as already fired while its callback is still blocked on the mutex;
// the callback then finds itself stale and backs off, so the push happens
// here unconditionally.
func (w *Workspace) flushSnapshotLocked() {
	if w.histTimer == nil {
		return
	}
	w.histTimer.Stop()
	w.histTimer = nil
	w.hist.Push(w.pages)
}

// Background persistence

// queuedWrite describes one store write for outbox replay should the live
// attempt fail.
type queuedWrite struct {
	op       outbox.Op
	entityID string
	payload  []byte
}

// persistJob is one queued background store write.
type persistJob struct {
	desc   string
	writes []queuedWrite
	fn     func(context.Context) error
}

// persist queues fn for background execution with a bounded context. Jobs run
// one at a time in mutation order, so two rapid writes to the same entity
// cannot reach the backend reversed. On failure the user is notified, the
// failure is logged, and every queued write lands in the outbox when one is
// attached. Local state is never rolled back.
//
// Mutators call this while holding w.mu, which makes the enqueue order the
// mutation order.
func (w *Workspace) persist(desc string, writes []queuedWrite, fn func(context.Context) error) {
	w.persistWG.Add(1)
	w.persistMu.Lock()
	w.persistQ = append(w.persistQ, persistJob{desc: desc, writes: writes, fn: fn})
	if !w.persistActive {
		w.persistActive = true
		go w.drainPersists()
	}
	w.persistMu.Unlock()
}

// drainPersists is the single persist worker. It exits when the queue is
// empty; the next persist starts a fresh one.
func (w *Workspace) drainPersists() {
	for {
		w.persistMu.Lock()
		if len(w.persistQ) == 0 {
			w.persistActive = false
			w.persistMu.Unlock()
			return
		}
		job := w.persistQ[0]
		w.persistQ = w.persistQ[1:]
		w.persistMu.Unlock()

		w.runPersist(job)
		w.persistWG.Done()
	}
}

func (w *Workspace) runPersist(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), w.persistTimeout)
	defer cancel()

	err := job.fn(ctx)
	if err == nil {
		return
	}

	w.log.Error().Err(err).Str("op", job.desc).Msg("remote persist failed")
	w.sink.Notify(Notification{
		Severity: SeverityError,
		Message:  fmt.Sprintf("Could not save %s. Your changes are kept on this device.", job.desc),
	})
	if w.ob == nil {
		return
	}
	for _, qw := range job.writes {
		if qErr := w.ob.Enqueue(context.Background(), qw.op, qw.entityID, qw.payload); qErr != nil {
			w.log.Error().Err(qErr).Str("op", string(qw.op)).Msg("queue failed write for replay")
		}
	}
}

// mustJSON marshals outbox payloads. The models marshal cleanly; a failure
// here is a programming error, logged and degraded to an empty payload.
func (w *Workspace) mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		w.log.Error().Err(err).Msg("encode outbox payload")
		return nil
	}
	return data
}

// Shared helpers

func pageByID(pages []*models.Page, id models.PageID) *models.Page {
	if id.IsZero() {
		return nil
	}
	for _, p := range pages {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func pageIndex(pages []*models.Page, id models.PageID) int {
	for i, p := range pages {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// fixActiveLocked repairs the active-page selection after the collection
// changed: keep it when the page still exists, otherwise fall back to the
// first page, or none.
func (w *Workspace) fixActiveLocked() {
	if pageByID(w.pages, w.activePageID) != nil {
		return
	}
	w.activePageID = models.PageID{}
	if len(w.pages) > 0 {
		w.activePageID = w.pages[0].ID
	}
}

func sortPagesByPosition(pages []*models.Page) {
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Position < pages[j].Position })
}

func sortBlocksByPosition(blocks []*models.Block) {
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Position < blocks[j].Position })
}
