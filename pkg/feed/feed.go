// Package feed adapts a store's push change feed into reconciliation
// callbacks, dropping echoes of this client's own writes on the way.
//
// One Feed serves one authenticated identity. The workspace tears it down
// and builds a new one whenever the identity changes; if the subscription
// cannot be established there is no retry loop here, and the adapter simply
// has no effect until the next re-subscribe trigger.
package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/notewell/notewell/pkg/localtrack"
	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/store"
)

// Feed pumps page and block change events from a store watcher to a pair of
// injected callbacks, consulting the local-change tracker first so that
// self-originated echoes never reach them.
type Feed struct {
	watcher store.Watcher
	tracker *localtrack.Tracker
	log     zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Feed.
type Option func(*Feed)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Feed) { f.log = log }
}

// New returns an unsubscribed feed.
func New(watcher store.Watcher, tracker *localtrack.Tracker, opts ...Option) *Feed {
	f := &Feed{
		watcher: watcher,
		tracker: tracker,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe establishes both watch streams for the given owner and starts
// dispatching. Events whose entity was just written by this client are
// consumed silently. Callbacks run on the feed's goroutines, one per
// collection; they must synchronize their own state.
//
// Subscribe replaces any previous subscription.
func (f *Feed) Subscribe(
	ctx context.Context,
	owner models.UserID,
	onPage func(store.PageEvent),
	onBlock func(store.BlockEvent),
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.teardownLocked()

	subCtx, cancel := context.WithCancel(ctx)
	pageEvents, err := f.watcher.WatchPages(subCtx, owner)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to page changes: %w", err)
	}
	blockEvents, err := f.watcher.WatchBlocks(subCtx, owner)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to block changes: %w", err)
	}
	f.cancel = cancel

	f.wg.Add(2)
	go f.pumpPages(pageEvents, onPage)
	go f.pumpBlocks(blockEvents, onBlock)

	f.log.Debug().Str("owner", owner.String()).Msg("change feed subscribed")
	return nil
}

// Close tears the subscription down and waits for the pump goroutines to
// drain. Safe to call repeatedly and on a never-subscribed feed.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardownLocked()
}

func (f *Feed) teardownLocked() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.cancel = nil
	f.wg.Wait()
}

func (f *Feed) pumpPages(events <-chan store.PageEvent, onPage func(store.PageEvent)) {
	defer f.wg.Done()
	for ev := range events {
		if f.tracker.IsLocal(localtrack.CollectionPages, ev.ID.String()) {
			f.log.Debug().
				Str("page_id", ev.ID.String()).
				Str("action", string(ev.Action)).
				Msg("dropped self-echo")
			continue
		}
		f.log.Debug().
			Str("page_id", ev.ID.String()).
			Str("action", string(ev.Action)).
			Msg("remote page change")
		onPage(ev)
	}
}

func (f *Feed) pumpBlocks(events <-chan store.BlockEvent, onBlock func(store.BlockEvent)) {
	defer f.wg.Done()
	for ev := range events {
		if f.tracker.IsLocal(localtrack.CollectionBlocks, ev.ID.String()) {
			f.log.Debug().
				Str("block_id", ev.ID.String()).
				Str("action", string(ev.Action)).
				Msg("dropped self-echo")
			continue
		}
		f.log.Debug().
			Str("block_id", ev.ID.String()).
			Str("action", string(ev.Action)).
			Msg("remote block change")
		onBlock(ev)
	}
}
