package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/store"
)

// watchBuffer is the event channel capacity per subscription. It absorbs
// notification bursts while the consumer is busy reconciling.
const watchBuffer = 64

// WatchPages opens a live query over the owner's pages and streams the
// notifications as typed events until ctx is canceled.
func (s *SurrealStore) WatchPages(ctx context.Context, owner models.UserID) (<-chan store.PageEvent, error) {
	liveID, notifications, err := s.openLive(ctx, "LIVE SELECT * FROM pages WHERE owner_id = $owner", owner)
	if err != nil {
		return nil, err
	}

	out := make(chan store.PageEvent, watchBuffer)
	go func() {
		defer close(out)
		for notification := range notifications {
			ev, err := s.pageEvent(notification)
			if err != nil {
				s.log.Warn().Err(err).Str("live_id", liveID).Msg("dropping undecodable page notification")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
	}()
	go s.killOnDone(ctx, liveID)
	return out, nil
}

// WatchBlocks opens a live query over all blocks and streams the
// notifications as typed events until ctx is canceled. Blocks carry no owner
// column, so scoping to the owner's pages happens during reconciliation.
func (s *SurrealStore) WatchBlocks(ctx context.Context, owner models.UserID) (<-chan store.BlockEvent, error) {
	liveID, notifications, err := s.openLive(ctx, "LIVE SELECT * FROM blocks", owner)
	if err != nil {
		return nil, err
	}

	out := make(chan store.BlockEvent, watchBuffer)
	go func() {
		defer close(out)
		for notification := range notifications {
			ev, err := s.blockEvent(notification)
			if err != nil {
				s.log.Warn().Err(err).Str("live_id", liveID).Msg("dropping undecodable block notification")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
	}()
	go s.killOnDone(ctx, liveID)
	return out, nil
}

// openLive issues a LIVE SELECT via the Query RPC and hooks up the
// notification channel for the returned live query id.
func (s *SurrealStore) openLive(ctx context.Context, query string, owner models.UserID) (string, chan connection.Notification, error) {
	result, err := surrealdb.Query[surrealdb_models.UUID](ctx, s.db, query, map[string]any{
		"owner": owner.RecordID(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("start live query: %w", err)
	}
	if result == nil || len(*result) == 0 {
		return "", nil, fmt.Errorf("start live query: empty response")
	}
	liveID := (*result)[0].Result.String()

	notifications, err := s.db.LiveNotifications(liveID)
	if err != nil {
		return "", nil, fmt.Errorf("open live notification channel: %w", err)
	}
	s.log.Debug().Str("live_id", liveID).Msg("live query started")
	return liveID, notifications, nil
}

// killOnDone terminates the live query when the watch context ends. Killing
// it closes the notification channel, which in turn ends the pump goroutine.
func (s *SurrealStore) killOnDone(ctx context.Context, liveID string) {
	<-ctx.Done()
	if err := surrealdb.Kill(context.Background(), s.db, liveID); err != nil {
		s.log.Warn().Err(err).Str("live_id", liveID).Msg("kill live query")
	}
}

func (s *SurrealStore) pageEvent(notification connection.Notification) (store.PageEvent, error) {
	var page models.Page
	if err := s.decodeResult(notification.Result, &page); err != nil {
		return store.PageEvent{}, fmt.Errorf("decode page notification: %w", err)
	}
	ev := store.PageEvent{ID: page.ID}
	switch notification.Action {
	case connection.CreateAction:
		ev.Action = store.ActionCreate
		ev.Page = &page
	case connection.UpdateAction:
		ev.Action = store.ActionUpdate
		ev.Page = &page
	case connection.DeleteAction:
		ev.Action = store.ActionDelete
	default:
		return store.PageEvent{}, fmt.Errorf("unexpected live action %q", notification.Action)
	}
	return ev, nil
}

func (s *SurrealStore) blockEvent(notification connection.Notification) (store.BlockEvent, error) {
	var block models.Block
	if err := s.decodeResult(notification.Result, &block); err != nil {
		return store.BlockEvent{}, fmt.Errorf("decode block notification: %w", err)
	}
	ev := store.BlockEvent{ID: block.ID}
	switch notification.Action {
	case connection.CreateAction:
		ev.Action = store.ActionCreate
		ev.Block = &block
	case connection.UpdateAction:
		ev.Action = store.ActionUpdate
		ev.Block = &block
	case connection.DeleteAction:
		ev.Action = store.ActionDelete
	default:
		return store.BlockEvent{}, fmt.Errorf("unexpected live action %q", notification.Action)
	}
	return ev, nil
}

// decodeResult converts a notification payload (a loosely typed map produced
// by the connection codec) into a concrete entity by re-encoding it through
// the same codec. Record ids and datetimes keep their CBOR tags across the
// round trip, so the typed fields decode cleanly.
func (s *SurrealStore) decodeResult(result any, v any) error {
	data, err := s.codec.Marshal(result)
	if err != nil {
		return fmt.Errorf("re-encode notification payload: %w", err)
	}
	if err := s.codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	return nil
}
