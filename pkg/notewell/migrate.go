package notewell

import (
	"context"
	"fmt"
)

// Migrate prepares the configured backend's schema. It initializes or
// updates the schema to match the data model, not data between backends.
//
// Safe to run multiple times; only missing schema elements are created and
// no data is dropped.
func (a *App) Migrate(ctx context.Context, cmd *MigrateCommand) error {
	a.log.Info().Str("backend", a.config.Backend).Msg("running schema migration")
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.log.Info().Msg("migration completed")
	return nil
}

// Replay drains the offline outbox against the configured backend. Entries
// that apply cleanly are removed; failures stay queued with a later retry
// time, and the first failure is returned after the whole queue has been
// attempted.
func (a *App) Replay(ctx context.Context, cmd *ReplayCommand) error {
	if a.ob == nil {
		return fmt.Errorf("replay requires -outbox to be set")
	}

	n, err := a.ob.Len(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect outbox: %w", err)
	}
	a.log.Info().Int("queued", n).Msg("replaying offline writes")

	if err := a.ob.Drain(ctx, a.store); err != nil {
		return fmt.Errorf("replay incomplete: %w", err)
	}
	a.log.Info().Msg("replay completed")
	return nil
}
