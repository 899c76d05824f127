package notewell

// Command represents a discrete application operation with its specific
// configuration.
//
// Each command implementation carries the parameters for one operation while
// the application layer handles routing and execution through the [App]
// struct. Commands are created by [Parse] from command-line arguments and
// executed by the matching method on [App] (App.Migrate, App.Run,
// App.Replay).
//
// Current command implementations:
//   - [MigrateCommand]: backend schema preparation
//   - [RunCommand]: HTTP server startup and operation
//   - [ReplayCommand]: replaying queued offline writes against the backend
type Command interface {
	// Name returns the command identifier used for routing. The returned
	// name matches the CLI sub-command name.
	Name() string
}

// MigrateCommand prepares the backend schema.
//
// The behavior depends on the configured backend:
//   - postgres: GORM AutoMigrate creates or updates the pages and blocks
//     tables
//   - surrealdb: no-op, tables are created implicitly on first write
//   - memory: no-op
//
// The command is idempotent and safe to run repeatedly. It only creates
// missing schema elements and never drops data.
type MigrateCommand struct {
	// Empty for now. All configuration comes from App.Config.
}

// Name returns the command name for routing.
func (c *MigrateCommand) Name() string {
	return "migrate"
}

// RunCommand starts the HTTP server exposing the workspace engine.
//
// The server loads the configured user's pages, subscribes to the backend's
// change feed when one is available, and serves the editing API until the
// context is cancelled. Shutdown is graceful: in-flight requests complete,
// pending background persists are flushed, then connections close.
type RunCommand struct {
	// Empty for now. All configuration comes from App.Config.
}

// Name returns the command name for routing.
func (c *RunCommand) Name() string {
	return "run"
}

// ReplayCommand drains the offline outbox against the configured backend.
//
// Writes that failed while the backend was unreachable are queued in a local
// SQLite file. Replay applies them in enqueue order and removes the ones
// that succeed; failures stay queued with a later retry time. The command is
// idempotent, so running it again after a partial failure is safe.
//
// Requires an outbox path to be configured.
type ReplayCommand struct {
	// Empty for now. All configuration comes from App.Config.
}

// Name returns the command name for routing.
func (c *ReplayCommand) Name() string {
	return "replay"
}
