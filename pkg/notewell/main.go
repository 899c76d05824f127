package notewell

import (
	"context"
	"fmt"
)

// Main is the main entry point for the notewell application. It takes a
// context for cancellation and command line arguments, then executes the
// appropriate command. It can be called directly from tests without
// building the binary. Returns an error if any step fails (parsing, app
// creation, or command execution).
//
// # Command Line Usage
//
//	# Run against the in-memory backend (default)
//	notewell run
//
//	# Run against SurrealDB with a live change feed
//	notewell -backend surrealdb run
//
//	# Run against PostgreSQL (no change feed)
//	notewell -backend postgres run
//
//	# Queue failed writes to a local file and replay them later
//	notewell -backend surrealdb -outbox notewell.db run
//	notewell -backend surrealdb -outbox notewell.db replay
//
//	# Prepare the backend schema
//	notewell -backend postgres migrate
//
// # Environment Variables
//
//	POSTGRES_DSN     - PostgreSQL connection string
//	SURREALDB_URL    - SurrealDB WebSocket URL (default: ws://localhost:8000/rpc)
//	SURREALDB_NS     - SurrealDB namespace (default: notewell)
//	SURREALDB_DB     - SurrealDB database (default: notewell)
//	SURREALDB_USER   - SurrealDB username (default: root)
//	SURREALDB_PASS   - SurrealDB password (default: root)
func Main(ctx context.Context, args []string) error {
	cmd, config, err := Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	app, err := New(config)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()

	switch c := cmd.(type) {
	case *MigrateCommand:
		if err := app.Migrate(ctx, c); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case *RunCommand:
		if err := app.Run(ctx, c); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case *ReplayCommand:
		if err := app.Replay(ctx, c); err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}

	return nil
}
