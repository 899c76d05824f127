package notewell

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/notewell/notewell/pkg/outbox"
	"github.com/notewell/notewell/pkg/store"
	"github.com/notewell/notewell/pkg/store/memory"
	"github.com/notewell/notewell/pkg/store/postgres"
	"github.com/notewell/notewell/pkg/store/surrealdb"
	"github.com/notewell/notewell/pkg/workspace"
)

// Backend selects the persistence implementation the application runs on.
const (
	BackendMemory    = "memory"
	BackendSurrealDB = "surrealdb"
	BackendPostgres  = "postgres"
)

// Config holds application configuration shared across all commands.
type Config struct {
	// Backend is one of memory, surrealdb, postgres.
	Backend string

	// SurrealDB connection settings, used when Backend is surrealdb.
	SurrealDBURL  string
	SurrealDBNS   string
	SurrealDBDB   string
	SurrealDBUser string
	SurrealDBPass string

	// PostgresDSN is used when Backend is postgres.
	PostgresDSN string

	// OutboxPath is the SQLite file holding writes that failed to reach
	// the backend. Empty disables the outbox.
	OutboxPath string

	// UserID identifies whose pages the workspace loads. Empty means a
	// fresh user is generated at startup, which bootstraps a starter page.
	UserID string

	// ServerPort is the HTTP listen port for the run command.
	ServerPort string

	// ReadOnly starts the application with backend writes rejected. Edits
	// still apply locally and queue in the outbox when one is configured.
	ReadOnly bool
}

// App holds the application state: the configured store, the optional
// offline outbox, and the workspace engine serving the HTTP API.
type App struct {
	store  store.Store
	ob     *outbox.Outbox
	ws     *workspace.Workspace
	config *Config
	log    zerolog.Logger

	// readOnly is the runtime state; toggled through the admin endpoint.
	readOnly atomic.Bool
}

// New creates an application instance, connecting to the configured backend.
// The workspace is created but not loaded; Run loads it for the configured
// user before serving.
func New(config *Config) (*App, error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var appStore store.Store
	var err error

	switch config.Backend {
	case BackendSurrealDB:
		appStore, err = surrealdb.New(
			config.SurrealDBURL,
			config.SurrealDBNS,
			config.SurrealDBDB,
			config.SurrealDBUser,
			config.SurrealDBPass,
			surrealdb.WithLogger(log),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
		}
		log.Info().Str("url", config.SurrealDBURL).Msg("connected to SurrealDB")
	case BackendPostgres:
		appStore, err = postgres.NewPostgresStore(config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		log.Info().Msg("connected to PostgreSQL")
	case BackendMemory:
		appStore = memory.New()
		log.Info().Msg("using in-memory store")
	default:
		return nil, fmt.Errorf("unknown backend: %q", config.Backend)
	}

	app := &App{
		config: config,
		log:    log,
	}
	app.readOnly.Store(config.ReadOnly)

	// Every backend goes through the read-only wrapper so maintenance mode
	// can be toggled at runtime. Local editing keeps working either way;
	// only backend writes are rejected.
	app.store = store.NewReadOnlyStore(appStore, app.IsReadOnly)

	wsOpts := []workspace.Option{
		workspace.WithLogger(log),
		workspace.WithNotifier(workspace.NotifierFunc(app.notify)),
	}
	if config.OutboxPath != "" {
		ob, err := outbox.New(config.OutboxPath, outbox.WithLogger(log))
		if err != nil {
			appStore.Close()
			return nil, fmt.Errorf("failed to open outbox: %w", err)
		}
		app.ob = ob
		wsOpts = append(wsOpts, workspace.WithOutbox(ob))
	}
	app.ws = workspace.New(app.store, wsOpts...)

	return app, nil
}

// SetReadOnly toggles backend write rejection at runtime, for maintenance
// windows and migrations. Local editing is unaffected.
func (a *App) SetReadOnly(readOnly bool) {
	a.readOnly.Store(readOnly)
	a.log.Info().Bool("read_only", readOnly).Msg("read-only mode changed")
}

// IsReadOnly reports whether backend writes are currently rejected. Checked
// by the store wrapper on every write.
func (a *App) IsReadOnly() bool {
	return a.readOnly.Load()
}

// Close closes the application and its resources.
func (a *App) Close() error {
	if a.ws != nil {
		a.ws.Close()
	}
	if a.ob != nil {
		if err := a.ob.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing outbox")
		}
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Store returns the underlying store (useful for testing).
func (a *App) Store() store.Store {
	return a.store
}

// Workspace returns the workspace engine (useful for testing).
func (a *App) Workspace() *workspace.Workspace {
	return a.ws
}

// notify surfaces workspace notifications in the server log. A UI client
// would render these as banners instead.
func (a *App) notify(n workspace.Notification) {
	switch n.Severity {
	case workspace.SeverityError:
		a.log.Error().Msg(n.Message)
	case workspace.SeverityWarning:
		a.log.Warn().Msg(n.Message)
	default:
		a.log.Info().Msg(n.Message)
	}
}

// getEnv retrieves an environment variable value with a fallback default.
// Empty values are treated the same as unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
