package notewell

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/notewell/notewell/pkg/models"
)

// Run starts the HTTP server exposing the workspace engine.
//
// Before serving, the configured user's pages are loaded into the workspace.
// A first-time user gets a starter page; that bootstrap failing is fatal.
// When the backend supports a change feed, remote edits stream into the
// workspace while the server runs. When an outbox is configured, queued
// offline writes are replayed once at startup; failures there are logged
// but do not prevent serving, since local editing works without the backend.
//
// # API Endpoints
//
// Health check:
//
//	GET  /api/health                          - Service health status
//
// Pages:
//
//	GET    /api/pages                         - List pages in sidebar order
//	POST   /api/pages                         - Create a page and activate it
//	GET    /api/pages/{id}                    - Get a page with its blocks
//	DELETE /api/pages/{id}                    - Delete a page and its blocks
//	PUT    /api/pages/{id}/title              - Rename a page
//	PUT    /api/pages/{id}/icon               - Change a page icon
//	PUT    /api/pages/{id}/activate           - Select the active page
//	GET    /api/pages/active                  - Get the active page
//
// Blocks:
//
//	POST   /api/pages/{pageId}/blocks         - Insert a block
//	PUT    /api/pages/{pageId}/blocks/reorder - Reorder a page's blocks
//	PUT    /api/blocks/{id}                   - Partially update a block
//	DELETE /api/blocks/{id}                   - Delete a block
//
// History:
//
//	GET  /api/history                         - Undo/redo availability
//	POST /api/history/undo                    - Step back one snapshot
//	POST /api/history/redo                    - Step forward one snapshot
//
// Administration:
//
//	GET  /api/admin/readonly                  - Current read-only state
//	PUT  /api/admin/readonly                  - Toggle backend write rejection
//
// The method blocks until the context is cancelled or a fatal server error
// occurs. On shutdown, active requests get 5 seconds to complete and
// pending background persists are flushed.
func (a *App) Run(ctx context.Context, cmd *RunCommand) error {
	userID, err := a.resolveUser()
	if err != nil {
		return err
	}

	if a.ob != nil {
		if err := a.ob.Drain(ctx, a.store); err != nil {
			a.log.Warn().Err(err).Msg("startup replay incomplete, entries stay queued")
		}
	}

	if err := a.ws.Load(ctx, userID); err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}
	a.log.Info().Str("user_id", userID.String()).Int("pages", len(a.ws.Pages())).Msg("workspace loaded")

	router := a.router()

	addr := fmt.Sprintf(":%s", a.config.ServerPort)
	a.log.Info().Str("addr", addr).Str("backend", a.config.Backend).Msg("starting notewell server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		a.ws.Flush()
		return nil
	case err := <-serverErr:
		return err
	}
}

// router builds the HTTP route table. Separate from Run so tests can mount
// it on a httptest server.
func (a *App) router() *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", a.handleHealth).Methods("GET")

	api.HandleFunc("/pages", a.handleListPages).Methods("GET")
	api.HandleFunc("/pages", a.handleCreatePage).Methods("POST")
	api.HandleFunc("/pages/active", a.handleGetActivePage).Methods("GET")
	api.HandleFunc("/pages/{id}", a.handleGetPage).Methods("GET")
	api.HandleFunc("/pages/{id}", a.handleDeletePage).Methods("DELETE")
	api.HandleFunc("/pages/{id}/title", a.handleUpdatePageTitle).Methods("PUT")
	api.HandleFunc("/pages/{id}/icon", a.handleUpdatePageIcon).Methods("PUT")
	api.HandleFunc("/pages/{id}/activate", a.handleActivatePage).Methods("PUT")

	api.HandleFunc("/pages/{pageId}/blocks", a.handleAddBlock).Methods("POST")
	api.HandleFunc("/pages/{pageId}/blocks/reorder", a.handleReorderBlocks).Methods("PUT")
	api.HandleFunc("/blocks/{id}", a.handleUpdateBlock).Methods("PUT")
	api.HandleFunc("/blocks/{id}", a.handleDeleteBlock).Methods("DELETE")

	api.HandleFunc("/history", a.handleHistoryState).Methods("GET")
	api.HandleFunc("/history/undo", a.handleUndo).Methods("POST")
	api.HandleFunc("/history/redo", a.handleRedo).Methods("POST")

	api.HandleFunc("/admin/readonly", a.handleGetReadOnly).Methods("GET")
	api.HandleFunc("/admin/readonly", a.handleSetReadOnly).Methods("PUT")

	// Health check route outside the /api prefix, for load balancers.
	router.HandleFunc("/health", a.handleHealth).Methods("GET")

	return router
}

// resolveUser parses the configured user ID, or generates a fresh one when
// none is set.
func (a *App) resolveUser() (models.UserID, error) {
	if a.config.UserID == "" {
		id := models.NewUserID()
		a.log.Info().Str("user_id", id.String()).Msg("no user configured, generated one")
		return id, nil
	}
	id, err := models.ParseUserID(a.config.UserID)
	if err != nil {
		return models.UserID{}, fmt.Errorf("invalid user ID %q: %w", a.config.UserID, err)
	}
	return id, nil
}
