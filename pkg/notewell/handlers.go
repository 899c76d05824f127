package notewell

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/notewell/notewell/pkg/models"
	"github.com/notewell/notewell/pkg/workspace"
)

// Handlers translate HTTP requests into workspace engine calls. Every
// mutation applies locally before the handler returns; persistence to the
// backend happens in the background, so a 2xx response means the edit is
// visible to the client, not that it has reached the backend yet.

// handleHealth reports service status for load balancers and monitoring.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"backend": a.config.Backend,
		"time":    time.Now().Unix(),
	})
}

// Page handlers operate on the workspace's in-memory page collection, which
// Load populated and the change feed keeps current.

func (a *App) handleListPages(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.ws.Pages())
}

func (a *App) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	page := a.ws.CreatePage()
	if page == nil {
		respondError(w, http.StatusInternalServerError, "Workspace not loaded")
		return
	}
	respondJSON(w, http.StatusCreated, page)
}

func (a *App) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}

	page := a.findPage(id)
	if page == nil {
		respondError(w, http.StatusNotFound, "Page not found")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (a *App) handleGetActivePage(w http.ResponseWriter, r *http.Request) {
	page := a.ws.ActivePage()
	if page == nil {
		respondError(w, http.StatusNotFound, "No active page")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (a *App) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}

	if !a.ws.DeletePage(id) {
		respondError(w, http.StatusNotFound, "Page not found")
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *App) handleUpdatePageTitle(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	page := a.ws.UpdatePageTitle(id, req.Title)
	if page == nil {
		respondError(w, http.StatusNotFound, "Page not found")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (a *App) handleUpdatePageIcon(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}

	var req struct {
		Icon string `json:"icon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	page := a.ws.UpdatePageIcon(id, req.Icon)
	if page == nil {
		respondError(w, http.StatusNotFound, "Page not found")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (a *App) handleActivatePage(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}

	if !a.ws.SetActivePage(id) {
		respondError(w, http.StatusNotFound, "Page not found")
		return
	}
	respondJSON(w, http.StatusOK, a.ws.ActivePage())
}

// Block handlers.

func (a *App) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	pageID, err := models.ParsePageID(mux.Vars(r)["pageId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}

	var req struct {
		Type         models.BlockType `json:"type"`
		AfterBlockID *models.BlockID  `json:"after_block_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if a.findPage(pageID) == nil {
		respondError(w, http.StatusNotFound, "Page not found")
		return
	}

	block := a.ws.AddBlock(pageID, req.Type, req.AfterBlockID)
	if block == nil {
		respondError(w, http.StatusBadRequest, "Unknown block type")
		return
	}
	respondJSON(w, http.StatusCreated, block)
}

// updateBlockRequest mirrors [workspace.BlockPatch] on the wire. Absent
// fields stay untouched; present fields overwrite, including empty strings.
type updateBlockRequest struct {
	Content     *string             `json:"content,omitempty"`
	Type        *models.BlockType   `json:"type,omitempty"`
	Checked     *bool               `json:"checked,omitempty"`
	CalloutType *models.CalloutType `json:"callout_type,omitempty"`
	Language    *string             `json:"language,omitempty"`
	Collapsed   *bool               `json:"collapsed,omitempty"`
	EmbedURL    *string             `json:"embed_url,omitempty"`
}

func (a *App) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseBlockID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid block ID")
		return
	}

	var req updateBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if a.findBlock(id) == nil {
		respondError(w, http.StatusNotFound, "Block not found")
		return
	}

	block := a.ws.UpdateBlock(id, workspace.BlockPatch{
		Content:     req.Content,
		Type:        req.Type,
		Checked:     req.Checked,
		CalloutType: req.CalloutType,
		Language:    req.Language,
		Collapsed:   req.Collapsed,
		EmbedURL:    req.EmbedURL,
	})
	if block == nil {
		respondError(w, http.StatusBadRequest, "Invalid block update")
		return
	}
	respondJSON(w, http.StatusOK, block)
}

func (a *App) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseBlockID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid block ID")
		return
	}

	if !a.ws.DeleteBlock(id) {
		respondError(w, http.StatusNotFound, "Block not found")
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *App) handleReorderBlocks(w http.ResponseWriter, r *http.Request) {
	pageID, err := models.ParsePageID(mux.Vars(r)["pageId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}

	var req struct {
		Order []models.BlockID `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if a.findPage(pageID) == nil {
		respondError(w, http.StatusNotFound, "Page not found")
		return
	}

	if !a.ws.ReorderBlocks(pageID, req.Order) {
		respondError(w, http.StatusBadRequest, "Order must be a permutation of the page's blocks")
		return
	}
	respondJSON(w, http.StatusOK, a.findPage(pageID))
}

// History handlers.

func (a *App) handleHistoryState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{
		"can_undo": a.ws.CanUndo(),
		"can_redo": a.ws.CanRedo(),
	})
}

func (a *App) handleUndo(w http.ResponseWriter, r *http.Request) {
	if !a.ws.Undo() {
		respondError(w, http.StatusConflict, "Nothing to undo")
		return
	}
	respondJSON(w, http.StatusOK, a.ws.Pages())
}

func (a *App) handleRedo(w http.ResponseWriter, r *http.Request) {
	if !a.ws.Redo() {
		respondError(w, http.StatusConflict, "Nothing to redo")
		return
	}
	respondJSON(w, http.StatusOK, a.ws.Pages())
}

// Admin handlers. Unsecured; they exist for operational tooling and would
// sit behind auth middleware in a deployment.

func (a *App) handleGetReadOnly(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"read_only": a.IsReadOnly()})
}

func (a *App) handleSetReadOnly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReadOnly bool `json:"read_only"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	a.SetReadOnly(req.ReadOnly)
	respondJSON(w, http.StatusOK, map[string]bool{"read_only": a.IsReadOnly()})
}

// findPage returns the page from the current workspace snapshot, or nil.
func (a *App) findPage(id models.PageID) *models.Page {
	for _, p := range a.ws.Pages() {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// findBlock returns the block from the current workspace snapshot, or nil.
func (a *App) findBlock(id models.BlockID) *models.Block {
	for _, p := range a.ws.Pages() {
		if i := p.BlockIndex(id); i >= 0 {
			return p.Blocks[i]
		}
	}
	return nil
}

// respondJSON writes a JSON response with the given status code. A nil
// payload writes only headers, used for 204 responses.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

// respondError sends a JSON error response in the form {"error": message}.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
