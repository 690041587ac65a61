package queue

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Snippy-project/Snippy-backend/internal/common"
)

// AdminHandler exposes dead letter inspection and replay endpoints.
type AdminHandler struct {
	Store *DLQStore
	Enq   Enqueuer
}

type dlqView struct {
	ID             uuid.UUID `json:"id"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Payload        string    `json:"payload"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"lastError,omitempty"`
	CreatedAt      string    `json:"createdAt"`
}

// List returns dead letters, optionally filtered by ?kind=.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 50, 200)
	entries, total, err := h.Store.List(r.Context(), r.URL.Query().Get("kind"), perPage, (page-1)*perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list dead letters", nil)
		return
	}
	views := make([]dlqView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, dlqView{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Payload:        string(entry.Payload),
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": views,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: total,
		},
	})
}

// Requeue puts a dead letter back on its queue with a fresh attempt
// budget and removes it from the dead letter table.
func (h *AdminHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "dlqId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid dead letter id", nil)
		return
	}
	entry, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrDLQNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "dead letter not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load dead letter", nil)
		return
	}
	if err := h.Enq.Enqueue(r.Context(), Task{
		Kind:           entry.Kind,
		Payload:        entry.Payload,
		IdempotencyKey: entry.IdempotencyKey,
	}); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to requeue task", nil)
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil && !errors.Is(err, ErrDLQNotFound) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "task requeued but dead letter removal failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"requeued": true}})
}

// Delete discards a dead letter without replaying it.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "dlqId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid dead letter id", nil)
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrDLQNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "dead letter not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to delete dead letter", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"deleted": true}})
}
