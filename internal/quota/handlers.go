package quota

import (
	"errors"
	"net/http"

	"github.com/Snippy-project/Snippy-backend/internal/common"
)

// Handler exposes the authenticated user's quota.
type Handler struct {
	Store *Store
}

// Me returns the caller's quota counters.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	q, err := h.Store.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no quota record", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load quota", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}
