package subscription

import (
	"net/http"

	"github.com/Snippy-project/Snippy-backend/internal/common"
)

// Handler exposes the caller's subscription windows.
type Handler struct {
	Store *Store
}

// Me lists the authenticated user's subscriptions.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	subs, err := h.Store.ListForUser(r.Context(), userID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list subscriptions", nil)
		return
	}
	if subs == nil {
		subs = []Subscription{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": subs})
}
