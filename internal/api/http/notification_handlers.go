package http

import (
	"net/http"

	"member-intranet/internal/domain"
)

type notificationListResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Total         int32                 `json:"total"`
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	notes, total, err := h.notifications.GetNotifications(r.Context(), actorFrom(r.Context()).UserID,
		queryInt32(r, "page", 1), queryInt32(r, "page_size", 20))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notificationListResponse{Notifications: nonNil(notes), Total: total})
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.notifications.MarkAsRead(r.Context(), actorFrom(r.Context()).UserID, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
