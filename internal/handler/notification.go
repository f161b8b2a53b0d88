package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dealhub/internal/middleware"
	"github.com/dealhub/internal/service"
)

type NotificationHandler struct {
	notifications *service.Notifications
}

func NewNotificationHandler(n *service.Notifications) *NotificationHandler {
	return &NotificationHandler{notifications: n}
}

// Recent возвращает новые уведомления и число непрочитанных.
func (h *NotificationHandler) Recent(w http.ResponseWriter, r *http.Request) {
	inbox, err := h.notifications.Recent(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "RecentNotifications", err)
		return
	}
	writeJSON(w, http.StatusOK, inbox)
}

// MarkRead игнорирует чужие id.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkRead(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "MarkNotificationRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkAllRead(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, "MarkAllNotificationsRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
