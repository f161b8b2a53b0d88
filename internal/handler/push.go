package handler

import (
	"net/http"

	"github.com/dealhub/internal/middleware"
	"github.com/dealhub/internal/push"
)

// PushHandler обрабатывает подписку на пуш-уведомления.
type PushHandler struct {
	pusher *push.Pusher
}

func NewPushHandler(pusher *push.Pusher) *PushHandler {
	return &PushHandler{pusher: pusher}
}

// SubscribeRequest: тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

// Subscribe сохраняет подписку для текущего пользователя.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Subscription.Valid() {
		writeError(w, http.StatusBadRequest, push.ErrInvalidSubscription.Error())
		return
	}
	if err := h.pusher.Subscribe(r.Context(), middleware.GetUserID(r.Context()), req.Subscription); err != nil {
		writeServiceError(w, "PushSubscribe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest: тело для отписки по endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.pusher.Unsubscribe(r.Context(), middleware.GetUserID(r.Context()), req.Endpoint); err != nil {
		writeServiceError(w, "PushUnsubscribe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
