package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/middleware"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/service"
	"github.com/dealhub/internal/storage"
)

// DirectHandler обслуживает личные диалоги.
type DirectHandler struct {
	direct   *service.Direct
	profiles *service.Profiles
}

func NewDirectHandler(direct *service.Direct, profiles *service.Profiles) *DirectHandler {
	return &DirectHandler{direct: direct, profiles: profiles}
}

func (h *DirectHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.direct.Conversations(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "ListConversations", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type openConversationRequest struct {
	UserID string `json:"user_id"`
}

// OpenConversation возвращает диалог с user_id, создавая его при первом обращении.
func (h *DirectHandler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	var req openConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	other, err := h.profiles.Get(r.Context(), req.UserID)
	if err != nil {
		writeServiceError(w, "OpenConversation", err)
		return
	}
	me := author(r)
	id, err := h.direct.FindOrCreate(r.Context(),
		model.Participant{ID: me.ID, Name: me.Name},
		model.Participant{ID: other.ID, Name: other.DisplayName})
	if err != nil {
		writeServiceError(w, "OpenConversation", err)
		return
	}
	conv, err := h.direct.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, "OpenConversation", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// GetMessages возвращает окно диалога; только для участников.
func (h *DirectHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.participantConversation(w, r)
	if !ok {
		return
	}
	msgs, err := h.direct.Messages(r.Context(), conv.ID, queryInt(r, "limit", service.MaxWindow))
	if err != nil {
		writeServiceError(w, "GetDirectMessages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendDirectRequest struct {
	Body        string             `json:"body"`
	Attachments []model.Attachment `json:"attachments"`
	RequestID   string             `json:"request_id"`
}

// SendMessage отвечает черновиком при ошибке записи, чтобы клиент восстановил текст.
func (h *DirectHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendDirectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dm, err := h.direct.Send(r.Context(), service.SendDirect{
		ConversationID: chi.URLParam(r, "conversationId"),
		Author:         author(r),
		Body:           req.Body,
		Attachments:    req.Attachments,
		RequestID:      req.RequestID,
	})
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotParticipant):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "not a participant", Draft: req.Body})
		return
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found", Draft: req.Body})
		return
	default:
		logger.Errorf("SendDirect: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to send message", Draft: req.Body})
		return
	}
	if dm == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, dm)
}

func (h *DirectHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.direct.MarkRead(r.Context(), chi.URLParam(r, "conversationId"), middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, "MarkDirectRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DirectHandler) participantConversation(w http.ResponseWriter, r *http.Request) (*model.Conversation, bool) {
	conv, err := h.direct.Get(r.Context(), chi.URLParam(r, "conversationId"))
	if err != nil {
		writeServiceError(w, "conversation", err)
		return nil, false
	}
	if !conv.HasParticipant(middleware.GetUserID(r.Context())) {
		writeError(w, http.StatusForbidden, "not a participant")
		return nil, false
	}
	return conv, true
}
