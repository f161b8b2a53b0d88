package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dealhub/internal/middleware"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/service"
)

// ThreadHandler обслуживает ответы в тредах и реакции на сообщения и ответы.
type ThreadHandler struct {
	threads   *service.Threads
	reactions *service.Reactions
	profiles  *service.Profiles
}

func NewThreadHandler(threads *service.Threads, reactions *service.Reactions, profiles *service.Profiles) *ThreadHandler {
	return &ThreadHandler{threads: threads, reactions: reactions, profiles: profiles}
}

func (h *ThreadHandler) GetReplies(w http.ResponseWriter, r *http.Request) {
	replies, err := h.threads.Replies(r.Context(), chi.URLParam(r, "messageId"))
	if err != nil {
		writeServiceError(w, "GetReplies", err)
		return
	}
	admin := h.profiles.IsAdmin(r.Context(), middleware.GetUserID(r.Context()))
	out := make([]model.Reply, len(replies))
	for i, rp := range replies {
		out[i] = rp.ViewFor(admin)
	}
	writeJSON(w, http.StatusOK, out)
}

type postReplyRequest struct {
	Body        string             `json:"body"`
	Attachments []model.Attachment `json:"attachments"`
	RequestID   string             `json:"request_id"`
}

func (h *ThreadHandler) PostReply(w http.ResponseWriter, r *http.Request) {
	var req postReplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reply, err := h.threads.Reply(r.Context(), service.PostReply{
		ParentID:    chi.URLParam(r, "messageId"),
		Author:      author(r),
		Body:        req.Body,
		Attachments: req.Attachments,
		RequestID:   req.RequestID,
	})
	if err != nil {
		writeServiceError(w, "PostReply", err)
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

// DeleteReply удаляет мягко; может автор или админ.
func (h *ThreadHandler) DeleteReply(w http.ResponseWriter, r *http.Request) {
	reply, err := h.threads.GetReply(r.Context(), chi.URLParam(r, "replyId"))
	if err != nil {
		writeServiceError(w, "DeleteReply", err)
		return
	}
	userID := middleware.GetUserID(r.Context())
	if reply.AuthorID != userID && !h.profiles.IsAdmin(r.Context(), userID) {
		writeError(w, http.StatusForbidden, "not allowed to delete this reply")
		return
	}
	if err := h.threads.SoftDeleteReply(r.Context(), reply.ID, userID); err != nil {
		writeServiceError(w, "DeleteReply", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

type toggleReactionResponse struct {
	Added     bool            `json:"added"`
	Reactions model.Reactions `json:"reactions"`
}

// ToggleMessageReaction и ToggleReplyReaction переключают участие вызывающего
// в reactions[emoji]. Автор всегда берётся из хранилища.
func (h *ThreadHandler) ToggleMessageReaction(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, model.Target{Kind: model.TargetMessage, ID: chi.URLParam(r, "messageId")})
}

func (h *ThreadHandler) ToggleReplyReaction(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, model.Target{Kind: model.TargetReply, ID: chi.URLParam(r, "replyId")})
}

func (h *ThreadHandler) toggle(w http.ResponseWriter, r *http.Request, target model.Target) {
	var req toggleReactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	added, err := h.reactions.Toggle(r.Context(), target, req.Emoji, middleware.GetUserID(r.Context()), "")
	if err != nil {
		writeServiceError(w, "ToggleReaction", err)
		return
	}
	reactions, err := h.reactions.Reactions(r.Context(), target)
	if err != nil {
		writeServiceError(w, "ToggleReaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toggleReactionResponse{Added: added, Reactions: reactions})
}
