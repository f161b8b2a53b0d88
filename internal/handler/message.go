package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dealhub/internal/middleware"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/service"
)

// MessageHandler обслуживает сообщения каналов: список, отправка, правка, удаление, закрепление и поиск.
type MessageHandler struct {
	channels *service.Channels
	profiles *service.Profiles
	unread   *service.Unread
}

func NewMessageHandler(channels *service.Channels, profiles *service.Profiles, unread *service.Unread) *MessageHandler {
	return &MessageHandler{channels: channels, profiles: profiles, unread: unread}
}

type channelView struct {
	model.Channel
	Unread bool `json:"unread"`
}

// ListChannels возвращает настроенные каналы с флагами непрочитанного для вызывающего.
// ?open= канал, открытый на экране; он никогда не считается непрочитанным.
func (h *MessageHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	unread, err := h.unread.UnreadChannels(r.Context(), userID, r.URL.Query().Get("open"))
	if err != nil {
		writeServiceError(w, "ListChannels", err)
		return
	}
	flag := make(map[string]bool, len(unread))
	for _, id := range unread {
		flag[id] = true
	}
	list := h.channels.List()
	out := make([]channelView, 0, len(list))
	for _, ch := range list {
		out = append(out, channelView{Channel: ch, Unread: flag[ch.ID]})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetMessages возвращает последнее окно (?limit=, не больше 100) с группировкой
// в поясе ?tz= (по умолчанию UTC).
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	if !h.channels.Known(channelID) {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	msgs, err := h.channels.Latest(r.Context(), channelID, queryInt(r, "limit", service.MaxWindow))
	if err != nil {
		writeServiceError(w, "GetMessages", err)
		return
	}
	admin := h.profiles.IsAdmin(r.Context(), middleware.GetUserID(r.Context()))
	writeJSON(w, http.StatusOK, service.GroupMessages(viewMessages(msgs, admin), queryLocation(r)))
}

type sendMessageRequest struct {
	Body        string             `json:"body"`
	ImageURL    string             `json:"image_url"`
	Attachments []model.Attachment `json:"attachments"`
	DealCard    *model.DealCard    `json:"deal_card"`
	ReplyToID   string             `json:"reply_to_id"`
	RequestID   string             `json:"request_id"`
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.channels.Send(r.Context(), service.SendMessage{
		ChannelID:   chi.URLParam(r, "channelId"),
		Author:      author(r),
		Body:        req.Body,
		ImageURL:    req.ImageURL,
		Attachments: req.Attachments,
		DealCard:    req.DealCard,
		ReplyToID:   req.ReplyToID,
		RequestID:   req.RequestID,
	})
	if err != nil {
		writeServiceError(w, "SendMessage", err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Body string `json:"body"`
}

// EditMessage доступен только автору.
func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, ok := h.loadMessage(w, r)
	if !ok {
		return
	}
	if msg.AuthorID != middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusForbidden, "only the author can edit a message")
		return
	}
	if msg.IsDeleted {
		writeError(w, http.StatusConflict, "message is deleted")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.channels.Edit(r.Context(), msg.ID, req.Body); err != nil {
		writeServiceError(w, "EditMessage", err)
		return
	}
	h.writeMessage(w, r, msg.ID)
}

// DeleteMessage удаляет мягко; может автор или админ.
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.loadMessage(w, r)
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())
	if msg.AuthorID != userID && !h.profiles.IsAdmin(r.Context(), userID) {
		writeError(w, http.StatusForbidden, "not allowed to delete this message")
		return
	}
	if err := h.channels.SoftDelete(r.Context(), msg.ID, userID); err != nil {
		writeServiceError(w, "DeleteMessage", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PinMessage и UnpinMessage только для админов.
func (h *MessageHandler) PinMessage(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id := chi.URLParam(r, "messageId")
	if err := h.channels.Pin(r.Context(), id, author(r)); err != nil {
		writeServiceError(w, "PinMessage", err)
		return
	}
	h.writeMessage(w, r, id)
}

func (h *MessageHandler) UnpinMessage(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id := chi.URLParam(r, "messageId")
	if err := h.channels.Unpin(r.Context(), id); err != nil {
		writeServiceError(w, "UnpinMessage", err)
		return
	}
	h.writeMessage(w, r, id)
}

func (h *MessageHandler) GetPinned(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	if !h.channels.Known(channelID) {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	pinned, err := h.channels.Pinned(r.Context(), channelID)
	if err != nil {
		writeServiceError(w, "GetPinned", err)
		return
	}
	admin := h.profiles.IsAdmin(r.Context(), middleware.GetUserID(r.Context()))
	writeJSON(w, http.StatusOK, viewMessages(pinned, admin))
}

// MarkRead переносит отметку прочтения канала на текущий момент.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	if !h.channels.Known(channelID) {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	if err := h.unread.MarkChannelRead(r.Context(), middleware.GetUserID(r.Context()), channelID); err != nil {
		writeServiceError(w, "MarkRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search фильтрует загруженное окно (не больше 100) по ?q=.
func (h *MessageHandler) Search(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	if !h.channels.Known(channelID) {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusOK, []model.Message{})
		return
	}
	msgs, err := h.channels.Latest(r.Context(), channelID, service.MaxWindow)
	if err != nil {
		writeServiceError(w, "Search", err)
		return
	}
	found := service.NewSearchIndex(msgs).Search(query)
	admin := h.profiles.IsAdmin(r.Context(), middleware.GetUserID(r.Context()))
	writeJSON(w, http.StatusOK, viewMessages(found, admin))
}

func (h *MessageHandler) loadMessage(w http.ResponseWriter, r *http.Request) (*model.Message, bool) {
	msg, err := h.channels.Get(r.Context(), chi.URLParam(r, "messageId"))
	if err != nil {
		writeServiceError(w, "loadMessage", err)
		return nil, false
	}
	return msg, true
}

func (h *MessageHandler) writeMessage(w http.ResponseWriter, r *http.Request, id string) {
	msg, err := h.channels.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, "writeMessage", err)
		return
	}
	writeJSON(w, http.StatusOK, msg.ViewFor(h.profiles.IsAdmin(r.Context(), middleware.GetUserID(r.Context()))))
}

func (h *MessageHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !h.profiles.IsAdmin(r.Context(), middleware.GetUserID(r.Context())) {
		writeError(w, http.StatusForbidden, "admin only")
		return false
	}
	return true
}

func viewMessages(msgs []model.Message, admin bool) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.ViewFor(admin)
	}
	return out
}
