package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dealhub/internal/middleware"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/service"
)

type ProfileHandler struct {
	profiles *service.Profiles
	presence *service.Presence
}

func NewProfileHandler(profiles *service.Profiles, presence *service.Presence) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, presence: presence}
}

func (h *ProfileHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r, middleware.GetUserID(r.Context()))
}

func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r, chi.URLParam(r, "id"))
}

func (h *ProfileHandler) writeProfile(w http.ResponseWriter, r *http.Request, userID string) {
	prof, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "GetProfile", err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

type avatarRequest struct {
	AvatarURL string `json:"avatar_url"`
}

func (h *ProfileHandler) SetAvatar(w http.ResponseWriter, r *http.Request) {
	var req avatarRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.profiles.SetAvatar(r.Context(), userID, req.AvatarURL); err != nil {
		writeServiceError(w, "SetAvatar", err)
		return
	}
	h.writeProfile(w, r, userID)
}

type roleRequest struct {
	Role model.Role `json:"role"`
}

// SetRole только для админов.
func (h *ProfileHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	if !h.profiles.IsAdmin(r.Context(), middleware.GetUserID(r.Context())) {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.profiles.SetRole(r.Context(), id, req.Role); err != nil {
		writeServiceError(w, "SetRole", err)
		return
	}
	h.writeProfile(w, r, id)
}

func (h *ProfileHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	list, err := h.profiles.Leaderboard(r.Context(), queryInt(r, "limit", service.DefaultLeaderboard))
	if err != nil {
		writeServiceError(w, "Leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Ranks возвращает таблицу рангов, каталог значков и XP за каждую активность.
func (h *ProfileHandler) Ranks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ranks":  reputation.Ranks(),
		"badges": reputation.Badges(),
		"awards": reputation.Awards(),
	})
}

// Online возвращает пользователей онлайн; ?channel_id= оставляет печатающих там.
func (h *ProfileHandler) Online(w http.ResponseWriter, r *http.Request) {
	records, err := h.presence.Online(r.Context())
	if err != nil {
		writeServiceError(w, "Online", err)
		return
	}
	if ch := r.URL.Query().Get("channel_id"); ch != "" {
		records = service.TypingIn(records, ch, middleware.GetUserID(r.Context()))
	}
	writeJSON(w, http.StatusOK, records)
}
