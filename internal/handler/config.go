package handler

import (
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/dealhub/internal/config"
	"github.com/dealhub/internal/push"
)

// ConfigHandler отдаёт публичные параметры конфигурации клиенту (без авторизации).
type ConfigHandler struct {
	cfg    *config.Config
	pusher *push.Pusher
}

func NewConfigHandler(cfg *config.Config, pusher *push.Pusher) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, pusher: pusher}
}

// GetClientConfig возвращает каналы, лимиты вложений и тайминги присутствия.
func (h *ConfigHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": h.cfg.Channels,
		"uploads": map[string]any{
			"max_size":       h.cfg.Blob.MaxSize,
			"max_size_human": humanize.Bytes(uint64(h.cfg.Blob.MaxSize)),
			"allowed_mime":   h.cfg.Blob.AllowedMIME,
		},
		"presence": map[string]any{
			"typing_ttl_ms":  h.cfg.Presence.TypingTTL.Milliseconds(),
			"stale_after_ms": h.cfg.Presence.StaleAfter.Milliseconds(),
		},
	})
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.pusher == nil || h.pusher.PublicKey() == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.pusher.PublicKey(),
	})
}
