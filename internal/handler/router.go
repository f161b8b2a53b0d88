package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dealhub/internal/middleware"
	"github.com/dealhub/internal/service"
)

// Handlers: все HTTP-обработчики API. Nil Push/Uploads/Reputation/WS отключают маршруты.
type Handlers struct {
	Messages      *MessageHandler
	Threads       *ThreadHandler
	Direct        *DirectHandler
	Notifications *NotificationHandler
	Profiles      *ProfileHandler
	Uploads       *UploadHandler
	Push          *PushHandler
	Config        *ConfigHandler
	Reputation    *ReputationHandler
	WS            *WSHandler
}

type RouterOptions struct {
	CORSAllowedOrigins string
	InternalToken      string
	RateLimitRPS       float64
	RateLimitBurst     int
	Metrics            bool
	// Ensure вызывается для пользователей, новых для процесса (создание профиля).
	Ensure middleware.EnsureFunc
}

// EnsureProfiles приводит Profiles.Ensure к middleware идентичности.
func EnsureProfiles(p *service.Profiles) middleware.EnsureFunc {
	return func(ctx context.Context, userID, name string) error {
		_, err := p.Ensure(ctx, service.Author{ID: userID, Name: name})
		return err
	}
}

func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket, иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(opts.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.HeaderUserID, middleware.HeaderUserName},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if h.Config != nil {
		r.Get("/api/config", h.Config.GetClientConfig)
		r.Get("/api/config/push", h.Config.GetPushConfig)
	}
	if h.Uploads != nil {
		r.Get("/files/{key}", h.Uploads.Serve)
	}

	if h.Reputation != nil {
		r.Route("/internal", func(r chi.Router) {
			r.Use(middleware.InternalOnly(opts.InternalToken))
			r.Post("/reputation/events", h.Reputation.RecordEvent)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity(opts.Ensure))
		r.Use(middleware.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst))

		r.Get("/api/channels", h.Messages.ListChannels)
		r.Get("/api/channels/{channelId}/messages", h.Messages.GetMessages)
		r.Post("/api/channels/{channelId}/messages", h.Messages.SendMessage)
		r.Get("/api/channels/{channelId}/pinned", h.Messages.GetPinned)
		r.Post("/api/channels/{channelId}/read", h.Messages.MarkRead)
		r.Get("/api/channels/{channelId}/search", h.Messages.Search)

		r.Patch("/api/messages/{messageId}", h.Messages.EditMessage)
		r.Delete("/api/messages/{messageId}", h.Messages.DeleteMessage)
		r.Post("/api/messages/{messageId}/pin", h.Messages.PinMessage)
		r.Delete("/api/messages/{messageId}/pin", h.Messages.UnpinMessage)
		r.Post("/api/messages/{messageId}/reactions", h.Threads.ToggleMessageReaction)
		r.Get("/api/messages/{messageId}/replies", h.Threads.GetReplies)
		r.Post("/api/messages/{messageId}/replies", h.Threads.PostReply)
		r.Delete("/api/replies/{replyId}", h.Threads.DeleteReply)
		r.Post("/api/replies/{replyId}/reactions", h.Threads.ToggleReplyReaction)

		r.Get("/api/conversations", h.Direct.ListConversations)
		r.Post("/api/conversations", h.Direct.OpenConversation)
		r.Get("/api/conversations/{conversationId}/messages", h.Direct.GetMessages)
		r.Post("/api/conversations/{conversationId}/messages", h.Direct.SendMessage)
		r.Post("/api/conversations/{conversationId}/read", h.Direct.MarkRead)

		r.Get("/api/notifications", h.Notifications.Recent)
		r.Post("/api/notifications/read", h.Notifications.MarkAllRead)
		r.Post("/api/notifications/{id}/read", h.Notifications.MarkRead)

		r.Get("/api/profiles/me", h.Profiles.GetMe)
		r.Put("/api/profiles/me/avatar", h.Profiles.SetAvatar)
		r.Get("/api/profiles/{id}", h.Profiles.GetProfile)
		r.Put("/api/profiles/{id}/role", h.Profiles.SetRole)
		r.Get("/api/leaderboard", h.Profiles.Leaderboard)
		r.Get("/api/ranks", h.Profiles.Ranks)
		r.Get("/api/presence", h.Profiles.Online)

		if h.Uploads != nil {
			r.Post("/api/uploads", h.Uploads.Upload)
		}
		if h.Push != nil {
			r.Post("/api/push/subscribe", h.Push.Subscribe)
			r.Delete("/api/push/subscribe", h.Push.Unsubscribe)
		}
		if h.WS != nil {
			r.Get("/ws", h.WS.ServeWS)
		}
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
