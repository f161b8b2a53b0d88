package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/dealhub/internal/logger"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

// EnsureFunc создаёт или обновляет профиль пользователя, впервые увиденного процессом.
type EnsureFunc func(ctx context.Context, userID, name string) error

// Identity доверяет заголовкам идентичности от шлюза. Запросы без user id
// получают 401. ensure вызывается, когда пользователь (или его имя) новый
// для этого процесса.
func Identity(ensure EnsureFunc) func(http.Handler) http.Handler {
	var known sync.Map // user id -> последнее записанное имя
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			name := strings.TrimSpace(r.Header.Get(HeaderUserName))
			if userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if ensure != nil {
				if prev, ok := known.Load(userID); !ok || prev.(string) != name {
					if err := ensure(r.Context(), userID, name); err != nil {
						logger.Errorf("ensure profile user=%s: %v", userID, err)
					} else {
						known.Store(userID, name)
					}
				}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, name)))
		})
	}
}
