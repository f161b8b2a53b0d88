package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"

	"github.com/dealhub/internal/logger"
)

const HeaderInternalToken = "X-Internal-Token"

// InternalOnly пропускает запрос при совпадении X-Internal-Token или с приватного IP.
// Маркетплейс-сервисы вызывают внутренние эндпоинты из той же сети.
func InternalOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HeaderInternalToken)
			if token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if isPrivateIP(host) {
				next.ServeHTTP(w, r)
				return
			}
			logger.Warnf("internal endpoint denied ip=%s token=%s", host, MaskToken(got))
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		})
	}
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
