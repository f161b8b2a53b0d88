package middleware

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/dealhub/internal/logger"
)

// responseWriter помнит, ушло ли что-нибудь клиенту.
// Реализует http.Hijacker для поддержки WebSocket upgrade.
type responseWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		w.wrote = true
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// RecoverJSON при панике в handler логирует её со стеком и отдаёт клиенту JSON 500,
// если ответ ещё не начат. http.ErrAbortHandler пробрасывается дальше.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrap := &responseWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			logger.Errorf("panic recovered %s %s user=%s: %v\n%s", r.Method, r.URL.Path, GetUserID(r.Context()), rec, debug.Stack())
			if !wrap.wrote {
				wrap.ResponseWriter.Header().Set("Content-Type", "application/json; charset=utf-8")
				wrap.ResponseWriter.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(wrap.ResponseWriter).Encode(map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(wrap, r)
	})
}
