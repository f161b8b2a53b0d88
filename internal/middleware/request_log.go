package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/dealhub/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := s.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// RequestLog логирует каждый HTTP-запрос: method, path, статус, пользователя и время выполнения.
// 5xx пишутся как ошибки.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		user := GetUserID(r.Context())
		if rec.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s user=%s status=%d took %v", r.Method, r.URL.Path, user, rec.status, time.Since(start))
			return
		}
		logger.LogDuration("http "+r.Method+" "+r.URL.Path, start)
	})
}
