package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dealhub/internal/blob"
	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/middleware"
	"github.com/dealhub/internal/service"
	"github.com/dealhub/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
	Draft string `json:"draft,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError сопоставляет сигнальные ошибки сервисов и хранилищ HTTP-статусам.
// Всё неизвестное даёт 500 и логируется с op.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrUnknownChannel):
		writeError(w, http.StatusNotFound, "unknown channel")
	case errors.Is(err, service.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not a participant")
	case errors.Is(err, service.ErrSelfConversation),
		errors.Is(err, service.ErrInvalidTarget),
		errors.Is(err, service.ErrEmptyEmoji),
		errors.Is(err, service.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, blob.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blob.ErrTypeNotAllowed), errors.Is(err, blob.ErrContentMismatch):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryLocation читает ?tz=Europe/Moscow; неизвестный или пустой пояс даёт UTC.
func queryLocation(r *http.Request) *time.Location {
	name := r.URL.Query().Get("tz")
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func author(r *http.Request) service.Author {
	return service.Author{ID: middleware.GetUserID(r.Context()), Name: middleware.GetUserName(r.Context())}
}
