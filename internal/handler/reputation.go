package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/reputation"
)

// marketplaceKinds: события, о которых могут сообщать другие сервисы; активность
// в чате засчитывают сами сервисы.
var marketplaceKinds = map[reputation.EventKind]bool{
	reputation.JobPosted:    true,
	reputation.JobCompleted: true,
	reputation.DealClosed:   true,
}

// ReputationHandler принимает события маркетплейса (только /internal).
type ReputationHandler struct {
	engine *reputation.Engine
}

func NewReputationHandler(engine *reputation.Engine) *ReputationHandler {
	return &ReputationHandler{engine: engine}
}

type reputationEventRequest struct {
	UserID  string `json:"user_id"`
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	ActorID string `json:"actor_id"`
}

// RecordEvent применяет событие синхронно, чтобы вызывающий узнал результат.
// key обязателен: маркетплейс доставляет события как минимум один раз.
func (h *ReputationHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req reputationEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind := reputation.EventKind(strings.ToUpper(strings.TrimSpace(req.Kind)))
	if !marketplaceKinds[kind] {
		writeError(w, http.StatusBadRequest, "unsupported event kind")
		return
	}
	if req.UserID == "" || req.Key == "" {
		writeError(w, http.StatusBadRequest, "user_id and key required")
		return
	}
	out, err := h.engine.Record(r.Context(), reputation.Event{
		UserID:  req.UserID,
		Kind:    kind,
		Key:     string(kind) + ":" + req.Key,
		ActorID: req.ActorID,
	})
	if err != nil {
		if errors.Is(err, reputation.ErrUnknownEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Errorf("RecordEvent user=%s kind=%s: %v", req.UserID, kind, err)
		writeError(w, http.StatusInternalServerError, "failed to record event")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
