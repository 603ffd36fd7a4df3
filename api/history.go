package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/luna-chat/luna/internal/log"
)

// HistoryHandler serves the persisted conversation transcript.
type HistoryHandler struct {
	sessions SessionService
	logger   log.Logger
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(sessions SessionService, logger log.Logger) *HistoryHandler {
	return &HistoryHandler{sessions: sessions, logger: logger}
}

// RegisterRoutes registers history routes on the given mux.
func (h *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/history/{user}/{room}", h.handleHistory)
}

// HistoryTurn is one persisted conversation turn.
type HistoryTurn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryResponse is the body for GET /api/history/{user}/{room}.
type HistoryResponse struct {
	Turns []HistoryTurn `json:"turns"`
}

func (h *HistoryHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	room := r.PathValue("room")
	if user == "" || room == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELD", "user and room are required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := h.sessions.Transcript(r.Context(), user, room, limit)
	if err != nil {
		h.logger.Error("transcript lookup failed", "user", user, "room", room, "error", err)
		writeError(w, http.StatusInternalServerError, "HISTORY_FAILED", err.Error())
		return
	}

	out := make([]HistoryTurn, len(turns))
	for i, t := range turns {
		out[i] = HistoryTurn{Role: t.Role, Text: t.Text, Timestamp: t.Timestamp}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Turns: out})
}
