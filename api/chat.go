package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/luna-chat/luna/internal/chat"
	"github.com/luna-chat/luna/internal/log"
	"github.com/luna-chat/luna/internal/retrieval"
	"github.com/luna-chat/luna/internal/session"
)

// SessionService is the slice of the session manager the HTTP layer needs.
type SessionService interface {
	Join(user, room string) *session.Session
	Get(user, room string) *session.Session
	Transcript(ctx context.Context, user, room string, limit int) ([]session.Turn, error)
}

// ChatHandler handles session binding and chat endpoints.
//
// Endpoints:
//   - POST /api/join        - bind (or rebind) a (user, room) session
//   - POST /api/chat        - synchronous chat (JSON request/response)
//   - POST /api/chat/stream - streaming chat (Server-Sent Events)
type ChatHandler struct {
	sessions SessionService
	logger   log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(sessions SessionService, logger log.Logger) *ChatHandler {
	return &ChatHandler{sessions: sessions, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/join", h.handleJoin)
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/chat/stream", h.handleStream)
}

// JoinRequest is the body for POST /api/join.
type JoinRequest struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// JoinResponse confirms the bound session.
type JoinResponse struct {
	Username string `json:"username"`
	Room     string `json:"room"`
	Topic    string `json:"topic"`
}

func (h *ChatHandler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Username == "" || req.Room == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELD", "username and room are required")
		return
	}

	s := h.sessions.Join(req.Username, req.Room)
	writeJSON(w, http.StatusOK, JoinResponse{
		Username: s.User(),
		Room:     s.Room(),
		Topic:    s.Topic().String(),
	})
}

// ChatRequest is the body for the chat endpoints.
type ChatRequest struct {
	Username  string `json:"username"`
	Room      string `json:"room"`
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
	WebSearch bool   `json:"webSearch"`
}

// ChatResponse is the synchronous chat reply.
type ChatResponse struct {
	Response string              `json:"response"`
	Sources  retrieval.Citations `json:"sources"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	s := h.sessions.Get(req.Username, req.Room)
	if s == nil {
		writeError(w, http.StatusConflict, "NOT_JOINED", "join the room before chatting")
		return
	}

	text, citations, err := s.Ask(r.Context(), req.Message, req.WebSearch)
	if err != nil {
		h.logger.Error("chat failed", "user", req.Username, "room", req.Room, "error", err)
		writeError(w, http.StatusBadGateway, chatErrorCode(err), err.Error())
		return
	}

	if citations == nil {
		citations = retrieval.Citations{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: text, Sources: citations})
}

// SSE event payloads. Every chunk echoes the client's messageId so the
// client can route concurrent streams.
type sseChunk struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

type sseEnd struct {
	MessageID string `json:"messageId"`
}

type sseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleStream serves one chat turn over Server-Sent Events.
//
// Event order: zero or more "chunk" events carrying response text, one
// "response_end" sentinel, then one "sources" event with the citation map
// ("{}" when the response is ungrounded). Errors before completion emit a
// single "error" event and end the stream.
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Username == "" || req.Room == "" || req.Message == "" {
		h.writeSSEError(w, flusher, "MISSING_FIELD", "username, room, and message are required")
		return
	}

	s := h.sessions.Get(req.Username, req.Room)
	if s == nil {
		h.writeSSEError(w, flusher, "NOT_JOINED", "join the room before chatting")
		return
	}

	ctx := r.Context()
	h.logger.Info("SSE stream started",
		"user", req.Username, "room", req.Room, "messageId", req.MessageID)

	emit := func(ctx context.Context, text string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		h.writeSSEEvent(w, flusher, "chunk", sseChunk{MessageID: req.MessageID, Text: text})
		return nil
	}

	citations, err := s.SubmitQuery(ctx, req.Message, req.WebSearch, emit)
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "user", req.Username, "room", req.Room)
			return
		}
		h.logger.Error("stream failed",
			"user", req.Username, "room", req.Room, "error", err)
		h.writeSSEError(w, flusher, chatErrorCode(err), err.Error())
		return
	}

	h.writeSSEEvent(w, flusher, "response_end", sseEnd{MessageID: req.MessageID})

	if citations == nil {
		citations = retrieval.Citations{}
	}
	h.writeSSEEvent(w, flusher, "sources", citations)

	h.logger.Info("SSE stream completed",
		"user", req.Username, "room", req.Room, "sources", len(citations))
}

func (h *ChatHandler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return req, false
	}
	if req.Username == "" || req.Room == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELD", "username, room, and message are required")
		return req, false
	}
	return req, true
}

func (h *ChatHandler) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	h.writeSSEEvent(w, flusher, "error", sseError{Code: code, Message: message})
}

// chatErrorCode maps generation errors to wire codes.
func chatErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrHistoryRepairExhausted):
		return "HISTORY_REPAIR_EXHAUSTED"
	case errors.Is(err, chat.ErrInvalidHistory):
		return "INVALID_HISTORY"
	case errors.Is(err, chat.ErrBackendUnavailable):
		return "BACKEND_UNAVAILABLE"
	default:
		return "GENERATION_FAILED"
	}
}
