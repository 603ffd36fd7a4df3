package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/luna-chat/luna/internal/log"
)

// ChannelService is the slice of the channel registry the HTTP layer needs.
type ChannelService interface {
	List() []string
	Exists(name string) bool
	Create(ctx context.Context, name string) (string, error)
}

// ChannelHandler handles channel registry endpoints.
type ChannelHandler struct {
	channels ChannelService
	logger   log.Logger
}

// NewChannelHandler creates a channel handler.
func NewChannelHandler(channels ChannelService, logger log.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, logger: logger}
}

// RegisterRoutes registers channel routes on the given mux.
func (h *ChannelHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/channels", h.handleList)
	mux.HandleFunc("POST /api/channels", h.handleCreate)
}

// ChannelListResponse is the body for GET /api/channels.
type ChannelListResponse struct {
	Channels []string `json:"channels"`
}

func (h *ChannelHandler) handleList(w http.ResponseWriter, _ *http.Request) {
	channels := h.channels.List()
	if channels == nil {
		channels = []string{}
	}
	writeJSON(w, http.StatusOK, ChannelListResponse{Channels: channels})
}

// CreateChannelRequest is the body for POST /api/channels.
type CreateChannelRequest struct {
	Name string `json:"name"`
}

// CreateChannelResponse returns the normalized channel name.
type CreateChannelResponse struct {
	Name string `json:"name"`
}

func (h *ChannelHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELD", "name is required")
		return
	}

	name, err := h.channels.Create(r.Context(), req.Name)
	if err != nil {
		h.logger.Error("channel creation failed", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, CreateChannelResponse{Name: name})
}
