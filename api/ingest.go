package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/luna-chat/luna/internal/document"
	"github.com/luna-chat/luna/internal/log"
	"github.com/luna-chat/luna/internal/topic"
)

// Ingestor runs the ingestion pipeline for one file.
type Ingestor interface {
	IngestFile(ctx context.Context, t topic.ID, path string) (int, error)
}

// IngestHandler handles document ingestion.
type IngestHandler struct {
	ingestor Ingestor
	channels ChannelService
	logger   log.Logger
}

// NewIngestHandler creates an ingest handler. The channel service guards
// against ingesting into rooms that were never created.
func NewIngestHandler(ingestor Ingestor, channels ChannelService, logger log.Logger) *IngestHandler {
	return &IngestHandler{ingestor: ingestor, channels: channels, logger: logger}
}

// RegisterRoutes registers ingest routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", h.handleIngest)
}

// IngestRequest is the body for POST /api/ingest.
type IngestRequest struct {
	Channel string `json:"channel"`
	Path    string `json:"path"`
}

// IngestResponse reports how many passages were indexed.
type IngestResponse struct {
	Channel  string `json:"channel"`
	Passages int    `json:"passages"`
}

func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Channel == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELD", "channel and path are required")
		return
	}
	if !h.channels.Exists(req.Channel) {
		writeError(w, http.StatusNotFound, "UNKNOWN_CHANNEL", "channel does not exist")
		return
	}

	t := topic.Normalize(req.Channel)
	n, err := h.ingestor.IngestFile(r.Context(), t, req.Path)
	if err != nil {
		if errors.Is(err, document.ErrUnsupportedFormat) {
			writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", err.Error())
			return
		}
		h.logger.Error("ingestion failed", "channel", req.Channel, "path", req.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INGEST_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{Channel: t.String(), Passages: n})
}
