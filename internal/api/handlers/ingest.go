package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hivemindhq/hivemind/internal/api"
	"github.com/hivemindhq/hivemind/internal/api/middleware"
	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/service"
)

type IngestService interface {
	Ingest(ctx context.Context, env *domain.Envelope) (*service.IngestResult, error)
}

type IngestHandler struct {
	svc IngestService
}

func NewIngestHandler(svc IngestService) *IngestHandler {
	return &IngestHandler{svc: svc}
}

type IngestRequest struct {
	Source         string          `json:"source"`
	Action         string          `json:"action"`
	OccurredAt     time.Time       `json:"occurred_at"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
}

type IngestResponse struct {
	EventID     string `json:"event_id"`
	Duplicate   bool   `json:"duplicate"`
	DidChange   bool   `json:"did_change"`
	DocumentID  string `json:"document_id,omitempty"`
	Version     int64  `json:"version,omitempty"`
	Chunks      int    `json:"chunks,omitempty"`
	Observation int    `json:"observations,omitempty"`
}

// Ingest accepts one source event for asynchronous processing.
// Duplicates acknowledge without reprocessing.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	workspaceID := middleware.GetWorkspaceID(r.Context())
	if workspaceID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	env := &domain.Envelope{
		WorkspaceID:    workspaceID,
		Source:         domain.SourceType(req.Source),
		Action:         req.Action,
		OccurredAt:     req.OccurredAt,
		IdempotencyKey: req.IdempotencyKey,
		Payload:        req.Payload,
	}

	result, err := h.svc.Ingest(r.Context(), env)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := IngestResponse{
		EventID:   result.EventID,
		Duplicate: result.Duplicate,
	}
	if result.Persist != nil {
		resp.DidChange = result.Persist.DidChange
		resp.DocumentID = result.Persist.DocumentID
		resp.Version = result.Persist.Version
		resp.Chunks = len(result.Persist.ChunkIDs)
		resp.Observation = len(result.Persist.ObservationIDs)
	}

	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	api.Success(w, status, resp)
}
