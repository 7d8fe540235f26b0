package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hivemindhq/hivemind/internal/api"
	"github.com/hivemindhq/hivemind/internal/api/middleware"
	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/service"
)

type LibraryService interface {
	Fetch(ctx context.Context, workspaceID, documentID string) (*service.DocumentDetail, error)
	FetchBatch(ctx context.Context, workspaceID string, documentIDs []string) ([]*service.DocumentDetail, error)
	List(ctx context.Context, workspaceID, cursorToken string, limit int) (*service.DocumentPageResult, error)
	Versions(ctx context.Context, workspaceID, documentID string) ([]*domain.Document, error)
	Similar(ctx context.Context, workspaceID string, kind service.CandidateKind, seedID string, limit int) ([]service.SimilarResult, error)
}

type DocumentHandler struct {
	svc LibraryService
}

func NewDocumentHandler(svc LibraryService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type DocumentResponse struct {
	ID         string `json:"id"`
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Title      string `json:"title"`
	Version    int64  `json:"version"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type ChunkResponse struct {
	ID           string `json:"id"`
	ChunkIndex   int    `json:"chunk_index"`
	Text         string `json:"text"`
	SectionLabel string `json:"section_label,omitempty"`
	TokenCount   int    `json:"token_count"`
}

type RelationshipResponse struct {
	TargetDocID  string  `json:"target_doc_id"`
	RelationType string  `json:"relation_type"`
	Confidence   float64 `json:"confidence"`
	Suggested    bool    `json:"suggested"`
	Evidence     string  `json:"evidence,omitempty"`
}

type DocumentDetailResponse struct {
	Document      DocumentResponse       `json:"document"`
	Chunks        []ChunkResponse        `json:"chunks"`
	Relationships []RelationshipResponse `json:"relationships"`
}

func documentToResponse(d *domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:         d.ID,
		SourceType: string(d.SourceType),
		SourceID:   d.SourceID,
		Title:      d.Title,
		Version:    d.Version,
		CreatedAt:  d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:  d.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func detailToResponse(detail *service.DocumentDetail) DocumentDetailResponse {
	resp := DocumentDetailResponse{
		Document:      documentToResponse(detail.Document),
		Chunks:        make([]ChunkResponse, 0, len(detail.Chunks)),
		Relationships: make([]RelationshipResponse, 0, len(detail.Relationships)),
	}
	for _, c := range detail.Chunks {
		resp.Chunks = append(resp.Chunks, ChunkResponse{
			ID:           c.ID,
			ChunkIndex:   c.ChunkIndex,
			Text:         c.Text,
			SectionLabel: c.SectionLabel,
			TokenCount:   c.TokenCount,
		})
	}
	for _, rel := range detail.Relationships {
		resp.Relationships = append(resp.Relationships, RelationshipResponse{
			TargetDocID:  rel.TargetDocID,
			RelationType: string(rel.RelationType),
			Confidence:   rel.Confidence,
			Suggested:    rel.Suggested,
			Evidence:     rel.EvidenceSpan,
		})
	}
	return resp
}

// Get returns one document with its live chunks and relationships
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	workspaceID := middleware.GetWorkspaceID(r.Context())
	if workspaceID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	detail, err := h.svc.Fetch(r.Context(), workspaceID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, detailToResponse(detail))
}

type BatchFetchRequest struct {
	IDs []string `json:"ids"`
}

// Batch returns multiple documents in one call; unknown IDs are skipped
func (h *DocumentHandler) Batch(w http.ResponseWriter, r *http.Request) {
	workspaceID := middleware.GetWorkspaceID(r.Context())
	if workspaceID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req BatchFetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		api.Error(w, http.StatusBadRequest, "ids is required")
		return
	}

	details, err := h.svc.FetchBatch(r.Context(), workspaceID, req.IDs)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	out := make([]DocumentDetailResponse, 0, len(details))
	for _, d := range details {
		out = append(out, detailToResponse(d))
	}
	api.Success(w, http.StatusOK, out)
}

type DocumentListResponse struct {
	Items      []DocumentResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
	HasMore    bool               `json:"has_more"`
}

// List pages through a workspace's latest document versions
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	workspaceID := middleware.GetWorkspaceID(r.Context())
	if workspaceID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.svc.List(r.Context(), workspaceID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := DocumentListResponse{
		Items:      make([]DocumentResponse, 0, len(page.Items)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, d := range page.Items {
		resp.Items = append(resp.Items, documentToResponse(d))
	}
	api.Success(w, http.StatusOK, resp)
}

// Versions returns the full version history of a document's lineage
func (h *DocumentHandler) Versions(w http.ResponseWriter, r *http.Request) {
	workspaceID := middleware.GetWorkspaceID(r.Context())
	if workspaceID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	versions, err := h.svc.Versions(r.Context(), workspaceID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	out := make([]DocumentResponse, 0, len(versions))
	for _, d := range versions {
		out = append(out, documentToResponse(d))
	}
	api.Success(w, http.StatusOK, out)
}

type SimilarRequest struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

// Similar returns nearest neighbors of a chunk or observation
func (h *DocumentHandler) Similar(w http.ResponseWriter, r *http.Request) {
	workspaceID := middleware.GetWorkspaceID(r.Context())
	if workspaceID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	kind := service.CandidateKind(req.Kind)
	if kind == "" {
		kind = service.KindChunk
	}

	results, err := h.svc.Similar(r.Context(), workspaceID, kind, req.ID, req.Limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, results)
}
