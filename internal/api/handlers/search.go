package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hivemindhq/hivemind/internal/api"
	"github.com/hivemindhq/hivemind/internal/api/middleware"
	"github.com/hivemindhq/hivemind/internal/service"
)

type RetrieveService interface {
	Retrieve(ctx context.Context, workspaceID, query string, opts service.RetrieveOptions) (*service.RetrieveResult, error)
}

type AnswerService interface {
	Answer(ctx context.Context, workspaceID, question string) (*service.AnswerResult, error)
}

type SearchHandler struct {
	retriever RetrieveService
	answerer  AnswerService
}

func NewSearchHandler(retriever RetrieveService, answerer AnswerService) *SearchHandler {
	return &SearchHandler{retriever: retriever, answerer: answerer}
}

type SearchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Search runs classification, candidate generation, fusion and
// hydration for one query.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	workspaceID := middleware.GetWorkspaceID(r.Context())
	if workspaceID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	opts := service.RetrieveOptions{
		Mode:  service.RetrievalMode(req.Mode),
		Limit: req.Limit,
	}

	result, err := h.retriever.Retrieve(r.Context(), workspaceID, req.Query, opts)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

type AnswerRequest struct {
	Question string `json:"question"`
}

// Answer retrieves supporting passages and synthesizes a cited answer
func (h *SearchHandler) Answer(w http.ResponseWriter, r *http.Request) {
	workspaceID := middleware.GetWorkspaceID(r.Context())
	if workspaceID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Question == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	result, err := h.answerer.Answer(r.Context(), workspaceID, req.Question)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}
