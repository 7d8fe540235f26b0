package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) CreateWorkspace(ctx context.Context, name string) (*domain.Workspace, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Workspace), args.Error(1)
}

func (m *MockAuthService) CreateAPIKey(ctx context.Context, workspaceID, name string) (string, error) {
	args := m.Called(ctx, workspaceID, name)
	return args.String(0), args.Error(1)
}

func TestAuthHandler_CreateWorkspace(t *testing.T) {
	svc := new(MockAuthService)
	handler := NewAuthHandler(svc)

	svc.On("CreateWorkspace", mock.Anything, "acme").Return(&domain.Workspace{
		ID:        "ws-1",
		Name:      "acme",
		CreatedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}, nil)

	body, _ := json.Marshal(CreateWorkspaceRequest{Name: "acme"})
	req := httptest.NewRequest(http.MethodPost, "/v1/workspaces", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CreateWorkspace(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data WorkspaceResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ws-1", resp.Data.ID)
	assert.Equal(t, "2026-03-14T10:00:00Z", resp.Data.CreatedAt)
}

func TestAuthHandler_CreateWorkspaceRequiresName(t *testing.T) {
	svc := new(MockAuthService)
	handler := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/workspaces", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.CreateWorkspace(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "CreateWorkspace", mock.Anything, mock.Anything)
}

func TestAuthHandler_CreateAPIKeyReturnsTokenOnce(t *testing.T) {
	svc := new(MockAuthService)
	handler := NewAuthHandler(svc)

	svc.On("CreateAPIKey", mock.Anything, "ws-1", "ci-bot").Return("hvm_secret", nil)

	body, _ := json.Marshal(CreateAPIKeyRequest{WorkspaceID: "ws-1", Name: "ci-bot"})
	req := httptest.NewRequest(http.MethodPost, "/v1/api-keys", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CreateAPIKey(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data APIKeyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hvm_secret", resp.Data.Token)
	assert.Equal(t, "ci-bot", resp.Data.Name)
}

func TestAuthHandler_CreateAPIKeyUnknownWorkspace(t *testing.T) {
	svc := new(MockAuthService)
	handler := NewAuthHandler(svc)

	svc.On("CreateAPIKey", mock.Anything, "ws-gone", "ci-bot").Return("", domain.ErrWorkspaceNotFound)

	body, _ := json.Marshal(CreateAPIKeyRequest{WorkspaceID: "ws-gone", Name: "ci-bot"})
	req := httptest.NewRequest(http.MethodPost, "/v1/api-keys", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CreateAPIKey(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
