package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
)

const apiKeyPrefix = "hvm_"

type WorkspaceRepositoryInterface interface {
	Create(ctx context.Context, w *domain.Workspace) error
	GetByID(ctx context.Context, id string) (*domain.Workspace, error)
	List(ctx context.Context) ([]*domain.Workspace, error)
	Delete(ctx context.Context, id string) error
}

type APIKeyRepositoryInterface interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// AuthService issues and validates workspace-scoped API keys. Tokens are
// shown once at creation; only the SHA-256 hash is stored.
type AuthService struct {
	workspaceRepo WorkspaceRepositoryInterface
	keyRepo       APIKeyRepositoryInterface
	uuidGen       UUIDGenerator
	now           func() time.Time
}

func NewAuthService(workspaceRepo WorkspaceRepositoryInterface, keyRepo APIKeyRepositoryInterface, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		workspaceRepo: workspaceRepo,
		keyRepo:       keyRepo,
		uuidGen:       uuidGen,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) CreateWorkspace(ctx context.Context, name string) (*domain.Workspace, error) {
	if name == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "workspace name is required")
	}

	workspace := &domain.Workspace{
		ID:        s.uuidGen.NewString(),
		Name:      name,
		CreatedAt: s.now(),
	}

	if err := s.workspaceRepo.Create(ctx, workspace); err != nil {
		return nil, err
	}

	return workspace, nil
}

// CreateAPIKey mints a new token for the workspace and returns it. The
// plaintext token is not recoverable afterwards.
func (s *AuthService) CreateAPIKey(ctx context.Context, workspaceID, name string) (string, error) {
	if workspaceID == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "workspace ID is required")
	}
	if name == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "API key name is required")
	}

	if _, err := s.workspaceRepo.GetByID(ctx, workspaceID); err != nil {
		return "", err
	}

	token, err := generateAPIToken()
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}

	key := &domain.APIKey{
		ID:          s.uuidGen.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		TokenHash:   hashToken(token),
		CreatedAt:   s.now(),
	}

	if err := s.keyRepo.Create(ctx, key); err != nil {
		return "", err
	}

	return token, nil
}

// CreateAPIKeyWithToken registers a caller-supplied token, used by the
// bootstrap path so deployments can pin a known key.
func (s *AuthService) CreateAPIKeyWithToken(ctx context.Context, workspaceID, name, token string) error {
	if workspaceID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "workspace ID is required")
	}
	if name == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key name is required")
	}
	if !IsValidAPIToken(token) {
		return domain.NewDomainError(domain.ErrCodeValidation, "invalid API key format (expected hvm_<64 hex chars>)")
	}

	if _, err := s.workspaceRepo.GetByID(ctx, workspaceID); err != nil {
		return err
	}

	key := &domain.APIKey{
		ID:          s.uuidGen.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		TokenHash:   hashToken(token),
		CreatedAt:   s.now(),
	}

	return s.keyRepo.Create(ctx, key)
}

// ValidateAPIKey resolves a bearer token to its workspace ID
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	if !IsValidAPIToken(token) {
		return "", domain.ErrInvalidAPIKey
	}

	key, err := s.keyRepo.GetByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return "", domain.ErrInvalidAPIKey
		}
		return "", err
	}

	if key.Revoked {
		return "", domain.ErrAPIKeyRevoked
	}

	// best effort, auth must not fail on a bookkeeping write
	_ = s.keyRepo.TouchLastUsed(ctx, key.ID, s.now())

	return key.WorkspaceID, nil
}

func (s *AuthService) GetAPIKeyByHash(ctx context.Context, token string) (*domain.APIKey, error) {
	if !IsValidAPIToken(token) {
		return nil, domain.ErrInvalidAPIKey
	}
	return s.keyRepo.GetByHash(ctx, hashToken(token))
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key ID is required")
	}
	return s.keyRepo.Revoke(ctx, keyID)
}

func (s *AuthService) ListAPIKeys(ctx context.Context, workspaceID string) ([]*domain.APIKey, error) {
	if workspaceID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "workspace ID is required")
	}
	return s.keyRepo.ListByWorkspace(ctx, workspaceID)
}

// IsValidAPIToken reports whether token matches hvm_<64 hex chars>
func IsValidAPIToken(token string) bool {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return false
	}
	body := strings.TrimPrefix(token, apiKeyPrefix)
	if len(body) != 64 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
