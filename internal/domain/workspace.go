package domain

import "time"

// Workspace is the tenancy boundary. Every document, observation, profile
// and vector namespace is scoped to exactly one workspace.
type Workspace struct {
	ID             string
	OrganizationID string
	Name           string
	CreatedAt      time.Time
}

// APIKey authenticates requests for one workspace. Only the SHA-256 hash
// of the token is stored.
type APIKey struct {
	ID          string
	WorkspaceID string
	Name        string
	TokenHash   string
	Revoked     bool
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}
