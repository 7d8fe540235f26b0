package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire shape consumed by the ingress endpoint. Payload is
// source-specific JSON, validated per source before normalization.
type Envelope struct {
	WorkspaceID    string          `json:"workspace_id"`
	OrganizationID string          `json:"organization_id"`
	Source         SourceType      `json:"source"`
	Action         string          `json:"action"`
	OccurredAt     time.Time       `json:"occurred_at"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
}

// ValidateEnvelope checks the fields the gate requires before an event may
// enter the pipeline. A failure here is FatalMalformedPayload: retrying a
// malformed envelope cannot succeed.
func ValidateEnvelope(e *Envelope) error {
	if e == nil {
		return NewDomainErrorWithCause(ErrCodeMalformedPayload, "envelope cannot be nil", nil)
	}
	if e.WorkspaceID == "" {
		return NewDomainError(ErrCodeMalformedPayload, "envelope workspace_id is required")
	}
	if e.Source == "" {
		return NewDomainError(ErrCodeMalformedPayload, "envelope source is required")
	}
	if e.Action == "" {
		return NewDomainError(ErrCodeMalformedPayload, "envelope action is required")
	}
	if len(e.Payload) == 0 {
		return NewDomainError(ErrCodeMalformedPayload, "envelope payload is required")
	}
	if e.OccurredAt.IsZero() {
		return NewDomainError(ErrCodeMalformedPayload, "envelope occurred_at is required")
	}
	return nil
}

// DeriveIdempotencyKey computes a stable key for an envelope that arrived
// without one, from the source-stable fields. The same logical delivery
// always derives the same key.
func DeriveIdempotencyKey(e *Envelope, resourceID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", e.Source, resourceID, e.Action, e.OccurredAt.UTC().Format(time.RFC3339))
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyRecord maps a processed idempotency key to its processing
// time. Records expire via ExpiresAt; a live record means the event must
// not be reprocessed.
type IdempotencyRecord struct {
	Key         string
	WorkspaceID string
	ProcessedAt time.Time
	ExpiresAt   time.Time
}

// DeadLetterEvent preserves an envelope that exhausted its retry budget or
// failed validation, for operator inspection.
type DeadLetterEvent struct {
	ID         string
	Envelope   []byte
	Reason     string
	RetryCount int
	CreatedAt  time.Time
}
