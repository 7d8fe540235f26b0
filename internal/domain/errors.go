package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeMalformedPayload = "MALFORMED_PAYLOAD"
)

// Pipeline error codes. These classify the outcomes the ingestion and
// consolidation workers distinguish when deciding whether to retry.
const (
	ErrCodeDuplicateEvent      = "DUPLICATE_EVENT"
	ErrCodeTransientUpstream   = "TRANSIENT_UPSTREAM"
	ErrCodePersistenceConflict = "PERSISTENCE_CONFLICT"
	ErrCodeStaleWriteSkipped   = "STALE_WRITE_SKIPPED"
	ErrCodeLowConfidence       = "EXTRACTION_LOW_CONFIDENCE"
	ErrCodeLeaseContention     = "LEASE_CONTENTION"
)

// Validation errors
var (
	ErrInvalidObservationType = NewDomainError(ErrCodeValidation, "invalid observation type")
	ErrInvalidImportance      = NewDomainError(ErrCodeValidation, "importance must be between 0 and 1")
	ErrInvalidSummaryType     = NewDomainError(ErrCodeValidation, "invalid summary type")
	ErrInvalidConfidence      = NewDomainError(ErrCodeValidation, "confidence must be between 0 and 1")
	ErrMissingRequiredField   = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrDocumentNotFound    = NewDomainError(ErrCodeNotFound, "knowledge document not found")
	ErrChunkNotFound       = NewDomainError(ErrCodeNotFound, "knowledge chunk not found")
	ErrObservationNotFound = NewDomainError(ErrCodeNotFound, "observation not found")
	ErrSummaryNotFound     = NewDomainError(ErrCodeNotFound, "summary not found")
	ErrProfileNotFound     = NewDomainError(ErrCodeNotFound, "actor profile not found")
	ErrWorkspaceNotFound   = NewDomainError(ErrCodeNotFound, "workspace not found")
	ErrAPIKeyNotFound      = NewDomainError(ErrCodeNotFound, "api key not found")
)

// Already exists errors
var (
	ErrWorkspaceAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "workspace already exists")
	ErrAPIKeyAlreadyExists    = NewDomainError(ErrCodeAlreadyExists, "api key already exists")
)

// Authorization errors
var (
	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Pipeline outcome errors. DuplicateEvent and StaleWriteSkipped are no-op
// signals, not failures; callers must not retry them.
var (
	ErrDuplicateEvent          = NewDomainError(ErrCodeDuplicateEvent, "event already processed")
	ErrPersistenceConflict     = NewDomainError(ErrCodePersistenceConflict, "concurrent version increment lost")
	ErrStaleWriteSkipped       = NewDomainError(ErrCodeStaleWriteSkipped, "target superseded since job was enqueued")
	ErrExtractionLowConfidence = NewDomainError(ErrCodeLowConfidence, "relationship proposal below confidence threshold")
	ErrLeaseContention         = NewDomainError(ErrCodeLeaseContention, "another worker holds the consolidation lease")
	ErrMalformedPayload        = NewDomainError(ErrCodeMalformedPayload, "payload cannot be normalized")
)
