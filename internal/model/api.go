package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for caller-supplied text. These keep a single oversized
// field from filling Postgres TEXT columns or blowing up the recommender
// prompt.
const (
	MaxExternalIDLen = 200
	MaxNameLen       = 500
	MaxContextKeyLen = 200
	MaxNoteLen       = 16 * 1024 // 16 KB
	MaxFinalTextLen  = 8 * 1024  // 8 KB
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeInvalidAction  = "INVALID_ACTION"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInactiveClient = "INACTIVE_CLIENT"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeRateLimited    = "RATE_LIMITED"
)

// SubjectEntityInput is the subject portion of a decision-creation request.
type SubjectEntityInput struct {
	ExternalID string         `json:"external_id"`
	Name       string         `json:"name"`
	Domain     *string        `json:"domain,omitempty"`
	Industry   *string        `json:"industry,omitempty"`
	Country    *string        `json:"country,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DealInput is the optional deal portion of a decision-creation request.
type DealInput struct {
	ExternalDealID *string        `json:"external_deal_id,omitempty"`
	Amount         *float64       `json:"amount,omitempty"`
	Currency       string         `json:"currency,omitempty"`
	Stage          *string        `json:"stage,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// CreateDecisionRequest is the request body for POST /v1/decisions.
// ClientID is only honored for admin-key callers; everyone else gets it
// from their resolved scope.
type CreateDecisionRequest struct {
	ClientID   *uuid.UUID         `json:"client_id,omitempty"`
	Subject    SubjectEntityInput `json:"subject_entity"`
	Deal       *DealInput         `json:"deal,omitempty"`
	Kind       DecisionKind       `json:"kind"`
	ContextKey *string            `json:"context_key,omitempty"`
	Urgency    Urgency            `json:"urgency,omitempty"`
}

// Validate checks required fields and length limits.
func (r CreateDecisionRequest) Validate() error {
	if r.Subject.ExternalID == "" {
		return fmt.Errorf("subject_entity.external_id is required")
	}
	if len(r.Subject.ExternalID) > MaxExternalIDLen {
		return fmt.Errorf("subject_entity.external_id exceeds %d characters", MaxExternalIDLen)
	}
	if r.Subject.Name == "" {
		return fmt.Errorf("subject_entity.name is required")
	}
	if len(r.Subject.Name) > MaxNameLen {
		return fmt.Errorf("subject_entity.name exceeds %d characters", MaxNameLen)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("kind %q is not a recognized decision kind", r.Kind)
	}
	if r.ContextKey != nil && len(*r.ContextKey) > MaxContextKeyLen {
		return fmt.Errorf("context_key exceeds %d characters", MaxContextKeyLen)
	}
	if r.Urgency != "" {
		switch r.Urgency {
		case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical:
		default:
			return fmt.Errorf("urgency %q is not recognized", r.Urgency)
		}
	}
	return nil
}

// ReviewDecisionRequest is the request body for POST /v1/decisions/{id}/review.
type ReviewDecisionRequest struct {
	Action      ReviewAction `json:"action"`
	Note        *string      `json:"note,omitempty"`
	FinalAction *string      `json:"final_action,omitempty"`
}

// Validate checks length limits. Action validity is the state machine's call.
func (r ReviewDecisionRequest) Validate() error {
	if r.Note != nil && len(*r.Note) > MaxNoteLen {
		return fmt.Errorf("note exceeds %d bytes", MaxNoteLen)
	}
	if r.FinalAction != nil && len(*r.FinalAction) > MaxFinalTextLen {
		return fmt.Errorf("final_action exceeds %d bytes", MaxFinalTextLen)
	}
	return nil
}

// LinkDecisionRequest is the request body for POST /v1/decisions/{id}/links.
type LinkDecisionRequest struct {
	ToDecisionID uuid.UUID `json:"to_decision_id"`
	LinkType     LinkType  `json:"link_type"`
	Confidence   *float32  `json:"confidence,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
}

// CreateClientRequest is the request body for POST /v1/clients (admin only).
type CreateClientRequest struct {
	Name   string  `json:"name"`
	Slug   string  `json:"slug"`
	Domain *string `json:"domain,omitempty"`
	Plan   string  `json:"plan,omitempty"`
}

// CreateUserRequest is the request body for POST /v1/users (admin only).
type CreateUserRequest struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Secret string `json:"secret"`
}

// CreateMembershipRequest is the request body for POST /v1/memberships.
// Role defaults to reviewer when empty.
type CreateMembershipRequest struct {
	UserID   uuid.UUID      `json:"user_id"`
	ClientID uuid.UUID      `json:"client_id"`
	Role     MembershipRole `json:"role,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DecisionFilters are the query-string filters for GET /v1/decisions.
type DecisionFilters struct {
	Kind            *DecisionKind
	Status          *DecisionStatus
	SubjectEntityID *uuid.UUID
	ContextKey      *string
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
