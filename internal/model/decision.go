package model

import (
	"time"

	"github.com/google/uuid"
)

// DecisionKind enumerates the categories of business judgment Arbiter records.
type DecisionKind string

const (
	KindDiscount        DecisionKind = "DISCOUNT"
	KindOnboarding      DecisionKind = "ONBOARDING"
	KindPaymentTerms    DecisionKind = "PAYMENT_TERMS"
	KindCreditExtension DecisionKind = "CREDIT_EXTENSION"
	KindPartnership     DecisionKind = "PARTNERSHIP"
	KindRenewal         DecisionKind = "RENEWAL"
	KindEscalation      DecisionKind = "ESCALATION"
	KindCustom          DecisionKind = "CUSTOM"
)

// Valid reports whether k is a known decision kind.
func (k DecisionKind) Valid() bool {
	switch k {
	case KindDiscount, KindOnboarding, KindPaymentTerms, KindCreditExtension,
		KindPartnership, KindRenewal, KindEscalation, KindCustom:
		return true
	}
	return false
}

// DecisionStatus is the lifecycle state of a decision.
//
// PROPOSED is the only initial state. The review transition moves a decision
// to APPROVED, REJECTED, OVERRIDDEN, or ESCALATED. EXPIRED exists in the
// schema for a time-based sweep that no endpoint exposes.
type DecisionStatus string

const (
	StatusProposed   DecisionStatus = "PROPOSED"
	StatusApproved   DecisionStatus = "APPROVED"
	StatusRejected   DecisionStatus = "REJECTED"
	StatusOverridden DecisionStatus = "OVERRIDDEN"
	StatusEscalated  DecisionStatus = "ESCALATED"
	StatusExpired    DecisionStatus = "EXPIRED"
)

// Urgency indicates how quickly a decision needs human attention.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// RecommendedAction is what the recommender suggests a human should do.
type RecommendedAction string

const (
	ActionApprove               RecommendedAction = "approve"
	ActionApproveWithConditions RecommendedAction = "approve_with_conditions"
	ActionReject                RecommendedAction = "reject"
	ActionReviewManually        RecommendedAction = "review_manually"
)

// Confidence is the recommender's self-reported certainty band.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ReviewAction is the verb a human reviewer applies to a decision.
type ReviewAction string

const (
	ReviewApprove  ReviewAction = "approve"
	ReviewReject   ReviewAction = "reject"
	ReviewOverride ReviewAction = "override"
	ReviewEscalate ReviewAction = "escalate"
)

// Decision is the atomic unit of truth: one recorded judgment about a subject
// entity. Rows are never deleted; kind, client, and subject entity are
// immutable after creation. Only status, final action, decider, and
// decided-at change, and only through the review transition.
type Decision struct {
	ID              uuid.UUID          `json:"id"`
	ClientID        uuid.UUID          `json:"client_id"`
	SubjectEntityID uuid.UUID          `json:"subject_entity_id"`
	DealID          *uuid.UUID         `json:"deal_id,omitempty"`
	ContextKey      *string            `json:"context_key,omitempty"`
	Kind            DecisionKind       `json:"kind"`
	Status          DecisionStatus     `json:"status"`
	Urgency         Urgency            `json:"urgency"`
	RecommendedAct  *RecommendedAction `json:"recommended_action,omitempty"`
	RecommendedConf *Confidence        `json:"recommended_confidence,omitempty"`
	// SuggestedConditions is stored verbatim as JSON; the engine never
	// inspects its shape.
	SuggestedConditions []string   `json:"suggested_conditions,omitempty"`
	FinalAction         *string    `json:"final_action,omitempty"`
	DecidedBy           *uuid.UUID `json:"decided_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	DecidedAt           *time.Time `json:"decided_at,omitempty"`

	// Joined data (populated by reads, not stored on the decisions table).
	Snapshot  *ContextSnapshot `json:"context_snapshot,omitempty"`
	Overrides []HumanOverride  `json:"overrides,omitempty"`
	Links     []DecisionLink   `json:"links,omitempty"`
	Subject   *SubjectEntity   `json:"subject_entity,omitempty"`
	Decider   *User            `json:"decider,omitempty"`
}

// ContextSnapshot is the frozen record of what the world looked like when the
// recommendation was produced. Exactly one per decision, written in the same
// transaction, never mutated afterwards.
type ContextSnapshot struct {
	ID         uuid.UUID      `json:"id"`
	DecisionID uuid.UUID      `json:"decision_id"`
	Signals    map[string]any `json:"signals"`
	Rationale  string         `json:"rationale"`
	ModelID    string         `json:"model_id"`
	LatencyMs  int64          `json:"latency_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

// HumanOverride records a human replacing the recommendation. Append-only;
// written only by the override review transition, in the same transaction
// as the status change.
type HumanOverride struct {
	ID         uuid.UUID `json:"id"`
	DecisionID uuid.UUID `json:"decision_id"`
	UserID     uuid.UUID `json:"user_id"`
	Action     string    `json:"action"`
	Reason     *string   `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LinkType enumerates the relationship kinds between two decisions.
type LinkType string

const (
	LinkPrecedent   LinkType = "precedent"
	LinkSimilarCase LinkType = "similar_case"
	LinkContradicts LinkType = "contradicts"
	LinkSupersedes  LinkType = "supersedes"
)

// Valid reports whether t is a known link type.
func (t LinkType) Valid() bool {
	switch t {
	case LinkPrecedent, LinkSimilarCase, LinkContradicts, LinkSupersedes:
		return true
	}
	return false
}

// DecisionLink is a directed, typed relationship between two decisions.
// Duplicate (from, to, type) triples are idempotent.
type DecisionLink struct {
	ID             uuid.UUID `json:"id"`
	FromDecisionID uuid.UUID `json:"from_decision_id"`
	ToDecisionID   uuid.UUID `json:"to_decision_id"`
	LinkType       LinkType  `json:"link_type"`
	Confidence     *float32  `json:"confidence,omitempty"`
	Notes          *string   `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
