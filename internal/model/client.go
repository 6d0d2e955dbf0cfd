package model

import (
	"time"

	"github.com/google/uuid"
)

// Client is a tenant of the platform. It owns all subject entities,
// decisions, and credentials created under it.
type Client struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Domain    *string   `json:"domain,omitempty"`
	Plan      string    `json:"plan"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a human who can review decisions and belong to clients.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// MembershipStatus is the lifecycle state of a user's membership in a client.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipPending  MembershipStatus = "pending"
	MembershipDisabled MembershipStatus = "disabled"
)

// MembershipRole is the user's role within a client.
type MembershipRole string

const (
	RoleOwner    MembershipRole = "owner"
	RoleReviewer MembershipRole = "reviewer"
	RoleViewer   MembershipRole = "viewer"
)

// roleRank orders roles for RoleAtLeast. Unknown roles rank below viewer.
var roleRank = map[MembershipRole]int{
	RoleViewer:   1,
	RoleReviewer: 2,
	RoleOwner:    3,
}

// RoleAtLeast reports whether role grants at least the privileges of minimum.
func RoleAtLeast(role, minimum MembershipRole) bool {
	return roleRank[role] >= roleRank[minimum]
}

// Valid reports whether r is a known membership role.
func (r MembershipRole) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Membership ties a user to a client. Scope resolution only considers
// active memberships.
type Membership struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	ClientID  uuid.UUID        `json:"client_id"`
	Role      MembershipRole   `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// APIKey is a stored credential. Client-scoped keys resolve tenant scope
// directly; admin keys require the client to be named in the payload.
// Prefix is stored in clear for single-row lookup; the full raw key is
// what gets hashed.
type APIKey struct {
	ID        uuid.UUID  `json:"id"`
	ClientID  *uuid.UUID `json:"client_id,omitempty"` // nil for admin keys
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	KeyHash   string     `json:"-"`
	Admin     bool       `json:"admin"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
}

// SubjectEntity is the company or organization a decision evaluates.
// Keyed by (client, external_id); the external id is the caller's own
// identifier, which makes resolution idempotent across repeated deliveries.
type SubjectEntity struct {
	ID         uuid.UUID      `json:"id"`
	ClientID   uuid.UUID      `json:"client_id"`
	ExternalID string         `json:"external_id"`
	Name       string         `json:"name"`
	Domain     *string        `json:"domain,omitempty"`
	Industry   *string        `json:"industry,omitempty"`
	Country    *string        `json:"country,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Deal is optional revenue context attached to a subject entity. Deals are
// deduplicated only by (subject_entity, external_deal_id); without an
// external id every request inserts a fresh row.
type Deal struct {
	ID             uuid.UUID      `json:"id"`
	SubjectEntity  uuid.UUID      `json:"subject_entity_id"`
	ExternalDealID *string        `json:"external_deal_id,omitempty"`
	Amount         *float64       `json:"amount,omitempty"`
	Currency       string         `json:"currency"`
	Stage          *string        `json:"stage,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}
