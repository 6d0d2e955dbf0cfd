// Package authz decides what a resolved scope may do.
//
// This package exists to share role checks between the HTTP server and the
// MCP server without creating a circular dependency (both import this
// package; neither imports the other).
package authz

import (
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/tenant"
)

// CanReview reports whether the caller may apply a review transition.
// Reviews need a user identity for the decided_by audit trail, so API-key
// callers are never allowed regardless of scope. Among session users,
// viewers are read-only.
func CanReview(scope tenant.Scope) bool {
	if scope.UserID == nil {
		return false
	}
	return model.RoleAtLeast(scope.Role, model.RoleReviewer)
}

// CanManageMembers reports whether the caller may create users and
// memberships under the scoped client. Admin credentials always can;
// session users need the owner role.
func CanManageMembers(scope tenant.Scope) bool {
	if scope.Admin {
		return true
	}
	if scope.UserID == nil {
		return false
	}
	return model.RoleAtLeast(scope.Role, model.RoleOwner)
}
