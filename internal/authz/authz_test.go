package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/tenant"
)

func userScope(role model.MembershipRole) tenant.Scope {
	uid := uuid.New()
	return tenant.Scope{ClientID: uuid.New(), UserID: &uid, Role: role}
}

func TestCanReview(t *testing.T) {
	assert.True(t, CanReview(userScope(model.RoleOwner)))
	assert.True(t, CanReview(userScope(model.RoleReviewer)))
	assert.False(t, CanReview(userScope(model.RoleViewer)))

	// API keys carry no user identity and can never review.
	assert.False(t, CanReview(tenant.Scope{ClientID: uuid.New()}))
	assert.False(t, CanReview(tenant.Scope{Admin: true}))
}

func TestCanManageMembers(t *testing.T) {
	assert.True(t, CanManageMembers(userScope(model.RoleOwner)))
	assert.False(t, CanManageMembers(userScope(model.RoleReviewer)))
	assert.False(t, CanManageMembers(userScope(model.RoleViewer)))

	assert.True(t, CanManageMembers(tenant.Scope{Admin: true}))
	assert.False(t, CanManageMembers(tenant.Scope{ClientID: uuid.New()}))
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, model.RoleAtLeast(model.RoleOwner, model.RoleViewer))
	assert.True(t, model.RoleAtLeast(model.RoleReviewer, model.RoleReviewer))
	assert.False(t, model.RoleAtLeast(model.RoleViewer, model.RoleReviewer))
	assert.False(t, model.RoleAtLeast("", model.RoleViewer))
	assert.False(t, model.RoleAtLeast("superuser", model.RoleViewer))
}
