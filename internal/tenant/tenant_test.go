package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/storage"
)

// fakeStore returns canned rows for resolver tests.
type fakeStore struct {
	keys        map[string]model.APIKey // by prefix
	memberships map[uuid.UUID][]model.Membership
	clients     map[uuid.UUID]model.Client
	keyLookups  int
}

func (f *fakeStore) GetAPIKeyByPrefix(_ context.Context, prefix string) (model.APIKey, error) {
	f.keyLookups++
	k, ok := f.keys[prefix]
	if !ok {
		return model.APIKey{}, storage.ErrNotFound
	}
	return k, nil
}

func (f *fakeStore) ActiveMemberships(_ context.Context, userID uuid.UUID) ([]model.Membership, error) {
	return f.memberships[userID], nil
}

func (f *fakeStore) GetClient(_ context.Context, id uuid.UUID) (model.Client, error) {
	c, ok := f.clients[id]
	if !ok {
		return model.Client{}, assert.AnError
	}
	return c, nil
}

func (f *fakeStore) GetClientBySlug(_ context.Context, slug string) (model.Client, error) {
	for _, c := range f.clients {
		if c.Slug == slug {
			return c, nil
		}
	}
	return model.Client{}, assert.AnError
}

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	h, err := auth.HashSecret(secret)
	require.NoError(t, err)
	return h
}

func TestAuthenticateKey(t *testing.T) {
	ctx := context.Background()
	clientID := uuid.New()
	rawKey, prefix, err := model.GenerateRawKey()
	require.NoError(t, err)
	store := &fakeStore{
		keys: map[string]model.APIKey{
			prefix: {ID: uuid.New(), ClientID: &clientID, Prefix: prefix, KeyHash: mustHash(t, rawKey), Active: true},
		},
	}
	r := NewResolver(store)

	key, err := r.AuthenticateKey(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, clientID, *key.ClientID)
	// The prefix selects one candidate row; authentication never scans.
	assert.Equal(t, 1, store.keyLookups)

	// Right prefix, wrong secret.
	_, err = r.AuthenticateKey(ctx, "arb_"+prefix+"_deadbeef")
	require.ErrorIs(t, err, ErrUnauthorized)

	// Unknown prefix.
	other, _, err := model.GenerateRawKey()
	require.NoError(t, err)
	_, err = r.AuthenticateKey(ctx, other)
	require.ErrorIs(t, err, ErrUnauthorized)

	// Malformed key is rejected before any store access.
	lookups := store.keyLookups
	_, err = r.AuthenticateKey(ctx, "sk-live-legacy")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, lookups, store.keyLookups)
}

func TestScopeForKeyClientScoped(t *testing.T) {
	ctx := context.Background()
	clientID := uuid.New()
	otherID := uuid.New()
	store := &fakeStore{
		clients: map[uuid.UUID]model.Client{
			clientID: {ID: clientID, Slug: "acme", Active: true},
			otherID:  {ID: otherID, Slug: "other", Active: true},
		},
	}
	r := NewResolver(store)
	key := model.APIKey{ClientID: &clientID}

	scope, err := r.ScopeForKey(ctx, key, "")
	require.NoError(t, err)
	assert.Equal(t, clientID, scope.ClientID)
	assert.False(t, scope.Admin)
	assert.Nil(t, scope.UserID)

	// Naming its own client, by slug, is fine.
	scope, err = r.ScopeForKey(ctx, key, "acme")
	require.NoError(t, err)
	assert.Equal(t, clientID, scope.ClientID)

	// Naming a different client is not.
	_, err = r.ScopeForKey(ctx, key, "other")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = r.ScopeForKey(ctx, key, otherID.String())
	require.ErrorIs(t, err, ErrForbidden)
}

func TestScopeForKeyInactiveClient(t *testing.T) {
	ctx := context.Background()
	clientID := uuid.New()
	store := &fakeStore{
		clients: map[uuid.UUID]model.Client{
			clientID: {ID: clientID, Slug: "dormant", Active: false},
		},
	}
	r := NewResolver(store)

	_, err := r.ScopeForKey(ctx, model.APIKey{ClientID: &clientID}, "")
	require.ErrorIs(t, err, ErrInactiveClient)
}

func TestScopeForKeyAdmin(t *testing.T) {
	ctx := context.Background()
	clientID := uuid.New()
	store := &fakeStore{
		clients: map[uuid.UUID]model.Client{
			clientID: {ID: clientID, Slug: "acme", Active: true},
		},
	}
	r := NewResolver(store)
	adminKey := model.APIKey{Admin: true}

	// Without a client ref the admin gets cross-tenant scope.
	scope, err := r.ScopeForKey(ctx, adminKey, "")
	require.NoError(t, err)
	assert.True(t, scope.Admin)
	assert.Equal(t, uuid.Nil, scope.ClientID)

	// With a ref it acts inside that client.
	scope, err = r.ScopeForKey(ctx, adminKey, clientID.String())
	require.NoError(t, err)
	assert.True(t, scope.Admin)
	assert.Equal(t, clientID, scope.ClientID)

	_, err = r.ScopeForKey(ctx, adminKey, "nonexistent")
	require.ErrorIs(t, err, ErrForbidden)

	// A key with neither client nor admin flag is malformed.
	_, err = r.ScopeForKey(ctx, model.APIKey{}, "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestScopeForUser(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	c1 := uuid.New()
	c2 := uuid.New()
	store := &fakeStore{
		clients: map[uuid.UUID]model.Client{
			c1: {ID: c1, Slug: "one", Active: true},
			c2: {ID: c2, Slug: "two", Active: true},
		},
		memberships: map[uuid.UUID][]model.Membership{
			userID: {{UserID: userID, ClientID: c1, Role: model.RoleReviewer, Status: model.MembershipActive}},
		},
	}
	r := NewResolver(store)

	// A single membership auto-selects.
	scope, err := r.ScopeForUser(ctx, userID, "")
	require.NoError(t, err)
	assert.Equal(t, c1, scope.ClientID)
	require.NotNil(t, scope.UserID)
	assert.Equal(t, userID, *scope.UserID)
	assert.Equal(t, model.RoleReviewer, scope.Role)
	assert.False(t, scope.Admin)

	// No memberships at all.
	_, err = r.ScopeForUser(ctx, uuid.New(), "")
	require.ErrorIs(t, err, ErrForbidden)

	// Naming a client outside the user's memberships.
	_, err = r.ScopeForUser(ctx, userID, "two")
	require.ErrorIs(t, err, ErrForbidden)

	// With two memberships the caller must pick one.
	store.memberships[userID] = append(store.memberships[userID],
		model.Membership{UserID: userID, ClientID: c2, Role: model.RoleViewer, Status: model.MembershipActive})
	_, err = r.ScopeForUser(ctx, userID, "")
	require.ErrorIs(t, err, ErrClientRequired)

	scope, err = r.ScopeForUser(ctx, userID, "two")
	require.NoError(t, err)
	assert.Equal(t, c2, scope.ClientID)
	assert.Equal(t, model.RoleViewer, scope.Role)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	uid := uuid.New()
	want := Scope{ClientID: uuid.New(), UserID: &uid}
	ctx = WithScope(ctx, want)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, want, got)

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}
