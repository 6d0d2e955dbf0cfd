// Package tenant resolves authenticated credentials into a client scope.
//
// Every data-plane operation runs under exactly one client. A client-scoped
// API key fixes the client directly; an admin key must name the client in the
// request; a session user selects a client from their active memberships.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/storage"
)

var (
	// ErrUnauthorized means no active credential matched.
	ErrUnauthorized = errors.New("tenant: unauthorized")
	// ErrForbidden means the credential cannot act on the requested client.
	ErrForbidden = errors.New("tenant: forbidden")
	// ErrClientRequired means an admin or multi-membership caller did not
	// name a client.
	ErrClientRequired = errors.New("tenant: client must be specified")
	// ErrInactiveClient means the resolved client is deactivated.
	ErrInactiveClient = errors.New("tenant: client is inactive")
)

// Scope is the resolved tenancy of a request. ClientID is uuid.Nil only for
// admin credentials acting outside a single client (e.g. creating clients).
// Role is set only for session users; API keys act with the full privileges
// of their client (or of the platform, for admin keys).
type Scope struct {
	ClientID uuid.UUID
	UserID   *uuid.UUID
	Role     model.MembershipRole
	Admin    bool
}

// store is the subset of storage the resolver needs.
type store interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (model.APIKey, error)
	ActiveMemberships(ctx context.Context, userID uuid.UUID) ([]model.Membership, error)
	GetClient(ctx context.Context, id uuid.UUID) (model.Client, error)
	GetClientBySlug(ctx context.Context, slug string) (model.Client, error)
}

// Resolver authenticates API keys and resolves scopes.
type Resolver struct {
	store store
}

func NewResolver(s store) *Resolver {
	return &Resolver{store: s}
}

// AuthenticateKey verifies a raw API key. The clear prefix selects exactly
// one candidate row, so each request pays for a single Argon2 verification
// no matter how many keys exist. Runs a dummy hash when no row matches so
// response timing does not reveal whether the prefix exists.
func (r *Resolver) AuthenticateKey(ctx context.Context, rawKey string) (model.APIKey, error) {
	prefix, err := model.ParseRawKey(rawKey)
	if err != nil {
		auth.DummyVerify()
		return model.APIKey{}, ErrUnauthorized
	}

	key, err := r.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			auth.DummyVerify()
			return model.APIKey{}, ErrUnauthorized
		}
		return model.APIKey{}, fmt.Errorf("tenant: load api key: %w", err)
	}

	ok, err := auth.VerifySecret(rawKey, key.KeyHash)
	if err != nil || !ok {
		return model.APIKey{}, ErrUnauthorized
	}
	return key, nil
}

// ScopeForKey resolves the scope of an authenticated API key.
// clientRef is the client named by the request (header or payload), as a
// UUID or slug; it is required for admin keys and, if present on a
// client-scoped key, must match the key's own client.
func (r *Resolver) ScopeForKey(ctx context.Context, key model.APIKey, clientRef string) (Scope, error) {
	if key.ClientID != nil {
		if clientRef != "" {
			named, err := r.resolveClientRef(ctx, clientRef)
			if err != nil {
				return Scope{}, err
			}
			if named.ID != *key.ClientID {
				return Scope{}, ErrForbidden
			}
		}
		if err := r.requireActive(ctx, *key.ClientID); err != nil {
			return Scope{}, err
		}
		return Scope{ClientID: *key.ClientID, Admin: key.Admin}, nil
	}

	if !key.Admin {
		return Scope{}, ErrUnauthorized
	}
	if clientRef == "" {
		// Admin scope with no client: allowed only for cross-tenant
		// admin operations. Data-plane handlers reject a nil ClientID.
		return Scope{Admin: true}, nil
	}
	named, err := r.resolveClientRef(ctx, clientRef)
	if err != nil {
		return Scope{}, err
	}
	if err := r.requireActive(ctx, named.ID); err != nil {
		return Scope{}, err
	}
	return Scope{ClientID: named.ID, Admin: true}, nil
}

// ScopeForUser resolves the scope of a session user. clientRef selects among
// the user's active memberships; when empty, a single active membership is
// auto-selected and anything else requires an explicit choice.
func (r *Resolver) ScopeForUser(ctx context.Context, userID uuid.UUID, clientRef string) (Scope, error) {
	memberships, err := r.store.ActiveMemberships(ctx, userID)
	if err != nil {
		return Scope{}, fmt.Errorf("tenant: load memberships: %w", err)
	}
	if len(memberships) == 0 {
		return Scope{}, ErrForbidden
	}

	var selected *model.Membership
	if clientRef == "" {
		if len(memberships) > 1 {
			return Scope{}, ErrClientRequired
		}
		selected = &memberships[0]
	} else {
		named, err := r.resolveClientRef(ctx, clientRef)
		if err != nil {
			return Scope{}, err
		}
		for i := range memberships {
			if memberships[i].ClientID == named.ID {
				selected = &memberships[i]
				break
			}
		}
		if selected == nil {
			return Scope{}, ErrForbidden
		}
	}

	if err := r.requireActive(ctx, selected.ClientID); err != nil {
		return Scope{}, err
	}
	uid := userID
	return Scope{ClientID: selected.ClientID, UserID: &uid, Role: selected.Role}, nil
}

// resolveClientRef looks a client up by UUID or slug.
func (r *Resolver) resolveClientRef(ctx context.Context, ref string) (model.Client, error) {
	if id, err := uuid.Parse(ref); err == nil {
		c, err := r.store.GetClient(ctx, id)
		if err != nil {
			return model.Client{}, ErrForbidden
		}
		return c, nil
	}
	c, err := r.store.GetClientBySlug(ctx, ref)
	if err != nil {
		return model.Client{}, ErrForbidden
	}
	return c, nil
}

func (r *Resolver) requireActive(ctx context.Context, clientID uuid.UUID) error {
	c, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		return ErrForbidden
	}
	if !c.Active {
		return ErrInactiveClient
	}
	return nil
}
