package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arbiterhq/arbiter/internal/model"
)

// CreateUser inserts a user with an Argon2id-hashed secret.
func (db *DB) CreateUser(ctx context.Context, u model.User, secretHash string) (model.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, secret_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.Name, secretHash, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("storage: user email %q: %w", u.Email, ErrConflict)
		}
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user and the stored secret hash for verification.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (model.User, string, error) {
	var u model.User
	var hash string
	err := db.pool.QueryRow(ctx,
		`SELECT id, email, name, secret_hash, created_at FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &u.Name, &hash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, "", ErrNotFound
		}
		return model.User{}, "", fmt.Errorf("storage: get user by email: %w", err)
	}
	return u, hash, nil
}

// GetUser retrieves a user by ID.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var u model.User
	err := db.pool.QueryRow(ctx,
		`SELECT id, email, name, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}

// CreateMembership ties a user to a client. Duplicate (user, client) pairs
// return ErrConflict.
func (db *DB) CreateMembership(ctx context.Context, m model.Membership) (model.Membership, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = model.MembershipActive
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO memberships (id, user_id, client_id, role, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserID, m.ClientID, m.Role, m.Status, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Membership{}, fmt.Errorf("storage: membership: %w", ErrConflict)
		}
		return model.Membership{}, fmt.Errorf("storage: create membership: %w", err)
	}
	return m, nil
}

// ActiveMemberships returns a user's active memberships, newest first.
func (db *DB) ActiveMemberships(ctx context.Context, userID uuid.UUID) ([]model.Membership, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, client_id, role, status, created_at
		 FROM memberships WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC`,
		userID, model.MembershipActive,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: active memberships: %w", err)
	}
	defer rows.Close()

	var memberships []model.Membership
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.ClientID, &m.Role, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// CreateAPIKey stores a hashed credential.
func (db *DB) CreateAPIKey(ctx context.Context, k model.APIKey) (model.APIKey, error) {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, client_id, name, prefix, key_hash, admin, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.ClientID, k.Name, k.Prefix, k.KeyHash, k.Admin, k.Active, k.CreatedAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}
	return k, nil
}

// GetAPIKeyByPrefix looks up a single active credential by its clear lookup
// prefix. Authentication verifies exactly one Argon2 hash instead of
// scanning every stored key. Returns ErrNotFound on no active match.
func (db *DB) GetAPIKeyByPrefix(ctx context.Context, prefix string) (model.APIKey, error) {
	var k model.APIKey
	err := db.pool.QueryRow(ctx,
		`SELECT id, client_id, name, prefix, key_hash, admin, active, created_at
		 FROM api_keys WHERE prefix = $1 AND active LIMIT 1`, prefix,
	).Scan(&k.ID, &k.ClientID, &k.Name, &k.Prefix, &k.KeyHash, &k.Admin, &k.Active, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, ErrNotFound
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key by prefix: %w", err)
	}
	return k, nil
}

// ActiveAPIKeys returns all active stored credentials. Used for admin
// bootstrap checks, never on the authentication path.
func (db *DB) ActiveAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, client_id, name, prefix, key_hash, admin, active, created_at
		 FROM api_keys WHERE active ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: active api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.ClientID, &k.Name, &k.Prefix, &k.KeyHash, &k.Admin, &k.Active, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
