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

// CreateClient inserts a new client. A slug collision returns ErrConflict:
// slugs are caller-visible identifiers, so the collision is surfaced rather
// than absorbed.
func (db *DB) CreateClient(ctx context.Context, c model.Client) (model.Client, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Plan == "" {
		c.Plan = "standard"
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO clients (id, name, slug, domain, plan, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.Slug, c.Domain, c.Plan, c.Active, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Client{}, fmt.Errorf("storage: client slug %q: %w", c.Slug, ErrConflict)
		}
		return model.Client{}, fmt.Errorf("storage: create client: %w", err)
	}
	return c, nil
}

// GetClient retrieves a client by ID.
func (db *DB) GetClient(ctx context.Context, id uuid.UUID) (model.Client, error) {
	return db.scanClient(db.pool.QueryRow(ctx,
		`SELECT id, name, slug, domain, plan, active, created_at, updated_at
		 FROM clients WHERE id = $1`, id,
	))
}

// GetClientBySlug retrieves a client by slug.
func (db *DB) GetClientBySlug(ctx context.Context, slug string) (model.Client, error) {
	return db.scanClient(db.pool.QueryRow(ctx,
		`SELECT id, name, slug, domain, plan, active, created_at, updated_at
		 FROM clients WHERE slug = $1`, slug,
	))
}

func (db *DB) scanClient(row pgx.Row) (model.Client, error) {
	var c model.Client
	err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.Domain, &c.Plan, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Client{}, ErrNotFound
		}
		return model.Client{}, fmt.Errorf("storage: get client: %w", err)
	}
	return c, nil
}

// SetClientActive flips the active flag.
func (db *DB) SetClientActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE clients SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: set client active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
