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

// UpsertSubjectEntity resolves a subject entity by (client_id, external_id),
// creating it if absent. On conflict only non-blank supplied attributes
// overwrite the stored row; identity fields never change. The unique
// constraint makes this safe under concurrent identical requests — the
// database is the arbiter, there is no application-level lock.
func (db *DB) UpsertSubjectEntity(ctx context.Context, e model.SubjectEntity) (model.SubjectEntity, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	var out model.SubjectEntity
	err := db.pool.QueryRow(ctx,
		`INSERT INTO subject_entities
		   (id, client_id, external_id, name, domain, industry, country, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (client_id, external_id) DO UPDATE SET
		   name       = COALESCE(NULLIF(EXCLUDED.name, ''), subject_entities.name),
		   domain     = COALESCE(NULLIF(EXCLUDED.domain, ''), subject_entities.domain),
		   industry   = COALESCE(NULLIF(EXCLUDED.industry, ''), subject_entities.industry),
		   country    = COALESCE(NULLIF(EXCLUDED.country, ''), subject_entities.country),
		   metadata   = CASE WHEN EXCLUDED.metadata = '{}'::jsonb
		                     THEN subject_entities.metadata
		                     ELSE EXCLUDED.metadata END,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, client_id, external_id, name, domain, industry, country, metadata, created_at, updated_at`,
		e.ID, e.ClientID, e.ExternalID, e.Name, e.Domain, e.Industry, e.Country,
		e.Metadata, e.CreatedAt, e.UpdatedAt,
	).Scan(
		&out.ID, &out.ClientID, &out.ExternalID, &out.Name, &out.Domain,
		&out.Industry, &out.Country, &out.Metadata, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return model.SubjectEntity{}, fmt.Errorf("storage: upsert subject entity: %w", err)
	}
	return out, nil
}

// GetSubjectEntity retrieves a subject entity by ID within a client scope.
func (db *DB) GetSubjectEntity(ctx context.Context, clientID, id uuid.UUID) (model.SubjectEntity, error) {
	var e model.SubjectEntity
	err := db.pool.QueryRow(ctx,
		`SELECT id, client_id, external_id, name, domain, industry, country, metadata, created_at, updated_at
		 FROM subject_entities WHERE id = $1 AND client_id = $2`, id, clientID,
	).Scan(
		&e.ID, &e.ClientID, &e.ExternalID, &e.Name, &e.Domain,
		&e.Industry, &e.Country, &e.Metadata, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SubjectEntity{}, ErrNotFound
		}
		return model.SubjectEntity{}, fmt.Errorf("storage: get subject entity: %w", err)
	}
	return e, nil
}
