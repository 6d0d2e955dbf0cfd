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

// FindDealByExternalID looks up a deal on a subject entity by the caller's
// own deal identifier.
func (db *DB) FindDealByExternalID(ctx context.Context, subjectEntityID uuid.UUID, externalDealID string) (model.Deal, error) {
	var d model.Deal
	err := db.pool.QueryRow(ctx,
		`SELECT id, subject_entity_id, external_deal_id, amount, currency, stage, metadata, created_at
		 FROM deals WHERE subject_entity_id = $1 AND external_deal_id = $2
		 ORDER BY created_at LIMIT 1`,
		subjectEntityID, externalDealID,
	).Scan(&d.ID, &d.SubjectEntity, &d.ExternalDealID, &d.Amount, &d.Currency, &d.Stage, &d.Metadata, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Deal{}, ErrNotFound
		}
		return model.Deal{}, fmt.Errorf("storage: find deal: %w", err)
	}
	return d, nil
}

// CreateDeal inserts a deal row. Deals without an external id are never
// deduplicated; each request gets its own row.
func (db *DB) CreateDeal(ctx context.Context, d model.Deal) (model.Deal, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Currency == "" {
		d.Currency = "USD"
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO deals (id, subject_entity_id, external_deal_id, amount, currency, stage, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.SubjectEntity, d.ExternalDealID, d.Amount, d.Currency, d.Stage, d.Metadata, d.CreatedAt,
	)
	if err != nil {
		return model.Deal{}, fmt.Errorf("storage: create deal: %w", err)
	}
	return d, nil
}
