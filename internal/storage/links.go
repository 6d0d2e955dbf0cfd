package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/model"
)

// InsertLink creates a directed decision link. Duplicate (from, to, type)
// triples are idempotent: the insert becomes a no-op and created is false.
func (db *DB) InsertLink(ctx context.Context, l model.DecisionLink) (model.DecisionLink, bool, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	tag, err := db.pool.Exec(ctx,
		`INSERT INTO decision_links (id, from_decision_id, to_decision_id, link_type, confidence, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (from_decision_id, to_decision_id, link_type) DO NOTHING`,
		l.ID, l.FromDecisionID, l.ToDecisionID, l.LinkType, l.Confidence, l.Notes, l.CreatedAt,
	)
	if err != nil {
		return model.DecisionLink{}, false, fmt.Errorf("storage: insert link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.DecisionLink{}, false, nil
	}
	return l, true, nil
}

// GetLinksFrom returns the outgoing links of a decision, oldest first.
func (db *DB) GetLinksFrom(ctx context.Context, fromDecisionID uuid.UUID) ([]model.DecisionLink, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, from_decision_id, to_decision_id, link_type, confidence, notes, created_at
		 FROM decision_links WHERE from_decision_id = $1 ORDER BY created_at`, fromDecisionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get links: %w", err)
	}
	defer rows.Close()

	var links []model.DecisionLink
	for rows.Next() {
		var l model.DecisionLink
		if err := rows.Scan(&l.ID, &l.FromDecisionID, &l.ToDecisionID, &l.LinkType, &l.Confidence, &l.Notes, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
