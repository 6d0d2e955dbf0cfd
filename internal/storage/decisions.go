package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arbiterhq/arbiter/internal/model"
)

// CreateDecisionTx inserts a decision and its context snapshot in one
// transaction. A decision can never exist without its snapshot; the
// UNIQUE(decision_id) constraint on context_snapshots makes the snapshot
// effectively immutable once written.
func (db *DB) CreateDecisionTx(ctx context.Context, d model.Decision, snap model.ContextSnapshot) (model.Decision, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.Status == "" {
		d.Status = model.StatusProposed
	}
	if d.Urgency == "" {
		d.Urgency = model.UrgencyNormal
	}

	snap.ID = uuid.New()
	snap.DecisionID = d.ID
	snap.CreatedAt = now
	if snap.Signals == nil {
		snap.Signals = map[string]any{}
	}

	// Replaying the whole transaction on a transient conflict is safe: IDs
	// are fixed above, so a replay writes the same rows.
	err := withTxRetry(ctx, func() error {
		return db.insertDecisionAndSnapshot(ctx, d, snap)
	})
	if err != nil {
		return model.Decision{}, err
	}

	d.Snapshot = &snap
	return d, nil
}

func (db *DB) insertDecisionAndSnapshot(ctx context.Context, d model.Decision, snap model.ContextSnapshot) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO decisions (id, client_id, subject_entity_id, deal_id, context_key, kind, status,
		 urgency, recommended_action, recommended_confidence, suggested_conditions, final_action,
		 decided_by, created_at, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.ClientID, d.SubjectEntityID, d.DealID, d.ContextKey, d.Kind, d.Status,
		d.Urgency, d.RecommendedAct, d.RecommendedConf, d.SuggestedConditions, d.FinalAction,
		d.DecidedBy, d.CreatedAt, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert decision: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO context_snapshots (id, decision_id, signals, rationale, model_id, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.DecisionID, snap.Signals, snap.Rationale, snap.ModelID, snap.LatencyMs, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert context snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit decision: %w", err)
	}
	return nil
}

// ReviewUpdate carries the computed result of a review transition.
type ReviewUpdate struct {
	Status      model.DecisionStatus
	FinalAction string
	DecidedBy   uuid.UUID
	// Override, when non-nil, is appended in the same transaction as the
	// status change. A reviewer must never observe one without the other.
	Override *model.HumanOverride
}

// ApplyReviewTx applies a review transition atomically: status, final action,
// decider, decided-at, and (for overrides) the override row commit together
// or not at all. The clientID filter makes cross-tenant decisions look
// absent. Returns ErrNotFound when no row matched.
//
// There is deliberately no status precondition: re-reviewing an
// already-terminal decision applies the new transition over the old one.
func (db *DB) ApplyReviewTx(ctx context.Context, decisionID uuid.UUID, clientID *uuid.UUID, upd ReviewUpdate) (model.Decision, error) {
	if upd.Override != nil && upd.Override.ID == uuid.Nil {
		upd.Override.ID = uuid.New()
	}
	err := withTxRetry(ctx, func() error {
		return db.applyReview(ctx, decisionID, clientID, upd)
	})
	if err != nil {
		return model.Decision{}, err
	}
	return db.GetDecision(ctx, decisionID, clientID)
}

func (db *DB) applyReview(ctx context.Context, decisionID uuid.UUID, clientID *uuid.UUID, upd ReviewUpdate) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin review tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	query := `UPDATE decisions SET status = $1, final_action = $2, decided_by = $3, decided_at = $4
		 WHERE id = $5`
	args := []any{upd.Status, upd.FinalAction, upd.DecidedBy, now, decisionID}
	if clientID != nil {
		query += ` AND client_id = $6`
		args = append(args, *clientID)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("storage: update decision status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if upd.Override != nil {
		o := upd.Override
		o.DecisionID = decisionID
		o.CreatedAt = now
		if _, err := tx.Exec(ctx,
			`INSERT INTO human_overrides (id, decision_id, user_id, action, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.DecisionID, o.UserID, o.Action, o.Reason, o.CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: insert override: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit review: %w", err)
	}
	return nil
}

// GetDecision retrieves a decision with its snapshot, overrides, outgoing
// links, subject entity, and decider identity. When clientID is non-nil a
// decision belonging to another client resolves as ErrNotFound — existence
// never leaks across tenants.
func (db *DB) GetDecision(ctx context.Context, id uuid.UUID, clientID *uuid.UUID) (model.Decision, error) {
	query := `SELECT id, client_id, subject_entity_id, deal_id, context_key, kind, status, urgency,
		 recommended_action, recommended_confidence, suggested_conditions, final_action,
		 decided_by, created_at, decided_at
		 FROM decisions WHERE id = $1`
	args := []any{id}
	if clientID != nil {
		query += ` AND client_id = $2`
		args = append(args, *clientID)
	}

	var d model.Decision
	err := db.pool.QueryRow(ctx, query, args...).Scan(
		&d.ID, &d.ClientID, &d.SubjectEntityID, &d.DealID, &d.ContextKey, &d.Kind, &d.Status,
		&d.Urgency, &d.RecommendedAct, &d.RecommendedConf, &d.SuggestedConditions, &d.FinalAction,
		&d.DecidedBy, &d.CreatedAt, &d.DecidedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("storage: get decision: %w", err)
	}

	snap, err := db.getSnapshot(ctx, d.ID)
	if err != nil {
		return model.Decision{}, err
	}
	d.Snapshot = snap

	if d.Overrides, err = db.GetOverridesByDecision(ctx, d.ID); err != nil {
		return model.Decision{}, err
	}
	if d.Links, err = db.GetLinksFrom(ctx, d.ID); err != nil {
		return model.Decision{}, err
	}

	subject, err := db.GetSubjectEntity(ctx, d.ClientID, d.SubjectEntityID)
	if err == nil {
		d.Subject = &subject
	} else if !errors.Is(err, ErrNotFound) {
		return model.Decision{}, err
	}

	if d.DecidedBy != nil {
		decider, err := db.GetUser(ctx, *d.DecidedBy)
		if err == nil {
			d.Decider = &decider
		} else if !errors.Is(err, ErrNotFound) {
			return model.Decision{}, err
		}
	}

	return d, nil
}

func (db *DB) getSnapshot(ctx context.Context, decisionID uuid.UUID) (*model.ContextSnapshot, error) {
	var s model.ContextSnapshot
	err := db.pool.QueryRow(ctx,
		`SELECT id, decision_id, signals, rationale, model_id, latency_ms, created_at
		 FROM context_snapshots WHERE decision_id = $1`, decisionID,
	).Scan(&s.ID, &s.DecisionID, &s.Signals, &s.Rationale, &s.ModelID, &s.LatencyMs, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get snapshot: %w", err)
	}
	return &s, nil
}

// GetOverridesByDecision returns the override trail for a decision, oldest first.
func (db *DB) GetOverridesByDecision(ctx context.Context, decisionID uuid.UUID) ([]model.HumanOverride, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, decision_id, user_id, action, reason, created_at
		 FROM human_overrides WHERE decision_id = $1 ORDER BY created_at`, decisionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get overrides: %w", err)
	}
	defer rows.Close()

	var overrides []model.HumanOverride
	for rows.Next() {
		var o model.HumanOverride
		if err := rows.Scan(&o.ID, &o.DecisionID, &o.UserID, &o.Action, &o.Reason, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// ListDecisions executes a filtered, paginated, client-scoped query.
func (db *DB) ListDecisions(ctx context.Context, clientID uuid.UUID, f model.DecisionFilters, limit, offset int) ([]model.Decision, int, error) {
	where, args := buildDecisionWhereClause(clientID, f, 1)

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM decisions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count decisions: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(
		`SELECT id, client_id, subject_entity_id, deal_id, context_key, kind, status, urgency,
		 recommended_action, recommended_confidence, suggested_conditions, final_action,
		 decided_by, created_at, decided_at
		 FROM decisions%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		where, limit, offset,
	)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []model.Decision
	for rows.Next() {
		var d model.Decision
		if err := rows.Scan(
			&d.ID, &d.ClientID, &d.SubjectEntityID, &d.DealID, &d.ContextKey, &d.Kind, &d.Status,
			&d.Urgency, &d.RecommendedAct, &d.RecommendedConf, &d.SuggestedConditions, &d.FinalAction,
			&d.DecidedBy, &d.CreatedAt, &d.DecidedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, total, rows.Err()
}

func buildDecisionWhereClause(clientID uuid.UUID, f model.DecisionFilters, startArgIdx int) (string, []any) {
	conditions := []string{fmt.Sprintf("client_id = $%d", startArgIdx)}
	args := []any{clientID}
	idx := startArgIdx + 1

	if f.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", idx))
		args = append(args, *f.Kind)
		idx++
	}
	if f.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", idx))
		args = append(args, *f.Status)
		idx++
	}
	if f.SubjectEntityID != nil {
		conditions = append(conditions, fmt.Sprintf("subject_entity_id = $%d", idx))
		args = append(args, *f.SubjectEntityID)
		idx++
	}
	if f.ContextKey != nil {
		conditions = append(conditions, fmt.Sprintf("context_key = $%d", idx))
		args = append(args, *f.ContextKey)
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}
