// Package decisions provides the shared business logic for decision operations.
//
// Both the HTTP API and MCP server delegate to this service, eliminating
// duplicated logic and ensuring consistent behavior (entity resolution,
// signal gathering, recommendation, transactional writes) across all
// interfaces.
package decisions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/recommend"
	"github.com/arbiterhq/arbiter/internal/signals"
	"github.com/arbiterhq/arbiter/internal/storage"
	"github.com/arbiterhq/arbiter/internal/telemetry"
)

var (
	// ErrInvalidAction means the review action is not one of the four verbs.
	ErrInvalidAction = errors.New("decisions: invalid review action")
	// ErrInactiveClient means the client exists but is deactivated.
	ErrInactiveClient = errors.New("decisions: client is inactive")
	// ErrReviewerRequired means a review was attempted without a user identity.
	ErrReviewerRequired = errors.New("decisions: review requires a user identity")
)

// Service encapsulates decision business logic shared by HTTP and MCP handlers.
type Service struct {
	db          *storage.DB
	gatherer    signals.Gatherer
	recommender recommend.Engine
	logger      *slog.Logger

	gatherDuration    metric.Float64Histogram
	recommendDuration metric.Float64Histogram
}

// New creates a new decision Service.
func New(db *storage.DB, gatherer signals.Gatherer, recommender recommend.Engine, logger *slog.Logger) *Service {
	meter := telemetry.Meter("arbiter/decisions")
	gatherDur, _ := meter.Float64Histogram("arbiter.gather.duration",
		metric.WithDescription("Time to gather subject entity signals (ms)"),
		metric.WithUnit("ms"),
	)
	recDur, _ := meter.Float64Histogram("arbiter.recommend.duration",
		metric.WithDescription("Time to produce a recommendation (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		db:                db,
		gatherer:          gatherer,
		recommender:       recommender,
		logger:            logger,
		gatherDuration:    gatherDur,
		recommendDuration: recDur,
	}
}

// Create records a new decision: resolves the subject entity idempotently,
// resolves the optional deal, gathers signals, produces a recommendation,
// and writes the decision with its context snapshot in one transaction.
//
// Signal gathering and recommendation are best-effort. Their failure modes
// degrade the recommendation to manual review; they never fail the request.
func (s *Service) Create(ctx context.Context, clientID uuid.UUID, req model.CreateDecisionRequest) (model.Decision, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("arbiter.client_id", clientID.String()),
		attribute.String("arbiter.decision_kind", string(req.Kind)),
	)

	client, err := s.db.GetClient(ctx, clientID)
	if err != nil {
		return model.Decision{}, fmt.Errorf("decisions: load client: %w", err)
	}
	if !client.Active {
		return model.Decision{}, ErrInactiveClient
	}

	entity, err := s.db.UpsertSubjectEntity(ctx, model.SubjectEntity{
		ClientID:   clientID,
		ExternalID: req.Subject.ExternalID,
		Name:       req.Subject.Name,
		Domain:     req.Subject.Domain,
		Industry:   req.Subject.Industry,
		Country:    req.Subject.Country,
		Metadata:   req.Subject.Metadata,
	})
	if err != nil {
		return model.Decision{}, fmt.Errorf("decisions: resolve subject entity: %w", err)
	}

	var dealID *uuid.UUID
	var dealAmount *float64
	if req.Deal != nil {
		deal, err := s.resolveDeal(ctx, entity.ID, *req.Deal)
		if err != nil {
			return model.Decision{}, err
		}
		dealID = &deal.ID
		dealAmount = deal.Amount
	}

	gatherStart := time.Now()
	bundle := s.gatherer.Gather(ctx, entity)
	s.gatherDuration.Record(ctx, float64(time.Since(gatherStart).Milliseconds()))

	recStart := time.Now()
	rec := s.recommender.Recommend(ctx, entity, bundle, req.Kind, dealAmount)
	s.recommendDuration.Record(ctx, float64(time.Since(recStart).Milliseconds()))
	if rec.Degraded {
		s.logger.Warn("create: recommendation degraded to manual review",
			"client_id", clientID, "subject_external_id", entity.ExternalID)
	}

	action := rec.Action
	conf := rec.Confidence
	d := model.Decision{
		ClientID:            clientID,
		SubjectEntityID:     entity.ID,
		DealID:              dealID,
		ContextKey:          req.ContextKey,
		Kind:                req.Kind,
		Status:              model.StatusProposed,
		Urgency:             req.Urgency,
		RecommendedAct:      &action,
		RecommendedConf:     &conf,
		SuggestedConditions: rec.SuggestedConditions,
	}
	snap := model.ContextSnapshot{
		Signals:   bundle.Map(),
		Rationale: rec.RationaleText(),
		ModelID:   rec.ModelID,
		LatencyMs: rec.LatencyMs,
	}

	created, err := s.db.CreateDecisionTx(ctx, d, snap)
	if err != nil {
		return model.Decision{}, err
	}
	created.Subject = &entity

	s.logger.Info("decision recorded",
		"decision_id", created.ID,
		"client_id", clientID,
		"kind", created.Kind,
		"recommended_action", action,
		"confidence", conf,
	)
	return created, nil
}

// resolveDeal reuses a deal by (subject entity, external deal id) when the
// caller provides one; otherwise every request inserts a fresh deal row.
func (s *Service) resolveDeal(ctx context.Context, entityID uuid.UUID, in model.DealInput) (model.Deal, error) {
	if in.ExternalDealID != nil && *in.ExternalDealID != "" {
		existing, err := s.db.FindDealByExternalID(ctx, entityID, *in.ExternalDealID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return model.Deal{}, fmt.Errorf("decisions: find deal: %w", err)
		}
	}
	deal, err := s.db.CreateDeal(ctx, model.Deal{
		SubjectEntity:  entityID,
		ExternalDealID: in.ExternalDealID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		Stage:          in.Stage,
		Metadata:       in.Metadata,
	})
	if err != nil {
		return model.Deal{}, fmt.Errorf("decisions: create deal: %w", err)
	}
	return deal, nil
}

// Review applies a human review transition. reviewerID identifies the user
// making the call; API-key callers without a user identity cannot review.
// clientID scopes the lookup; cross-tenant decisions resolve as not found.
//
// The transition table:
//
//	approve  -> APPROVED,   final action = recommended action (or "approved")
//	reject   -> REJECTED,   final action = "rejected"
//	override -> OVERRIDDEN, final action = caller text (or "overridden"),
//	            plus an override row in the same transaction
//	escalate -> ESCALATED,  final action = "escalated"
func (s *Service) Review(ctx context.Context, decisionID uuid.UUID, clientID *uuid.UUID, reviewerID uuid.UUID, req model.ReviewDecisionRequest) (model.Decision, error) {
	if reviewerID == uuid.Nil {
		return model.Decision{}, ErrReviewerRequired
	}

	current, err := s.db.GetDecision(ctx, decisionID, clientID)
	if err != nil {
		return model.Decision{}, err
	}

	upd := storage.ReviewUpdate{DecidedBy: reviewerID}
	switch req.Action {
	case model.ReviewApprove:
		upd.Status = model.StatusApproved
		if current.RecommendedAct != nil {
			upd.FinalAction = string(*current.RecommendedAct)
		} else {
			upd.FinalAction = "approved"
		}
	case model.ReviewReject:
		upd.Status = model.StatusRejected
		upd.FinalAction = "rejected"
	case model.ReviewOverride:
		upd.Status = model.StatusOverridden
		upd.FinalAction = "overridden"
		if req.FinalAction != nil && *req.FinalAction != "" {
			upd.FinalAction = *req.FinalAction
		}
		upd.Override = &model.HumanOverride{
			UserID: reviewerID,
			Action: upd.FinalAction,
			Reason: req.Note,
		}
	case model.ReviewEscalate:
		upd.Status = model.StatusEscalated
		upd.FinalAction = "escalated"
	default:
		return model.Decision{}, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}

	reviewed, err := s.db.ApplyReviewTx(ctx, decisionID, clientID, upd)
	if err != nil {
		return model.Decision{}, err
	}

	s.logger.Info("decision reviewed",
		"decision_id", decisionID,
		"action", req.Action,
		"status", reviewed.Status,
		"reviewer_id", reviewerID,
	)
	return reviewed, nil
}

// Get retrieves a decision with snapshot, overrides, links, subject entity,
// and decider. A nil clientID (admin scope) reads across tenants.
func (s *Service) Get(ctx context.Context, decisionID uuid.UUID, clientID *uuid.UUID) (model.Decision, error) {
	return s.db.GetDecision(ctx, decisionID, clientID)
}

// List returns a page of the client's decisions, newest first.
func (s *Service) List(ctx context.Context, clientID uuid.UUID, f model.DecisionFilters, limit, offset int) ([]model.Decision, int, error) {
	return s.db.ListDecisions(ctx, clientID, f, limit, offset)
}

// Link records a directed relationship between two decisions. Both ends must
// resolve within the caller's scope. Inserting an existing (from, to, type)
// triple succeeds without effect; the bool reports whether a row was created.
func (s *Service) Link(ctx context.Context, fromID uuid.UUID, clientID *uuid.UUID, req model.LinkDecisionRequest) (model.DecisionLink, bool, error) {
	if !req.LinkType.Valid() {
		return model.DecisionLink{}, false, fmt.Errorf("%w: link type %q", ErrInvalidAction, req.LinkType)
	}
	if _, err := s.db.GetDecision(ctx, fromID, clientID); err != nil {
		return model.DecisionLink{}, false, err
	}
	if _, err := s.db.GetDecision(ctx, req.ToDecisionID, clientID); err != nil {
		return model.DecisionLink{}, false, err
	}

	link, created, err := s.db.InsertLink(ctx, model.DecisionLink{
		FromDecisionID: fromID,
		ToDecisionID:   req.ToDecisionID,
		LinkType:       req.LinkType,
		Confidence:     req.Confidence,
		Notes:          req.Notes,
	})
	if err != nil {
		return model.DecisionLink{}, false, err
	}
	if !created {
		s.logger.Debug("link already present",
			"from_decision_id", fromID, "to_decision_id", req.ToDecisionID, "link_type", req.LinkType)
	}
	return link, created, nil
}
