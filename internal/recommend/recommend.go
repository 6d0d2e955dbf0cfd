// Package recommend produces the AI recommendation a decision is created with.
//
// The contract with the decision engine is strict: Recommend never fails.
// Missing credentials, provider errors, timeouts, and malformed provider
// output all degrade to the fallback shape (review_manually / low), so a
// decision record is always producible. A PROPOSED decision flagged for
// manual review is a valid outcome, not an error.
package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/signals"
)

// Recommendation is the shape the engine persists onto a new decision.
type Recommendation struct {
	Action              model.RecommendedAction `json:"action"`
	Confidence          model.Confidence        `json:"confidence"`
	Rationale           []string                `json:"rationale"`
	SuggestedConditions []string                `json:"suggested_conditions,omitempty"`
	ModelID             string                  `json:"model_id"`
	LatencyMs           int64                   `json:"latency_ms"`
	Degraded            bool                    `json:"degraded"`
}

// RationaleText joins the rationale lines for snapshot storage.
func (r Recommendation) RationaleText() string {
	out := ""
	for i, line := range r.Rationale {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

// Engine produces recommendations. Implementations must not return errors.
type Engine interface {
	Recommend(ctx context.Context, entity model.SubjectEntity, bundle signals.Bundle, kind model.DecisionKind, dealAmount *float64) Recommendation
}

// Fallback builds the degraded recommendation with a reason the reviewer
// can read.
func Fallback(reason string) Recommendation {
	return Recommendation{
		Action:     model.ActionReviewManually,
		Confidence: model.ConfidenceLow,
		Rationale: []string{
			"Automatic recommendation unavailable: " + reason,
			"Decision routed to manual review.",
		},
		ModelID:  "fallback",
		Degraded: true,
	}
}

// Config selects and parameterizes the provider. Injected explicitly so
// tests can run with deterministic fakes instead of ad-hoc env reads.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewEngine selects a provider from config: an OpenAI-compatible chat
// provider when an API key is configured, otherwise a fallback-only engine.
func NewEngine(cfg Config, logger *slog.Logger) Engine {
	if cfg.APIKey == "" {
		logger.Info("recommend: no API key configured, all decisions will be routed to manual review")
		return fallbackEngine{reason: "no recommender credentials configured"}
	}
	return NewOpenAIEngine(cfg, logger)
}

// fallbackEngine always returns the degraded shape.
type fallbackEngine struct {
	reason string
}

func (e fallbackEngine) Recommend(_ context.Context, _ model.SubjectEntity, _ signals.Bundle, _ model.DecisionKind, _ *float64) Recommendation {
	return Fallback(e.reason)
}

// validate normalizes a provider response into the contract shape. A response
// outside the enumerations is treated as malformed.
func validate(r Recommendation) error {
	switch r.Action {
	case model.ActionApprove, model.ActionApproveWithConditions, model.ActionReject, model.ActionReviewManually:
	default:
		return fmt.Errorf("recommend: unrecognized action %q", r.Action)
	}
	switch r.Confidence {
	case model.ConfidenceLow, model.ConfidenceMedium, model.ConfidenceHigh:
	default:
		return fmt.Errorf("recommend: unrecognized confidence %q", r.Confidence)
	}
	if len(r.Rationale) == 0 {
		return fmt.Errorf("recommend: empty rationale")
	}
	return nil
}
