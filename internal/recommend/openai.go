package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/signals"
)

// OpenAIEngine asks an OpenAI-compatible chat completions endpoint for a
// structured recommendation. Every failure path returns the fallback shape;
// the engine's caller never sees an error.
type OpenAIEngine struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIEngine creates a provider with a fixed request timeout so a slow
// upstream degrades to the fallback instead of hanging decision creation.
func NewOpenAIEngine(cfg Config, logger *slog.Logger) *OpenAIEngine {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	mdl := cfg.Model
	if mdl == "" {
		mdl = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &OpenAIEngine{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      mdl,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float32       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// providerOutput is the JSON shape the model is instructed to produce.
type providerOutput struct {
	Action              string   `json:"action"`
	Confidence          string   `json:"confidence"`
	Rationale           []string `json:"rationale"`
	SuggestedConditions []string `json:"suggested_conditions"`
}

const systemPrompt = `You are a commercial decision analyst. Given a company profile,
gathered signals, and a decision kind, respond with strict JSON:
{"action": "approve"|"approve_with_conditions"|"reject"|"review_manually",
 "confidence": "low"|"medium"|"high",
 "rationale": ["..."],
 "suggested_conditions": ["..."]}
Recommend approve_with_conditions when approval needs safeguards. Use
review_manually whenever the signals are too thin to judge.`

// Recommend calls the provider. Never returns an error; all failures
// degrade to Fallback with a reason recorded in the rationale.
func (e *OpenAIEngine) Recommend(ctx context.Context, entity model.SubjectEntity, bundle signals.Bundle, kind model.DecisionKind, dealAmount *float64) Recommendation {
	start := time.Now()

	userPrompt, err := buildPrompt(entity, bundle, kind, dealAmount)
	if err != nil {
		e.logger.Warn("recommend: build prompt", "error", err)
		return Fallback("internal prompt assembly failure")
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		e.logger.Warn("recommend: marshal request", "error", err)
		return Fallback("internal request assembly failure")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		e.logger.Warn("recommend: create request", "error", err)
		return Fallback("internal request assembly failure")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Warn("recommend: provider unreachable", "error", err)
		return Fallback("recommendation provider unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		e.logger.Warn("recommend: provider error", "status", resp.StatusCode, "body", string(body))
		return Fallback(fmt.Sprintf("recommendation provider returned status %d", resp.StatusCode))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		e.logger.Warn("recommend: decode response", "error", err)
		return Fallback("malformed provider response")
	}
	if chat.Error != nil {
		e.logger.Warn("recommend: provider error", "type", chat.Error.Type, "message", chat.Error.Message)
		return Fallback("recommendation provider error: " + chat.Error.Type)
	}
	if len(chat.Choices) == 0 {
		return Fallback("provider returned no choices")
	}

	var out providerOutput
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &out); err != nil {
		e.logger.Warn("recommend: unmarshal model output", "error", err)
		return Fallback("malformed recommendation payload")
	}

	rec := Recommendation{
		Action:              model.RecommendedAction(out.Action),
		Confidence:          model.Confidence(out.Confidence),
		Rationale:           out.Rationale,
		SuggestedConditions: out.SuggestedConditions,
		ModelID:             e.model,
		LatencyMs:           time.Since(start).Milliseconds(),
	}
	if err := validate(rec); err != nil {
		e.logger.Warn("recommend: invalid recommendation shape", "error", err)
		return Fallback("recommendation outside contract: " + err.Error())
	}
	return rec
}

// buildPrompt flattens entity, signals, and deal context into the user message.
func buildPrompt(entity model.SubjectEntity, bundle signals.Bundle, kind model.DecisionKind, dealAmount *float64) (string, error) {
	payload := map[string]any{
		"decision_kind": kind,
		"entity": map[string]any{
			"name":     entity.Name,
			"domain":   entity.Domain,
			"industry": entity.Industry,
			"country":  entity.Country,
		},
		"signals": bundle.Map(),
	}
	if dealAmount != nil {
		payload["deal_amount"] = *dealAmount
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("recommend: marshal prompt payload: %w", err)
	}
	return string(raw), nil
}
