// Package mcp implements the Model Context Protocol server for Arbiter.
//
// The MCP server exposes the decision lifecycle through MCP tools, sharing
// the same service layer as the HTTP API so MCP-driven agents observe the
// exact semantics human operators do.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/arbiterhq/arbiter/internal/authz"
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/service/decisions"
	"github.com/arbiterhq/arbiter/internal/tenant"
)

// Server wraps the MCP server with Arbiter's service layer.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	decisionSvc *decisions.Service
	logger      *slog.Logger
}

// New creates and configures a new MCP server with all tools.
func New(decisionSvc *decisions.Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		decisionSvc: decisionSvc,
		logger:      logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"arbiter",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// record_decision — create a decision with an AI recommendation.
	s.mcpServer.AddTool(
		mcplib.NewTool("record_decision",
			mcplib.WithDescription(`Record a business decision about a subject entity.

The engine resolves the entity idempotently by your external identifier,
gathers public signals, produces an AI recommendation, and returns the
decision in PROPOSED status awaiting human review. Repeating a request
with the same external identifiers never duplicates the entity.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("subject_external_id",
				mcplib.Description("Your identifier for the subject entity (e.g. CRM account id)"),
				mcplib.Required(),
			),
			mcplib.WithString("subject_name",
				mcplib.Description("Display name of the subject entity"),
				mcplib.Required(),
			),
			mcplib.WithString("kind",
				mcplib.Description("Decision kind: DISCOUNT, ONBOARDING, PAYMENT_TERMS, CREDIT_EXTENSION, PARTNERSHIP, RENEWAL, ESCALATION, or CUSTOM"),
				mcplib.Required(),
			),
			mcplib.WithString("domain", mcplib.Description("Subject entity website domain")),
			mcplib.WithString("industry", mcplib.Description("Subject entity industry")),
			mcplib.WithString("country", mcplib.Description("Subject entity country code")),
			mcplib.WithString("external_deal_id", mcplib.Description("Your identifier for the related deal, if any")),
			mcplib.WithNumber("deal_amount", mcplib.Description("Deal amount, if any")),
			mcplib.WithString("context_key", mcplib.Description("Free-form key grouping related decisions")),
			mcplib.WithString("urgency", mcplib.Description("low, normal, high, or critical")),
		),
		s.handleRecordDecision,
	)

	// review_decision — apply a human review transition.
	s.mcpServer.AddTool(
		mcplib.NewTool("review_decision",
			mcplib.WithDescription(`Apply a review transition to a decision.

Actions: approve (accept the recommendation), reject, override (replace
the recommendation with your own final action), escalate. Overrides
append an immutable audit record in the same transaction as the status
change. Requires a session credential tied to a user.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("decision_id",
				mcplib.Description("UUID of the decision to review"),
				mcplib.Required(),
			),
			mcplib.WithString("action",
				mcplib.Description("approve, reject, override, or escalate"),
				mcplib.Required(),
			),
			mcplib.WithString("note", mcplib.Description("Reviewer note; stored on override records")),
			mcplib.WithString("final_action", mcplib.Description("For overrides: the final action text to record")),
		),
		s.handleReviewDecision,
	)

	// get_decision — fetch a decision with its full context.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_decision",
			mcplib.WithDescription("Fetch a decision with its context snapshot, overrides, links, and subject entity."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("decision_id",
				mcplib.Description("UUID of the decision"),
				mcplib.Required(),
			),
		),
		s.handleGetDecision,
	)
}

func (s *Server) handleRecordDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	scope, ok := tenant.FromContext(ctx)
	if !ok {
		return errorResult("no authenticated scope"), nil
	}
	if scope.ClientID == uuid.Nil {
		return errorResult("admin credentials must select a client via the X-Arbiter-Client header"), nil
	}

	req := model.CreateDecisionRequest{
		Subject: model.SubjectEntityInput{
			ExternalID: request.GetString("subject_external_id", ""),
			Name:       request.GetString("subject_name", ""),
			Domain:     optString(request.GetString("domain", "")),
			Industry:   optString(request.GetString("industry", "")),
			Country:    optString(request.GetString("country", "")),
		},
		Kind:       model.DecisionKind(request.GetString("kind", "")),
		ContextKey: optString(request.GetString("context_key", "")),
		Urgency:    model.Urgency(request.GetString("urgency", "")),
	}

	externalDealID := request.GetString("external_deal_id", "")
	dealAmount := request.GetFloat("deal_amount", 0)
	if externalDealID != "" || dealAmount > 0 {
		deal := model.DealInput{ExternalDealID: optString(externalDealID)}
		if dealAmount > 0 {
			deal.Amount = &dealAmount
		}
		req.Deal = &deal
	}

	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	decision, err := s.decisionSvc.Create(ctx, scope.ClientID, req)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to record decision: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"decision_id":            decision.ID,
		"status":                 decision.Status,
		"recommended_action":     decision.RecommendedAct,
		"recommended_confidence": decision.RecommendedConf,
		"suggested_conditions":   decision.SuggestedConditions,
		"rationale":              snapshotRationale(decision),
	}), nil
}

func (s *Server) handleReviewDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	scope, ok := tenant.FromContext(ctx)
	if !ok {
		return errorResult("no authenticated scope"), nil
	}
	if !authz.CanReview(scope) {
		return errorResult("review requires a user session with the reviewer role"), nil
	}

	decisionID, err := uuid.Parse(request.GetString("decision_id", ""))
	if err != nil {
		return errorResult("decision_id must be a UUID"), nil
	}

	req := model.ReviewDecisionRequest{
		Action:      model.ReviewAction(request.GetString("action", "")),
		Note:        optString(request.GetString("note", "")),
		FinalAction: optString(request.GetString("final_action", "")),
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	decision, err := s.decisionSvc.Review(ctx, decisionID, clientFilter(scope), *scope.UserID, req)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to review decision: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"decision_id":  decision.ID,
		"status":       decision.Status,
		"final_action": decision.FinalAction,
		"decided_at":   decision.DecidedAt,
	}), nil
}

func (s *Server) handleGetDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	scope, ok := tenant.FromContext(ctx)
	if !ok {
		return errorResult("no authenticated scope"), nil
	}

	decisionID, err := uuid.Parse(request.GetString("decision_id", ""))
	if err != nil {
		return errorResult("decision_id must be a UUID"), nil
	}

	decision, err := s.decisionSvc.Get(ctx, decisionID, clientFilter(scope))
	if err != nil {
		return errorResult(fmt.Sprintf("failed to get decision: %v", err)), nil
	}

	return jsonResult(decision), nil
}

func clientFilter(scope tenant.Scope) *uuid.UUID {
	if scope.ClientID == uuid.Nil {
		return nil
	}
	id := scope.ClientID
	return &id
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func snapshotRationale(d model.Decision) string {
	if d.Snapshot == nil {
		return ""
	}
	return d.Snapshot.Rationale
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
