package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/ratelimit"
	"github.com/arbiterhq/arbiter/internal/service/accounts"
	"github.com/arbiterhq/arbiter/internal/service/decisions"
	"github.com/arbiterhq/arbiter/internal/storage"
	"github.com/arbiterhq/arbiter/internal/tenant"
)

// Server is the Arbiter HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): DecisionLimiter, AuthLimiter, ReadLimiter,
// MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB          *storage.DB
	JWTMgr      *auth.JWTManager
	Resolver    *tenant.Resolver
	DecisionSvc *decisions.Service
	AccountsSvc *accounts.Service
	Logger      *slog.Logger

	// Optional dependencies (nil = disabled).
	DecisionLimiter ratelimit.Limiter
	AuthLimiter     ratelimit.Limiter
	ReadLimiter     ratelimit.Limiter
	MCPServer       *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		DecisionSvc:         cfg.DecisionSvc,
		AccountsSvc:         cfg.AccountsSvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return tenant.RequestIDFromContext(r.Context())
	}

	// Rate limit rules. Writes and reads key by client, auth by IP.
	writeRL := ratelimit.Middleware(cfg.DecisionLimiter, clientKeyFunc, reqIDFunc)
	readRL := ratelimit.Middleware(cfg.ReadLimiter, clientKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.AuthLimiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Decision lifecycle.
	mux.Handle("POST /v1/decisions", writeRL(http.HandlerFunc(h.HandleCreateDecision)))
	mux.Handle("POST /v1/decisions/{decision_id}/review", writeRL(http.HandlerFunc(h.HandleReviewDecision)))
	mux.Handle("POST /v1/decisions/{decision_id}/links", writeRL(http.HandlerFunc(h.HandleLinkDecision)))
	mux.Handle("GET /v1/decisions/{decision_id}", readRL(http.HandlerFunc(h.HandleGetDecision)))
	mux.Handle("GET /v1/decisions", readRL(http.HandlerFunc(h.HandleListDecisions)))

	// Client management (admin only).
	mux.Handle("POST /v1/clients", requireAdmin(http.HandlerFunc(h.HandleCreateClient)))
	mux.Handle("GET /v1/clients/{slug}", readRL(http.HandlerFunc(h.HandleGetClient)))

	// Account provisioning. User creation is platform-admin only; membership
	// management is open to client owners for their own client.
	mux.Handle("POST /v1/users", requireAdmin(http.HandlerFunc(h.HandleCreateUser)))
	mux.Handle("POST /v1/memberships", writeRL(http.HandlerFunc(h.HandleCreateMembership)))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", writeRL(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID -> security headers -> tracing -> logging -> auth -> recovery -> handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, cfg.Resolver, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// clientKeyFunc extracts the client ID from the request scope for rate
// limiting. Admin credentials are exempt.
func clientKeyFunc(r *http.Request) string {
	scope, ok := tenant.FromContext(r.Context())
	if !ok || scope.Admin {
		return ""
	}
	return "client:" + scope.ClientID.String()
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
