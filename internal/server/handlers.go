package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/service/accounts"
	"github.com/arbiterhq/arbiter/internal/service/decisions"
	"github.com/arbiterhq/arbiter/internal/storage"
	"github.com/arbiterhq/arbiter/internal/tenant"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	decisionSvc         *decisions.Service
	accountsSvc         *accounts.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	DecisionSvc         *decisions.Service
	AccountsSvc         *accounts.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		decisionSvc:         d.DecisionSvc,
		accountsSvc:         d.AccountsSvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token: exchanges email and secret for
// a session JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Email == "" || req.Secret == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "email and secret are required")
		return
	}

	user, secretHash, err := h.db.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifySecret(req.Secret, secretHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// SeedAdmin bootstraps the initial admin API key from configuration. Skipped
// when an active admin key already exists, so a restarted server never
// duplicates the credential.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	keys, err := h.db.ActiveAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: list api keys: %w", err)
	}
	for _, k := range keys {
		if k.Admin {
			h.logger.Info("admin api key already present, skipping admin seed")
			return nil
		}
	}

	if adminAPIKey == "" {
		return fmt.Errorf("seed admin: ARBITER_ADMIN_API_KEY is empty and no admin key exists; set it to bootstrap initial admin access")
	}

	prefix, err := model.ParseRawKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: ARBITER_ADMIN_API_KEY must look like arb_<prefix>_<secret>: %w", err)
	}
	hash, err := auth.HashSecret(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}
	if _, err := h.db.CreateAPIKey(ctx, model.APIKey{
		Name:    "bootstrap-admin",
		Prefix:  prefix,
		KeyHash: hash,
		Admin:   true,
		Active:  true,
	}); err != nil {
		return fmt.Errorf("seed admin: create key: %w", err)
	}

	h.logger.Info("admin api key seeded")
	return nil
}

// writeInternalError logs the cause and writes an opaque 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", tenant.RequestIDFromContext(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// writeServiceError maps service and storage errors onto the API envelope.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "resource already exists")
	case errors.Is(err, decisions.ErrInvalidAction):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidAction, err.Error())
	case errors.Is(err, decisions.ErrInactiveClient):
		writeError(w, r, http.StatusForbidden, model.ErrCodeInactiveClient, "client is inactive")
	case errors.Is(err, decisions.ErrReviewerRequired):
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "review requires a user identity")
	default:
		h.writeInternalError(w, r, "request failed", err)
	}
}
