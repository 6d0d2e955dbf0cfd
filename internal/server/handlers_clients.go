package server

import (
	"net/http"
	"regexp"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/tenant"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// HandleCreateClient handles POST /v1/clients (admin only).
func (h *Handlers) HandleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req model.CreateClientRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "slug must be 3-64 lowercase alphanumeric characters or hyphens")
		return
	}
	plan := req.Plan
	if plan == "" {
		plan = "free"
	}

	client, err := h.db.CreateClient(r.Context(), model.Client{
		Name:   req.Name,
		Slug:   req.Slug,
		Domain: req.Domain,
		Plan:   plan,
		Active: true,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, client)
}

// HandleGetClient handles GET /v1/clients/{slug}.
// Non-admin callers can only read their own client.
func (h *Handlers) HandleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.db.GetClientBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	scope, _ := tenant.FromContext(r.Context())
	if !scope.Admin && scope.ClientID != client.ID {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
		return
	}
	writeJSON(w, r, http.StatusOK, client)
}
