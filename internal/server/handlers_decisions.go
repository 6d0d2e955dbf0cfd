package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/authz"
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/tenant"
)

// HandleCreateDecision handles POST /v1/decisions.
func (h *Handlers) HandleCreateDecision(w http.ResponseWriter, r *http.Request) {
	scope, _ := tenant.FromContext(r.Context())

	var req model.CreateDecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	clientID := scope.ClientID
	if req.ClientID != nil {
		switch {
		case clientID == uuid.Nil && scope.Admin:
			clientID = *req.ClientID
		case *req.ClientID != clientID:
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "client_id does not match credential scope")
			return
		}
	}
	if clientID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "client_id is required for admin credentials")
		return
	}

	decision, err := h.decisionSvc.Create(r.Context(), clientID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, decision)
}

// HandleReviewDecision handles POST /v1/decisions/{decision_id}/review.
func (h *Handlers) HandleReviewDecision(w http.ResponseWriter, r *http.Request) {
	scope, _ := tenant.FromContext(r.Context())

	decisionID, err := uuid.Parse(r.PathValue("decision_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}

	var req model.ReviewDecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if !authz.CanReview(scope) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "review requires a user session with the reviewer role")
		return
	}

	decision, err := h.decisionSvc.Review(r.Context(), decisionID, scopeClientFilter(scope), *scope.UserID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, decision)
}

// HandleGetDecision handles GET /v1/decisions/{decision_id}.
func (h *Handlers) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	scope, _ := tenant.FromContext(r.Context())

	decisionID, err := uuid.Parse(r.PathValue("decision_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}

	decision, err := h.decisionSvc.Get(r.Context(), decisionID, scopeClientFilter(scope))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, decision)
}

// HandleLinkDecision handles POST /v1/decisions/{decision_id}/links.
func (h *Handlers) HandleLinkDecision(w http.ResponseWriter, r *http.Request) {
	scope, _ := tenant.FromContext(r.Context())

	fromID, err := uuid.Parse(r.PathValue("decision_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}

	var req model.LinkDecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ToDecisionID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "to_decision_id is required")
		return
	}

	link, created, err := h.decisionSvc.Link(r.Context(), fromID, scopeClientFilter(scope), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, link)
}

// HandleListDecisions handles GET /v1/decisions.
func (h *Handlers) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	scope, _ := tenant.FromContext(r.Context())
	if scope.ClientID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "listing requires a client scope; set "+ClientHeader)
		return
	}

	q := r.URL.Query()
	var filters model.DecisionFilters
	if v := q.Get("kind"); v != "" {
		kind := model.DecisionKind(v)
		if !kind.Valid() {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unrecognized kind")
			return
		}
		filters.Kind = &kind
	}
	if v := q.Get("status"); v != "" {
		status := model.DecisionStatus(v)
		filters.Status = &status
	}
	if v := q.Get("subject_entity_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid subject_entity_id")
			return
		}
		filters.SubjectEntityID = &id
	}
	if v := q.Get("context_key"); v != "" {
		ck := v
		filters.ContextKey = &ck
	}

	limit := queryInt(q.Get("limit"), 50)
	offset := queryInt(q.Get("offset"), 0)

	items, total, err := h.decisionSvc.List(r.Context(), scope.ClientID, filters, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, items, total, limit, offset, len(items))
}

// scopeClientFilter converts a scope into the storage-level client filter.
// Admin scope without a selected client reads across tenants.
func scopeClientFilter(scope tenant.Scope) *uuid.UUID {
	if scope.ClientID == uuid.Nil {
		return nil
	}
	id := scope.ClientID
	return &id
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
