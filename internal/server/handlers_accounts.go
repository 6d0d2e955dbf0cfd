package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/authz"
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/service/accounts"
	"github.com/arbiterhq/arbiter/internal/tenant"
)

// HandleCreateUser handles POST /v1/users (admin only).
func (h *Handlers) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	user, err := h.accountsSvc.CreateUser(r.Context(), accounts.CreateUserInput{
		Email:  req.Email,
		Name:   req.Name,
		Secret: req.Secret,
	})
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrInvalidEmail), errors.Is(err, accounts.ErrWeakSecret):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		default:
			h.writeServiceError(w, r, err)
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, user)
}

// HandleCreateMembership handles POST /v1/memberships. Admin credentials may
// attach users to any client; owners may attach users to their own client.
func (h *Handlers) HandleCreateMembership(w http.ResponseWriter, r *http.Request) {
	var req model.CreateMembershipRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if req.UserID == uuid.Nil || req.ClientID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user_id and client_id are required")
		return
	}

	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return
	}
	if !authz.CanManageMembers(scope) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "managing memberships requires the owner role")
		return
	}
	if !scope.Admin && scope.ClientID != req.ClientID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "cannot manage memberships for another client")
		return
	}

	membership, err := h.accountsSvc.AddMembership(r.Context(), accounts.MembershipInput{
		UserID:   req.UserID,
		ClientID: req.ClientID,
		Role:     req.Role,
	})
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidRole) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, membership)
}
