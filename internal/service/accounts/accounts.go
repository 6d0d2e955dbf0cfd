// Package accounts provisions users and memberships.
//
// Decisions can only be reviewed by a user identity, so a deployment needs a
// way to create users and attach them to clients without touching SQL. The
// HTTP admin surface delegates here.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/storage"
)

// Sentinel errors returned by validation.
var (
	ErrInvalidEmail = errors.New("accounts: invalid email format")
	ErrWeakSecret   = errors.New("accounts: secret must be at least 12 characters with uppercase, lowercase, and digit")
	ErrInvalidRole  = errors.New("accounts: unrecognized membership role")
)

// Service handles user and membership provisioning.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates an accounts service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// CreateUserInput is the validated input for user creation.
type CreateUserInput struct {
	Email  string
	Name   string
	Secret string
}

// CreateUser validates the input, hashes the secret, and inserts the user.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (model.User, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if err := validateEmail(email); err != nil {
		return model.User{}, err
	}
	if err := validateSecret(input.Secret); err != nil {
		return model.User{}, err
	}

	hash, err := auth.HashSecret(input.Secret)
	if err != nil {
		return model.User{}, fmt.Errorf("accounts: hash secret: %w", err)
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = email
	}

	user, err := s.db.CreateUser(ctx, model.User{Email: email, Name: name}, hash)
	if err != nil {
		return model.User{}, err
	}

	s.logger.Info("user created", "user_id", user.ID, "email", user.Email)
	return user, nil
}

// MembershipInput is the validated input for attaching a user to a client.
type MembershipInput struct {
	UserID   uuid.UUID
	ClientID uuid.UUID
	Role     model.MembershipRole
}

// AddMembership attaches a user to a client with the given role. The
// membership is active immediately; there is no invitation flow.
func (s *Service) AddMembership(ctx context.Context, input MembershipInput) (model.Membership, error) {
	role := input.Role
	if role == "" {
		role = model.RoleReviewer
	}
	if !role.Valid() {
		return model.Membership{}, fmt.Errorf("%w: %q", ErrInvalidRole, input.Role)
	}

	m, err := s.db.CreateMembership(ctx, model.Membership{
		UserID:   input.UserID,
		ClientID: input.ClientID,
		Role:     role,
		Status:   model.MembershipActive,
	})
	if err != nil {
		return model.Membership{}, err
	}

	s.logger.Info("membership created",
		"user_id", m.UserID, "client_id", m.ClientID, "role", m.Role)
	return m, nil
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func validateSecret(secret string) error {
	if len(secret) < 12 {
		return ErrWeakSecret
	}
	var hasUpper, hasLower, hasDigit bool
	for _, c := range secret {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsDigit(c):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return ErrWeakSecret
	}
	return nil
}
