package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/auth"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/policy"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)

// bcrypt ignores everything past 72 bytes
const maxPasswordBytes = 72

// TokenIssuer signs a session token for a user
type TokenIssuer func(userID string, role models.GlobalRole, ttl time.Duration) (string, error)

// AccountService handles signup, login and global-role administration
type AccountService struct {
	users      UserStore
	issue      TokenIssuer
	tokenTTL   time.Duration
	bcryptCost int
	dummyHash  string
}

// NewAccountService creates a new account service
func NewAccountService(users UserStore, issue TokenIssuer, tokenTTL time.Duration, bcryptCost int) (*AccountService, error) {
	// compared against when the username is unknown so both paths cost one bcrypt check
	dummy, err := auth.HashPassword("fieldops-timing-equalizer", bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare password hasher: %w", err)
	}
	return &AccountService{
		users:      users,
		issue:      issue,
		tokenTTL:   tokenTTL,
		bcryptCost: bcryptCost,
		dummyHash:  dummy,
	}, nil
}

// SignupInput is the payload for Signup
type SignupInput struct {
	Username string
	Email    string
	Password string
}

// Signup creates a team-less account with the user global role
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(in.Username) {
		return nil, apperr.Invalid("username must be 3-64 letters, digits, '.', '_' or '-'")
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Name != "" {
		return nil, apperr.Invalid("email must be a plain email address")
	}
	if len(in.Password) < auth.MinPasswordLength || len(in.Password) > maxPasswordBytes {
		return nil, apperr.Invalid("password must be between %d and %d characters", auth.MinPasswordLength, maxPasswordBytes)
	}

	email := models.NormalizeEmail(addr.Address)
	if existing, err := s.users.GetUserByUsername(ctx, in.Username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: username taken", apperr.ErrConflict)
	}
	if existing, err := s.users.GetUserByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     in.Username,
		Email:        email,
		PasswordHash: hash,
		Role:         models.GlobalRoleUser,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "user signed up", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// LoginResult is a signed session token and the account it was issued for
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Login verifies credentials and issues a session token. Unknown usernames and wrong
// passwords fail identically.
func (s *AccountService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if user == nil {
		auth.CheckPassword(password, s.dummyHash)
		return nil, fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthenticated)
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		slog.WarnContext(ctx, "login failed", "user_id", user.ID)
		return nil, fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthenticated)
	}

	token, err := s.issue(user.ID, user.Role, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: time.Now().Add(s.tokenTTL), User: user}, nil
}

// ResolveContext loads the authorization context of an authenticated user id.
// Team and roles are read fresh so a revoked membership takes effect immediately.
func (s *AccountService) ResolveContext(ctx context.Context, userID string) (*policy.Context, *models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, apperr.ErrUnauthenticated
	}
	return policy.ContextFor(user), user, nil
}

// ListUsers returns a page of accounts. Global admins only.
func (s *AccountService) ListUsers(ctx context.Context, caller *policy.Context, limit, offset int) ([]*models.User, int, error) {
	if err := authorize(caller, policy.GlobalRoleIn(models.GlobalRoleAdmin)); err != nil {
		return nil, 0, err
	}
	return s.users.ListUsers(ctx, limit, offset)
}

// SetGlobalRole changes targetID's account-wide role. Global admins only; admins cannot
// demote themselves.
func (s *AccountService) SetGlobalRole(ctx context.Context, caller *policy.Context, targetID string, role models.GlobalRole) (*models.User, error) {
	if err := authorize(caller, policy.GlobalRoleIn(models.GlobalRoleAdmin)); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperr.Invalid("unknown global role %q", role)
	}
	if caller.UserID == targetID && role != models.GlobalRoleAdmin {
		return nil, fmt.Errorf("%w: cannot demote yourself", apperr.ErrInvalidRoleChange)
	}
	if err := s.users.SetGlobalRole(ctx, targetID, role); err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user", apperr.ErrNotFound)
	}
	slog.InfoContext(ctx, "global role changed", "user_id", targetID, "role", role, "by", caller.UserID)
	return user, nil
}
