// user_repository.go implements UserRepository: account lookups plus the team_id/team_role
// writes used by the membership store.
package repositories

import (
	"context"
	"fmt"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
)

const userColumns = `id, username, email, password_hash, role, team_id, team_role, created_at, updated_at`

var userConstraints = map[string]error{
	"users_username_lower_key":    apperr.ErrConflict,
	"users_email_lower_key":       apperr.ErrConflict,
	"users_single_owner_per_team": apperr.ErrConflict,
}

// UserRepository handles database operations for users
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	return r.getBy(ctx, "id = $1", id, false)
}

// GetUserForUpdate retrieves a user by ID and locks the row for the rest of the transaction
func (r *UserRepository) GetUserForUpdate(ctx context.Context, id string) (*models.User, error) {
	return r.getBy(ctx, "id = $1", id, true)
}

// GetUserByUsername retrieves a user by username, case-insensitively
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getBy(ctx, "lower(username) = lower($1)", username, false)
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, "lower(email) = lower($1)", email, false)
}

func (r *UserRepository) getBy(ctx context.Context, where string, arg any, lock bool) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	if lock {
		query = forUpdate(ctx, query)
	}

	user := &models.User{}
	found, err := r.db.getOne(ctx, user, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !found {
		return nil, nil
	}
	return user, nil
}

// CreateUser inserts a new team-less account
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.ext(ctx).QueryRowxContext(ctx, query, user.Username, user.Email, user.PasswordHash, user.Role).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", uniqueErr(err, userConstraints))
	}
	return nil
}

// ListUsers returns a page of users ordered by username, plus the total count
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	var total int
	if err := r.db.ext(ctx).QueryRowxContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	users := []*models.User{}
	query := `SELECT ` + userColumns + ` FROM users ORDER BY lower(username) LIMIT $1 OFFSET $2`
	if err := sqlxSelect(ctx, r.db, &users, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

// SetGlobalRole changes a user's account-wide role
func (r *UserRepository) SetGlobalRole(ctx context.Context, id string, role models.GlobalRole) error {
	res, err := r.db.ext(ctx).ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("failed to set user role: %w", err)
	}
	return requireRow(res, "user")
}

// SetMembership writes the user's team and team role together. Both nil detaches.
func (r *UserRepository) SetMembership(ctx context.Context, userID string, teamID *string, role *models.TeamRole) error {
	if (teamID == nil) != (role == nil) {
		return fmt.Errorf("team and team role must be set together")
	}
	res, err := r.db.ext(ctx).ExecContext(ctx,
		`UPDATE users SET team_id = $2, team_role = $3, updated_at = NOW() WHERE id = $1`,
		userID, teamID, role)
	if err != nil {
		return fmt.Errorf("failed to set membership: %w", uniqueErr(err, userConstraints))
	}
	return requireRow(res, "user")
}

// ListTeamMembers returns every user attached to teamID, owner first
func (r *UserRepository) ListTeamMembers(ctx context.Context, teamID string) ([]*models.User, error) {
	users := []*models.User{}
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE team_id = $1
		ORDER BY CASE team_role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 ELSE 2 END, lower(username)
	`
	if err := sqlxSelect(ctx, r.db, &users, query, teamID); err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return users, nil
}

// DetachTeamMembers clears team and team role for every member of teamID
func (r *UserRepository) DetachTeamMembers(ctx context.Context, teamID string) (int64, error) {
	res, err := r.db.ext(ctx).ExecContext(ctx,
		`UPDATE users SET team_id = NULL, team_role = NULL, updated_at = NOW() WHERE team_id = $1`, teamID)
	if err != nil {
		return 0, fmt.Errorf("failed to detach team members: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to detach team members: %w", err)
	}
	return n, nil
}
