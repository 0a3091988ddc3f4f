// invitation_repository.go implements InvitationRepository over team_invitations.
// At most one pending invitation per (team, lower(email)) is enforced by a partial unique index.
package repositories

import (
	"context"
	"fmt"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
)

const invitationColumns = `id, team_id, email, code, inviter_id, role, status, expires_at, created_at`

var invitationConstraints = map[string]error{
	"team_invitations_one_pending": apperr.ErrConflict,
}

// InvitationRepository handles database operations for team invitations
type InvitationRepository struct {
	db *DB
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// CreateInvitation inserts a pending invitation
func (r *InvitationRepository) CreateInvitation(ctx context.Context, inv *models.TeamInvitation) error {
	query := `
		INSERT INTO team_invitations (team_id, email, code, inviter_id, role, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.ext(ctx).QueryRowxContext(ctx, query,
		inv.TeamID, inv.Email, inv.Code, inv.InviterID, inv.Role, inv.Status, inv.ExpiresAt,
	).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", uniqueErr(err, invitationConstraints))
	}
	return nil
}

// GetInvitation retrieves an invitation by ID
func (r *InvitationRepository) GetInvitation(ctx context.Context, id string) (*models.TeamInvitation, error) {
	return r.getBy(ctx, "id = $1", id, false)
}

// GetInvitationForUpdate retrieves an invitation by ID and locks it
func (r *InvitationRepository) GetInvitationForUpdate(ctx context.Context, id string) (*models.TeamInvitation, error) {
	return r.getBy(ctx, "id = $1", id, true)
}

// GetInvitationByCode retrieves an invitation by its redemption code without locking it
func (r *InvitationRepository) GetInvitationByCode(ctx context.Context, code string) (*models.TeamInvitation, error) {
	return r.getBy(ctx, "code = $1", code, false)
}

// GetInvitationByCodeForUpdate retrieves an invitation by its redemption code and locks it
func (r *InvitationRepository) GetInvitationByCodeForUpdate(ctx context.Context, code string) (*models.TeamInvitation, error) {
	return r.getBy(ctx, "code = $1", code, true)
}

func (r *InvitationRepository) getBy(ctx context.Context, where string, arg any, lock bool) (*models.TeamInvitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM team_invitations WHERE ` + where
	if lock {
		query = forUpdate(ctx, query)
	}

	inv := &models.TeamInvitation{}
	found, err := r.db.getOne(ctx, inv, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if !found {
		return nil, nil
	}
	return inv, nil
}

// FindPendingInvitation returns the pending invitation for (teamID, email), if any
func (r *InvitationRepository) FindPendingInvitation(ctx context.Context, teamID, email string) (*models.TeamInvitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM team_invitations
		WHERE team_id = $1 AND lower(email) = lower($2) AND status = 'pending'`

	inv := &models.TeamInvitation{}
	found, err := r.db.getOne(ctx, inv, query, teamID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending invitation: %w", err)
	}
	if !found {
		return nil, nil
	}
	return inv, nil
}

// SetInvitationStatus moves an invitation to status
func (r *InvitationRepository) SetInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	res, err := r.db.ext(ctx).ExecContext(ctx,
		`UPDATE team_invitations SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
	}
	return requireRow(res, "invitation")
}

// DeletePendingInvitation deletes an invitation of teamID only while it is still pending.
// It reports whether a row was deleted.
func (r *InvitationRepository) DeletePendingInvitation(ctx context.Context, teamID, id string) (bool, error) {
	res, err := r.db.ext(ctx).ExecContext(ctx,
		`DELETE FROM team_invitations WHERE id = $1 AND team_id = $2 AND status = 'pending'`, id, teamID)
	if err != nil {
		return false, fmt.Errorf("failed to delete invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete invitation: %w", err)
	}
	return n > 0, nil
}

// DeleteTeamInvitations removes every invitation of teamID regardless of status
func (r *InvitationRepository) DeleteTeamInvitations(ctx context.Context, teamID string) (int64, error) {
	res, err := r.db.ext(ctx).ExecContext(ctx, `DELETE FROM team_invitations WHERE team_id = $1`, teamID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete team invitations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete team invitations: %w", err)
	}
	return n, nil
}

// ListPendingForTeam returns the team's pending invitations, newest first
func (r *InvitationRepository) ListPendingForTeam(ctx context.Context, teamID string) ([]*models.TeamInvitation, error) {
	invs := []*models.TeamInvitation{}
	query := `SELECT ` + invitationColumns + ` FROM team_invitations
		WHERE team_id = $1 AND status = 'pending'
		ORDER BY created_at DESC`
	if err := sqlxSelect(ctx, r.db, &invs, query, teamID); err != nil {
		return nil, fmt.Errorf("failed to list team invitations: %w", err)
	}
	return invs, nil
}

// ListPendingForEmail returns pending invitations addressed to email across all teams, newest first
func (r *InvitationRepository) ListPendingForEmail(ctx context.Context, email string) ([]*models.InvitationWithTeam, error) {
	invs := []*models.InvitationWithTeam{}
	query := `
		SELECT i.id, i.team_id, i.email, i.code, i.inviter_id, i.role, i.status, i.expires_at, i.created_at,
		       t.name AS team_name, t.slug AS team_slug
		FROM team_invitations i
		JOIN teams t ON t.id = i.team_id
		WHERE lower(i.email) = lower($1) AND i.status = 'pending'
		ORDER BY i.created_at DESC
	`
	if err := sqlxSelect(ctx, r.db, &invs, query, email); err != nil {
		return nil, fmt.Errorf("failed to list user invitations: %w", err)
	}
	return invs, nil
}
