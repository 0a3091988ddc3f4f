// team_repository.go implements TeamRepository: CRUD over the teams table.
package repositories

import (
	"context"
	"fmt"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
)

const teamColumns = `id, name, slug, description, logo_url, owner_id, is_active, created_at, updated_at`

var teamConstraints = map[string]error{
	"teams_slug_lower_key": apperr.ErrSlugTaken,
}

// TeamRepository handles database operations for teams
type TeamRepository struct {
	db *DB
}

// NewTeamRepository creates a new team repository
func NewTeamRepository(db *DB) *TeamRepository {
	return &TeamRepository{db: db}
}

// CreateTeam inserts a team. A duplicate slug yields apperr.ErrSlugTaken.
func (r *TeamRepository) CreateTeam(ctx context.Context, team *models.Team) error {
	query := `
		INSERT INTO teams (name, slug, description, logo_url, owner_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.ext(ctx).QueryRowxContext(ctx, query,
		team.Name, team.Slug, team.Description, team.LogoURL, team.OwnerID, team.IsActive,
	).Scan(&team.ID, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", uniqueErr(err, teamConstraints))
	}
	return nil
}

// GetTeam retrieves a team by ID
func (r *TeamRepository) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	return r.getBy(ctx, "id = $1", id, false)
}

// GetTeamForUpdate retrieves a team by ID and locks it for the rest of the transaction
func (r *TeamRepository) GetTeamForUpdate(ctx context.Context, id string) (*models.Team, error) {
	return r.getBy(ctx, "id = $1", id, true)
}

// GetTeamBySlug retrieves a team by slug, case-insensitively
func (r *TeamRepository) GetTeamBySlug(ctx context.Context, slug string) (*models.Team, error) {
	return r.getBy(ctx, "lower(slug) = lower($1)", slug, false)
}

func (r *TeamRepository) getBy(ctx context.Context, where string, arg any, lock bool) (*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE ` + where
	if lock {
		query = forUpdate(ctx, query)
	}

	team := &models.Team{}
	found, err := r.db.getOne(ctx, team, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	if !found {
		return nil, nil
	}
	return team, nil
}

// UpdateTeam writes the mutable team fields
func (r *TeamRepository) UpdateTeam(ctx context.Context, team *models.Team) error {
	query := `
		UPDATE teams
		SET name = $2, description = $3, logo_url = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.ext(ctx).QueryRowxContext(ctx, query,
		team.ID, team.Name, team.Description, team.LogoURL, team.IsActive,
	).Scan(&team.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: team", apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to update team: %w", err)
	}
	return nil
}

// SetTeamOwner repoints the team's owner reference
func (r *TeamRepository) SetTeamOwner(ctx context.Context, teamID, ownerID string) error {
	res, err := r.db.ext(ctx).ExecContext(ctx,
		`UPDATE teams SET owner_id = $2, updated_at = NOW() WHERE id = $1`, teamID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to set team owner: %w", err)
	}
	return requireRow(res, "team")
}

// DeleteTeam removes the team row
func (r *TeamRepository) DeleteTeam(ctx context.Context, id string) error {
	res, err := r.db.ext(ctx).ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}
	return requireRow(res, "team")
}
