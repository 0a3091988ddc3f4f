// site_repository.go implements SiteRepository. Every query is restricted to the caller's
// team through a tenancy.Scope; there is no unscoped read or write path.
package repositories

import (
	"context"
	"fmt"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/tenancy"
)

const siteColumns = `id, team_id, name, address, latitude, longitude, created_by, created_at, updated_at`

// SiteRepository handles database operations for sites
type SiteRepository struct {
	db *DB
}

// NewSiteRepository creates a new site repository
func NewSiteRepository(db *DB) *SiteRepository {
	return &SiteRepository{db: db}
}

func requireScope(scope tenancy.Scope) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: missing tenant scope", apperr.ErrForbidden)
	}
	return nil
}

// ListSites returns the scope's sites ordered by name
func (r *SiteRepository) ListSites(ctx context.Context, scope tenancy.Scope) ([]*models.Site, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	where, teamArg := scope.Where("team_id", 1)

	sites := []*models.Site{}
	query := `SELECT ` + siteColumns + ` FROM sites WHERE ` + where + ` ORDER BY lower(name)`
	if err := sqlxSelect(ctx, r.db, &sites, query, teamArg); err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return sites, nil
}

// GetSite retrieves a site inside the scope; a site of another team is not found
func (r *SiteRepository) GetSite(ctx context.Context, scope tenancy.Scope, id string) (*models.Site, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	where, teamArg := scope.Where("team_id", 2)

	site := &models.Site{}
	found, err := r.db.getOne(ctx, site, `SELECT `+siteColumns+` FROM sites WHERE id = $1 AND `+where, id, teamArg)
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	if !found {
		return nil, nil
	}
	return site, nil
}

// CreateSite inserts a site owned by the scope's team
func (r *SiteRepository) CreateSite(ctx context.Context, scope tenancy.Scope, site *models.Site) error {
	if err := requireScope(scope); err != nil {
		return err
	}
	site.TeamID = scope.TeamID()

	query := `
		INSERT INTO sites (team_id, name, address, latitude, longitude, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.ext(ctx).QueryRowxContext(ctx, query,
		site.TeamID, site.Name, site.Address, site.Latitude, site.Longitude, site.CreatedBy,
	).Scan(&site.ID, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

// UpdateSite writes the mutable site fields inside the scope
func (r *SiteRepository) UpdateSite(ctx context.Context, scope tenancy.Scope, site *models.Site) error {
	if err := requireScope(scope); err != nil {
		return err
	}
	where, teamArg := scope.Where("team_id", 6)

	query := `
		UPDATE sites SET name = $2, address = $3, latitude = $4, longitude = $5, updated_at = NOW()
		WHERE id = $1 AND ` + where + `
		RETURNING updated_at
	`
	err := r.db.ext(ctx).QueryRowxContext(ctx, query,
		site.ID, site.Name, site.Address, site.Latitude, site.Longitude, teamArg,
	).Scan(&site.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: site", apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to update site: %w", err)
	}
	return nil
}

// DeleteSite removes a site inside the scope
func (r *SiteRepository) DeleteSite(ctx context.Context, scope tenancy.Scope, id string) error {
	if err := requireScope(scope); err != nil {
		return err
	}
	where, teamArg := scope.Where("team_id", 2)

	res, err := r.db.ext(ctx).ExecContext(ctx, `DELETE FROM sites WHERE id = $1 AND `+where, id, teamArg)
	if err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	return requireRow(res, "site")
}
