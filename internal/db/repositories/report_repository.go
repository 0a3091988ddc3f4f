// report_repository.go implements ReportRepository for reports and their media rows,
// always restricted to the caller's team through a tenancy.Scope.
package repositories

import (
	"context"
	"fmt"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/tenancy"
)

const reportColumns = `id, team_id, site_id, submitted_by, title, notes, edit_count, created_at, updated_at`

const mediaColumns = `id, report_id, team_id, storage_path, file_name, content_type, size_bytes, checksum, uploaded_by, created_at`

// ReportRepository handles database operations for reports and report media
type ReportRepository struct {
	db *DB
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// ListReports returns the scope's reports, newest first. An empty siteID lists all sites.
func (r *ReportRepository) ListReports(ctx context.Context, scope tenancy.Scope, siteID string, limit, offset int) ([]*models.Report, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	where, teamArg := scope.Where("team_id", 1)
	args := []any{teamArg, limit, offset}

	query := `SELECT ` + reportColumns + ` FROM reports WHERE ` + where
	if siteID != "" {
		query += ` AND site_id = $4`
		args = append(args, siteID)
	}
	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	reports := []*models.Report{}
	if err := sqlxSelect(ctx, r.db, &reports, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

// GetReport retrieves a report inside the scope
func (r *ReportRepository) GetReport(ctx context.Context, scope tenancy.Scope, id string) (*models.Report, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	where, teamArg := scope.Where("team_id", 2)

	report := &models.Report{}
	found, err := r.db.getOne(ctx, report, `SELECT `+reportColumns+` FROM reports WHERE id = $1 AND `+where, id, teamArg)
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	if !found {
		return nil, nil
	}
	return report, nil
}

// CreateReport inserts a report for a site of the scope's team. A site outside the scope
// inserts nothing and yields apperr.ErrNotFound.
func (r *ReportRepository) CreateReport(ctx context.Context, scope tenancy.Scope, report *models.Report) error {
	if err := requireScope(scope); err != nil {
		return err
	}
	report.TeamID = scope.TeamID()

	query := `
		INSERT INTO reports (team_id, site_id, submitted_by, title, notes)
		SELECT $1, s.id, $3, $4, $5 FROM sites s WHERE s.id = $2 AND s.team_id = $1
		RETURNING id, edit_count, created_at, updated_at
	`
	err := r.db.ext(ctx).QueryRowxContext(ctx, query,
		report.TeamID, report.SiteID, report.SubmittedBy, report.Title, report.Notes,
	).Scan(&report.ID, &report.EditCount, &report.CreatedAt, &report.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: site", apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// UpdateReport writes title and notes. When maxEdits is non-negative the write only happens
// while edit_count < maxEdits, and edit_count is incremented in the same statement. It
// reports whether the row was written.
func (r *ReportRepository) UpdateReport(ctx context.Context, scope tenancy.Scope, report *models.Report, maxEdits int) (bool, error) {
	if err := requireScope(scope); err != nil {
		return false, err
	}
	where, teamArg := scope.Where("team_id", 4)
	args := []any{report.ID, report.Title, report.Notes, teamArg}

	query := `
		UPDATE reports SET title = $2, notes = $3, edit_count = edit_count + 1, updated_at = NOW()
		WHERE id = $1 AND ` + where
	if maxEdits >= 0 {
		query += ` AND edit_count < $5`
		args = append(args, maxEdits)
	}
	query += ` RETURNING edit_count, updated_at`

	err := r.db.ext(ctx).QueryRowxContext(ctx, query, args...).Scan(&report.EditCount, &report.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update report: %w", err)
	}
	return true, nil
}

// DeleteReport removes a report inside the scope
func (r *ReportRepository) DeleteReport(ctx context.Context, scope tenancy.Scope, id string) error {
	if err := requireScope(scope); err != nil {
		return err
	}
	where, teamArg := scope.Where("team_id", 2)

	res, err := r.db.ext(ctx).ExecContext(ctx, `DELETE FROM reports WHERE id = $1 AND `+where, id, teamArg)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return requireRow(res, "report")
}

// === Report media ===

// AddMedia records a stored media file against a report of the scope
func (r *ReportRepository) AddMedia(ctx context.Context, scope tenancy.Scope, media *models.ReportMedia) error {
	if err := requireScope(scope); err != nil {
		return err
	}
	media.TeamID = scope.TeamID()

	query := `
		INSERT INTO report_media (report_id, team_id, storage_path, file_name, content_type, size_bytes, checksum, uploaded_by)
		SELECT r.id, $2, $3, $4, $5, $6, $7, $8 FROM reports r WHERE r.id = $1 AND r.team_id = $2
		RETURNING id, created_at
	`
	err := r.db.ext(ctx).QueryRowxContext(ctx, query,
		media.ReportID, media.TeamID, media.StoragePath, media.FileName, media.ContentType,
		media.SizeBytes, media.Checksum, media.UploadedBy,
	).Scan(&media.ID, &media.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: report", apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to add report media: %w", err)
	}
	return nil
}

// ListMedia returns the media attached to a report of the scope, oldest first
func (r *ReportRepository) ListMedia(ctx context.Context, scope tenancy.Scope, reportID string) ([]*models.ReportMedia, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	where, teamArg := scope.Where("team_id", 2)

	media := []*models.ReportMedia{}
	query := `SELECT ` + mediaColumns + ` FROM report_media WHERE report_id = $1 AND ` + where + ` ORDER BY created_at`
	if err := sqlxSelect(ctx, r.db, &media, query, reportID, teamArg); err != nil {
		return nil, fmt.Errorf("failed to list report media: %w", err)
	}
	return media, nil
}

// RemoveMedia deletes a media row of the scope and returns it so the blob can be removed
func (r *ReportRepository) RemoveMedia(ctx context.Context, scope tenancy.Scope, reportID, mediaID string) (*models.ReportMedia, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	where, teamArg := scope.Where("team_id", 3)

	media := &models.ReportMedia{}
	query := `DELETE FROM report_media WHERE id = $1 AND report_id = $2 AND ` + where + ` RETURNING ` + mediaColumns
	found, err := r.db.getOne(ctx, media, query, mediaID, reportID, teamArg)
	if err != nil {
		return nil, fmt.Errorf("failed to remove report media: %w", err)
	}
	if !found {
		return nil, nil
	}
	return media, nil
}
