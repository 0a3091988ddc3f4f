package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/policy"
	"github.com/fieldops/fieldops/internal/storage"
	"github.com/fieldops/fieldops/internal/telemetry"
	"github.com/fieldops/fieldops/internal/tenancy"
)

const mediaURLTTL = 15 * time.Minute

// ReportService manages inspection reports and their media inside the caller's team
type ReportService struct {
	reports   ReportStore
	blobs     storage.Storage
	freeEdits int
	maxUpload int64
}

// NewReportService creates a new report service. freeEdits bounds how many times a
// submitter may edit a report; global admins are not bounded.
func NewReportService(reports ReportStore, blobs storage.Storage, freeEdits int, maxUpload int64) *ReportService {
	return &ReportService{reports: reports, blobs: blobs, freeEdits: freeEdits, maxUpload: maxUpload}
}

// List returns a page of the team's reports, optionally filtered to one site
func (s *ReportService) List(ctx context.Context, pc *policy.Context, siteID string, limit, offset int) ([]*models.Report, error) {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return nil, err
	}
	return s.reports.ListReports(ctx, scope, siteID, limit, offset)
}

// Get returns one report of the caller's team
func (s *ReportService) Get(ctx context.Context, pc *policy.Context, id string) (*models.Report, error) {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return nil, err
	}
	return s.get(ctx, scope, id)
}

func (s *ReportService) get(ctx context.Context, scope tenancy.Scope, id string) (*models.Report, error) {
	report, err := s.reports.GetReport(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("%w: report", apperr.ErrNotFound)
	}
	return report, nil
}

// Create files a report against a site of the caller's team
func (s *ReportService) Create(ctx context.Context, pc *policy.Context, siteID, title string, notes *string) (*models.Report, error) {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 255 {
		return nil, apperr.Invalid("title must be between 1 and 255 characters")
	}
	if siteID == "" {
		return nil, apperr.Invalid("site_id is required")
	}

	report := &models.Report{
		SiteID:      siteID,
		SubmittedBy: pc.UserID,
		Title:       title,
		Notes:       notes,
	}
	if err := s.reports.CreateReport(ctx, scope, report); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "report created", "team_id", scope.TeamID(), "report_id", report.ID, "site_id", siteID)
	return report, nil
}

// Update edits a report. Only the submitter or a global admin may edit, and submitters
// get a fixed number of edits. The quota is enforced in the same write that consumes it.
func (s *ReportService) Update(ctx context.Context, pc *policy.Context, id string, patch models.ReportPatch) (*models.Report, error) {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, apperr.Invalid("nothing to update")
	}
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" || len(t) > 255 {
			return nil, apperr.Invalid("title must be between 1 and 255 characters")
		}
		patch.Title = &t
	}

	report, err := s.get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	admin := pc.GlobalRole == models.GlobalRoleAdmin
	if report.SubmittedBy != pc.UserID && !admin {
		return nil, fmt.Errorf("%w: only the submitter may edit a report", apperr.ErrForbidden)
	}

	if patch.Title != nil {
		report.Title = *patch.Title
	}
	if patch.Notes != nil {
		report.Notes = patch.Notes
	}

	maxEdits := s.freeEdits
	if admin {
		maxEdits = -1
	}
	ok, err := s.reports.UpdateReport(ctx, scope, report, maxEdits)
	if err != nil {
		return nil, err
	}
	if !ok {
		// the row vanished or the quota was used up between the read and the write
		if _, err := s.get(ctx, scope, id); err != nil {
			return nil, err
		}
		telemetry.ReportEditQuotaRejectionsTotal.Inc()
		return nil, apperr.ErrEditQuotaExceeded
	}
	return report, nil
}

// Delete removes a report and its media. Team owners and admins, and global admins, may delete.
func (s *ReportService) Delete(ctx context.Context, pc *policy.Context, id string) error {
	req := policy.TeamMemberIn(models.TeamRoleOwner, models.TeamRoleAdmin)
	if pc != nil && pc.GlobalRole == models.GlobalRoleAdmin {
		req = policy.TeamMember()
	}
	scope, err := scoped(pc, req)
	if err != nil {
		return err
	}

	media, err := s.reports.ListMedia(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := s.reports.DeleteReport(ctx, scope, id); err != nil {
		return err
	}
	for _, m := range media {
		s.deleteBlob(ctx, m.StoragePath)
	}
	slog.InfoContext(ctx, "report deleted", "team_id", scope.TeamID(), "report_id", id, "media_removed", len(media))
	return nil
}

// MediaUpload is a file attached to a report
type MediaUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachMedia stores a file and records it against a report of the caller's team
func (s *ReportService) AttachMedia(ctx context.Context, pc *policy.Context, reportID string, up MediaUpload) (*models.ReportMedia, error) {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return nil, err
	}
	if up.Size <= 0 {
		return nil, apperr.Invalid("file is empty")
	}
	if s.maxUpload > 0 && up.Size > s.maxUpload {
		return nil, apperr.Invalid("file exceeds the %d byte limit", s.maxUpload)
	}
	if _, err := s.get(ctx, scope, reportID); err != nil {
		return nil, err
	}

	path := storage.MediaPath(scope.TeamID(), reportID, uuid.NewString(), up.FileName)
	stored, err := s.blobs.Upload(ctx, path, up.Body, up.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to store media: %w", err)
	}

	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	media := &models.ReportMedia{
		ReportID:    reportID,
		StoragePath: stored.Path,
		FileName:    storage.SanitizeFileName(up.FileName),
		ContentType: contentType,
		SizeBytes:   stored.Size,
		Checksum:    stored.Checksum,
		UploadedBy:  pc.UserID,
	}
	if err := s.reports.AddMedia(ctx, scope, media); err != nil {
		s.deleteBlob(ctx, stored.Path)
		return nil, err
	}

	media.URL = s.url(ctx, media.StoragePath)
	slog.InfoContext(ctx, "report media attached", "team_id", scope.TeamID(), "report_id", reportID, "media_id", media.ID, "size", media.SizeBytes)
	return media, nil
}

// ListMedia returns the media of a report of the caller's team with download URLs
func (s *ReportService) ListMedia(ctx context.Context, pc *policy.Context, reportID string) ([]*models.ReportMedia, error) {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return nil, err
	}
	if _, err := s.get(ctx, scope, reportID); err != nil {
		return nil, err
	}
	media, err := s.reports.ListMedia(ctx, scope, reportID)
	if err != nil {
		return nil, err
	}
	for _, m := range media {
		m.URL = s.url(ctx, m.StoragePath)
	}
	return media, nil
}

// DetachMedia removes a media row and then its blob. The uploader, the report's submitter,
// team owners and admins, and global admins may detach.
func (s *ReportService) DetachMedia(ctx context.Context, pc *policy.Context, reportID, mediaID string) error {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return err
	}
	report, err := s.get(ctx, scope, reportID)
	if err != nil {
		return err
	}

	privileged := pc.GlobalRole == models.GlobalRoleAdmin ||
		policy.Decide(pc, policy.TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin)).Allowed
	if !privileged && report.SubmittedBy != pc.UserID {
		existing, err := s.reports.ListMedia(ctx, scope, reportID)
		if err != nil {
			return err
		}
		if !uploadedBy(existing, mediaID, pc.UserID) {
			return fmt.Errorf("%w: cannot remove media uploaded by another member", apperr.ErrForbidden)
		}
	}

	media, err := s.reports.RemoveMedia(ctx, scope, reportID, mediaID)
	if err != nil {
		return err
	}
	if media == nil {
		return fmt.Errorf("%w: media", apperr.ErrNotFound)
	}
	s.deleteBlob(ctx, media.StoragePath)
	return nil
}

// OpenMedia streams a stored object of the caller's team. Used when local storage serves
// objects through the API.
func (s *ReportService) OpenMedia(ctx context.Context, pc *policy.Context, path string) (io.ReadCloser, error) {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, "teams/"+scope.TeamID()+"/") || strings.Contains(path, "..") {
		return nil, fmt.Errorf("%w: media", apperr.ErrNotFound)
	}
	exists, err := s.blobs.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: media", apperr.ErrNotFound)
	}
	return s.blobs.Download(ctx, path)
}

func uploadedBy(media []*models.ReportMedia, mediaID, userID string) bool {
	for _, m := range media {
		if m.ID == mediaID {
			return m.UploadedBy == userID
		}
	}
	// unknown ids fall through to RemoveMedia, which reports not found
	return true
}

func (s *ReportService) url(ctx context.Context, path string) string {
	u, err := s.blobs.GetURL(ctx, path, mediaURLTTL)
	if err != nil {
		slog.WarnContext(ctx, "failed to build media URL", "path", path, "error", err)
		return ""
	}
	return u
}

func (s *ReportService) deleteBlob(ctx context.Context, path string) {
	if err := s.blobs.Delete(ctx, path); err != nil {
		slog.WarnContext(ctx, "failed to delete media blob", "path", path, "error", err)
	}
}
