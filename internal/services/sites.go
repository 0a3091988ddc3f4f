package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/policy"
	"github.com/fieldops/fieldops/internal/tenancy"
)

// SiteService manages the caller's team sites. Any member may read; owners and admins write.
type SiteService struct {
	sites SiteStore
}

// NewSiteService creates a new site service
func NewSiteService(sites SiteStore) *SiteService {
	return &SiteService{sites: sites}
}

var siteWriters = policy.TeamMemberIn(models.TeamRoleOwner, models.TeamRoleAdmin)

// scoped checks req and derives the caller's tenant scope
func scoped(pc *policy.Context, req policy.Requirement) (tenancy.Scope, error) {
	if err := authorize(pc, req); err != nil {
		return tenancy.Scope{}, err
	}
	return tenancy.For(pc)
}

// List returns every site of the caller's team
func (s *SiteService) List(ctx context.Context, pc *policy.Context) ([]*models.Site, error) {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return nil, err
	}
	return s.sites.ListSites(ctx, scope)
}

// Get returns one site of the caller's team
func (s *SiteService) Get(ctx context.Context, pc *policy.Context, id string) (*models.Site, error) {
	scope, err := scoped(pc, policy.TeamMember())
	if err != nil {
		return nil, err
	}
	site, err := s.sites.GetSite(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, fmt.Errorf("%w: site", apperr.ErrNotFound)
	}
	return site, nil
}

// Create adds a site to the caller's team
func (s *SiteService) Create(ctx context.Context, pc *policy.Context, site *models.Site) (*models.Site, error) {
	scope, err := scoped(pc, siteWriters)
	if err != nil {
		return nil, err
	}
	if err := validateSite(site); err != nil {
		return nil, err
	}
	site.CreatedBy = pc.UserID
	if err := s.sites.CreateSite(ctx, scope, site); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "site created", "team_id", scope.TeamID(), "site_id", site.ID, "by", pc.UserID)
	return site, nil
}

// Update applies patch to a site of the caller's team
func (s *SiteService) Update(ctx context.Context, pc *policy.Context, id string, patch models.SitePatch) (*models.Site, error) {
	scope, err := scoped(pc, siteWriters)
	if err != nil {
		return nil, err
	}
	site, err := s.sites.GetSite(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, fmt.Errorf("%w: site", apperr.ErrNotFound)
	}
	patch.Apply(site)
	if err := validateSite(site); err != nil {
		return nil, err
	}
	if err := s.sites.UpdateSite(ctx, scope, site); err != nil {
		return nil, err
	}
	return site, nil
}

// Delete removes a site and, through the schema, its reports
func (s *SiteService) Delete(ctx context.Context, pc *policy.Context, id string) error {
	scope, err := scoped(pc, siteWriters)
	if err != nil {
		return err
	}
	if err := s.sites.DeleteSite(ctx, scope, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "site deleted", "team_id", scope.TeamID(), "site_id", id, "by", pc.UserID)
	return nil
}

func validateSite(site *models.Site) error {
	site.Name = strings.TrimSpace(site.Name)
	if site.Name == "" || len(site.Name) > 255 {
		return apperr.Invalid("name must be between 1 and 255 characters")
	}
	if site.Latitude != nil && (*site.Latitude < -90 || *site.Latitude > 90) {
		return apperr.Invalid("latitude must be between -90 and 90")
	}
	if site.Longitude != nil && (*site.Longitude < -180 || *site.Longitude > 180) {
		return apperr.Invalid("longitude must be between -180 and 180")
	}
	return nil
}
