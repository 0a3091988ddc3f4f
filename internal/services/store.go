// Package services implements the team membership core (membership store, team lifecycle,
// invitation ledger), the account service, and the team-scoped field resources layered on
// top of it. Services depend on the narrow store interfaces declared here; the sqlx
// repositories satisfy them in production.
package services

import (
	"context"

	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/tenancy"
)

// TxRunner runs fn as one atomic unit. Store calls made with the ctx passed to fn
// join the unit; the unit commits only when fn returns nil.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserStore persists accounts and their membership columns.
// Lookups return (nil, nil) when the user does not exist.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserForUpdate(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
	SetGlobalRole(ctx context.Context, id string, role models.GlobalRole) error
	SetMembership(ctx context.Context, userID string, teamID *string, role *models.TeamRole) error
	ListTeamMembers(ctx context.Context, teamID string) ([]*models.User, error)
	DetachTeamMembers(ctx context.Context, teamID string) (int64, error)
}

// TeamStore persists teams. Lookups return (nil, nil) when the team does not exist.
type TeamStore interface {
	CreateTeam(ctx context.Context, team *models.Team) error
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	GetTeamForUpdate(ctx context.Context, id string) (*models.Team, error)
	GetTeamBySlug(ctx context.Context, slug string) (*models.Team, error)
	UpdateTeam(ctx context.Context, team *models.Team) error
	SetTeamOwner(ctx context.Context, teamID, ownerID string) error
	DeleteTeam(ctx context.Context, id string) error
}

// InvitationStore persists team invitations
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *models.TeamInvitation) error
	GetInvitationForUpdate(ctx context.Context, id string) (*models.TeamInvitation, error)
	GetInvitationByCode(ctx context.Context, code string) (*models.TeamInvitation, error)
	GetInvitationByCodeForUpdate(ctx context.Context, code string) (*models.TeamInvitation, error)
	FindPendingInvitation(ctx context.Context, teamID, email string) (*models.TeamInvitation, error)
	SetInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error
	DeletePendingInvitation(ctx context.Context, teamID, id string) (bool, error)
	DeleteTeamInvitations(ctx context.Context, teamID string) (int64, error)
	ListPendingForTeam(ctx context.Context, teamID string) ([]*models.TeamInvitation, error)
	ListPendingForEmail(ctx context.Context, email string) ([]*models.InvitationWithTeam, error)
}

// SiteStore persists sites inside a tenant scope
type SiteStore interface {
	ListSites(ctx context.Context, scope tenancy.Scope) ([]*models.Site, error)
	GetSite(ctx context.Context, scope tenancy.Scope, id string) (*models.Site, error)
	CreateSite(ctx context.Context, scope tenancy.Scope, site *models.Site) error
	UpdateSite(ctx context.Context, scope tenancy.Scope, site *models.Site) error
	DeleteSite(ctx context.Context, scope tenancy.Scope, id string) error
}

// ReportStore persists reports and report media inside a tenant scope
type ReportStore interface {
	ListReports(ctx context.Context, scope tenancy.Scope, siteID string, limit, offset int) ([]*models.Report, error)
	GetReport(ctx context.Context, scope tenancy.Scope, id string) (*models.Report, error)
	CreateReport(ctx context.Context, scope tenancy.Scope, report *models.Report) error
	UpdateReport(ctx context.Context, scope tenancy.Scope, report *models.Report, maxEdits int) (bool, error)
	DeleteReport(ctx context.Context, scope tenancy.Scope, id string) error
	AddMedia(ctx context.Context, scope tenancy.Scope, media *models.ReportMedia) error
	ListMedia(ctx context.Context, scope tenancy.Scope, reportID string) ([]*models.ReportMedia, error)
	RemoveMedia(ctx context.Context, scope tenancy.Scope, reportID, mediaID string) (*models.ReportMedia, error)
}

// CodeGenerator produces unguessable invitation codes
type CodeGenerator interface {
	Generate() (string, error)
}
