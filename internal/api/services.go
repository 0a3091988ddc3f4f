package api

import (
	"context"
	"io"

	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/middleware"
	"github.com/fieldops/fieldops/internal/policy"
	"github.com/fieldops/fieldops/internal/services"
)

// The handlers depend on these method sets; *services.XService satisfies each.

type AccountService interface {
	middleware.ContextResolver
	Signup(ctx context.Context, in services.SignupInput) (*models.User, error)
	Login(ctx context.Context, username, password string) (*services.LoginResult, error)
	ListUsers(ctx context.Context, caller *policy.Context, limit, offset int) ([]*models.User, int, error)
	SetGlobalRole(ctx context.Context, caller *policy.Context, targetID string, role models.GlobalRole) (*models.User, error)
}

type TeamService interface {
	CreateTeam(ctx context.Context, userID string, in services.CreateTeamInput) (*models.TeamWithMembers, error)
	GetTeamByID(ctx context.Context, teamID string) (*models.TeamWithMembers, error)
	GetTeamBySlug(ctx context.Context, slug string) (*models.TeamWithMembers, error)
	GetUserTeam(ctx context.Context, userID string) (*models.TeamWithMembers, error)
	VerifyTeamAccess(ctx context.Context, userID, teamID string) (bool, error)
	UpdateTeam(ctx context.Context, teamID, callerID string, patch models.TeamPatch) (*models.Team, error)
	DeleteTeam(ctx context.Context, teamID, callerID string) error
	TransferOwnership(ctx context.Context, teamID, callerID, newOwnerID string) (*models.TeamWithMembers, error)
	RemoveMember(ctx context.Context, teamID, callerID, targetID string) error
	UpdateMemberRole(ctx context.Context, teamID, callerID, targetID string, newRole models.TeamRole) (*models.UserSummary, error)
}

type InvitationService interface {
	Invite(ctx context.Context, teamID, inviterID, email string, role models.TeamRole) (*models.TeamInvitation, error)
	Accept(ctx context.Context, userID, code string) (*models.TeamWithMembers, error)
	Cancel(ctx context.Context, teamID, invitationID, callerID string) error
	ListForTeam(ctx context.Context, teamID, callerID string) ([]*models.TeamInvitation, error)
	ListForUser(ctx context.Context, userID string) ([]*models.InvitationWithTeam, error)
}

type SiteService interface {
	List(ctx context.Context, pc *policy.Context) ([]*models.Site, error)
	Get(ctx context.Context, pc *policy.Context, id string) (*models.Site, error)
	Create(ctx context.Context, pc *policy.Context, site *models.Site) (*models.Site, error)
	Update(ctx context.Context, pc *policy.Context, id string, patch models.SitePatch) (*models.Site, error)
	Delete(ctx context.Context, pc *policy.Context, id string) error
}

type ReportService interface {
	List(ctx context.Context, pc *policy.Context, siteID string, limit, offset int) ([]*models.Report, error)
	Get(ctx context.Context, pc *policy.Context, id string) (*models.Report, error)
	Create(ctx context.Context, pc *policy.Context, siteID, title string, notes *string) (*models.Report, error)
	Update(ctx context.Context, pc *policy.Context, id string, patch models.ReportPatch) (*models.Report, error)
	Delete(ctx context.Context, pc *policy.Context, id string) error
	AttachMedia(ctx context.Context, pc *policy.Context, reportID string, up services.MediaUpload) (*models.ReportMedia, error)
	ListMedia(ctx context.Context, pc *policy.Context, reportID string) ([]*models.ReportMedia, error)
	DetachMedia(ctx context.Context, pc *policy.Context, reportID, mediaID string) error
	OpenMedia(ctx context.Context, pc *policy.Context, path string) (io.ReadCloser, error)
}

var (
	_ AccountService    = (*services.AccountService)(nil)
	_ TeamService       = (*services.TeamService)(nil)
	_ InvitationService = (*services.InvitationService)(nil)
	_ SiteService       = (*services.SiteService)(nil)
	_ ReportService     = (*services.ReportService)(nil)
)
