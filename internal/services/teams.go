package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/policy"
	"github.com/fieldops/fieldops/internal/telemetry"
)

// TeamService owns the team lifecycle: creation, reads, updates, deletion, ownership
// transfer, member removal and role changes. Every mutation is one transactional unit that
// locks the team row before any user row.
type TeamService struct {
	tx          TxRunner
	users       UserStore
	teams       TeamStore
	invitations InvitationStore
	members     *Membership
}

// NewTeamService creates a new team service
func NewTeamService(tx TxRunner, users UserStore, teams TeamStore, invitations InvitationStore) *TeamService {
	return &TeamService{
		tx:          tx,
		users:       users,
		teams:       teams,
		invitations: invitations,
		members:     NewMembership(users, teams),
	}
}

// CreateTeamInput is the payload for CreateTeam
type CreateTeamInput struct {
	Name        string
	Slug        string
	Description *string
	LogoURL     *string
}

func (in *CreateTeamInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = models.NormalizeSlug(in.Slug)
	if in.Name == "" || len(in.Name) > 255 {
		return apperr.Invalid("name must be between 1 and 255 characters")
	}
	if !models.ValidSlug(in.Slug) {
		return apperr.Invalid("slug must be 2-64 lower-case letters, digits or hyphens")
	}
	return nil
}

// CreateTeam creates a team with userID as its owner. The user must be team-less.
func (s *TeamService) CreateTeam(ctx context.Context, userID string, in CreateTeamInput) (*models.TeamWithMembers, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var team *models.Team
	var owner *models.User
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return apperr.ErrUnauthenticated
		}
		if !user.IsTeamless() {
			return apperr.ErrAlreadyInTeam
		}

		existing, err := s.teams.GetTeamBySlug(ctx, in.Slug)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.ErrSlugTaken
		}

		team = &models.Team{
			Name:        in.Name,
			Slug:        in.Slug,
			Description: in.Description,
			LogoURL:     in.LogoURL,
			OwnerID:     user.ID,
			IsActive:    true,
		}
		if err := s.teams.CreateTeam(ctx, team); err != nil {
			return err
		}
		owner = user
		return s.members.AssignOwner(ctx, user, team.ID)
	})
	if err != nil {
		return nil, finishTx(ctx, "create team", err)
	}

	telemetry.MembershipEventsTotal.WithLabelValues("team_created").Inc()
	slog.InfoContext(ctx, "team created", "team_id", team.ID, "slug", team.Slug, "owner_id", owner.ID)

	summary := owner.Summary()
	return &models.TeamWithMembers{Team: *team, Owner: summary, Members: []*models.UserSummary{summary}}, nil
}

// GetTeamByID returns the team with its owner and members
func (s *TeamService) GetTeamByID(ctx context.Context, teamID string) (*models.TeamWithMembers, error) {
	team, err := s.teams.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, fmt.Errorf("%w: team", apperr.ErrNotFound)
	}
	return withMembers(ctx, s.users, team)
}

// GetTeamBySlug returns the team with the given slug, case-insensitively
func (s *TeamService) GetTeamBySlug(ctx context.Context, slug string) (*models.TeamWithMembers, error) {
	team, err := s.teams.GetTeamBySlug(ctx, models.NormalizeSlug(slug))
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, fmt.Errorf("%w: team", apperr.ErrNotFound)
	}
	return withMembers(ctx, s.users, team)
}

// GetUserTeam returns the team userID belongs to
func (s *TeamService) GetUserTeam(ctx context.Context, userID string) (*models.TeamWithMembers, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if user.IsTeamless() {
		return nil, apperr.ErrNotMember
	}
	return s.GetTeamByID(ctx, *user.TeamID)
}

// VerifyTeamAccess reports whether userID currently belongs to teamID
func (s *TeamService) VerifyTeamAccess(ctx context.Context, userID, teamID string) (bool, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user != nil && user.InTeam(teamID), nil
}

// UpdateTeam applies patch to the team. The caller must be its owner or an admin.
func (s *TeamService) UpdateTeam(ctx context.Context, teamID, callerID string, patch models.TeamPatch) (*models.Team, error) {
	if patch.Name != nil && (strings.TrimSpace(*patch.Name) == "" || len(*patch.Name) > 255) {
		return nil, apperr.Invalid("name must be between 1 and 255 characters")
	}

	var team *models.Team
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var caller *models.User
		var err error
		team, caller, err = s.lockTeamAndCaller(ctx, teamID, callerID)
		if err != nil {
			return err
		}
		if err := authorizeInTeam(caller, teamID, policy.TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin)); err != nil {
			return err
		}
		if patch.Empty() {
			return nil
		}
		patch.Apply(team)
		return s.teams.UpdateTeam(ctx, team)
	})
	if err != nil {
		return nil, finishTx(ctx, "update team", err)
	}

	slog.InfoContext(ctx, "team updated", "team_id", teamID, "by", callerID)
	return team, nil
}

// DeleteTeam detaches every member, drops pending invitations and deletes the team.
// Only the owner may delete.
func (s *TeamService) DeleteTeam(ctx context.Context, teamID, callerID string) error {
	var detached int64
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, caller, err := s.lockTeamAndCaller(ctx, teamID, callerID)
		if err != nil {
			return err
		}
		if err := authorizeInTeam(caller, teamID, policy.TeamRoleIn(models.TeamRoleOwner)); err != nil {
			return err
		}
		if detached, err = s.users.DetachTeamMembers(ctx, teamID); err != nil {
			return err
		}
		if _, err := s.invitations.DeleteTeamInvitations(ctx, teamID); err != nil {
			return err
		}
		return s.teams.DeleteTeam(ctx, teamID)
	})
	if err != nil {
		return finishTx(ctx, "delete team", err)
	}

	telemetry.MembershipEventsTotal.WithLabelValues("team_deleted").Inc()
	slog.InfoContext(ctx, "team deleted", "team_id", teamID, "by", callerID, "members_detached", detached)
	return nil
}

// TransferOwnership hands the team to newOwnerID, an existing member, and demotes the
// caller, its current owner, to admin.
func (s *TeamService) TransferOwnership(ctx context.Context, teamID, callerID, newOwnerID string) (*models.TeamWithMembers, error) {
	var team *models.Team
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var caller *models.User
		var err error
		team, caller, err = s.lockTeamAndCaller(ctx, teamID, callerID)
		if err != nil {
			return err
		}
		if err := authorizeInTeam(caller, teamID, policy.TeamRoleIn(models.TeamRoleOwner)); err != nil {
			return err
		}
		if newOwnerID == callerID {
			return fmt.Errorf("%w: already the owner", apperr.ErrInvalidRoleChange)
		}
		target, err := s.users.GetUserForUpdate(ctx, newOwnerID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("%w: user", apperr.ErrNotFound)
		}
		return s.members.TransferOwnership(ctx, team, caller, target)
	})
	if err != nil {
		return nil, finishTx(ctx, "transfer ownership", err)
	}

	telemetry.MembershipEventsTotal.WithLabelValues("ownership_transferred").Inc()
	slog.InfoContext(ctx, "team ownership transferred", "team_id", teamID, "from", callerID, "to", newOwnerID)
	return withMembers(ctx, s.users, team)
}

// RemoveMember detaches targetID from the team. A caller removing themselves leaves the
// team, which any non-owner may do. Removing someone else requires owner or admin and a
// strictly higher role than the target; the owner can never be removed.
func (s *TeamService) RemoveMember(ctx context.Context, teamID, callerID, targetID string) error {
	self := callerID == targetID
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, caller, err := s.lockTeamAndCaller(ctx, teamID, callerID)
		if err != nil {
			return err
		}
		if !caller.InTeam(teamID) {
			return apperr.ErrNotMember
		}
		if self {
			return s.members.Detach(ctx, caller)
		}

		target, err := s.users.GetUserForUpdate(ctx, targetID)
		if err != nil {
			return err
		}
		if target == nil || !target.InTeam(teamID) {
			return fmt.Errorf("%w: target is not in this team", apperr.ErrNotMember)
		}
		if target.CurrentTeamRole() == models.TeamRoleOwner {
			return apperr.ErrCannotRemoveOwner
		}
		if err := authorizeInTeam(caller, teamID, policy.TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin)); err != nil {
			return err
		}
		if !caller.CurrentTeamRole().Outranks(target.CurrentTeamRole()) {
			return fmt.Errorf("%w: cannot remove a member of equal or higher role", apperr.ErrInsufficientRole)
		}
		return s.members.Detach(ctx, target)
	})
	if err != nil {
		return finishTx(ctx, "remove member", err)
	}

	event := "member_removed"
	if self {
		event = "member_left"
	}
	telemetry.MembershipEventsTotal.WithLabelValues(event).Inc()
	slog.InfoContext(ctx, "team member detached", "team_id", teamID, "user_id", targetID, "by", callerID, "event", event)
	return nil
}

// UpdateMemberRole changes targetID's role between admin and member. The caller must be
// owner or admin and strictly outrank the target.
func (s *TeamService) UpdateMemberRole(ctx context.Context, teamID, callerID, targetID string, newRole models.TeamRole) (*models.UserSummary, error) {
	if !newRole.Valid() {
		return nil, apperr.Invalid("unknown team role %q", newRole)
	}

	var target *models.User
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, caller, err := s.lockTeamAndCaller(ctx, teamID, callerID)
		if err != nil {
			return err
		}
		if err := authorizeInTeam(caller, teamID, policy.TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin)); err != nil {
			return err
		}
		if callerID == targetID {
			return fmt.Errorf("%w: cannot change your own role", apperr.ErrInvalidRoleChange)
		}

		target, err = s.users.GetUserForUpdate(ctx, targetID)
		if err != nil {
			return err
		}
		if target == nil || !target.InTeam(teamID) {
			return fmt.Errorf("%w: target is not in this team", apperr.ErrNotMember)
		}
		if target.CurrentTeamRole() == models.TeamRoleOwner || newRole == models.TeamRoleOwner {
			return fmt.Errorf("%w: ownership only moves by transfer", apperr.ErrInvalidRoleChange)
		}
		if !caller.CurrentTeamRole().Outranks(target.CurrentTeamRole()) {
			return fmt.Errorf("%w: cannot change the role of an equal or higher member", apperr.ErrInsufficientRole)
		}
		return s.members.ChangeRole(ctx, target, newRole)
	})
	if err != nil {
		return nil, finishTx(ctx, "update member role", err)
	}

	telemetry.MembershipEventsTotal.WithLabelValues("role_changed").Inc()
	slog.InfoContext(ctx, "team member role changed", "team_id", teamID, "user_id", targetID, "role", newRole, "by", callerID)
	return target.Summary(), nil
}

// lockTeamAndCaller locks the team row and then the caller's user row
func (s *TeamService) lockTeamAndCaller(ctx context.Context, teamID, callerID string) (*models.Team, *models.User, error) {
	return lockTeamAndUser(ctx, s.teams, s.users, teamID, callerID)
}

func lockTeamAndUser(ctx context.Context, teams TeamStore, users UserStore, teamID, userID string) (*models.Team, *models.User, error) {
	team, err := teams.GetTeamForUpdate(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	if team == nil {
		return nil, nil, fmt.Errorf("%w: team", apperr.ErrNotFound)
	}
	user, err := users.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, apperr.ErrUnauthenticated
	}
	return team, user, nil
}

// authorizeInTeam requires user to belong to teamID and then applies req
func authorizeInTeam(user *models.User, teamID string, req policy.Requirement) error {
	if !user.InTeam(teamID) {
		telemetry.PolicyDenialsTotal.WithLabelValues(string(policy.ReasonNotTeamMember)).Inc()
		return apperr.ErrNotMember
	}
	return authorize(policy.ContextFor(user), req)
}

// authorize applies req to an authorization context, counting denials
func authorize(pc *policy.Context, req policy.Requirement) error {
	d := policy.Decide(pc, req)
	if d.Allowed {
		return nil
	}
	telemetry.PolicyDenialsTotal.WithLabelValues(string(d.Reason)).Inc()
	return d.Err()
}

func withMembers(ctx context.Context, users UserStore, team *models.Team) (*models.TeamWithMembers, error) {
	members, err := users.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return nil, err
	}

	out := &models.TeamWithMembers{Team: *team, Members: make([]*models.UserSummary, 0, len(members))}
	for _, m := range members {
		summary := m.Summary()
		if m.ID == team.OwnerID {
			out.Owner = summary
		}
		out.Members = append(out.Members, summary)
	}
	return out, nil
}

// finishTx classifies the error of a failed transactional unit. Domain errors pass through;
// anything else is reported as apperr.ErrTransactionFailed.
func finishTx(ctx context.Context, op string, err error) error {
	err = apperr.TxFailed(err)
	if errors.Is(err, apperr.ErrTransactionFailed) {
		telemetry.TransactionFailuresTotal.Inc()
		slog.ErrorContext(ctx, "transaction failed", "op", op, "error", err)
	}
	return err
}
