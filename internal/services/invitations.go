package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/policy"
	"github.com/fieldops/fieldops/internal/telemetry"
)

// InvitationService issues, redeems and cancels team invitations
type InvitationService struct {
	tx               TxRunner
	users            UserStore
	teams            TeamStore
	invitations      InvitationStore
	members          *Membership
	codes            CodeGenerator
	ttl              time.Duration
	grantInvitedRole bool
	now              func() time.Time
}

// InvitationOptions tunes invitation issuing and redemption
type InvitationOptions struct {
	TTL time.Duration
	// GrantInvitedRole makes acceptance grant the role named on the invitation.
	// When false every invitee joins as member.
	GrantInvitedRole bool
	Now              func() time.Time
}

// NewInvitationService creates a new invitation service
func NewInvitationService(tx TxRunner, users UserStore, teams TeamStore, invitations InvitationStore, codes CodeGenerator, opts InvitationOptions) *InvitationService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &InvitationService{
		tx:               tx,
		users:            users,
		teams:            teams,
		invitations:      invitations,
		members:          NewMembership(users, teams),
		codes:            codes,
		ttl:              opts.TTL,
		grantInvitedRole: opts.GrantInvitedRole,
		now:              opts.Now,
	}
}

// Invite issues a pending invitation for email to join teamID with role (admin or member).
// The inviter must be the team's owner or an admin.
func (s *InvitationService) Invite(ctx context.Context, teamID, inviterID, email string, role models.TeamRole) (*models.TeamInvitation, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" {
		return nil, apperr.Invalid("email must be a plain email address")
	}
	email = models.NormalizeEmail(addr.Address)
	if role != models.TeamRoleAdmin && role != models.TeamRoleMember {
		return nil, apperr.Invalid("role must be admin or member")
	}

	code, err := s.codes.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation code: %w", err)
	}

	var inv *models.TeamInvitation
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, inviter, err := lockTeamAndUser(ctx, s.teams, s.users, teamID, inviterID)
		if err != nil {
			return err
		}
		if err := authorizeInTeam(inviter, teamID, policy.TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin)); err != nil {
			return err
		}

		existing, err := s.users.GetUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil && existing.InTeam(teamID) {
			return fmt.Errorf("%w: %s is already a member", apperr.ErrConflict, email)
		}
		pending, err := s.invitations.FindPendingInvitation(ctx, teamID, email)
		if err != nil {
			return err
		}
		if pending != nil {
			return fmt.Errorf("%w: a pending invitation for %s exists", apperr.ErrConflict, email)
		}

		inv = &models.TeamInvitation{
			TeamID:    teamID,
			Email:     email,
			Code:      code,
			InviterID: inviterID,
			Role:      role,
			Status:    models.InvitationPending,
			ExpiresAt: s.now().Add(s.ttl),
		}
		return s.invitations.CreateInvitation(ctx, inv)
	})
	if err != nil {
		return nil, finishTx(ctx, "create invitation", err)
	}

	telemetry.InvitationEventsTotal.WithLabelValues("created").Inc()
	slog.InfoContext(ctx, "invitation created", "team_id", teamID, "invitation_id", inv.ID, "role", role, "by", inviterID)
	return inv, nil
}

// Accept redeems code for userID. Checks run in this order: the code exists, the user is
// team-less, the invitation is pending, it has not expired, and the emails match. An
// expired invitation is marked expired even though the call fails.
func (s *InvitationService) Accept(ctx context.Context, userID, code string) (*models.TeamWithMembers, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: invitation", apperr.ErrNotFound)
	}

	peek, err := s.invitations.GetInvitationByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, fmt.Errorf("%w: invitation", apperr.ErrNotFound)
	}

	var team *models.Team
	var role models.TeamRole
	expired := false
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		team, err = s.teams.GetTeamForUpdate(ctx, peek.TeamID)
		if err != nil {
			return err
		}
		inv, err := s.invitations.GetInvitationByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if team == nil || inv == nil || inv.TeamID != team.ID {
			return fmt.Errorf("%w: invitation", apperr.ErrNotFound)
		}
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
		if !inv.IsPending() {
			return fmt.Errorf("%w: invitation is %s", apperr.ErrInvalidState, inv.Status)
		}
		if inv.ExpiredAt(s.now()) {
			expired = true
			return s.invitations.SetInvitationStatus(ctx, inv.ID, models.InvitationExpired)
		}
		if models.NormalizeEmail(user.Email) != models.NormalizeEmail(inv.Email) {
			return apperr.ErrEmailMismatch
		}

		role = models.TeamRoleMember
		if s.grantInvitedRole {
			role = inv.Role
		}
		if err := s.members.AssignMember(ctx, user, team.ID, role); err != nil {
			return err
		}
		return s.invitations.SetInvitationStatus(ctx, inv.ID, models.InvitationAccepted)
	})
	if err != nil {
		if apperr.IsDomain(err) {
			telemetry.InvitationEventsTotal.WithLabelValues("rejected").Inc()
		}
		return nil, finishTx(ctx, "accept invitation", err)
	}
	if expired {
		telemetry.InvitationEventsTotal.WithLabelValues("expired").Inc()
		slog.InfoContext(ctx, "invitation expired on redemption", "invitation_id", peek.ID, "user_id", userID)
		return nil, apperr.ErrExpired
	}

	telemetry.InvitationEventsTotal.WithLabelValues("accepted").Inc()
	telemetry.MembershipEventsTotal.WithLabelValues("member_joined").Inc()
	slog.InfoContext(ctx, "invitation accepted", "team_id", team.ID, "invitation_id", peek.ID, "user_id", userID, "role", role)
	return withMembers(ctx, s.users, team)
}

// Cancel deletes a pending invitation of teamID. The caller must be the team's owner or an admin.
func (s *InvitationService) Cancel(ctx context.Context, teamID, invitationID, callerID string) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, caller, err := lockTeamAndUser(ctx, s.teams, s.users, teamID, callerID)
		if err != nil {
			return err
		}
		if err := authorizeInTeam(caller, teamID, policy.TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin)); err != nil {
			return err
		}

		inv, err := s.invitations.GetInvitationForUpdate(ctx, invitationID)
		if err != nil {
			return err
		}
		if inv == nil || inv.TeamID != teamID {
			return fmt.Errorf("%w: invitation", apperr.ErrNotFound)
		}
		if !inv.IsPending() {
			return fmt.Errorf("%w: invitation is %s", apperr.ErrInvalidState, inv.Status)
		}
		deleted, err := s.invitations.DeletePendingInvitation(ctx, teamID, invitationID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: invitation", apperr.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return finishTx(ctx, "cancel invitation", err)
	}

	telemetry.InvitationEventsTotal.WithLabelValues("cancelled").Inc()
	slog.InfoContext(ctx, "invitation cancelled", "team_id", teamID, "invitation_id", invitationID, "by", callerID)
	return nil
}

// ListForTeam returns the team's pending invitations, newest first. Owner or admin only.
func (s *InvitationService) ListForTeam(ctx context.Context, teamID, callerID string) ([]*models.TeamInvitation, error) {
	caller, err := s.users.GetUser(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if err := authorizeInTeam(caller, teamID, policy.TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin)); err != nil {
		return nil, err
	}
	return s.invitations.ListPendingForTeam(ctx, teamID)
}

// ListForUser returns the pending invitations addressed to userID's email
func (s *InvitationService) ListForUser(ctx context.Context, userID string) ([]*models.InvitationWithTeam, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.ErrUnauthenticated
	}
	return s.invitations.ListPendingForEmail(ctx, models.NormalizeEmail(user.Email))
}
