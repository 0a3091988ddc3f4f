package services

import (
	"context"
	"fmt"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
)

// Membership is the single write path for User.team_id, User.team_role and Team.owner_id.
// Every method must run inside a transaction on user rows the caller has already locked;
// the in-memory user is updated to match what was written.
type Membership struct {
	users UserStore
	teams TeamStore
}

// NewMembership creates the membership store
func NewMembership(users UserStore, teams TeamStore) *Membership {
	return &Membership{users: users, teams: teams}
}

// AssignOwner attaches a team-less user to teamID as its owner. Used only at team creation.
func (m *Membership) AssignOwner(ctx context.Context, user *models.User, teamID string) error {
	if !user.IsTeamless() {
		return apperr.ErrAlreadyInTeam
	}
	return m.write(ctx, user, &teamID, models.TeamRoleOwner)
}

// AssignMember attaches a team-less user to teamID with role, which may not be owner
func (m *Membership) AssignMember(ctx context.Context, user *models.User, teamID string, role models.TeamRole) error {
	if !user.IsTeamless() {
		return apperr.ErrAlreadyInTeam
	}
	if !role.Valid() || role == models.TeamRoleOwner {
		return fmt.Errorf("%w: cannot join as %q", apperr.ErrInvalidRoleChange, role)
	}
	return m.write(ctx, user, &teamID, role)
}

// Detach clears the user's team and role. Owners must transfer ownership first.
func (m *Membership) Detach(ctx context.Context, user *models.User) error {
	if user.IsTeamless() {
		return apperr.ErrNotMember
	}
	if user.CurrentTeamRole() == models.TeamRoleOwner {
		return apperr.ErrOwnerMustTransfer
	}
	return m.write(ctx, user, nil, "")
}

// ChangeRole sets a non-owner member's role to another non-owner role.
// Ownership only moves through TransferOwnership.
func (m *Membership) ChangeRole(ctx context.Context, user *models.User, newRole models.TeamRole) error {
	if user.IsTeamless() {
		return apperr.ErrNotMember
	}
	if user.CurrentTeamRole() == models.TeamRoleOwner || newRole == models.TeamRoleOwner || !newRole.Valid() {
		return apperr.ErrInvalidRoleChange
	}
	return m.write(ctx, user, user.TeamID, newRole)
}

// TransferOwnership makes to the owner of team and demotes from to admin. The demotion is
// written first so the team never has two owners, and all three writes share the caller's
// transaction so it never has none.
func (m *Membership) TransferOwnership(ctx context.Context, team *models.Team, from, to *models.User) error {
	if !from.InTeam(team.ID) || from.CurrentTeamRole() != models.TeamRoleOwner {
		return apperr.ErrInsufficientRole
	}
	if !to.InTeam(team.ID) {
		return apperr.ErrNotMember
	}
	if from.ID == to.ID {
		return fmt.Errorf("%w: already the owner", apperr.ErrInvalidRoleChange)
	}

	if err := m.write(ctx, from, from.TeamID, models.TeamRoleAdmin); err != nil {
		return err
	}
	if err := m.write(ctx, to, to.TeamID, models.TeamRoleOwner); err != nil {
		return err
	}
	if err := m.teams.SetTeamOwner(ctx, team.ID, to.ID); err != nil {
		return err
	}
	team.OwnerID = to.ID
	return nil
}

func (m *Membership) write(ctx context.Context, user *models.User, teamID *string, role models.TeamRole) error {
	var rolePtr *models.TeamRole
	if teamID != nil {
		r := role
		rolePtr = &r
	}
	if err := m.users.SetMembership(ctx, user.ID, teamID, rolePtr); err != nil {
		return err
	}
	user.TeamID = teamID
	user.TeamRole = rolePtr
	return nil
}
