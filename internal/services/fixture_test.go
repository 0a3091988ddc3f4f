package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/policy"
)

type fixture struct {
	ctx     context.Context
	store   *memStore
	teams   *TeamService
	invites *InvitationService
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, true)
}

func newFixtureWith(t *testing.T, grantInvitedRole bool) *fixture {
	t.Helper()
	st := newMemStore()
	f := &fixture{
		ctx:   context.Background(),
		store: st,
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.teams = NewTeamService(st, st, st, st)
	f.invites = NewInvitationService(st, st, st, st, &seqCodes{}, InvitationOptions{
		TTL:              7 * 24 * time.Hour,
		GrantInvitedRole: grantInvitedRole,
		Now:              func() time.Time { return f.now },
	})
	t.Cleanup(func() {
		assert.NoError(t, st.checkInvariants(), "membership invariants")
	})
	return f
}

// user creates a team-less account with email <name>@x.com
func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     name,
		Email:        name + "@x.com",
		PasswordHash: "unused",
		Role:         models.GlobalRoleUser,
	}
	require.NoError(t, f.store.CreateUser(f.ctx, u))
	return u
}

// reload reads the current state of a user
func (f *fixture) reload(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.store.GetUser(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

func (f *fixture) createTeam(t *testing.T, owner *models.User, slug string) *models.TeamWithMembers {
	t.Helper()
	team, err := f.teams.CreateTeam(f.ctx, owner.ID, CreateTeamInput{Name: slug, Slug: slug})
	require.NoError(t, err)
	return team
}

// join invites u to teamID as role and accepts on their behalf
func (f *fixture) join(t *testing.T, teamID, inviterID string, u *models.User, role models.TeamRole) {
	t.Helper()
	inv, err := f.invites.Invite(f.ctx, teamID, inviterID, u.Email, role)
	require.NoError(t, err)
	_, err = f.invites.Accept(f.ctx, u.ID, inv.Code)
	require.NoError(t, err)
}

type crew struct {
	team   *models.TeamWithMembers
	owner  *models.User
	admin  *models.User
	admin2 *models.User
	member *models.User
	other  *models.User
}

// crew builds a team "acme" with an owner, two admins and a member, plus a team-less outsider
func (f *fixture) crew(t *testing.T) crew {
	t.Helper()
	c := crew{
		owner:  f.user(t, "olivia"),
		admin:  f.user(t, "adam"),
		admin2: f.user(t, "ada"),
		member: f.user(t, "mia"),
		other:  f.user(t, "bob"),
	}
	c.team = f.createTeam(t, c.owner, "acme")
	f.join(t, c.team.ID, c.owner.ID, c.admin, models.TeamRoleAdmin)
	f.join(t, c.team.ID, c.owner.ID, c.admin2, models.TeamRoleAdmin)
	f.join(t, c.team.ID, c.admin.ID, c.member, models.TeamRoleMember)
	return c
}

func (f *fixture) role(t *testing.T, id string) models.TeamRole {
	t.Helper()
	return f.reload(t, id).CurrentTeamRole()
}

func (f *fixture) policyContext(t *testing.T, id string) *policy.Context {
	t.Helper()
	return policy.ContextFor(f.reload(t, id))
}
