package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/policy"
)

func newAccounts(t *testing.T, st *memStore) *AccountService {
	t.Helper()
	issue := func(userID string, role models.GlobalRole, ttl time.Duration) (string, error) {
		return "token-for-" + userID + "-" + string(role), nil
	}
	svc, err := NewAccountService(st, issue, time.Hour, 4)
	require.NoError(t, err)
	return svc
}

func TestSignupAndLogin(t *testing.T) {
	st := newMemStore()
	accounts := newAccounts(t, st)
	ctx := context.Background()

	user, err := accounts.Signup(ctx, SignupInput{Username: "olivia", Email: "Olivia@Example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "olivia@example.com", user.Email)
	assert.Equal(t, models.GlobalRoleUser, user.Role)
	assert.True(t, user.IsTeamless())
	assert.NotEqual(t, "correct horse", user.PasswordHash)

	res, err := accounts.Login(ctx, "olivia", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "token-for-"+user.ID+"-user", res.Token)
	assert.Equal(t, user.ID, res.User.ID)

	_, err = accounts.Login(ctx, "olivia", "wrong horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = accounts.Login(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestSignup_Rejections(t *testing.T) {
	st := newMemStore()
	accounts := newAccounts(t, st)
	ctx := context.Background()
	_, err := accounts.Signup(ctx, SignupInput{Username: "olivia", Email: "olivia@x.com", Password: "password1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   SignupInput
		want error
	}{
		{"username taken ignoring case", SignupInput{"OLIVIA", "other@x.com", "password1"}, apperr.ErrConflict},
		{"email taken ignoring case", SignupInput{"other", "Olivia@X.com", "password1"}, apperr.ErrConflict},
		{"short password", SignupInput{"other", "other@x.com", "short"}, apperr.ErrInvalidInput},
		{"bad email", SignupInput{"other", "nope", "password1"}, apperr.ErrInvalidInput},
		{"bad username", SignupInput{"o", "other@x.com", "password1"}, apperr.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := accounts.Signup(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLogin_IssuerFailure(t *testing.T) {
	st := newMemStore()
	svc, err := NewAccountService(st, func(string, models.GlobalRole, time.Duration) (string, error) {
		return "", errors.New("no secret")
	}, time.Hour, 4)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = svc.Signup(ctx, SignupInput{Username: "olivia", Email: "olivia@x.com", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "olivia", "password1")
	assert.Error(t, err)
	assert.False(t, apperr.IsDomain(err))
}

func TestResolveContext_ReadsFreshMembership(t *testing.T) {
	f := newFixture(t)
	accounts := newAccounts(t, f.store)
	c := f.crew(t)

	pc, user, err := accounts.ResolveContext(f.ctx, c.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, c.admin.ID, user.ID)
	require.NotNil(t, pc.TeamRole)
	assert.Equal(t, models.TeamRoleAdmin, *pc.TeamRole)

	require.NoError(t, f.teams.RemoveMember(f.ctx, c.team.ID, c.owner.ID, c.admin.ID))
	pc, _, err = accounts.ResolveContext(f.ctx, c.admin.ID)
	require.NoError(t, err)
	assert.False(t, pc.HasTeam())

	_, _, err = accounts.ResolveContext(f.ctx, "deleted-user")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestGlobalUserManagement(t *testing.T) {
	f := newFixture(t)
	accounts := newAccounts(t, f.store)
	admin := f.user(t, "root")
	require.NoError(t, f.store.SetGlobalRole(f.ctx, admin.ID, models.GlobalRoleAdmin))
	bob := f.user(t, "bob")

	_, _, err := accounts.ListUsers(f.ctx, f.policyContext(t, bob.ID), 10, 0)
	assert.ErrorIs(t, err, apperr.ErrInsufficientGlobalRole)

	users, total, err := accounts.ListUsers(f.ctx, f.policyContext(t, admin.ID), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)

	promoted, err := accounts.SetGlobalRole(f.ctx, f.policyContext(t, admin.ID), bob.ID, models.GlobalRoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.GlobalRoleAdmin, promoted.Role)

	_, err = accounts.SetGlobalRole(f.ctx, f.policyContext(t, admin.ID), admin.ID, models.GlobalRoleUser)
	assert.ErrorIs(t, err, apperr.ErrInvalidRoleChange)

	_, err = accounts.SetGlobalRole(f.ctx, f.policyContext(t, admin.ID), bob.ID, models.GlobalRole("root"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = accounts.SetGlobalRole(f.ctx, nil, bob.ID, models.GlobalRoleUser)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	var nilCtx *policy.Context
	_, _, err = accounts.ListUsers(f.ctx, nilCtx, 10, 0)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}
