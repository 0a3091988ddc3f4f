package policy

import (
	"errors"
	"testing"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
)

func strPtr(s string) *string { return &s }

func rolePtr(r models.TeamRole) *models.TeamRole { return &r }

func ctx(global models.GlobalRole, teamID *string, role *models.TeamRole) *Context {
	return &Context{UserID: "user-1", GlobalRole: global, TeamID: teamID, TeamRole: role}
}

func TestDecide(t *testing.T) {
	team := strPtr("team-1")

	tests := []struct {
		name string
		ctx  *Context
		req  Requirement
		want Decision
	}{
		{"nil context", nil, Authenticated(), Deny(ReasonUnauthenticated)},
		{"empty user id", &Context{}, Authenticated(), Deny(ReasonUnauthenticated)},
		{"nil context beats every other rule", nil, TeamRoleIn(models.TeamRoleOwner), Deny(ReasonUnauthenticated)},

		{"authenticated only, team-less", ctx(models.GlobalRoleUser, nil, nil), Authenticated(), Allow},

		{"membership required, team-less", ctx(models.GlobalRoleUser, nil, nil), TeamMember(), Deny(ReasonNotTeamMember)},
		{"membership required, member", ctx(models.GlobalRoleUser, team, rolePtr(models.TeamRoleMember)), TeamMember(), Allow},
		{"global admin is still not a team member", ctx(models.GlobalRoleAdmin, nil, nil), TeamMember(), Deny(ReasonNotTeamMember)},

		{"team role required, team-less", ctx(models.GlobalRoleUser, nil, nil), TeamRoleIn(models.TeamRoleOwner), Deny(ReasonInsufficientTeamRole)},
		{"team role and membership required, team-less", ctx(models.GlobalRoleUser, nil, nil), TeamMemberIn(models.TeamRoleOwner), Deny(ReasonNotTeamMember)},
		{
			"explicit membership with team roles, team-less",
			ctx(models.GlobalRoleAdmin, nil, nil),
			Requirement{Membership: true, TeamRoles: []models.TeamRole{models.TeamRoleOwner, models.TeamRoleAdmin}},
			Deny(ReasonNotTeamMember),
		},
		{"team role and membership required, admin", ctx(models.GlobalRoleUser, team, rolePtr(models.TeamRoleAdmin)), TeamMemberIn(models.TeamRoleOwner, models.TeamRoleAdmin), Allow},
		{"team role required, role missing", ctx(models.GlobalRoleUser, team, nil), TeamRoleIn(models.TeamRoleMember), Deny(ReasonInsufficientTeamRole)},
		{"owner in owner/admin", ctx(models.GlobalRoleUser, team, rolePtr(models.TeamRoleOwner)), TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin), Allow},
		{"admin in owner/admin", ctx(models.GlobalRoleUser, team, rolePtr(models.TeamRoleAdmin)), TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin), Allow},
		{"member not in owner/admin", ctx(models.GlobalRoleUser, team, rolePtr(models.TeamRoleMember)), TeamRoleIn(models.TeamRoleOwner, models.TeamRoleAdmin), Deny(ReasonInsufficientTeamRole)},
		{"admin not in owner-only", ctx(models.GlobalRoleUser, team, rolePtr(models.TeamRoleAdmin)), TeamRoleIn(models.TeamRoleOwner), Deny(ReasonInsufficientTeamRole)},

		{"global admin required, user", ctx(models.GlobalRoleUser, team, rolePtr(models.TeamRoleOwner)), GlobalRoleIn(models.GlobalRoleAdmin), Deny(ReasonInsufficientGlobalRole)},
		{"global admin required, admin without team", ctx(models.GlobalRoleAdmin, nil, nil), GlobalRoleIn(models.GlobalRoleAdmin), Allow},

		{
			"team rule is checked before global rule",
			ctx(models.GlobalRoleUser, team, rolePtr(models.TeamRoleMember)),
			Requirement{TeamRoles: []models.TeamRole{models.TeamRoleOwner}, GlobalRoles: []models.GlobalRole{models.GlobalRoleAdmin}},
			Deny(ReasonInsufficientTeamRole),
		},
		{
			"both rules satisfied",
			ctx(models.GlobalRoleAdmin, team, rolePtr(models.TeamRoleOwner)),
			Requirement{TeamRoles: []models.TeamRole{models.TeamRoleOwner}, GlobalRoles: []models.GlobalRole{models.GlobalRoleAdmin}},
			Allow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.ctx, tt.req)
			if got != tt.want {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecide_NoSideEffects(t *testing.T) {
	team := strPtr("team-1")
	c := ctx(models.GlobalRoleUser, team, rolePtr(models.TeamRoleMember))
	req := TeamRoleIn(models.TeamRoleOwner)

	first := Decide(c, req)
	second := Decide(c, req)
	if first != second {
		t.Errorf("repeated Decide() differs: %+v vs %+v", first, second)
	}
	if *c.TeamID != "team-1" || *c.TeamRole != models.TeamRoleMember {
		t.Error("Decide() mutated the context")
	}
}

func TestDecision_Err(t *testing.T) {
	tests := []struct {
		d    Decision
		want error
	}{
		{Allow, nil},
		{Deny(ReasonUnauthenticated), apperr.ErrUnauthenticated},
		{Deny(ReasonNotTeamMember), apperr.ErrNotMember},
		{Deny(ReasonInsufficientTeamRole), apperr.ErrInsufficientRole},
		{Deny(ReasonInsufficientGlobalRole), apperr.ErrInsufficientGlobalRole},
		{Deny("something-else"), apperr.ErrForbidden},
	}
	for _, tt := range tests {
		err := tt.d.Err()
		if tt.want == nil {
			if err != nil {
				t.Errorf("%+v.Err() = %v, want nil", tt.d, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("%+v.Err() = %v, want %v", tt.d, err, tt.want)
		}
	}
}

func TestContextFor(t *testing.T) {
	u := &models.User{ID: "u1", Role: models.GlobalRoleAdmin, TeamID: strPtr("t1"), TeamRole: rolePtr(models.TeamRoleAdmin)}
	c := ContextFor(u)
	if c.UserID != "u1" || c.GlobalRole != models.GlobalRoleAdmin || !c.HasTeam() || *c.TeamRole != models.TeamRoleAdmin {
		t.Errorf("ContextFor() = %+v", c)
	}
	var nilCtx *Context
	if nilCtx.HasTeam() {
		t.Error("nil context must not have a team")
	}
}

func TestRequirement_String(t *testing.T) {
	if got := Authenticated().String(); got != "authenticated" {
		t.Errorf("String() = %q", got)
	}
	if got := TeamMember().String(); got != "member" {
		t.Errorf("String() = %q", got)
	}
	if got := GlobalRoleIn(models.GlobalRoleAdmin).String(); got != "global_role in [admin]" {
		t.Errorf("String() = %q", got)
	}
}
