package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/tenancy"
)

// memStore is an in-memory Durable Store. A transaction holds the store mutex for its whole
// duration and restores a snapshot when fn fails, so units are serialised and atomic like
// the row-locked Postgres units they stand in for. The schema's unique indexes are checked
// on write.
type memStore struct {
	mu   sync.Mutex
	data memData
	seq  int

	// fail makes the named method return the error once
	fail map[string]error
}

type memData struct {
	users       map[string]models.User
	teams       map[string]models.Team
	invitations map[string]models.TeamInvitation
	sites       map[string]models.Site
	reports     map[string]models.Report
	media       map[string]models.ReportMedia
}

func (d memData) clone() memData {
	return memData{
		users:       cloneMap(d.users),
		teams:       cloneMap(d.teams),
		invitations: cloneMap(d.invitations),
		sites:       cloneMap(d.sites),
		reports:     cloneMap(d.reports),
		media:       cloneMap(d.media),
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		data: memData{
			users:       map[string]models.User{},
			teams:       map[string]models.Team{},
			invitations: map[string]models.TeamInvitation{},
			sites:       map[string]models.Site{},
			reports:     map[string]models.Report{},
			media:       map[string]models.ReportMedia{},
		},
		fail: map[string]error{},
	}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// lock takes the store mutex unless ctx is inside a transaction, which already holds it
func (m *memStore) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *memStore) failing(method string) error {
	if err, ok := m.fail[method]; ok {
		delete(m.fail, method)
		return err
	}
	return nil
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// ptr helpers
func strPtr(s string) *string { return &s }

func rolePtr(r models.TeamRole) *models.TeamRole { return &r }

// === UserStore ===

func (m *memStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	defer m.lock(ctx)()
	if u, ok := m.data.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *memStore) GetUserForUpdate(ctx context.Context, id string) (*models.User, error) {
	return m.GetUser(ctx, id)
}

func (m *memStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	defer m.lock(ctx)()
	for _, u := range m.data.users {
		if strings.EqualFold(u.Username, username) {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer m.lock(ctx)()
	for _, u := range m.data.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateUser(ctx context.Context, user *models.User) error {
	defer m.lock(ctx)()
	for _, u := range m.data.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("failed to create user: %w", apperr.ErrConflict)
		}
	}
	user.ID = m.nextID("user")
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.data.users[user.ID] = *user
	return nil
}

func (m *memStore) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	defer m.lock(ctx)()
	all := make([]*models.User, 0, len(m.data.users))
	for _, u := range m.data.users {
		u := u
		all = append(all, &u)
	}
	sort.Slice(all, func(i, j int) bool { return strings.ToLower(all[i].Username) < strings.ToLower(all[j].Username) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memStore) SetGlobalRole(ctx context.Context, id string, role models.GlobalRole) error {
	defer m.lock(ctx)()
	u, ok := m.data.users[id]
	if !ok {
		return fmt.Errorf("%w: user", apperr.ErrNotFound)
	}
	u.Role = role
	m.data.users[id] = u
	return nil
}

func (m *memStore) SetMembership(ctx context.Context, userID string, teamID *string, role *models.TeamRole) error {
	defer m.lock(ctx)()
	if err := m.failing("SetMembership"); err != nil {
		return err
	}
	if (teamID == nil) != (role == nil) {
		return fmt.Errorf("team and team role must be set together")
	}
	u, ok := m.data.users[userID]
	if !ok {
		return fmt.Errorf("%w: user", apperr.ErrNotFound)
	}
	if role != nil && *role == models.TeamRoleOwner {
		for id, other := range m.data.users {
			if id != userID && other.InTeam(*teamID) && other.CurrentTeamRole() == models.TeamRoleOwner {
				return fmt.Errorf("failed to set membership: %w: users_single_owner_per_team", apperr.ErrConflict)
			}
		}
	}
	u.TeamID = teamID
	u.TeamRole = role
	m.data.users[userID] = u
	return nil
}

func (m *memStore) ListTeamMembers(ctx context.Context, teamID string) ([]*models.User, error) {
	defer m.lock(ctx)()
	rank := map[models.TeamRole]int{models.TeamRoleOwner: 0, models.TeamRoleAdmin: 1, models.TeamRoleMember: 2}
	var out []*models.User
	for _, u := range m.data.users {
		if u.InTeam(teamID) {
			u := u
			out = append(out, &u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank[out[i].CurrentTeamRole()], rank[out[j].CurrentTeamRole()]
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	return out, nil
}

func (m *memStore) DetachTeamMembers(ctx context.Context, teamID string) (int64, error) {
	defer m.lock(ctx)()
	var n int64
	for id, u := range m.data.users {
		if u.InTeam(teamID) {
			u.TeamID, u.TeamRole = nil, nil
			m.data.users[id] = u
			n++
		}
	}
	return n, nil
}

// === TeamStore ===

func (m *memStore) CreateTeam(ctx context.Context, team *models.Team) error {
	defer m.lock(ctx)()
	for _, t := range m.data.teams {
		if strings.EqualFold(t.Slug, team.Slug) {
			return fmt.Errorf("failed to create team: %w: teams_slug_lower_key", apperr.ErrSlugTaken)
		}
	}
	team.ID = m.nextID("team")
	team.CreatedAt = time.Now()
	team.UpdatedAt = team.CreatedAt
	m.data.teams[team.ID] = *team
	return nil
}

func (m *memStore) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	defer m.lock(ctx)()
	if t, ok := m.data.teams[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *memStore) GetTeamForUpdate(ctx context.Context, id string) (*models.Team, error) {
	return m.GetTeam(ctx, id)
}

func (m *memStore) GetTeamBySlug(ctx context.Context, slug string) (*models.Team, error) {
	defer m.lock(ctx)()
	for _, t := range m.data.teams {
		if strings.EqualFold(t.Slug, slug) {
			return &t, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateTeam(ctx context.Context, team *models.Team) error {
	defer m.lock(ctx)()
	if _, ok := m.data.teams[team.ID]; !ok {
		return fmt.Errorf("%w: team", apperr.ErrNotFound)
	}
	team.UpdatedAt = time.Now()
	m.data.teams[team.ID] = *team
	return nil
}

func (m *memStore) SetTeamOwner(ctx context.Context, teamID, ownerID string) error {
	defer m.lock(ctx)()
	if err := m.failing("SetTeamOwner"); err != nil {
		return err
	}
	t, ok := m.data.teams[teamID]
	if !ok {
		return fmt.Errorf("%w: team", apperr.ErrNotFound)
	}
	t.OwnerID = ownerID
	m.data.teams[teamID] = t
	return nil
}

func (m *memStore) DeleteTeam(ctx context.Context, id string) error {
	defer m.lock(ctx)()
	if err := m.failing("DeleteTeam"); err != nil {
		return err
	}
	if _, ok := m.data.teams[id]; !ok {
		return fmt.Errorf("%w: team", apperr.ErrNotFound)
	}
	delete(m.data.teams, id)
	for sid, s := range m.data.sites {
		if s.TeamID == id {
			delete(m.data.sites, sid)
		}
	}
	for rid, r := range m.data.reports {
		if r.TeamID == id {
			delete(m.data.reports, rid)
		}
	}
	return nil
}

// === InvitationStore ===

func (m *memStore) CreateInvitation(ctx context.Context, inv *models.TeamInvitation) error {
	defer m.lock(ctx)()
	for _, other := range m.data.invitations {
		if other.Code == inv.Code {
			return fmt.Errorf("failed to create invitation: %w: team_invitations_code_key", apperr.ErrConflict)
		}
		if other.TeamID == inv.TeamID && other.IsPending() && strings.EqualFold(other.Email, inv.Email) {
			return fmt.Errorf("failed to create invitation: %w: team_invitations_one_pending", apperr.ErrConflict)
		}
	}
	inv.ID = m.nextID("inv")
	// distinct, increasing creation times keep newest-first ordering deterministic
	inv.CreatedAt = time.Unix(int64(m.seq), 0)
	m.data.invitations[inv.ID] = *inv
	return nil
}

func (m *memStore) GetInvitationForUpdate(ctx context.Context, id string) (*models.TeamInvitation, error) {
	defer m.lock(ctx)()
	if inv, ok := m.data.invitations[id]; ok {
		return &inv, nil
	}
	return nil, nil
}

func (m *memStore) GetInvitationByCode(ctx context.Context, code string) (*models.TeamInvitation, error) {
	defer m.lock(ctx)()
	for _, inv := range m.data.invitations {
		if inv.Code == code {
			return &inv, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetInvitationByCodeForUpdate(ctx context.Context, code string) (*models.TeamInvitation, error) {
	return m.GetInvitationByCode(ctx, code)
}

func (m *memStore) FindPendingInvitation(ctx context.Context, teamID, email string) (*models.TeamInvitation, error) {
	defer m.lock(ctx)()
	for _, inv := range m.data.invitations {
		if inv.TeamID == teamID && inv.IsPending() && strings.EqualFold(inv.Email, email) {
			return &inv, nil
		}
	}
	return nil, nil
}

func (m *memStore) SetInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	defer m.lock(ctx)()
	if err := m.failing("SetInvitationStatus"); err != nil {
		return err
	}
	inv, ok := m.data.invitations[id]
	if !ok {
		return fmt.Errorf("%w: invitation", apperr.ErrNotFound)
	}
	inv.Status = status
	m.data.invitations[id] = inv
	return nil
}

func (m *memStore) DeletePendingInvitation(ctx context.Context, teamID, id string) (bool, error) {
	defer m.lock(ctx)()
	inv, ok := m.data.invitations[id]
	if !ok || inv.TeamID != teamID || !inv.IsPending() {
		return false, nil
	}
	delete(m.data.invitations, id)
	return true, nil
}

func (m *memStore) DeleteTeamInvitations(ctx context.Context, teamID string) (int64, error) {
	defer m.lock(ctx)()
	var n int64
	for id, inv := range m.data.invitations {
		if inv.TeamID == teamID {
			delete(m.data.invitations, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListPendingForTeam(ctx context.Context, teamID string) ([]*models.TeamInvitation, error) {
	defer m.lock(ctx)()
	var out []*models.TeamInvitation
	for _, inv := range m.data.invitations {
		if inv.TeamID == teamID && inv.IsPending() {
			inv := inv
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListPendingForEmail(ctx context.Context, email string) ([]*models.InvitationWithTeam, error) {
	defer m.lock(ctx)()
	var out []*models.InvitationWithTeam
	for _, inv := range m.data.invitations {
		if inv.IsPending() && strings.EqualFold(inv.Email, email) {
			t := m.data.teams[inv.TeamID]
			out = append(out, &models.InvitationWithTeam{TeamInvitation: inv, TeamName: t.Name, TeamSlug: t.Slug})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// === SiteStore ===

func (m *memStore) ListSites(ctx context.Context, scope tenancy.Scope) ([]*models.Site, error) {
	defer m.lock(ctx)()
	var out []*models.Site
	for _, s := range m.data.sites {
		if scope.Owns(s.TeamID) {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetSite(ctx context.Context, scope tenancy.Scope, id string) (*models.Site, error) {
	defer m.lock(ctx)()
	if s, ok := m.data.sites[id]; ok && scope.Owns(s.TeamID) {
		return &s, nil
	}
	return nil, nil
}

func (m *memStore) CreateSite(ctx context.Context, scope tenancy.Scope, site *models.Site) error {
	defer m.lock(ctx)()
	site.ID = m.nextID("site")
	site.TeamID = scope.TeamID()
	m.data.sites[site.ID] = *site
	return nil
}

func (m *memStore) UpdateSite(ctx context.Context, scope tenancy.Scope, site *models.Site) error {
	defer m.lock(ctx)()
	existing, ok := m.data.sites[site.ID]
	if !ok || !scope.Owns(existing.TeamID) {
		return fmt.Errorf("%w: site", apperr.ErrNotFound)
	}
	m.data.sites[site.ID] = *site
	return nil
}

func (m *memStore) DeleteSite(ctx context.Context, scope tenancy.Scope, id string) error {
	defer m.lock(ctx)()
	s, ok := m.data.sites[id]
	if !ok || !scope.Owns(s.TeamID) {
		return fmt.Errorf("%w: site", apperr.ErrNotFound)
	}
	delete(m.data.sites, id)
	return nil
}

// === ReportStore ===

func (m *memStore) ListReports(ctx context.Context, scope tenancy.Scope, siteID string, limit, offset int) ([]*models.Report, error) {
	defer m.lock(ctx)()
	var out []*models.Report
	for _, r := range m.data.reports {
		if scope.Owns(r.TeamID) && (siteID == "" || r.SiteID == siteID) {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetReport(ctx context.Context, scope tenancy.Scope, id string) (*models.Report, error) {
	defer m.lock(ctx)()
	if r, ok := m.data.reports[id]; ok && scope.Owns(r.TeamID) {
		return &r, nil
	}
	return nil, nil
}

func (m *memStore) CreateReport(ctx context.Context, scope tenancy.Scope, report *models.Report) error {
	defer m.lock(ctx)()
	site, ok := m.data.sites[report.SiteID]
	if !ok || !scope.Owns(site.TeamID) {
		return fmt.Errorf("%w: site", apperr.ErrNotFound)
	}
	report.ID = m.nextID("report")
	report.TeamID = scope.TeamID()
	report.EditCount = 0
	m.data.reports[report.ID] = *report
	return nil
}

func (m *memStore) UpdateReport(ctx context.Context, scope tenancy.Scope, report *models.Report, maxEdits int) (bool, error) {
	defer m.lock(ctx)()
	existing, ok := m.data.reports[report.ID]
	if !ok || !scope.Owns(existing.TeamID) {
		return false, nil
	}
	if maxEdits >= 0 && existing.EditCount >= maxEdits {
		return false, nil
	}
	existing.Title = report.Title
	existing.Notes = report.Notes
	existing.EditCount++
	m.data.reports[report.ID] = existing
	report.EditCount = existing.EditCount
	return true, nil
}

func (m *memStore) DeleteReport(ctx context.Context, scope tenancy.Scope, id string) error {
	defer m.lock(ctx)()
	r, ok := m.data.reports[id]
	if !ok || !scope.Owns(r.TeamID) {
		return fmt.Errorf("%w: report", apperr.ErrNotFound)
	}
	delete(m.data.reports, id)
	for mid, media := range m.data.media {
		if media.ReportID == id {
			delete(m.data.media, mid)
		}
	}
	return nil
}

func (m *memStore) AddMedia(ctx context.Context, scope tenancy.Scope, media *models.ReportMedia) error {
	defer m.lock(ctx)()
	if err := m.failing("AddMedia"); err != nil {
		return err
	}
	r, ok := m.data.reports[media.ReportID]
	if !ok || !scope.Owns(r.TeamID) {
		return fmt.Errorf("%w: report", apperr.ErrNotFound)
	}
	media.ID = m.nextID("media")
	media.TeamID = scope.TeamID()
	m.data.media[media.ID] = *media
	return nil
}

func (m *memStore) ListMedia(ctx context.Context, scope tenancy.Scope, reportID string) ([]*models.ReportMedia, error) {
	defer m.lock(ctx)()
	var out []*models.ReportMedia
	for _, media := range m.data.media {
		if media.ReportID == reportID && scope.Owns(media.TeamID) {
			media := media
			out = append(out, &media)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) RemoveMedia(ctx context.Context, scope tenancy.Scope, reportID, mediaID string) (*models.ReportMedia, error) {
	defer m.lock(ctx)()
	media, ok := m.data.media[mediaID]
	if !ok || media.ReportID != reportID || !scope.Owns(media.TeamID) {
		return nil, nil
	}
	delete(m.data.media, mediaID)
	return &media, nil
}

// === invariant checks used by the tests ===

// checkInvariants verifies the membership invariants over the whole store
func (m *memStore) checkInvariants() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners := map[string][]string{}
	for _, u := range m.data.users {
		if (u.TeamID == nil) != (u.TeamRole == nil) {
			return fmt.Errorf("user %s has team %v and role %v", u.ID, u.TeamID, u.TeamRole)
		}
		if u.TeamID != nil {
			if _, ok := m.data.teams[*u.TeamID]; !ok {
				return fmt.Errorf("user %s references missing team %s", u.ID, *u.TeamID)
			}
			if *u.TeamRole == models.TeamRoleOwner {
				owners[*u.TeamID] = append(owners[*u.TeamID], u.ID)
			}
		}
	}
	for id, t := range m.data.teams {
		if len(owners[id]) != 1 {
			return fmt.Errorf("team %s has owners %v", id, owners[id])
		}
		if owners[id][0] != t.OwnerID {
			return fmt.Errorf("team %s owner_id %s but owner member %s", id, t.OwnerID, owners[id][0])
		}
	}
	pending := map[string]int{}
	for _, inv := range m.data.invitations {
		if inv.IsPending() {
			key := inv.TeamID + "|" + strings.ToLower(inv.Email)
			pending[key]++
			if pending[key] > 1 {
				return fmt.Errorf("more than one pending invitation for %s", key)
			}
		}
	}
	return nil
}

// seqCodes is a deterministic CodeGenerator
type seqCodes struct {
	mu sync.Mutex
	n  int
}

func (g *seqCodes) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("code-%04d", g.n), nil
}
