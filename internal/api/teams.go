// teams.go implements team lifecycle, membership and invitation endpoints.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/middleware"
	"github.com/fieldops/fieldops/internal/services"
)

// TeamHandlers handles team and invitation endpoints
type TeamHandlers struct {
	teams       TeamService
	invitations InvitationService
}

// NewTeamHandlers creates a new TeamHandlers instance
func NewTeamHandlers(teams TeamService, invitations InvitationService) *TeamHandlers {
	return &TeamHandlers{teams: teams, invitations: invitations}
}

type createTeamRequest struct {
	Name        string  `json:"name" binding:"required"`
	Slug        string  `json:"slug" binding:"required"`
	Description *string `json:"description"`
	LogoURL     *string `json:"logo_url"`
}

// @Summary      Create team
// @Description  Create a team owned by the caller. The caller must not belong to a team.
// @Tags         Teams
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.TeamWithMembers
// @Failure      409  {object}  map[string]interface{}  "Already in a team or slug taken"
// @Router       /api/v1/teams [post]
func (h *TeamHandlers) CreateTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		var req createTeamRequest
		if !bindJSON(c, &req) {
			return
		}
		team, err := h.teams.CreateTeam(c.Request.Context(), userID, services.CreateTeamInput{
			Name:        req.Name,
			Slug:        req.Slug,
			Description: req.Description,
			LogoURL:     req.LogoURL,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, team)
	}
}

// MyTeamHandler returns the caller's team
// GET /api/v1/teams/mine
func (h *TeamHandlers) MyTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		team, err := h.teams.GetUserTeam(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, team)
	}
}

// GetTeamHandler returns a team by id to its members and to global admins.
// Anyone else gets the same 404 as for a team that does not exist.
// GET /api/v1/teams/:id
func (h *TeamHandlers) GetTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.Param("id")
		if !h.canView(c, teamID) {
			return
		}
		team, err := h.teams.GetTeamByID(c.Request.Context(), teamID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, team)
	}
}

// GetTeamBySlugHandler returns a team by slug to its members and to global admins
// GET /api/v1/teams/slug/:slug
func (h *TeamHandlers) GetTeamBySlugHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		team, err := h.teams.GetTeamBySlug(c.Request.Context(), c.Param("slug"))
		if err != nil {
			respondError(c, err)
			return
		}
		if !h.canView(c, team.ID) {
			return
		}
		c.JSON(http.StatusOK, team)
	}
}

var errTeamNotFound = fmt.Errorf("%w: team", apperr.ErrNotFound)

// canView answers 404 for teams the caller may not see, so existence is not disclosed
func (h *TeamHandlers) canView(c *gin.Context, teamID string) bool {
	pc := middleware.PolicyContext(c)
	if pc == nil {
		respondError(c, apperr.ErrUnauthenticated)
		return false
	}
	if pc.GlobalRole == models.GlobalRoleAdmin {
		return true
	}
	ok, err := h.teams.VerifyTeamAccess(c.Request.Context(), pc.UserID, teamID)
	if err != nil {
		respondError(c, err)
		return false
	}
	if !ok {
		respondError(c, errTeamNotFound)
		return false
	}
	return true
}

// UpdateTeamHandler applies a partial update. Owners and admins only.
// PATCH /api/v1/teams/:id
func (h *TeamHandlers) UpdateTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		var patch models.TeamPatch
		if !bindJSON(c, &patch) {
			return
		}
		team, err := h.teams.UpdateTeam(c.Request.Context(), c.Param("id"), userID, patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, team)
	}
}

// DeleteTeamHandler deletes a team and detaches its members. Owner only.
// DELETE /api/v1/teams/:id
func (h *TeamHandlers) DeleteTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		if err := h.teams.DeleteTeam(c.Request.Context(), c.Param("id"), userID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type transferRequest struct {
	NewOwnerID string `json:"new_owner_id" binding:"required"`
}

// TransferOwnershipHandler hands the team to another member; the old owner becomes admin
// POST /api/v1/teams/:id/transfer
func (h *TeamHandlers) TransferOwnershipHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		var req transferRequest
		if !bindJSON(c, &req) {
			return
		}
		team, err := h.teams.TransferOwnership(c.Request.Context(), c.Param("id"), userID, req.NewOwnerID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, team)
	}
}

type memberRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateMemberRoleHandler changes a member's team role
// PATCH /api/v1/teams/:id/members/:user_id
func (h *TeamHandlers) UpdateMemberRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		var req memberRoleRequest
		if !bindJSON(c, &req) {
			return
		}
		role, _ := models.ParseTeamRole(req.Role)
		member, err := h.teams.UpdateMemberRole(c.Request.Context(), c.Param("id"), userID, c.Param("user_id"), role)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, member)
	}
}

// RemoveMemberHandler removes a member, or lets the caller leave when user_id is themselves
// DELETE /api/v1/teams/:id/members/:user_id
func (h *TeamHandlers) RemoveMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		if err := h.teams.RemoveMember(c.Request.Context(), c.Param("id"), userID, c.Param("user_id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type inviteRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role"`
}

// invitationCreated exposes the code to the inviter, who delivers it out of band
type invitationCreated struct {
	*models.TeamInvitation
	Code string `json:"code"`
}

// @Summary      Invite to team
// @Description  Issue a single-use invitation for an email address. Owners and admins only.
// @Tags         Invitations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  invitationCreated
// @Failure      403  {object}  map[string]interface{}  "Insufficient role"
// @Failure      409  {object}  map[string]interface{}  "Already a member or already invited"
// @Router       /api/v1/teams/{id}/invitations [post]
func (h *TeamHandlers) InviteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		var req inviteRequest
		if !bindJSON(c, &req) {
			return
		}
		role := models.TeamRoleMember
		if req.Role != "" {
			role, _ = models.ParseTeamRole(req.Role)
		}
		inv, err := h.invitations.Invite(c.Request.Context(), c.Param("id"), userID, req.Email, role)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, invitationCreated{TeamInvitation: inv, Code: inv.Code})
	}
}

// ListTeamInvitationsHandler lists pending invitations of a team
// GET /api/v1/teams/:id/invitations
func (h *TeamHandlers) ListTeamInvitationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		invs, err := h.invitations.ListForTeam(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"invitations": invs})
	}
}

// CancelInvitationHandler cancels a pending invitation
// DELETE /api/v1/teams/:id/invitations/:invitation_id
func (h *TeamHandlers) CancelInvitationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		if err := h.invitations.Cancel(c.Request.Context(), c.Param("id"), c.Param("invitation_id"), userID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// MyInvitationsHandler lists pending invitations addressed to the caller's email
// GET /api/v1/invitations
func (h *TeamHandlers) MyInvitationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		invs, err := h.invitations.ListForUser(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"invitations": invs})
	}
}

type acceptRequest struct {
	Code string `json:"code" binding:"required"`
}

// AcceptInvitationHandler redeems an invitation code for the caller
// POST /api/v1/invitations/accept
func (h *TeamHandlers) AcceptInvitationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireCaller(c)
		if !ok {
			return
		}
		var req acceptRequest
		if !bindJSON(c, &req) {
			return
		}
		team, err := h.invitations.Accept(c.Request.Context(), userID, req.Code)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, team)
	}
}
