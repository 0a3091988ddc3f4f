// accounts.go implements signup, login, the caller's profile and global user administration.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/middleware"
	"github.com/fieldops/fieldops/internal/services"
)

// AccountHandlers handles authentication and user management endpoints
type AccountHandlers struct {
	accounts AccountService
	teams    TeamService
}

// NewAccountHandlers creates a new AccountHandlers instance
func NewAccountHandlers(accounts AccountService, teams TeamService) *AccountHandlers {
	return &AccountHandlers{accounts: accounts, teams: teams}
}

type signupRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Sign up
// @Description  Create a team-less account.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.User
// @Failure      400  {object}  map[string]interface{}  "Invalid input"
// @Failure      409  {object}  map[string]interface{}  "Username or email taken"
// @Router       /api/v1/auth/signup [post]
func (h *AccountHandlers) SignupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signupRequest
		if !bindJSON(c, &req) {
			return
		}
		user, err := h.accounts.Signup(c.Request.Context(), services.SignupInput{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Log in
// @Description  Exchange credentials for a bearer token.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Success      200  {object}  services.LoginResult
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Router       /api/v1/auth/login [post]
func (h *AccountHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// MeHandler returns the caller and, when they have one, their team
// GET /api/v1/me
func (h *AccountHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		resp := gin.H{"user": user, "team": nil}
		if !user.IsTeamless() {
			team, err := h.teams.GetUserTeam(c.Request.Context(), user.ID)
			if err != nil {
				respondError(c, err)
				return
			}
			resp["team"] = team
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ListUsersHandler lists accounts with pagination. Global admins only.
// GET /api/v1/users?page=1&per_page=20
func (h *AccountHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage := pagination(c)
		users, total, err := h.accounts.ListUsers(c.Request.Context(), middleware.PolicyContext(c), perPage, (page-1)*perPage)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"users": users,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

type globalRoleRequest struct {
	Role models.GlobalRole `json:"role" binding:"required"`
}

// SetGlobalRoleHandler changes a user's global role
// PATCH /api/v1/users/:id/role
func (h *AccountHandlers) SetGlobalRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req globalRoleRequest
		if !bindJSON(c, &req) {
			return
		}
		user, err := h.accounts.SetGlobalRole(c.Request.Context(), middleware.PolicyContext(c), c.Param("id"), req.Role)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// pagination reads page and per_page, defaulting to 1 and 20 with a cap of 100
func pagination(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

// callerID is the authenticated user id; routes using it sit behind AuthMiddleware
func callerID(c *gin.Context) string {
	if pc := middleware.PolicyContext(c); pc != nil {
		return pc.UserID
	}
	return ""
}

// requireCaller answers 401 when no user is attached to the request
func requireCaller(c *gin.Context) (string, bool) {
	id := callerID(c)
	if id == "" {
		respondError(c, apperr.ErrUnauthenticated)
		return "", false
	}
	return id, true
}
