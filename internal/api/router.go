// Package api wires together all HTTP routes for the fieldops backend.
//
// Route grouping:
//   - /health, /ready and /version are public.
//   - /api/v1/auth/* is public and sits behind the stricter auth rate limiter.
//   - Everything else under /api/v1 requires a bearer token. Team-scoped resources
//     (sites, reports, media, files) additionally require team membership at the
//     router; finer role checks happen in the services where the rows are locked.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/fieldops/internal/config"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/middleware"
	"github.com/fieldops/fieldops/internal/policy"
	"github.com/fieldops/fieldops/internal/storage"
)

// Version is set by cmd/server from build flags
var Version = "dev"

// Pinger is satisfied by *sql.DB and *sqlx.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services bundles the domain services the handlers call
type Services struct {
	Accounts    AccountService
	Teams       TeamService
	Invitations InvitationService
	Sites       SiteService
	Reports     ReportService
}

// Deps are the infrastructure pieces the router needs besides the services
type Deps struct {
	DB       Pinger
	Blobs    storage.Storage
	Verifier middleware.TokenVerifier

	// AuthLimiter guards login, signup and invitation acceptance; APILimiter every
	// authenticated route. Nil disables the corresponding limit.
	AuthLimiter middleware.Limiter
	APILimiter  middleware.Limiter
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, svc Services, deps Deps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS.AllowedOrigins, cfg.Security.CORS.AllowedMethods))
	router.Use(middleware.SecurityHeadersMiddleware(securityHeaders(cfg)))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Blobs))
	router.GET("/version", versionHandler())

	accountHandlers := NewAccountHandlers(svc.Accounts, svc.Teams)
	teamHandlers := NewTeamHandlers(svc.Teams, svc.Invitations)
	resourceHandlers := NewResourceHandlers(svc.Sites, svc.Reports, cfg.Storage.MaxUploadBytes)

	authLimit := limit("auth", deps.AuthLimiter)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth", authLimit...)
		authGroup.POST("/signup", accountHandlers.SignupHandler())
		authGroup.POST("/login", accountHandlers.LoginHandler())
	}

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(deps.Verifier, svc.Accounts))
	authed.Use(limit("api", deps.APILimiter)...)
	{
		authed.GET("/me", accountHandlers.MeHandler())

		users := authed.Group("/users", middleware.RequirePolicy(policy.GlobalRoleIn(models.GlobalRoleAdmin)))
		users.GET("", accountHandlers.ListUsersHandler())
		users.PATCH("/:id/role", accountHandlers.SetGlobalRoleHandler())

		teams := authed.Group("/teams")
		teams.POST("", teamHandlers.CreateTeamHandler())
		teams.GET("/mine", teamHandlers.MyTeamHandler())
		teams.GET("/slug/:slug", teamHandlers.GetTeamBySlugHandler())
		teams.GET("/:id", teamHandlers.GetTeamHandler())
		teams.PATCH("/:id", teamHandlers.UpdateTeamHandler())
		teams.DELETE("/:id", teamHandlers.DeleteTeamHandler())
		teams.POST("/:id/transfer", teamHandlers.TransferOwnershipHandler())
		teams.PATCH("/:id/members/:user_id", teamHandlers.UpdateMemberRoleHandler())
		teams.DELETE("/:id/members/:user_id", teamHandlers.RemoveMemberHandler())
		teams.POST("/:id/invitations", teamHandlers.InviteHandler())
		teams.GET("/:id/invitations", teamHandlers.ListTeamInvitationsHandler())
		teams.DELETE("/:id/invitations/:invitation_id", teamHandlers.CancelInvitationHandler())

		authed.GET("/invitations", teamHandlers.MyInvitationsHandler())
		authed.POST("/invitations/accept", append(authLimit, teamHandlers.AcceptInvitationHandler())...)

		scoped := authed.Group("", middleware.RequirePolicy(policy.TeamMember()))
		scoped.GET("/sites", resourceHandlers.ListSitesHandler())
		scoped.POST("/sites", resourceHandlers.CreateSiteHandler())
		scoped.GET("/sites/:id", resourceHandlers.GetSiteHandler())
		scoped.PATCH("/sites/:id", resourceHandlers.UpdateSiteHandler())
		scoped.DELETE("/sites/:id", resourceHandlers.DeleteSiteHandler())

		scoped.GET("/reports", resourceHandlers.ListReportsHandler())
		scoped.POST("/reports", resourceHandlers.CreateReportHandler())
		scoped.GET("/reports/:id", resourceHandlers.GetReportHandler())
		scoped.PATCH("/reports/:id", resourceHandlers.UpdateReportHandler())
		scoped.DELETE("/reports/:id", resourceHandlers.DeleteReportHandler())
		scoped.GET("/reports/:id/media", resourceHandlers.ListMediaHandler())
		scoped.POST("/reports/:id/media", resourceHandlers.AttachMediaHandler())
		scoped.DELETE("/reports/:id/media/:media_id", resourceHandlers.DetachMediaHandler())

		if cfg.Storage.DefaultBackend == "local" && cfg.Storage.Local.ServeDirectly {
			scoped.GET("/files/*path", resourceHandlers.ServeFileHandler())
		}
	}

	return router
}

func limit(name string, l middleware.Limiter) []gin.HandlerFunc {
	if l == nil {
		return nil
	}
	return []gin.HandlerFunc{middleware.RateLimitMiddleware(name, l)}
}

func securityHeaders(cfg *config.Config) middleware.SecurityHeadersConfig {
	headers := middleware.APISecurityHeadersConfig()
	headers.EnableHSTS = cfg.Security.TLS.Enabled
	return headers
}

func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also probes the media backend with a path that never exists
func readinessHandler(db Pinger, blobs storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		checks := gin.H{}
		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "checks": checks, "error": "database not ready"})
			return
		}
		checks["database"] = "healthy"

		if _, err := blobs.Exists(ctx, ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "checks": checks, "error": "storage backend not ready"})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": Version, "api_version": "v1"})
	}
}
