// Package main is the entry point for the fieldops server binary.
// It dispatches its subcommands (serve, migrate, grant-admin, version) via a switch
// on os.Args. serve applies pending migrations before accepting traffic.
// grant-admin bootstraps the first global admin, since signup only creates users.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fieldops/fieldops/internal/api"
	"github.com/fieldops/fieldops/internal/auth"
	"github.com/fieldops/fieldops/internal/config"
	"github.com/fieldops/fieldops/internal/db"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/fieldops/fieldops/internal/db/repositories"
	"github.com/fieldops/fieldops/internal/middleware"
	"github.com/fieldops/fieldops/internal/safego"
	"github.com/fieldops/fieldops/internal/services"
	"github.com/fieldops/fieldops/internal/storage"
	_ "github.com/fieldops/fieldops/internal/storage/local"
	s3storage "github.com/fieldops/fieldops/internal/storage/s3"
	"github.com/fieldops/fieldops/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("fieldops v%s\n", version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "grant-admin":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s grant-admin <username>", os.Args[0])
		}
		return grantAdmin(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, grant-admin, version", command)
	}
}

func serve(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)
	api.Version = version

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to read schema version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	telemetry.StartDBStatsCollector(ctx, database)

	blobs, err := storage.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise storage: %w", err)
	}
	if s3b, ok := blobs.(*s3storage.S3Storage); ok {
		if err := s3b.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to prepare media bucket: %w", err)
		}
	}

	svc, err := buildServices(cfg, sqlx.NewDb(database, "postgres"), blobs)
	if err != nil {
		return err
	}

	authLimiter, apiLimiter, closeLimiters := buildLimiters(ctx, cfg)
	defer closeLimiters()

	router := api.NewRouter(cfg, svc, api.Deps{
		DB:          database,
		Blobs:       blobs,
		Verifier:    auth.JWTVerifier{},
		AuthLimiter: authLimiter,
		APILimiter:  apiLimiter,
	})

	// Prometheus is served on its own port so the scrape path stays off the public ingress
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Go("metrics-server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"storage_backend", cfg.Storage.DefaultBackend,
			"tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}

var (
	_ services.TxRunner        = (*repositories.DB)(nil)
	_ services.UserStore       = (*repositories.UserRepository)(nil)
	_ services.TeamStore       = (*repositories.TeamRepository)(nil)
	_ services.InvitationStore = (*repositories.InvitationRepository)(nil)
	_ services.SiteStore       = (*repositories.SiteRepository)(nil)
	_ services.ReportStore     = (*repositories.ReportRepository)(nil)
	_ services.CodeGenerator   = (*auth.CodeGenerator)(nil)
)

func buildServices(cfg *config.Config, sqlxDB *sqlx.DB, blobs storage.Storage) (api.Services, error) {
	store := repositories.NewDB(sqlxDB)
	users := repositories.NewUserRepository(store)
	teams := repositories.NewTeamRepository(store)
	invitations := repositories.NewInvitationRepository(store)

	accounts, err := services.NewAccountService(users, auth.GenerateJWT, cfg.Auth.TokenTTL, cfg.Auth.BcryptCost)
	if err != nil {
		return api.Services{}, fmt.Errorf("failed to create account service: %w", err)
	}

	return api.Services{
		Accounts: accounts,
		Teams:    services.NewTeamService(store, users, teams, invitations),
		Invitations: services.NewInvitationService(store, users, teams, invitations,
			auth.NewCodeGenerator(cfg.Teams.InviteCodeBytes),
			services.InvitationOptions{
				TTL:              cfg.Teams.InvitationTTL,
				GrantInvitedRole: cfg.Teams.GrantInvitedRole,
			}),
		Sites:   services.NewSiteService(repositories.NewSiteRepository(store)),
		Reports: services.NewReportService(repositories.NewReportRepository(store), blobs, cfg.Teams.ReportFreeEdits, cfg.Storage.MaxUploadBytes),
	}, nil
}

// buildLimiters returns the auth and API limiters, both nil when rate limiting is off.
// With redis configured the limits are shared across replicas and fall back to
// per-process buckets while redis is unreachable.
func buildLimiters(ctx context.Context, cfg *config.Config) (authLimiter, apiLimiter middleware.Limiter, closeFn func()) {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled {
		return nil, nil, func() {}
	}

	authCfg := middleware.RateLimitConfig{RequestsPerMinute: rl.AuthRequestsPerMinute, Burst: rl.AuthRequestsPerMinute}
	apiCfg := middleware.RateLimitConfig{RequestsPerMinute: rl.RequestsPerMinute, Burst: rl.Burst}

	memAuth := middleware.NewMemoryLimiter(authCfg)
	memAPI := middleware.NewMemoryLimiter(apiCfg)
	memAuth.StartSweeper(ctx, 5*time.Minute)
	memAPI.StartSweeper(ctx, 5*time.Minute)

	if !cfg.Redis.Enabled() {
		slog.Info("rate limiting uses in-process buckets")
		return memAuth, memAPI, func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable at startup, limiter will fall back to memory", "addr", cfg.Redis.Addr, "error", err)
	} else {
		slog.Info("rate limiting uses redis", "addr", cfg.Redis.Addr)
	}

	authLimiter = middleware.NewFallbackLimiter(middleware.NewRedisLimiter(rdb, "auth", authCfg), memAuth)
	apiLimiter = middleware.NewFallbackLimiter(middleware.NewRedisLimiter(rdb, "api", apiCfg), memAPI)
	return authLimiter, apiLimiter, func() { _ = rdb.Close() }
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", v, "dirty", dirty)
	return nil
}

func grantAdmin(cfg *config.Config, username string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ctx := context.Background()
	users := repositories.NewUserRepository(repositories.NewDB(sqlx.NewDb(database, "postgres")))
	user, err := users.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", username)
	}
	if err := users.SetGlobalRole(ctx, user.ID, models.GlobalRoleAdmin); err != nil {
		return err
	}
	slog.Info("granted global admin", "user_id", user.ID, "username", user.Username)
	return nil
}
