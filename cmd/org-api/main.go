// Package main is the entrypoint for the organization service.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/trustline/trustline/internal/config"
	"github.com/trustline/trustline/internal/handler"
	"github.com/trustline/trustline/internal/logging"
	"github.com/trustline/trustline/internal/metrics"
	"github.com/trustline/trustline/internal/middleware"
	"github.com/trustline/trustline/internal/migrate"
	"github.com/trustline/trustline/internal/registry"
	"github.com/trustline/trustline/internal/repository"
	"github.com/trustline/trustline/internal/server"
	"github.com/trustline/trustline/internal/signature"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadOrg()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if cfg.AutoMigrate {
		if err := migrate.Up(ctx, cfg.DatabaseURL, logger); err != nil {
			logger.Error("failed to run migrations",
				slog.String("error", logging.SanitizeError(err, cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.Options{})
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", logging.SanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", logging.RedactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	recorder := metrics.NewPrometheus("trustline_org")
	verifier := signature.NewVerifier(
		signature.NewRegistry(cfg.PeerIdentity()),
		signature.WithReplayWindow(cfg.ReplayWindow),
		signature.WithLogger(logger),
	)
	members := handler.NewMemberHandler(registry.New(repo, recorder, logger), logger)

	r := setupRouter(cfg, repo, verifier, members, recorder, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})

	logger.Info("starting org service",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"peer_service_id", cfg.PeerServiceID,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	cfg *config.OrgConfig,
	repo *repository.Repository,
	verifier *signature.Verifier,
	members *handler.MemberHandler,
	recorder *metrics.PrometheusRecorder,
	logger *slog.Logger,
) *chi.Mux {
	h := handler.New("org-service")
	health := handler.NewHealthHandler(logger, handler.Dependency{Name: "postgres", Checker: repo})
	metricsHandler := handler.NewMetricsHandler(recorder, "trustline_org")

	r := chi.NewRouter()

	// Global middleware
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	r.Get("/", h.Root)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Get("/metrics", metricsHandler.Metrics)

	r.Route("/api/v1/organizations/{org_id}", func(r chi.Router) {
		r.Post("/users", members.Create)
	})

	// Service-to-service routes; every request must carry a valid signature.
	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.ServiceAuth(middleware.ServiceAuthConfig{
			Verifier: verifier,
			Logger:   logger,
			Metrics:  recorder,
		}))
		r.Get("/users/{email}", members.Lookup)
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
