// Package main is the entrypoint for the auth service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/trustline/trustline/internal/auth"
	"github.com/trustline/trustline/internal/cache"
	"github.com/trustline/trustline/internal/config"
	"github.com/trustline/trustline/internal/handler"
	"github.com/trustline/trustline/internal/logging"
	"github.com/trustline/trustline/internal/login"
	"github.com/trustline/trustline/internal/metrics"
	"github.com/trustline/trustline/internal/middleware"
	"github.com/trustline/trustline/internal/migrate"
	"github.com/trustline/trustline/internal/orgclient"
	"github.com/trustline/trustline/internal/repository"
	"github.com/trustline/trustline/internal/server"
	"github.com/trustline/trustline/internal/signature"
	"github.com/trustline/trustline/internal/token"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadAuth()
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

	// Redis is optional; without it login is not rate limited.
	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", logging.SanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", logging.RedactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		logger.Info("connected to Redis")
	}

	recorder := metrics.NewPrometheus("trustline_auth")

	issuer, err := token.NewIssuer([]byte(cfg.JWTSecret),
		token.WithTTL(cfg.TokenTTL),
		token.WithIssuerName(cfg.JWTIssuer),
	)
	if err != nil {
		logger.Error("failed to create token issuer", "error", err)
		os.Exit(1)
	}

	orgClient, err := orgclient.New(orgclient.Config{
		BaseURL:        cfg.OrgServiceURL,
		ConnectTimeout: cfg.OrgConnectTimeout,
		ReadTimeout:    cfg.OrgReadTimeout,
	}, signature.NewSigner(cfg.Identity()), logger)
	if err != nil {
		logger.Error("failed to create org service client", "error", err)
		os.Exit(1)
	}

	credentials := auth.NewCredentialStore(repo, logger)
	loginService := login.NewService(credentials, orgClient, issuer, recorder, logger)

	r := setupRouter(cfg, repo, cacheClient, loginService, recorder, logger)

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
	if cacheClient != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return cacheClient.Close()
		})
	}

	logger.Info("starting auth service",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"service_id", cfg.ServiceID,
		"org_service_url", logging.RedactURL(cfg.OrgServiceURL),
		"rate_limit", cfg.RateLimitEnabled(),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	cfg *config.AuthConfig,
	repo *repository.Repository,
	cacheClient *cache.Cache,
	loginService *login.Service,
	recorder *metrics.PrometheusRecorder,
	logger *slog.Logger,
) *chi.Mux {
	h := handler.New("auth-service")
	metricsHandler := handler.NewMetricsHandler(recorder, "trustline_auth")
	authHandler := handler.NewAuthHandler(loginService, logger)

	redisDep := handler.Dependency{Name: "redis"}
	rateLimitCfg := middleware.RateLimitConfig{
		Logger:            logger,
		Metrics:           recorder,
		Enabled:           cfg.RateLimitEnabled(),
		RequestsPerMinute: cfg.RateLimitLoginRPM,
		Burst:             cfg.RateLimitLoginBurst,
	}
	if cacheClient != nil {
		redisDep.Checker = cacheClient
		rateLimitCfg.Limiter = cacheClient
		if cfg.RateLimitEnabled() {
			authHandler.WithEmailLimit(cacheClient, cfg.RateLimitLoginRPM, cfg.RateLimitLoginBurst, recorder)
		}
	}
	health := handler.NewHealthHandler(logger, handler.Dependency{Name: "postgres", Checker: repo}, redisDep)

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

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.GetCORSAllowedOrigins())))
		r.With(middleware.RateLimitLogin(rateLimitCfg)).Post("/login", authHandler.Login)
		// Preflight must reach the CORS middleware.
		r.Options("/login", func(w http.ResponseWriter, r *http.Request) {})
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
