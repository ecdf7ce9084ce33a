package server

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pms/internal/domain/audit"
	"pms/internal/domain/auth"
	"pms/internal/domain/calibration"
	"pms/internal/domain/core"
	"pms/internal/domain/decisions"
	"pms/internal/domain/evidence"
	"pms/internal/domain/goals"
	"pms/internal/domain/notifications"
	"pms/internal/domain/reports"
	"pms/internal/domain/reviews"
	"pms/internal/platform/config"
	cryptoutil "pms/internal/platform/crypto"
	"pms/internal/platform/db"
	"pms/internal/platform/email"
	"pms/internal/platform/jobs"
	"pms/internal/platform/metrics"
	"pms/internal/transport/http/api"
	audithandler "pms/internal/transport/http/handlers/audit"
	authhandler "pms/internal/transport/http/handlers/auth"
	calibrationhandler "pms/internal/transport/http/handlers/calibration"
	corehandler "pms/internal/transport/http/handlers/core"
	decisionshandler "pms/internal/transport/http/handlers/decisions"
	evidencehandler "pms/internal/transport/http/handlers/evidence"
	goalshandler "pms/internal/transport/http/handlers/goals"
	notificationshandler "pms/internal/transport/http/handlers/notifications"
	reportshandler "pms/internal/transport/http/handlers/reports"
	reviewshandler "pms/internal/transport/http/handlers/reviews"
	"pms/internal/transport/http/middleware"
)

// App bundles the wired router and its backing resources so tests can boot
// the full stack against a scratch database.
type App struct {
	DB     *pgxpool.Pool
	Router chi.Router
	Jobs   *jobs.Service
}

func (a *App) Close() {
	if a.Jobs != nil {
		a.Jobs.Stop()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, "migrations"); err != nil {
			pool.Close()
			return nil, err
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool, cfg); err != nil {
			pool.Close()
			return nil, err
		}
	}

	cryptoSvc, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		pool.Close()
		return nil, err
	}

	authStore := auth.NewStore(pool)
	auditSvc := audit.New(pool)
	coreStore := core.NewStore(pool)
	notifySvc := notifications.New(notifications.NewStore(pool), email.New(cfg))
	notifySvc.DefaultFrom = cfg.EmailFrom

	goalSvc := goals.NewService(goals.NewStore(pool))
	evidenceSvc := evidence.NewService(evidence.NewStore(pool))

	calibrationSvc := calibration.NewService(calibration.NewStore(pool), auditSvc, calibration.Config{
		OutlierStdDev:     cfg.OutlierStdDev,
		LeniencyThreshold: cfg.LeniencyThreshold,
		BiasMinSample:     cfg.BiasMinSample,
	})

	reviewStore := reviews.NewStore(pool)
	cycleSvc := reviews.NewCycleService(reviewStore, auditSvc, calibrationSvc, notifySvc)
	reviewSvc := reviews.NewService(reviewStore, auditSvc, goalSvc, evidenceSvc, notifySvc, coreStore)

	decisionSvc := decisions.NewService(decisions.NewStore(pool), auditSvc, evidenceSvc, cryptoSvc, coreStore, notifySvc)
	reportSvc := reports.NewService(reports.NewStore(pool), calibrationSvc, cryptoSvc, cfg.ReportDir)

	jobSvc := jobs.New(pool, cfg, notifySvc)

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.New()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Metrics(collector))
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute))
	router.Use(middleware.Auth(cfg.JWTSecret))
	router.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMinute, time.Minute))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if collector != nil {
		router.With(middleware.RequirePermission(auth.PermSystemAdmin, authStore)).
			Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
				api.Success(w, collector.Snapshot(), middleware.GetRequestID(r.Context()))
			})
	}

	router.Route("/api/v1", func(r chi.Router) {
		authHandler := authhandler.NewHandler(authStore, cfg.JWTSecret)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Get("/auth/me", authHandler.HandleMe)
		r.Post("/auth/change-password", authHandler.HandleChangePassword)

		corehandler.NewHandler(coreStore, authStore).RegisterRoutes(r)
		goalshandler.NewHandler(goalSvc, authStore).RegisterRoutes(r)
		evidencehandler.NewHandler(evidenceSvc, authStore).RegisterRoutes(r)
		reviewshandler.NewHandler(cycleSvc, reviewSvc, authStore, middleware.NewIdempotencyStore(pool)).RegisterRoutes(r)
		calibrationhandler.NewHandler(calibrationSvc, authStore).RegisterRoutes(r)
		decisionshandler.NewHandler(decisionSvc, authStore).RegisterRoutes(r)
		audithandler.NewHandler(auditSvc, authStore).RegisterRoutes(r)
		notificationshandler.NewHandler(notifySvc).RegisterRoutes(r)
		reportshandler.NewHandler(reportSvc, authStore).RegisterRoutes(r)
	})

	return &App{DB: pool, Router: router, Jobs: jobSvc}, nil
}

func Run() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx := context.Background()
	app, err := New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer app.Close()

	app.Jobs.Start(ctx)

	slog.Info("server listening", "addr", cfg.Addr, "env", cfg.Environment)
	if err := http.ListenAndServe(cfg.Addr, app.Router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
