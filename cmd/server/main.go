package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Simplici0/micaa/internal/apu"
	"github.com/Simplici0/micaa/internal/budget"
	"github.com/Simplici0/micaa/internal/config"
	"github.com/Simplici0/micaa/internal/db"
	"github.com/Simplici0/micaa/internal/logging"
	"github.com/Simplici0/micaa/internal/metrics"
	"github.com/Simplici0/micaa/internal/migrations"
	"github.com/Simplici0/micaa/internal/seed"
	"github.com/Simplici0/micaa/internal/store"
)

type server struct {
	auth    *authService
	store   *store.Store
	prices  *apu.Service
	budgets *budget.Service
	log     *logrus.Logger
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer database.Close()

	srv, err := newServer(ctx, cfg, database, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to start")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithField("addr", httpServer.Addr).Info("listening")
	if err := httpServer.ListenAndServe(); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

// newServer migrates and seeds database, then wires the services on top of it.
// Cached activity prices are recomputed whenever the seed inserted rows.
func newServer(ctx context.Context, cfg config.Config, database *sql.DB, logger *logrus.Logger) (*server, error) {
	if err := migrations.Up(ctx, database); err != nil {
		return nil, fmt.Errorf("run database migrations: %w", err)
	}

	st := store.New(database)
	stats, err := seed.Run(ctx, st, seed.Config{AdminEmail: cfg.AdminEmail, AdminPassword: cfg.AdminPassword})
	if err != nil {
		return nil, fmt.Errorf("seed database: %w", err)
	}
	logger.WithFields(logrus.Fields{"inserts": stats.Inserts, "updates": stats.Updates}).Info("seed complete")

	metrics.Init(database, logger)

	prices := apu.NewService(st, logger, cfg.BulkTimeout)
	if stats.Inserts > 0 {
		n, err := prices.RecomputeAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("recompute seeded activities: %w", err)
		}
		logger.WithField("activities", n).Info("activity prices recomputed")
	}

	return &server{
		auth:    newAuthService(st, cfg.SessionSecret),
		store:   st,
		prices:  prices,
		budgets: budget.NewService(st, prices, logger),
		log:     logger,
	}, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/statistics", s.handleStatistics)
		r.Get("/phases", s.handlePhases)
		r.Get("/material-categories", s.handleCategories)
		r.Get("/materials", s.handleMaterials)
		r.Get("/materials/{id}", s.handleMaterial)

		r.Get("/activities", s.handleActivities)
		r.Get("/activities/{id}", s.handleActivity)
		r.Get("/activities/{id}/composition", s.handleGetComposition)
		r.Put("/activities/{id}/composition", s.handlePutComposition)
		r.Get("/activities/{id}/price", s.handlePrice)
		r.Get("/activities/{id}/apu.xlsx", s.handleAPUExport)

		r.Get("/price-settings", s.handleGetPriceSettings)
		r.Get("/price-adjustments", s.handleListPriceAdjustments)
		r.Get("/city-factors", s.handleListCityFactors)

		r.Get("/me/material-prices", s.handleListMyPrices)
		r.Put("/me/material-prices", s.handlePutMyPrice)
		r.Delete("/me/material-prices", s.handleDeleteMyPrice)

		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{id}", s.handleGetProject)
		r.Put("/projects/{id}", s.handleUpdateProject)
		r.Post("/projects/{id}/budgets", s.handleCreateBudget)
		r.Get("/budgets", s.handleListBudgets)
		r.Get("/budgets/{id}", s.handleGetBudget)
		r.Put("/budgets/{id}/status", s.handleSetBudgetStatus)
		r.Post("/budgets/{id}/items", s.handleAddBudgetItem)
		r.Put("/budgets/{id}/items/{itemId}", s.handleUpdateBudgetItem)
		r.Delete("/budgets/{id}/items/{itemId}", s.handleDeleteBudgetItem)
		r.Post("/budgets/{id}/recalculate", s.handleRecalculateBudget)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/materials", s.handleCreateMaterial)
			r.Put("/materials/{id}", s.handleUpdateMaterial)
			r.Delete("/materials/{id}", s.handleDeleteMaterial)
			r.Post("/activities/recompute", s.handleRecomputeAll)
			r.Post("/activities/{id}/recompute", s.handleRecompute)
			r.Put("/price-settings", s.handlePutPriceSettings)
			r.Post("/price-adjustments", s.handlePriceAdjustment)
			r.Put("/city-factors", s.handlePutCityFactor)
			r.Delete("/city-factors", s.handleDeleteCityFactor)
		})
	})

	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("request")
	})
}
