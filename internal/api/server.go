// Package api is the HTTP control plane: tenant, target, schedule and
// policy management, scan lifecycle, result queries and the analytics
// facade.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openlabels/scanner/internal/auth"
	"github.com/openlabels/scanner/internal/catalog"
	"github.com/openlabels/scanner/internal/config"
	"github.com/openlabels/scanner/internal/database"
	"github.com/openlabels/scanner/internal/export"
	"github.com/openlabels/scanner/internal/middleware"
	"github.com/openlabels/scanner/internal/queue"
	"github.com/openlabels/scanner/internal/scheduler"
)

// Server wires the HTTP layer. Analytics and export are optional;
// their endpoints return 503 when the subsystem is disabled.
type Server struct {
	cfg       *config.Config
	store     *database.Store
	redis     *database.RedisStore
	queue     *queue.Queue
	sched     *scheduler.Scheduler
	analytics *catalog.Analytics
	export    *export.Engine
	logger    *log.Logger
	http      *http.Server
}

// New assembles the router and middleware stack.
func New(cfg *config.Config, store *database.Store, redis *database.RedisStore, q *queue.Queue, sched *scheduler.Scheduler, analytics *catalog.Analytics, exp *export.Engine) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		store:     store,
		redis:     redis,
		queue:     q,
		sched:     sched,
		analytics: analytics,
		export:    exp,
		logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
	}

	var verifier *auth.Verifier
	if cfg.Auth.Provider != "none" {
		v, err := auth.NewVerifier(cfg.Auth)
		if err != nil {
			return nil, err
		}
		verifier = v
	}
	authn := middleware.NewAuthenticator(store, verifier, cfg.Auth.Provider == "none", writeError)
	limiter := middleware.NewRateLimiter(redis, cfg.RateLimit, writeError)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Tenant provisioning sits outside tenant auth and is IP-limited.
	admin := r.PathPrefix("/api/v1/admin").Subrouter()
	admin.Use(limiter.ForAuth, s.requireAdminSecret)
	admin.HandleFunc("/tenants", s.handleCreateTenant).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(authn.Middleware), limiter.ForAPI)

	api.HandleFunc("/tenants/me", s.handleGetTenant).Methods(http.MethodGet)
	api.HandleFunc("/tenants/me/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	api.HandleFunc("/tenants/me/api-keys", s.handleCreateAPIKey).Methods(http.MethodPost)

	api.HandleFunc("/targets", s.handleCreateTarget).Methods(http.MethodPost)
	api.HandleFunc("/targets", s.handleListTargets).Methods(http.MethodGet)
	api.HandleFunc("/targets/{id}", s.handleGetTarget).Methods(http.MethodGet)
	api.HandleFunc("/targets/{id}", s.handleDeleteTarget).Methods(http.MethodDelete)
	api.HandleFunc("/targets/{id}/test", s.handleTestTarget).Methods(http.MethodPost)

	api.HandleFunc("/schedules", s.handleCreateSchedule).Methods(http.MethodPost)
	api.HandleFunc("/schedules", s.handleListSchedules).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{id}", s.handleDeleteSchedule).Methods(http.MethodDelete)

	api.HandleFunc("/policies", s.handleCreatePolicy).Methods(http.MethodPost)
	api.HandleFunc("/policies", s.handleListPolicies).Methods(http.MethodGet)

	api.HandleFunc("/scans", s.handleStartScan).Methods(http.MethodPost)
	api.HandleFunc("/scans", s.handleListScans).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", s.handleGetScan).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}/cancel", s.handleCancelScan).Methods(http.MethodPost)
	api.HandleFunc("/scans/{id}/summary", s.handleGetSummary).Methods(http.MethodGet)
	api.HandleFunc("/rescan", s.handleRescanFile).Methods(http.MethodPost)

	api.HandleFunc("/results", s.handleQueryResults).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleQueryEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/stream", s.handleEventStream).Methods(http.MethodGet)
	api.HandleFunc("/audit", s.handleQueryAudit).Methods(http.MethodGet)
	api.HandleFunc("/monitored-files", s.handleRegisterMonitored).Methods(http.MethodPost)

	api.HandleFunc("/analytics/risk-distribution", s.handleRiskDistribution).Methods(http.MethodGet)
	api.HandleFunc("/analytics/entity-breakdown", s.handleEntityBreakdown).Methods(http.MethodGet)
	api.HandleFunc("/analytics/risk-trend", s.handleRiskTrend).Methods(http.MethodGet)
	api.HandleFunc("/analytics/top-accessors", s.handleTopAccessors).Methods(http.MethodGet)

	api.HandleFunc("/export/test", s.handleExportTest).Methods(http.MethodGet)
	api.HandleFunc("/export/replay", s.handleExportReplay).Methods(http.MethodPost)

	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is cancelled, then drains for up to 15 seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.http.Shutdown(shutCtx)
	}
}

// requireAdminSecret guards provisioning endpoints with the server
// secret. Without a configured secret they only work in development.
func (s *Server) requireAdminSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.SecretKey == "" {
			if s.cfg.Server.Environment != "development" {
				writeError(w, r, http.StatusForbidden, "admin_disabled", "no admin secret configured")
				return
			}
		} else if r.Header.Get("X-Admin-Secret") != s.cfg.Server.SecretKey {
			writeError(w, r, http.StatusForbidden, "admin_forbidden", "admin secret mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
