package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/dbbackup/internal/api/handler"
	mw "github.com/edvin/dbbackup/internal/api/middleware"
	"github.com/edvin/dbbackup/internal/config"
	"github.com/edvin/dbbackup/internal/core"
	"github.com/edvin/dbbackup/internal/crypto"
)

// agentRequestsPerMinute bounds the agent endpoints per client IP.
const agentRequestsPerMinute = 120

// Pinger is the readiness probe of the catalog pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	corePool       Pinger
	temporalClient temporalclient.Client
	cfg            *config.Config
}

func NewServer(logger zerolog.Logger, corePool Pinger, temporalClient temporalclient.Client, services *core.Services, cfg *config.Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		corePool:       corePool,
		temporalClient: temporalClient,
		cfg:            cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// Agent protocol, authenticated by agent token
	s.router.Route("/agent", func(r chi.Router) {
		r.Use(httprate.LimitByIP(agentRequestsPerMinute, time.Minute))

		protocol := handler.NewAgentProtocol(s.services.Agent, s.cfg.BackupTempDir, s.logger)
		r.Post("/notify-presence", protocol.NotifyPresence)
		r.Post("/backup-result", protocol.BackupResult)
	})

	var keyDigest string
	if s.cfg.AdminAPIKey != "" {
		keyDigest = crypto.HashAPIKey(s.cfg.AdminAPIKey)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(keyDigest))

		// Servers
		server := handler.NewServer(s.services.Server)
		r.Get("/servers", server.List)
		r.Post("/servers", server.Create)
		r.Get("/servers/{id}", server.Get)
		r.Put("/servers/{id}", server.Update)
		r.Delete("/servers/{id}", server.Delete)
		r.Get("/servers/{id}/databases", server.Databases)

		// Agents
		agent := handler.NewAgent(s.services.Agent)
		r.Get("/agents", agent.List)
		r.Post("/agents", agent.Create)
		r.Get("/agents/{id}", agent.Get)
		r.Put("/agents/{id}", agent.Update)
		r.Delete("/agents/{id}", agent.Delete)

		// Backup jobs
		job := handler.NewBackupJob(s.services.BackupJob)
		r.Get("/backup-jobs", job.List)
		r.Post("/backup-jobs", job.Create)
		r.Get("/backup-jobs/{id}", job.Get)
		r.Put("/backup-jobs/{id}", job.Update)
		r.Delete("/backup-jobs/{id}", job.Delete)
		r.Post("/backup-jobs/{id}/run", job.Run)
		r.Post("/backup-jobs/{id}/enable", job.Enable)
		r.Post("/backup-jobs/{id}/disable", job.Disable)

		// Backups
		backup := handler.NewBackup(s.services.Backup, s.cfg.Storage.S3LinkExpiry)
		r.Get("/backups", backup.List)
		r.Get("/backups/{id}", backup.Get)
		r.Delete("/backups/{id}", backup.Delete)
		r.Get("/backups/{id}/download", backup.Download)
		r.Post("/backups/{id}/restore", backup.Restore)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.corePool.Ping(ctx); err != nil {
		checks["core_db"] = err.Error()
		healthy = false
	} else {
		checks["core_db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
