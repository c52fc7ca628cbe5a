// Package server provides the HTTP API for Kura.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/index"
	"github.com/hyperjump/kura/internal/reconcile"
	"github.com/hyperjump/kura/internal/search"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/vault"
)

// Server is the HTTP server for the Kura API.
type Server struct {
	vault      *vault.Manager
	engine     *search.Engine
	pipeline   *index.Pipeline
	reconciler *reconcile.Reconciler
	storage    storage.Storage
	config     *config.Config
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	v *vault.Manager,
	engine *search.Engine,
	pipeline *index.Pipeline,
	reconciler *reconcile.Reconciler,
	storage storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		vault:      v,
		engine:     engine,
		pipeline:   pipeline,
		reconciler: reconciler,
		storage:    storage,
		config:     cfg,
		logger:     logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/files", s.handleUpload)
	r.Get("/api/v1/files", s.handleListRootFiles)
	r.Get("/api/v1/files/{id}", s.handleDownload)
	r.Delete("/api/v1/files/{id}", s.handleDeleteFile)
	r.Get("/api/v1/files/{id}/tags", s.handleListTags)
	r.Post("/api/v1/files/{id}/tags", s.handleAddTag)
	r.Delete("/api/v1/files/{id}/tags/{tag}", s.handleRemoveTag)

	r.Post("/api/v1/projects", s.handleCreateProject)
	r.Get("/api/v1/projects", s.handleListProjects)
	r.Get("/api/v1/projects/{projectID}", s.handleGetProject)
	r.Delete("/api/v1/projects/{projectID}", s.handleDeleteProject)
	r.Post("/api/v1/projects/{projectID}/files", s.handleUpload)
	r.Get("/api/v1/projects/{projectID}/files", s.handleListProjectFiles)
	r.Get("/api/v1/projects/{projectID}/files/{name}/versions", s.handleVersionHistory)

	r.Post("/api/v1/search/content", s.handleSearchContent)
	r.Post("/api/v1/search/semantic", s.handleSearchSemantic)
	r.Post("/api/v1/search/files", s.handleSearchMetadata)
	r.Post("/api/v1/search/combined", s.handleSearchCombined)

	r.Get("/api/v1/reconcile", s.handleReconcileCheck)
	r.Post("/api/v1/reconcile/repair", s.handleReconcileRepair)
	r.Post("/api/v1/reindex", s.handleReindex)
	r.Get("/api/v1/audit", s.handleAudit)

	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
