// Package server exposes the chat orchestration core over HTTP: workspace
// CRUD, document management, blocking and streaming chat, feedback and
// export.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/chat"
	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/documents"
	"github.com/fyrsmithlabs/chatd/internal/store"
)

// Server is the HTTP front of the daemon.
type Server struct {
	echo         *echo.Echo
	orchestrator *chat.Orchestrator
	docs         *documents.Manager
	store        store.Store
	logger       *zap.Logger
	port         int
}

func New(cfg config.ServerConfig, orchestrator *chat.Orchestrator, docs *documents.Manager, st store.Store, logger *zap.Logger) (*Server, error) {
	if orchestrator == nil || docs == nil || st == nil {
		return nil, fmt.Errorf("server: all dependencies are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:         e,
		orchestrator: orchestrator,
		docs:         docs,
		store:        st,
		logger:       logger,
		port:         cfg.Port,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", s.handleHealth)

	v1 := e.Group("/v1")
	v1.POST("/workspaces", s.handleCreateWorkspace)
	v1.GET("/workspaces", s.handleListWorkspaces)
	v1.GET("/workspaces/:slug", s.handleGetWorkspace)
	v1.POST("/workspaces/:slug/update", s.handleUpdateWorkspace)
	v1.DELETE("/workspaces/:slug", s.handleDeleteWorkspace)

	v1.POST("/workspaces/:slug/threads", s.handleCreateThread)
	v1.DELETE("/workspaces/:slug/threads/:threadSlug", s.handleDeleteThread)

	v1.POST("/workspaces/:slug/documents", s.handleAddDocuments)
	v1.DELETE("/workspaces/:slug/documents", s.handleRemoveDocument)
	v1.GET("/workspaces/:slug/documents", s.handleListDocuments)
	v1.POST("/workspaces/:slug/documents/pin", s.handlePinDocument)

	v1.POST("/workspaces/:slug/chat", s.handleChat)
	v1.POST("/workspaces/:slug/stream-chat", s.handleStreamChat)
	v1.POST("/workspaces/:slug/threads/:threadSlug/chat", s.handleChat)
	v1.POST("/workspaces/:slug/threads/:threadSlug/stream-chat", s.handleStreamChat)

	v1.POST("/workspaces/:slug/chats/:id/feedback", s.handleFeedback)
	v1.GET("/workspaces/:slug/chats/export", s.handleExportChats)
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
