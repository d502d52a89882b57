// Package api exposes the suggestion engine over HTTP.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/spice-suggest/internal/engine"
	"github.com/Veraticus/spice-suggest/internal/feedback"
	"github.com/Veraticus/spice-suggest/internal/learner"
	"github.com/Veraticus/spice-suggest/internal/metrics"
	"github.com/Veraticus/spice-suggest/internal/model"
)

// Suggester answers suggestion requests.
type Suggester interface {
	Suggest(ctx context.Context, req engine.Request) (*engine.Response, error)
	SuggestBatch(ctx context.Context, reqs []engine.Request, progress func()) []engine.BatchResult
}

// Ledger records and lists feedback.
type Ledger interface {
	Record(ctx context.Context, req feedback.Request) (*feedback.Result, error)
	History(ctx context.Context, eventID string) ([]model.Feedback, error)
}

// Registry manages deployed models and tenant canary overrides.
type Registry interface {
	List() []model.RegistryEntry
	Register(ctx context.Context, entry model.RegistryEntry) (*model.RegistryEntry, error)
	SetPhase(ctx context.Context, modelID string, phase model.ModelPhase) error
	SetTenantCanaryPct(ctx context.Context, tenantID string, pct *int) error
}

// Promoter turns merchant statistics into hints.
type Promoter interface {
	Promote(ctx context.Context) (*learner.PromotionSummary, error)
}

// Deps are the components served by the API.
type Deps struct {
	Suggester Suggester
	Ledger    Ledger
	Registry  Registry
	Promoter  Promoter
	Metrics   *metrics.Metrics
}

// Server is the HTTP boundary.
type Server struct {
	deps   Deps
	router *gin.Engine
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	router := gin.New()
	router.Use(RecoveryMiddleware(), LoggerMiddleware())

	s := &Server{deps: deps, router: router}

	api := router.Group("/api/v1")
	{
		api.POST("/suggestions", s.handleSuggest)
		api.POST("/suggestions/batch", s.handleSuggestBatch)

		api.POST("/feedback", s.handleFeedback)
		api.GET("/events/:id/feedback", s.handleFeedbackHistory)

		api.GET("/models", s.handleListModels)
		api.POST("/models", s.handleRegisterModel)
		api.PUT("/models/:id/phase", s.handleSetPhase)

		api.PUT("/tenants/:id/canary", s.handleTenantCanary)
		api.POST("/hints/promote", s.handlePromote)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves addr until ctx is done, then shuts down gracefully. A non-nil
// tlsConfig serves HTTPS.
func (s *Server) Run(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr, "tls", tlsConfig != nil)
		if tlsConfig != nil {
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}
