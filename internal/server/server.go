// Package server implements the HTTP and WebSocket API of the sous backend.
//
// It exposes REST endpoints for storing, listing, deleting and parsing
// recipes, health and metrics endpoints, and the /listen WebSocket relay that
// bridges a cooking client to the upstream voice agent.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shgupte/sous/internal/assist"
	"github.com/shgupte/sous/internal/config"
	"github.com/shgupte/sous/internal/health"
	"github.com/shgupte/sous/internal/observe"
	"github.com/shgupte/sous/internal/recipe"
	"github.com/shgupte/sous/internal/resilience"
)

// AgentDialer opens sessions with the upstream voice agent. Satisfied by
// [assist.Provider].
type AgentDialer interface {
	Connect(ctx context.Context) (*assist.Session, error)
}

// Deps bundles the external dependencies a Server needs. Store and Embedder
// are required for the recipe endpoints; Agent is required for /listen.
// Condenser is optional: when nil, parsed recipes are returned uncondensed.
type Deps struct {
	Store     recipe.Store
	Embedder  recipe.Embedder
	Agent     AgentDialer
	Condenser *recipe.Condenser
	Metrics   *observe.Metrics
}

// Server is the sous HTTP server.
type Server struct {
	cfg     *config.Config
	store   recipe.Store
	agent   AgentDialer
	cond    *recipe.Condenser
	metrics *observe.Metrics

	chunker   *recipe.Chunker
	matcher   *recipe.TitleMatcher
	webParser *recipe.WebParser
	ytParser  *recipe.YouTubeParser

	// agentBreaker stops the relay from hammering an agent service that is
	// rejecting connections; embedders adds the same protection to the
	// embeddings API and leaves room for a fallback provider.
	agentBreaker *resilience.CircuitBreaker
	embedders    *resilience.FallbackGroup[recipe.Embedder]

	httpServer *http.Server
}

// New builds a Server from cfg and deps. The returned server is not yet
// listening; call [Server.Run].
func New(cfg *config.Config, deps Deps) *Server {
	m := deps.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		agent:     deps.Agent,
		cond:      deps.Condenser,
		metrics:   m,
		chunker:   recipe.NewChunker(cfg.Recipes.ChunkSize, cfg.Recipes.ChunkOverlap),
		matcher:   recipe.NewTitleMatcher(),
		webParser: recipe.NewWebParser(cfg.Parser.FetchTimeout, cfg.Parser.UserAgent),
		ytParser:  recipe.NewYouTubeParser(cfg.Parser.FetchTimeout),
		agentBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "voice-agent",
		}),
		embedders: resilience.NewFallbackGroup[recipe.Embedder](
			deps.Embedder, "primary", resilience.FallbackConfig{}),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the fully-routed HTTP handler, wrapped in the observability
// middleware. Exposed separately so tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /recipes", s.handleUploadRecipe)
	mux.HandleFunc("GET /recipes/{user_id}", s.handleListRecipes)
	mux.HandleFunc("GET /recipes/{user_id}/{recipe_id}", s.handleGetRecipe)
	mux.HandleFunc("DELETE /recipes/{user_id}/{recipe_id}", s.handleDeleteRecipe)
	mux.HandleFunc("POST /recipes/parse", s.handleParseRecipe)
	mux.HandleFunc("GET /listen/{user_id}/{recipe_id}", s.handleListen)

	checks := []health.Checker{}
	if s.store != nil {
		checks = append(checks, health.Checker{Name: "database", Check: s.store.Ping})
	}
	health.New(checks...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails. On cancellation the server drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = s.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server listening", "addr", s.cfg.Server.ListenAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
