package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"crowdsale/services/saled/archive"
	"crowdsale/services/saled/node"
	"crowdsale/services/saled/stream"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	ShutdownTimeout time.Duration
}

// Server exposes the sale node over HTTP.
type Server struct {
	cfg     Config
	node    *node.Node
	archive *archive.Archive
	hub     *stream.Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger

	router http.Handler
}

// New constructs the server and its router.
func New(cfg Config, n *node.Node, arch *archive.Archive, hub *stream.Hub, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) (*Server, error) {
	if n == nil {
		return nil, errors.New("server: node required")
	}
	if auth == nil {
		return nil, errors.New("server: authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	srv := &Server{cfg: cfg, node: n, archive: arch, hub: hub, auth: auth, limiter: limiter, logger: logger}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/sales/{phase}", s.handleSaleStatus)
		api.Get("/ceiling", s.handleCeilingStatus)
		api.Get("/affiliates/{address}", s.handleGetAffiliate)
		api.Get("/accounts/{address}", s.handleGetAccount)
		api.Get("/events", s.handleListEvents)
		if s.hub != nil {
			api.Handle("/events/stream", s.hub)
		}

		api.Group(func(contrib chi.Router) {
			contrib.Use(s.limiter.Middleware("contribute"))
			contrib.Use(s.auth.Middleware(ScopeContribute))
			contrib.Post("/sales/{phase}/contributions", s.handleContribute)
		})

		api.Group(func(ctl chi.Router) {
			ctl.Use(s.limiter.Middleware("controller"))
			ctl.Use(s.auth.Middleware(ScopeController))
			ctl.Post("/sales/presale/cap", s.handleSetCap)
			ctl.Post("/sales/presale/grace", s.handleBeginGrace)
			ctl.Post("/ceiling/commitments", s.handleCommit)
			ctl.Post("/ceiling/reveal", s.handleReveal)
			ctl.Post("/affiliates", s.handleRegisterAffiliate)
			ctl.Post("/accounts/{address}/deposits", s.handleDeposit)
		})
	})

	return otelhttp.NewHandler(r, "saled.http")
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("saled listening", slog.String("addr", s.cfg.ListenAddress))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"applied": s.node.Applied(),
	})
}
