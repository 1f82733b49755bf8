package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theamanone/encstream/internal/config"
	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/logger"
	"github.com/theamanone/encstream/internal/metrics"
	"github.com/theamanone/encstream/internal/proxy"
	"github.com/theamanone/encstream/internal/proxy/adapters"
	"github.com/theamanone/encstream/internal/replay"
	"github.com/theamanone/encstream/internal/server/handlers"
	appmiddleware "github.com/theamanone/encstream/internal/server/middleware"
	"github.com/theamanone/encstream/internal/version"
)

type Server struct {
	pool      *pgxpool.Pool
	config    *config.ServerEnvironment
	logger    *slog.Logger
	router    *chi.Mux
	metrics   *metrics.Metrics
	guard     replay.Guard
	pipeline  *proxy.Pipeline
	forwarder *proxy.HTTPForwarder
}

// NewServer creates the server. pool is only used (and required) when REPLAY_STORE=postgres.
func NewServer(
	pool *pgxpool.Pool,
	cfg *config.ServerEnvironment,
	logger *slog.Logger,
) (*Server, error) {
	server := &Server{
		pool:    pool,
		config:  cfg,
		logger:  logger,
		router:  chi.NewRouter(),
		metrics: metrics.New(),
	}

	if err := server.initPipeline(); err != nil {
		return nil, fmt.Errorf("failed to initialize envelope pipeline: %w", err)
	}

	server.setupMiddleware()
	if err := server.registerRoutes(); err != nil {
		return nil, err
	}

	return server, nil
}

// initPipeline loads the secret and creates the codec, replay guard and forwarder.
func (s *Server) initPipeline() error {
	secret, err := crypto.ResolveSecret(s.config.Secret, s.config.SecretKeyPath)
	if err != nil {
		return err
	}

	codec, err := crypto.NewCodec(secret)
	if err != nil {
		return err
	}

	guard, err := replay.New(replay.Options{
		Store:          s.config.ReplayStore,
		Window:         s.config.MaxAge,
		FilterSizeLog2: s.config.ReplayFilterSizeLog2,
		Pool:           s.pool,
	})
	if err != nil {
		return fmt.Errorf("failed to create replay guard: %w", err)
	}
	s.guard = guard

	s.pipeline, err = proxy.NewPipeline(codec, crypto.NewValidator(s.config.MaxAge),
		proxy.WithGuard(guard),
		proxy.WithMetrics(s.metrics),
	)
	if err != nil {
		return err
	}

	if len(s.config.AllowedTargetPrefixes) == 0 {
		s.logger.Warn("ALLOWED_TARGET_PREFIXES is not set: any http(s) target can be reached through the proxy")
	}

	s.forwarder = proxy.NewHTTPForwarder(
		&http.Client{
			Timeout: s.config.UpstreamTimeout,
			// a redirect would bypass the target allow list
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		proxy.WithAllowedPrefixes(s.config.AllowedTargetPrefixes),
		proxy.WithForwarderMetrics(s.metrics),
	)

	s.logger.Info("envelope pipeline initialized",
		slog.Duration("max_age", s.config.MaxAge),
		slog.String("replay_store", s.config.ReplayStore),
		slog.Int("allowed_target_prefixes", len(s.config.AllowedTargetPrefixes)),
	)
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(logger.RequestLogging(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(appmiddleware.SecurityHeaders(s.config.Environment))
}

func (s *Server) registerRoutes() error {
	s.router.Get("/health/live", handlers.HandleHealth)
	s.router.Get("/health/ready", handlers.HandleReadiness(s.guard))
	s.router.Get("/version", handlers.HandleVersion(version.Get()))
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	relay := adapters.NewRelayHandler(s.pipeline, s.forwarder)
	sealedProxy := adapters.NewSealedProxyHandler(s.pipeline, s.forwarder)

	var upstream http.Handler
	if s.config.UpstreamURL != "" {
		upstreamURL, err := url.Parse(s.config.UpstreamURL)
		if err != nil {
			return fmt.Errorf("failed to parse UPSTREAM_URL: %w", err)
		}
		upstream = adapters.NewUpstreamProxy(upstreamURL, s.pipeline, adapters.UpstreamOptions{
			StripPrefix:   "/v1/upstream",
			SealResponses: s.config.SealResponses,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: s.config.UpstreamTimeout,
				IdleConnTimeout:       90 * time.Second,
			},
		})
		s.logger.Info("upstream proxy enabled",
			slog.String("upstream_url", upstreamURL.Redacted()),
			slog.Bool("seal_responses", s.config.SealResponses),
		)
	}

	s.router.Group(func(r chi.Router) {
		r.Use(appmiddleware.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst))
		r.Use(appmiddleware.RequestSizeLimit(s.config.MaxRequestBodyBytes))
		r.Use(middleware.Timeout(s.config.RequestTimeout))

		r.Post("/v1/relay", relay.HandleRelay)
		r.Post("/api/proxy", sealedProxy.HandleSealedProxy)

		if upstream != nil {
			r.Handle("/v1/upstream", upstream)
			r.Handle("/v1/upstream/*", upstream)
		}
	})

	return nil
}

func (s *Server) Start(ctx context.Context) error {
	serverAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	if pg, ok := s.guard.(*replay.PostgresGuard); ok {
		go pg.RunPurger(ctx, s.config.ReplayPurgeInterval, s.logger)
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("service listening",
			slog.String("environment", s.config.Environment),
			slog.String("address", serverAddr))

		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.ServerShutdownTimeout)
	defer shutdownCancel()

	s.logger.Info("shutting down HTTP server")

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("HTTP server shutdown error",
			slog.String("error", err.Error()))
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Shutdown releases the replay guard and the database pool.
func (s *Server) Shutdown() {
	if s.guard != nil {
		if err := s.guard.Close(); err != nil {
			s.logger.Warn("replay guard close error", slog.String("error", err.Error()))
		}
	}
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("database connection closed")
	}
}
