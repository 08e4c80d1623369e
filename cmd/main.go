package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/duynhne/feed-sync/config"
	database "github.com/duynhne/feed-sync/internal/core"
	"github.com/duynhne/feed-sync/internal/core/client/feedapi"
	"github.com/duynhne/feed-sync/internal/core/client/socketio"
	"github.com/duynhne/feed-sync/internal/core/domain"
	"github.com/duynhne/feed-sync/internal/core/repository"
	logicv1 "github.com/duynhne/feed-sync/internal/logic/v1"
	v1 "github.com/duynhne/feed-sync/internal/web/v1"
	"github.com/duynhne/feed-sync/middleware"
	"github.com/duynhne/pkg/logger/zerolog"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic("Configuration validation failed: " + err.Error())
	}

	// Initialize Zerolog with LOG_LEVEL from config
	zerolog.Setup(cfg.Logging.Level)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Str("port", cfg.Service.Port).
		Str("backend", cfg.Backend.BaseURL).
		Msg("Service starting")

	// Initialize OpenTelemetry tracing
	var tp interface{ Shutdown(context.Context) error }
	if cfg.Tracing.Enabled {
		provider, err := middleware.InitTracing(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing")
		} else {
			tp = provider
			log.Info().
				Str("endpoint", cfg.Tracing.Endpoint).
				Float64("sample_rate", cfg.Tracing.SampleRate).
				Msg("Tracing initialized")
		}
	} else {
		log.Info().Msg("Tracing disabled (TRACING_ENABLED=false)")
	}

	// Initialize Pyroscope profiling
	if cfg.Profiling.Enabled {
		if err := middleware.InitProfiling(cfg); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize profiling")
		} else {
			log.Info().
				Str("endpoint", cfg.Profiling.Endpoint).
				Msg("Profiling initialized")
			defer middleware.StopProfiling()
		}
	} else {
		log.Info().Msg("Profiling disabled (PROFILING_ENABLED=false)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Background work (mount, live listener, guard) logs through the context logger.
	ctx = zerolog.WithContext(ctx)

	// Session store (memory or postgres)
	store, pool, err := newSessionStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Session.Store).Msg("Failed to initialize session store")
	}
	if pool != nil {
		defer pool.Close()
	}

	if cfg.Session.Token != "" {
		sess := &domain.Session{
			Username: cfg.Session.Username,
			Credential: domain.Credential{
				Value:     cfg.Session.Token,
				ExpiresAt: cfg.GetTokenExpiresAt(),
			},
		}
		if err := store.Save(ctx, sess); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed session")
		}
		log.Info().Str("username", sess.Username).Msg("Session seeded from configuration")
	}

	backendURL, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid FEED_BACKEND_URL")
	}

	// Wire the feed logic
	api := feedapi.NewClient(nil, *backendURL, cfg.GetRequestTimeoutDuration())
	dialer := socketio.NewDialer(*backendURL, cfg.Backend.SocketPath, cfg.GetHandshakeTimeoutDuration())
	guard := logicv1.NewSessionGuard(store, cfg.GetExpirySkewDuration())
	feed := logicv1.NewFeedService(api, guard)
	synchronizer := logicv1.NewSynchronizer(dialer, guard, feed, cfg.GetHandshakeTimeoutDuration())
	home := logicv1.NewHomeService(cfg.Session.Username, store, guard, feed, synchronizer)

	if err := home.Open(ctx); err != nil {
		log.Error().Err(err).Str("username", cfg.Session.Username).Msg("Failed to open home feed")
	}

	r := gin.New()
	r.Use(gin.Recovery())

	var isShuttingDown atomic.Bool

	// Tracing middleware
	r.Use(middleware.TracingMiddleware())

	// Logging middleware
	r.Use(middleware.LoggingMiddleware())

	// Prometheus middleware
	r.Use(middleware.PrometheusMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness check
	// Returns 503 once shutdown has started, to drain traffic before HTTP shutdown.
	r.GET("/ready", func(c *gin.Context) {
		if isShuttingDown.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1.NewHandler(home).RegisterRoutes(r.Group("/api/v1"))

	srv := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.Service.Port).Msg("Starting feed-sync service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown signal received")

		// Fail readiness first and wait for propagation.
		isShuttingDown.Store(true)
		if drainDelay := cfg.GetReadinessDrainDelayDuration(); drainDelay > 0 {
			log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay started")
			time.Sleep(drainDelay)
		}

		shutdownTimeout := cfg.GetShutdownTimeoutDuration()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down server...")

		// 1. Shutdown HTTP server
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		} else {
			log.Info().Msg("HTTP server shutdown complete")
		}

		// 2. Release the live feed connection
		if err := home.Close(); err != nil {
			log.Error().Err(err).Msg("Feed sync shutdown error")
		}

		// 3. Close database connections
		if pool != nil {
			pool.Close()
			log.Info().Msg("Database pool closed")
		}

		// 4. Shutdown tracer
		if tp != nil {
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Tracer shutdown error")
			} else {
				log.Info().Msg("Tracer shutdown complete")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		stop()
		return
	}
	log.Info().Msg("Graceful shutdown complete")
}

// newSessionStore builds the configured session store. The pool is nil for the memory store.
func newSessionStore(ctx context.Context, cfg *config.Config) (domain.SessionStore, *pgxpool.Pool, error) {
	if cfg.Session.Store != config.StorePostgres {
		return repository.NewMemorySessionStore(), nil, nil
	}

	key, err := cfg.GetEncryptionKey()
	if err != nil {
		return nil, nil, err
	}

	pool, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Msg("Database connection pool established")

	store := repository.NewSessionStore(pool, key)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool, nil
}
