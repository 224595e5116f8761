package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ballotgate/internal/clock"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/logging"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/metrics"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/session"
)

const serviceName = "ballotgate"

func applicationOptions(gatewayConfig serverConfig) fx.Option {
	return fx.Options(
		fx.Supply(gatewayConfig),
		clock.Module,
		fx.Provide(
			newLogger,
			newMetrics,
			newSigner,
			newSessionManager,
			newLimiterSet,
			newGatewayHandlers,
			newRouter,
			newHTTPServer,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(registerLifecycle),
	)
}

func newApplication(gatewayConfig serverConfig) *fx.App {
	return fx.New(applicationOptions(gatewayConfig))
}

func newLogger(lifecycle fx.Lifecycle, gatewayConfig serverConfig) (*zap.Logger, error) {
	logger, loggerError := logging.New(gatewayConfig.LogLevel, gatewayConfig.Environment)
	if loggerError != nil {
		return nil, loggerError
	}
	lifecycle.Append(fx.StopHook(func() { _ = logger.Sync() }))
	return logger, nil
}

func newMetrics(gatewayConfig serverConfig) (*metrics.Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(registry, metrics.Config{
		ServiceName: serviceName,
		Environment: gatewayConfig.Environment,
	}), registry
}

func newSigner(gatewayConfig serverConfig, systemClock clock.Clock) (session.Signer, error) {
	return session.NewJWTSigner(gatewayConfig.SessionSecret, systemClock)
}

func newSessionManager(gatewayConfig serverConfig, signer session.Signer, systemClock clock.Clock, logger *zap.Logger, recorder *metrics.Metrics) (*session.Manager, error) {
	return session.NewManager(signer,
		session.WithClock(systemClock),
		session.WithLogger(logger),
		session.WithRecorder(recorder),
		session.WithEvictionPolicy(gatewayConfig.SessionEviction),
		session.WithDefaultExpiresIn(gatewayConfig.SessionExpiresIn),
	)
}

func newLimiterSet(lifecycle fx.Lifecycle, gatewayConfig serverConfig, systemClock clock.Clock, logger *zap.Logger, recorder *metrics.Metrics) (*ratelimit.Set, error) {
	var storeFor func(ratelimit.Class) (ratelimit.Store, error)
	if gatewayConfig.RateLimitStore == rateLimitStoreRedis {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     gatewayConfig.RedisAddress,
			Password: gatewayConfig.RedisPassword,
			DB:       gatewayConfig.RedisDB,
		})
		lifecycle.Append(fx.StopHook(redisClient.Close))
		storeFor = func(class ratelimit.Class) (ratelimit.Store, error) {
			return ratelimit.NewRedisStore(redisClient, ratelimit.WithPrefix("ratelimit:"+string(class)+":"))
		}
		logger.Info("rate limit store", zap.String("backend", rateLimitStoreRedis), zap.String("addr", gatewayConfig.RedisAddress))
	}
	return ratelimit.NewSet(gatewayConfig.RateLimitPolicies, storeFor,
		ratelimit.WithClock(systemClock),
		ratelimit.WithLogger(logger),
		ratelimit.WithRecorder(recorder),
	)
}

func newRouter(gatewayConfig serverConfig, handlers *gatewayHandlers, registry *prometheus.Registry, logger *zap.Logger) http.Handler {
	fallbackHandler := upstreamOrNotFound(gatewayConfig, handlers, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(logging.Middleware(logger.Named("access")))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", handleHealth)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	router.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(originMiddleware(gatewayConfig.AllowedOrigins))

		apiRouter.Route("/sessions", func(sessionRouter chi.Router) {
			sessionRouter.With(handlers.rateLimit(ratelimit.ClassAuth)).Post("/", handlers.handleCreateSession)
			sessionRouter.With(handlers.rateLimit(ratelimit.ClassGeneral)).Get("/current", handlers.handleCurrentSession)
			sessionRouter.With(handlers.rateLimit(ratelimit.ClassAuth)).Post("/refresh", handlers.handleRefreshSession)
			sessionRouter.With(handlers.rateLimit(ratelimit.ClassGeneral)).Post("/logout", handlers.handleLogout)
		})
		apiRouter.With(handlers.rateLimit(ratelimit.ClassGeneral)).Get("/ratelimit/status", handlers.handleRateLimitStatus)
		apiRouter.With(
			handlers.rateLimit(ratelimit.ClassGeneral),
			handlers.requireRole(session.RoleAdmin),
		).Post("/admin/ratelimit/reset", handlers.handleRateLimitReset)

		apiRouter.NotFound(fallbackHandler)
	})
	router.NotFound(fallbackHandler)
	return router
}

func upstreamOrNotFound(gatewayConfig serverConfig, handlers *gatewayHandlers, logger *zap.Logger) http.HandlerFunc {
	if gatewayConfig.UpstreamBaseURL == nil {
		return handleNotFound
	}
	return handlers.handleProxy(newReverseProxy(gatewayConfig, logger.Named("proxy")))
}

func newHTTPServer(gatewayConfig serverConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              gatewayConfig.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      gatewayConfig.UpstreamTimeout + 20*time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func registerLifecycle(lifecycle fx.Lifecycle, httpServer *http.Server, sessions *session.Manager, limiters *ratelimit.Set, logger *zap.Logger) {
	cleanupContext, cancelCleanup := context.WithCancel(context.Background())
	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			listener, listenError := net.Listen("tcp", httpServer.Addr)
			if listenError != nil {
				cancelCleanup()
				return fmt.Errorf("listen %s: %w", httpServer.Addr, listenError)
			}
			httpServer.Addr = listener.Addr().String()
			go limiters.RunCleanup(cleanupContext, ratelimit.DefaultCleanupInterval)
			go sessions.RunCleanup(cleanupContext, session.CleanupInterval)
			go func() {
				if serveError := httpServer.Serve(listener); serveError != nil && !errors.Is(serveError, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(serveError))
				}
			}()
			logger.Info("ballotgate listening", zap.String("addr", listener.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelCleanup()
			return httpServer.Shutdown(ctx)
		},
	})
}
