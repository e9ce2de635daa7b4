package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/api"
	"github.com/meghanarao/savoro/internal/circuitbreaker"
	"github.com/meghanarao/savoro/internal/config"
	"github.com/meghanarao/savoro/internal/db"
	"github.com/meghanarao/savoro/internal/lifecycle"
	"github.com/meghanarao/savoro/internal/metrics"
	"github.com/meghanarao/savoro/internal/notify"
	"github.com/meghanarao/savoro/internal/observ"
	"github.com/meghanarao/savoro/internal/redis"
	"github.com/meghanarao/savoro/internal/template"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting savoro gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repositories
	orders := db.NewOrderRepository(database, logger)
	feedRepo := db.NewFeedRepository(database, logger)
	prefRepo := db.NewPreferenceRepository(database, logger)

	// Initialize Redis for preference caching and rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, preference caching and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var prefs notify.PreferenceResolver = repoResolver{prefRepo}
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		prefs = redis.NewPreferenceCache(redisClient, prefRepo, redis.PrefCacheTTL, logger)
		if cfg.BulkRateLimit > 0 {
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.BulkRateLimit,
				Window: time.Duration(cfg.BulkRateWindow) * time.Second,
			})
		}
		defer redisClient.Close()
	}

	// Channel senders. Providers that fail to initialize degrade to a
	// no-op sender so the rest of the fan-out keeps working.
	senders := buildSenders(ctx, cfg, logger)

	dispatcher := notify.NewDispatcher(
		template.NewRegistry(),
		prefs,
		notify.NewFeedWriter(feedRepo, logger),
		senders,
		time.Duration(cfg.SendTimeout)*time.Second,
		logger,
	)

	svc := lifecycle.NewService(orders, dispatcher, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, svc, orders, feedRepo)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.With(api.RateLimitMiddleware(rateLimiter, logger, api.MerchantKeyFunc)).
				Post("/status/bulk", handler.BulkUpdateOrderStatus)
			r.Get("/{id}", handler.GetOrder)
			r.Get("/{id}/events", handler.ListOrderEvents)
			r.Patch("/{id}/status", handler.UpdateOrderStatus)
		})
		r.Route("/feed/{recipientID}", func(r chi.Router) {
			r.Get("/", handler.ListFeed)
			r.Post("/read", handler.MarkFeedRead)
		})
	})

	// Health check. Redis is optional at startup, so a failed ping is
	// logged but does not fail the check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()); err != nil {
				logger.Warn("redis unhealthy", zap.Error(err))
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Drain detached notification dispatches before exiting.
		svc.Wait()

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildSenders wires the external channel senders, each behind its own
// circuit breaker. A provider that cannot initialize is replaced by a
// no-op sender; in development all channels log instead of sending.
func buildSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) map[notify.Channel]notify.Sender {
	if cfg.Env == "development" {
		return map[notify.Channel]notify.Sender{
			notify.ChannelEmail: notify.NewLogSender(notify.ChannelEmail, logger),
			notify.ChannelSMS:   notify.NewLogSender(notify.ChannelSMS, logger),
			notify.ChannelChat:  notify.NewLogSender(notify.ChannelChat, logger),
		}
	}

	senders := make(map[notify.Channel]notify.Sender)

	protect := func(channel notify.Channel, s notify.Sender) notify.Sender {
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(string(channel)), logger)
		return circuitbreaker.NewProtectedSender(s, breaker, logger)
	}

	if sesSender, err := notify.NewSESSender(ctx, notify.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger); err != nil {
		logger.Warn("SES sender unavailable, email notifications disabled", zap.Error(err))
		senders[notify.ChannelEmail] = notify.NewNoopSender(notify.ChannelEmail)
	} else {
		senders[notify.ChannelEmail] = protect(notify.ChannelEmail, sesSender)
	}

	if snsSender, err := notify.NewSNSSender(ctx, notify.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger); err != nil {
		logger.Warn("SNS sender unavailable, SMS notifications disabled", zap.Error(err))
		senders[notify.ChannelSMS] = notify.NewNoopSender(notify.ChannelSMS)
	} else {
		senders[notify.ChannelSMS] = protect(notify.ChannelSMS, snsSender)
	}

	if cfg.ChatGatewayURL != "" {
		chatSender := notify.NewChatSender(notify.ChatConfig{
			GatewayURL: cfg.ChatGatewayURL,
			AuthToken:  cfg.ChatAuthToken,
			Timeout:    time.Duration(cfg.SendTimeout) * time.Second,
		}, logger)
		senders[notify.ChannelChat] = protect(notify.ChannelChat, chatSender)
	} else {
		logger.Info("chat gateway not configured, chat notifications disabled")
		senders[notify.ChannelChat] = notify.NewNoopSender(notify.ChannelChat)
	}

	return senders
}

// repoResolver serves preferences straight from Postgres when Redis is
// not available.
type repoResolver struct {
	repo *db.PreferenceRepository
}

func (r repoResolver) Resolve(ctx context.Context, recipientID uuid.UUID, role string) (db.ChannelPreferences, error) {
	return r.repo.GetChannelPreferences(ctx, recipientID, role)
}
