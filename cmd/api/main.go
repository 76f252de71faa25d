// Package main is the entry point for the chat relay server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sportsgpt/chat-relay/internal/config"
	"github.com/sportsgpt/chat-relay/internal/handler"
	"github.com/sportsgpt/chat-relay/internal/llm"
	"github.com/sportsgpt/chat-relay/internal/llm/llmtest"
	"github.com/sportsgpt/chat-relay/internal/middleware"
	natsclient "github.com/sportsgpt/chat-relay/internal/nats"
	"github.com/sportsgpt/chat-relay/internal/ratelimit"
	"github.com/sportsgpt/chat-relay/internal/service"
	"github.com/sportsgpt/chat-relay/pkg/logger"
	"github.com/sportsgpt/chat-relay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat relay", zap.String("provider", cfg.LLMProvider))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Relay events are optional; the relay runs without them.
	var (
		natsClient *natsclient.Client
		pinger     handler.Pinger
		relayOpts  []service.RelayOption
	)
	if cfg.NATSURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err = natsclient.Connect(connectCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err == nil {
			err = natsclient.EnsureStream(connectCtx, natsClient)
		}
		cancel()

		if err != nil {
			log.Warn("relay events disabled", zap.Error(err))
			if natsClient != nil {
				natsClient.Close()
				natsClient = nil
			}
		} else {
			defer natsClient.Close()
			pinger = natsClient
			relayOpts = append(relayOpts, service.WithPublisher(natsclient.NewEventPublisher(natsClient)))
		}
	}

	// Initialize the LLM provider
	provider, err := newProvider(cfg)
	if err != nil {
		log.Fatal("failed to create LLM provider", zap.Error(err))
	}

	// Fingerprint limiter, shared through Redis when configured
	limiterOpts := []ratelimit.Option{ratelimit.WithLogger(log)}
	if cfg.RedisURL != "" {
		redisClient, err := ratelimit.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, using in-memory rate limit store", zap.Error(err))
		} else {
			limiterOpts = append(limiterOpts, ratelimit.WithStore(ratelimit.NewRedisStore(redisClient, "")))
		}
	}
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow, limiterOpts...)
	defer limiter.Close()
	go limiter.Run(ctx, cfg.RateLimitSweepInterval)

	// Initialize services and handlers
	relay := service.NewRelay(provider, service.RelayConfig{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TurnTimeout: cfg.TurnTimeout,
	}, log, relayOpts...)

	healthHandler := handler.NewHealthHandler(pinger)
	chatHandler := handler.NewChatHandler(relay, cfg.Locale, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Chat API
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		r.Use(middleware.RateLimit(cfg.NetworkRateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.FingerprintLimit(limiter))

		r.Post("/chat", chatHandler.Chat)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	switch llm.ProviderName(cfg.LLMProvider) {
	case llm.ProviderDemo:
		return llmtest.NewCanned(40 * time.Millisecond), nil
	case llm.ProviderAnthropic:
		return llm.NewProvider(llm.Config{
			Provider: llm.ProviderAnthropic,
			APIKey:   cfg.AnthropicAPIKey,
			Model:    cfg.Model,
		})
	default:
		return llm.NewProvider(llm.Config{
			Provider: llm.ProviderName(cfg.LLMProvider),
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			Model:    cfg.Model,
		})
	}
}
