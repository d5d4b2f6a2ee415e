// Package main is the entry point for the API server.
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

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/auth"
	"github.com/capitalize-ai/messaging-platform/internal/config"
	"github.com/capitalize-ai/messaging-platform/internal/handler"
	"github.com/capitalize-ai/messaging-platform/internal/media"
	natsclient "github.com/capitalize-ai/messaging-platform/internal/nats"
	"github.com/capitalize-ai/messaging-platform/internal/push"
	"github.com/capitalize-ai/messaging-platform/internal/realtime"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/tracing"
)

const serviceName = "messaging-platform"

func main() {
	cfg := config.Load()
	log, err := logger.FromEnv(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if err := run(cfg, log); err != nil {
		log.Error("api server failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server", zap.String("store", cfg.StoreDriver))
	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     serviceName,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	// Redis backs sessions; asynq shares the same server for the push queue.
	redisClient, err := auth.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()
	sessions := auth.NewRedisSessionStore(redisClient, cfg.SessionTTL)

	asynqClient, err := push.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = asynqClient.Close() }()
	pushQueue := push.NewQueue(asynqClient, cfg.PushQueue, cfg.PushMaxRetry)

	mediaStorage, err := media.NewLocalStorage(cfg.MediaDir)
	if err != nil {
		return err
	}

	// Initialize services
	gate := service.NewGate(st)
	dispatcher := realtime.NewDispatcher(streamManager, st, log)
	conversationSvc := service.NewConversationService(st, gate, log)
	messageSvc := service.NewMessageService(
		st, gate, mediaStorage,
		media.Validator{MaxBytes: cfg.MaxAttachmentBytes, MaxFiles: cfg.MaxAttachments},
		dispatcher, pushQueue, log,
	)
	unreadSvc := service.NewUnreadService(st)
	blockSvc := service.NewBlockService(st, log)
	deviceSvc := service.NewDeviceService(st)

	// Authentication
	tokens := auth.NewTokens(st, 0)
	resolver := auth.NewResolver(tokens, sessions, st, cfg.SessionCookie, log)
	authenticator := auth.NewAuthenticator(st, sessions, tokens)
	grants := realtime.NewGrantSigner(cfg.JWTSecret, cfg.ChannelGrantTTL)
	gateway := realtime.NewGateway(grants, streamManager, cfg.AllowedOrigins, log)
	defer gateway.Close()

	// Initialize handlers
	router := &handler.Router{
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimits:     handler.RateLimits{Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow},
		Resolver:       resolver,
		Unread:         unreadSvc,
		Health: handler.NewHealthHandler(streamManager.RecordStats,
			handler.Check{Name: "database", Ping: st.Ping},
			handler.Check{Name: "nats", Ping: natsClient.Ping},
			handler.Check{Name: "redis", Ping: sessions.Ping},
		),
		Auth: handler.NewAuthHandler(authenticator, handler.CookieConfig{
			Name:   cfg.SessionCookie,
			TTL:    cfg.SessionTTL,
			Secure: cfg.SessionSecure,
		}, log),
		Broadcasting:  handler.NewBroadcastingHandler(resolver, realtime.NewAuthorizer(st, log), grants, log),
		Conversations: handler.NewConversationHandler(conversationSvc, log),
		Messages:      handler.NewMessageHandler(messageSvc, int64(cfg.MaxAttachments)*cfg.MaxAttachmentBytes+(1<<20), log),
		UnreadCounts:  handler.NewUnreadHandler(unreadSvc, log),
		Users:         handler.NewUserHandler(blockSvc, deviceSvc, log),
		Gateway:       gateway,
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return store.NewMemory(), nil
	case "postgres":
		pg, err := store.Connect(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
