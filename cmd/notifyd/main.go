// Command notifyd runs the notification delivery service: the Event
// Consumer, Handler Registry and Dispatcher, Delivery Queue and Worker
// Pool, Credential & Branding Cache, WebSocket Hub, and the admin REST
// surface, all wired from one TOML config file plus environment overrides.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amityvox/notifyd/internal/api"
	"github.com/amityvox/notifyd/internal/auth"
	"github.com/amityvox/notifyd/internal/cache"
	"github.com/amityvox/notifyd/internal/chat"
	"github.com/amityvox/notifyd/internal/config"
	"github.com/amityvox/notifyd/internal/crypto"
	"github.com/amityvox/notifyd/internal/database"
	"github.com/amityvox/notifyd/internal/delivery"
	"github.com/amityvox/notifyd/internal/devices"
	"github.com/amityvox/notifyd/internal/events"
	"github.com/amityvox/notifyd/internal/handlers"
	"github.com/amityvox/notifyd/internal/middleware"
	"github.com/amityvox/notifyd/internal/models"
	"github.com/amityvox/notifyd/internal/render"
	"github.com/amityvox/notifyd/internal/senders"
	"github.com/amityvox/notifyd/internal/ws"

	"github.com/go-chi/chi/v5"
)

func main() {
	configPath := flag.String("config", "notifyd.toml", "path to the TOML config file")
	migrate := flag.Bool("migrate", false, "run pending database migrations and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "notifyd: loading config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if *migrate {
		if err := database.MigrateUp(cfg.Database.URL, logger); err != nil {
			logger.Error("notifyd: migration failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("notifyd: fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// run wires every component and blocks until ctx is cancelled, then shuts
// down in reverse dependency order. errCh carries a fatal error from the
// HTTP listener goroutine so a failed listener brings the whole instance
// down; the event consumer's fetch loops log their errors and keep running.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := database.MigrateUp(cfg.Database.URL, logger); err != nil {
		return fmt.Errorf("running startup migrations: %w", err)
	}

	db, err := database.New(ctx, cfg.Database.URL, int(cfg.Database.MaxConns), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	box, err := secretsBox(cfg.Database.EncryptKey)
	if err != nil {
		return err
	}

	bus, err := events.NewBus(cfg.EventLog.BootstrapServers, logger)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer bus.Close()
	if err := bus.EnsureStreams(); err != nil {
		return fmt.Errorf("ensuring JetStream streams: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Cache.URL != "" {
		opts, err := redis.ParseURL(cfg.Cache.URL)
		if err != nil {
			return fmt.Errorf("parsing cache.url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	credentialStore := cache.NewPostgresCredentialStore(db.Pool, box)
	templateStore := cache.NewPostgresTemplateStore(db.Pool)
	identityClient := cache.NewIdentityHTTPClient(cfg.IdentityService.URL, mustParse(cfg.IdentityService.TimeoutParsed()))
	channelDefaults := cache.NewConfigChannelDefaults(cfg.Channels)

	positiveTTL := mustParse(cfg.Delivery.BrandingPositiveTTLParsed())
	negativeTTL := mustParse(cfg.Delivery.BrandingNegativeTTLParsed())

	brandingCache := cache.New(cache.Config{
		Store:          credentialStore,
		Identity:       identityClient,
		Defaults:       channelDefaults,
		Redis:          redisClient,
		PositiveTTL:    positiveTTL,
		NegativeTTL:    negativeTTL,
		AuthBreakerMax: cfg.Delivery.AuthCircuitBreaker,
		Logger:         logger,
	})

	authSvc := auth.NewService(cfg.WebSocket.JWTSecret)
	chatStore := chat.New(db.Pool)
	deviceStore := devices.New(db.Pool)
	deadLetters := events.NewPostgresDeadLetterStore(db.Pool)

	hub, err := ws.New(ws.Config{
		Auth:             authSvc,
		Chat:             chatStore,
		Bus:              bus,
		SendBufferSize:   cfg.WebSocket.SendBufferSize,
		HeartbeatTimeout: mustParse(cfg.WebSocket.HeartbeatTimeoutParsed()),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("starting WebSocket hub: %w", err)
	}

	queue := delivery.New(db.Pool)
	senderRegistry := senders.NewRegistry(map[models.Channel]senders.Sender{
		models.ChannelEmail: senders.NewEmailSender(5 * time.Minute),
		models.ChannelSMS:   senders.NewSMSSender(15 * time.Second),
		models.ChannelPush:  senders.NewPushSender(15 * time.Second),
		models.ChannelInApp: senders.NewInAppSender(hub),
	})

	pool := delivery.NewPool(delivery.Config{
		Queue:        queue,
		Senders:      senderRegistry,
		Credentials:  brandingCache,
		Devices:      deviceStore,
		Backoff:      delivery.BackoffPolicy{Base: mustParse(cfg.Delivery.BackoffBaseParsed()), Multiplier: cfg.Delivery.BackoffMultiplier, Jitter: cfg.Delivery.BackoffJitter, Cap: mustParse(cfg.Delivery.BackoffCapParsed())},
		Size:         cfg.Delivery.WorkerPoolSize,
		SendTimeout:  mustParse(cfg.Delivery.SendTimeoutParsed()),
		LeaseTimeout: mustParse(cfg.Delivery.LeaseTimeoutParsed()),
		Logger:       logger,
	})
	pool.Start(ctx)
	defer pool.Stop()

	dispatcher := handlers.NewDispatcher(handlers.DefaultRegistry(), brandingCache, templateStore, render.New(), queue)

	consumer := events.New(events.Config{
		JetStream:       bus.JetStream(),
		Dispatcher:      dispatcher,
		DeadLetters:     deadLetters,
		ConsumerGroup:   cfg.EventLog.ConsumerGroup,
		Topics:          cfg.EventLog.Topics,
		HandlerDeadline: mustParse(cfg.Delivery.HandlerDeadlineParsed()),
		Logger:          logger,
	})
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("starting event consumer: %w", err)
	}
	defer consumer.Stop()

	adminServer := &api.Server{
		Auth:        authSvc,
		Credentials: credentialStore,
		Cache:       brandingCache,
		Templates:   templateStore,
		Branding:    brandingCache,
		Renderer:    render.New(),
		Queue:       queue,
		Devices:     deviceStore,
		Chat:        chatStore,
		DeadLetters: deadLetters,
		Logger:      logger,
	}

	limiter := middleware.NewSlidingWindowLimiter(middleware.DefaultSlidingWindowConfig(), middleware.DefaultEndpointRates(), logger)
	defer limiter.Stop()

	router := chi.NewRouter()
	router.Use(middleware.CorrelationID)
	router.Use(middleware.TracingLogger(logger))
	router.Use(middleware.RateLimitMiddleware(limiter))
	router.Mount("/", adminServer.NewRouter())
	router.Get("/ws/notifications/{tenant}/", hub.ServeNotifications)
	router.Get("/ws/chat/{tenant}/", hub.ServeChat)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("notifyd: listening", slog.String("addr", cfg.HTTP.Listen))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("notifyd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func secretsBox(encryptKey string) (*crypto.SecretsBox, error) {
	if encryptKey == "" {
		return nil, fmt.Errorf("database.encryption_key is required")
	}
	return crypto.NewSecretsBox([]byte(encryptKey))
}

func mustParse(d time.Duration, err error) time.Duration {
	if err != nil {
		panic(err)
	}
	return d
}
