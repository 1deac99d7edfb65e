package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notification-dispatcher/internal/config"
	"github.com/jwalitptl/notification-dispatcher/internal/credential"
	"github.com/jwalitptl/notification-dispatcher/internal/handler/bounce"
	"github.com/jwalitptl/notification-dispatcher/internal/handler/endpoint"
	"github.com/jwalitptl/notification-dispatcher/internal/handler/health"
	promhandler "github.com/jwalitptl/notification-dispatcher/internal/handler/prometheus"
	"github.com/jwalitptl/notification-dispatcher/internal/middleware"
	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/internal/provider/pinpoint"
	"github.com/jwalitptl/notification-dispatcher/internal/repository/postgres"
	redisrepo "github.com/jwalitptl/notification-dispatcher/internal/repository/redis"
	"github.com/jwalitptl/notification-dispatcher/internal/router"
	"github.com/jwalitptl/notification-dispatcher/internal/service/directory"
	"github.com/jwalitptl/notification-dispatcher/internal/service/dispatch"
	"github.com/jwalitptl/notification-dispatcher/internal/service/notifier"
	"github.com/jwalitptl/notification-dispatcher/internal/service/validation"
	"github.com/jwalitptl/notification-dispatcher/internal/worker"
	"github.com/jwalitptl/notification-dispatcher/pkg/auth"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
	"github.com/jwalitptl/notification-dispatcher/pkg/messaging/redis"
	"github.com/jwalitptl/notification-dispatcher/pkg/metrics"
	"github.com/jwalitptl/notification-dispatcher/pkg/security"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "Failed to load configuration")
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Provider credentials
	session, err := credential.Acquire(ctx, credential.Options{
		Region:              cfg.Provider.Region,
		CrossAccountEnabled: cfg.Provider.CrossAccount.Enabled,
		RoleARN:             cfg.Provider.CrossAccount.RoleARN,
		SessionName:         cfg.Provider.CrossAccount.SessionName,
		TTLSeconds:          cfg.Provider.CrossAccount.TTLSeconds,
		LambdaExecution:     cfg.Provider.LambdaExecution,
	}, log)
	if err != nil {
		log.Fatal(err, "Failed to acquire provider credentials")
	}
	defer session.Close()

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	if err := postgres.Migrate(db); err != nil {
		log.Fatal(err, "Failed to apply schema")
	}

	// Initialize Redis
	redisClient, err := redis.NewClient(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	if err != nil {
		log.Fatal(err, "Failed to configure Redis")
	}
	broker, err := redis.NewRedisBroker(ctx, redisClient, log)
	if err != nil {
		log.Fatal(err, "Failed to connect to Redis")
	}
	defer broker.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("notification_dispatcher", registry)

	// Provider client
	provider := pinpoint.NewFromConfig(session.Config(), pinpoint.Config{
		ApplicationID:     cfg.Provider.ApplicationID,
		RequestsPerSecond: cfg.Provider.RateLimit.RequestsPerSecond,
		Burst:             cfg.Provider.RateLimit.Burst,
		BreakerFailures:   cfg.Provider.Breaker.MaxFailures,
		BreakerTimeout:    cfg.Provider.Breaker.Timeout,
	}, m, log)

	enc, err := security.NewAESEncryptorFromSecret(cfg.Encryption.Secret, cfg.Encryption.Salt)
	if err != nil {
		log.Fatal(err, "Failed to initialize address encryption")
	}

	// Initialize repositories
	baseRepo := postgres.NewBaseRepository(db, m)
	endpointRepo := postgres.NewEndpointRepository(baseRepo)
	bounceRepo := redisrepo.NewBounceRepository(redisClient)

	// Initialize services
	directorySvc := directory.NewService(endpointRepo, provider, security.NewStringCipher(enc), m, log)
	validationSvc := validation.NewService(provider, bounceRepo, validation.Config{
		RejectedPhoneTypes:   cfg.Dispatch.RejectedPhoneTypes,
		BounceHandlerEnabled: cfg.Dispatch.BounceHandlerEnabled,
		PhoneCacheTTL:        cfg.Dispatch.PhoneCacheTTL,
	}, m, log)

	deps := notifier.Deps{
		Validator: validationSvc,
		Directory: directorySvc,
		Sender:    provider,
		Assembler: dispatch.NewAssembler(dispatch.Defaults{
			SenderID:    cfg.Dispatch.DefaultSenderID,
			FromAddress: cfg.Dispatch.DefaultFromAddress,
		}),
		Inputs:  notifier.NewInputValidator(),
		Metrics: m,
		Logger:  log,
	}
	notifiers := notifier.NewRegistry(notifier.NewSMSNotifier(deps), notifier.NewEmailNotifier(deps))
	for _, channel := range []model.ChannelType{model.ChannelGCM, model.ChannelAPNS} {
		push, err := notifier.NewPushNotifier(channel, deps)
		if err != nil {
			log.Fatal(err, "Failed to create push notifier", "channel", string(channel))
		}
		notifiers.Register(push)
	}
	if err := notifiers.SetupAll(ctx); err != nil {
		log.Fatal(err, "Failed to set up notification channels")
	}
	defer func() {
		if err := notifiers.DestroyAll(context.Background()); err != nil {
			log.Error(err, "Failed to tear down notification channels")
		}
	}()

	// Dispatch consumer
	consumerDone := make(chan struct{})
	if cfg.Worker.Enabled {
		consumer := worker.NewDispatchConsumer(broker, notifiers, worker.DispatchConsumerConfig{
			DispatchTopic: cfg.Worker.DispatchTopic,
			HistoryTopic:  cfg.Worker.HistoryTopic,
		}, log, m)
		go func() {
			defer close(consumerDone)
			if err := consumer.Start(ctx); err != nil {
				log.Error(err, "Dispatch consumer stopped")
			}
		}()
	} else {
		close(consumerDone)
	}

	// Ops API
	var authMiddleware *middleware.AuthMiddleware
	if cfg.JWT.Secret != "" {
		jwtSvc, err := auth.NewJWTService(cfg.JWT.Secret)
		if err != nil {
			log.Fatal(err, "Failed to initialize token auth")
		}
		authMiddleware = middleware.NewAuthMiddleware(jwtSvc)
	} else {
		log.Warn("jwt.secret is not set, ops routes are disabled")
	}

	healthH := health.NewHandler(map[string]health.Pinger{
		"database": db,
		"redis": health.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	})

	r := router.NewRouter(
		authMiddleware,
		healthH,
		promhandler.New(registry),
		router.RouterConfig{
			Logger:         log,
			RequestTimeout: cfg.Server.RequestTimeout,
			RateLimit:      rate.Limit(cfg.Server.RateLimit),
			RateBurst:      cfg.Server.RateBurst,
			MaxBodySize:    cfg.Server.MaxBodyBytes,
		},
		endpoint.NewHandler(directorySvc),
		bounce.NewHandler(validationSvc),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a server failure, then shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	if err := waitForStop(quit, serverErr); err != nil {
		log.Error(err, "Server failed, shutting down")
	} else {
		log.Info("Shutting down server...")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	// The in-flight job finishes before the broker, database and channels close
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn("Dispatch consumer did not stop before the shutdown timeout")
	}

	log.Info("Server exited properly")
}

// waitForStop blocks until a signal arrives or the server fails. It returns
// the server error, or nil on a signal.
func waitForStop(quit <-chan os.Signal, serverErr <-chan error) error {
	select {
	case <-quit:
		return nil
	case err := <-serverErr:
		return err
	}
}
