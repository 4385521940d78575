/**
 * @description
 * This is the main entry point for the registration-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, external API clients, the message broker producer, the
 * repository, the core application service, the allocation scheduler, and the
 * HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting and detection caching.
 * - internal/api, internal/app, internal/config, internal/store, internal/token: Internal packages.
 * - pkg/submitclient, pkg/payclient, pkg/rabbitmq: External collaborators.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/campseat/registration-service/internal/api"
	"github.com/campseat/registration-service/internal/app"
	"github.com/campseat/registration-service/internal/config"
	"github.com/campseat/registration-service/internal/store"
	"github.com/campseat/registration-service/internal/token"
	"github.com/campseat/registration-service/pkg/payclient"
	rmrabbit "github.com/campseat/registration-service/pkg/rabbitmq"
	"github.com/campseat/registration-service/pkg/submitclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.InternalAPIKey == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if cfg.ResumeTokenSecret == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"resume token secret must be configured\" env=RESUME_TOKEN_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting registration-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Registration-open spikes put the pool under burst load; keep warm
	// connections around between cycles.
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for registration notices. A broker
	// outage degrades notifications to the no-op fallback, never the boot.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize clients for the external collaborators.
	submitter := submitclient.NewClient(cfg.SubmissionAPIBaseURL, cfg.SubmissionAPIKey, time.Duration(cfg.SubmissionTimeoutSeconds)*time.Second)
	capturer := payclient.NewClient(cfg.PaymentAPIBaseURL, cfg.PaymentAPIKey, time.Duration(cfg.ChargeTimeoutSeconds)*time.Second)

	// Redis backs the resume rate limiter and the verification detection
	// cache. Both fail open, so a missing or unreachable Redis only degrades.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; resume rate limiting and detection cache disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; resume rate limiting and detection cache disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; resume rate limiting and detection cache disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the resume-token service.
	tokenService, err := token.NewService(cfg.ResumeTokenSecret, time.Duration(cfg.ResumeTokenTTLMinutes)*time.Minute)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"resume token service init failed\" err=%v", err)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	registrationService := app.NewService(
		repository,
		submitter,
		capturer,
		producer,
		tokenService,
		app.Config{
			MaxSessionsPerCycle: cfg.MaxSessionsPerCycle,
			SessionWorkers:      cfg.SessionWorkers,
			UserSessionCap:      cfg.UserSessionCap,
			SubmissionRetryMax:  cfg.SubmissionRetryMax,
			SubmissionTimeout:   time.Duration(cfg.SubmissionTimeoutSeconds) * time.Second,
			ChargeTimeout:       time.Duration(cfg.ChargeTimeoutSeconds) * time.Second,
			ResumeBaseURL:       cfg.ResumeBaseURL,
			ResumeRateLimit:     cfg.ResumeRateLimitPerMinute,
			ResumeRateWindow:    time.Minute,
			SweepBatchSize:      cfg.SweepBatchSize,
			StaleAcceptedAfter:  time.Duration(cfg.StaleAcceptedAfterMinutes) * time.Minute,
		},
	)
	if redisClient != nil {
		registrationService.SetResumeRateLimiter(
			app.NewRedisResumeRateLimiter(redisClient, cfg.RedisKeyPrefix+":rate_limit"),
		)
		registrationService.SetDetectionCache(
			app.NewRedisDetectionCache(redisClient, cfg.RedisKeyPrefix+":verification"),
		)
	}

	// Start the recurring allocation scheduler.
	scheduler := app.NewScheduler(
		registrationService,
		time.Duration(cfg.AllocationIntervalSeconds)*time.Second,
		time.Duration(cfg.CycleTimeoutSeconds)*time.Second,
	)
	scheduler.Start()

	// Initialize the API handlers and router.
	registrationHandlers := api.NewRegistrationHandlers(registrationService)
	router := api.NewRouter(registrationHandlers, cfg.InternalAPIKey)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
