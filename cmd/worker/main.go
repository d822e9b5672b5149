package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/sequence-engine/internal/api"
	appconfig "github.com/ignite/sequence-engine/internal/config"
	"github.com/ignite/sequence-engine/internal/events"
	"github.com/ignite/sequence-engine/internal/mailing"
	"github.com/ignite/sequence-engine/internal/pkg/distlock"
	"github.com/ignite/sequence-engine/internal/pkg/logger"
	"github.com/ignite/sequence-engine/internal/repository/postgres"
	"github.com/ignite/sequence-engine/internal/sequence"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	flag.Parse()

	log.Println("Starting sequence worker...")

	cfg, err := appconfig.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.RedactPII)

	// Database connection
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Redis is optional; without it per-enrollment locks use Postgres advisory locks.
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		rctx, rcancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(rctx).Err(); err != nil {
			log.Printf("Redis unavailable (%v), using Postgres advisory locks", err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Println("Connected to Redis")
		}
		rcancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Email sender
	var sender mailing.Sender = mailing.LogSender{}
	if cfg.SES.Enabled {
		sesSender, err := mailing.NewSESSender(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region, cfg.SES.ConfigurationSet)
		if err != nil {
			log.Fatalf("Failed to initialize SES sender: %v", err)
		}
		sender = sesSender
		log.Printf("SES sender initialized (region=%s)", cfg.SES.Region)
	} else {
		log.Println("SES disabled, emails will be logged only")
	}

	mailer := mailing.NewMailer(mailing.NewTemplateService(), sender, mailing.MailerConfig{
		DefaultFromName:  cfg.Sequences.DefaultFromName,
		DefaultFromEmail: cfg.Sequences.DefaultFromEmail,
	})

	var unsubscribe sequence.UnsubscribeLinker
	if cfg.Sequences.UnsubscribeBaseURL != "" && cfg.Sequences.SigningKey != "" {
		unsubscribe = mailing.NewUnsubscribeSigner(cfg.Sequences.UnsubscribeBaseURL, cfg.Sequences.SigningKey)
	} else {
		log.Println("Unsubscribe links disabled (unsubscribe_base_url or signing_key not set)")
	}

	// Repositories and engine
	sequences := postgres.NewSequenceRepo(db)
	enrollments := postgres.NewEnrollmentRepo(db)

	processor := sequence.NewProcessor(sequence.ProcessorDeps{
		Sequences:   sequences,
		Enrollments: enrollments,
		Subscribers: postgres.NewSubscriberRepo(db),
		Templates:   postgres.NewTemplateRepo(db),
		Sender:      mailer,
		Unsubscribe: unsubscribe,
		Conditions:  sequence.NewConditionEvaluator(),
		RetryBase:   cfg.Sequences.RetryBase(),
		RetryMax:    cfg.Sequences.RetryMax(),
	})
	evaluator := sequence.NewEvaluator(sequences, enrollments)

	worker := sequence.NewWorker(enrollments, processor,
		distlock.NewFactory(redisClient, db, cfg.Sequences.LockTTL()),
		sequence.WorkerConfig{
			TickInterval:    cfg.Sequences.TickInterval(),
			BatchSize:       cfg.Sequences.BatchSize,
			Concurrency:     cfg.Sequences.Concurrency,
			ShutdownTimeout: cfg.Sequences.ShutdownTimeout(),
			LockTTL:         cfg.Sequences.LockTTL(),
		})
	worker.Start(ctx)
	log.Printf("Sequence worker started (tick=%s, batch=%d, concurrency=%d)",
		cfg.Sequences.TickInterval(), cfg.Sequences.BatchSize, cfg.Sequences.Concurrency)

	// Trigger event queue
	var consumer *events.Consumer
	var consumerMonitor api.ConsumerMonitor
	if cfg.Events.Enabled {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Events.Region))
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		consumer = events.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Events.QueueURL, evaluator)
		consumer.Start(ctx)
		consumerMonitor = consumer
	}

	// HTTP API
	health := api.NewHealthChecker(db, redisClient, worker, cfg.Sequences.TickInterval())
	handlers := api.NewSequenceHandlers(evaluator, worker, consumerMonitor)
	server := api.NewServer(api.SetupRoutes(handlers, health, cfg.Server.AllowedOrigins))

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("HTTP API listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Println("Worker running...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	// Stop cancels the consumer's pending long poll; the worker then
	// stops its in-flight passes between steps before the root context goes.
	if consumer != nil {
		consumer.Stop()
	}
	worker.Stop()
	cancel()

	log.Println("Worker stopped")
}
