package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coldreach/config"
	"coldreach/decision"
	"coldreach/lifecycle"
	"coldreach/llm"
	"coldreach/mailer"
	"coldreach/middleware"
	"coldreach/pipeline"
	"coldreach/reports"
	"coldreach/retention"
	"coldreach/routes"
	"coldreach/scheduler"
	"coldreach/sendqueue"
	"coldreach/utils"
	"coldreach/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
)

func main() {
	logger := log.New(os.Stdout, "COLDREACH: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("⚠️ Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := config.ConnectRedis(); err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	utils.InitStripe()

	// External collaborators
	llmClient := llm.NewClient(config.DB, llm.Config{APIKey: config.AppConfig.LLMAPIKey}, logger)
	coldSender, err := mailer.NewColdSender(config.AppConfig, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize cold mail sender: %v", err)
	}
	transactional := mailer.NewTransactionalMailer(config.AppConfig, logger)

	// Core engines
	hub := decision.NewHub(logger)
	decisions := decision.NewService(config.DB, logger, hub)
	driver := pipeline.NewDriver(config.DB, llmClient, logger)
	queue := sendqueue.NewProcessor(config.DB, coldSender, logger)
	retentionEngine := retention.NewEngine(config.DB, decisions, llmClient, logger)
	dunning := retention.NewDunning(config.DB, decisions, transactional, config.AppConfig.AppURL+"/billing", logger)
	betaMailer := lifecycle.NewMailer(config.DB, transactional, logger)
	reporter := reports.NewGenerator(config.DB, decisions, transactional, logger)

	// Scheduler owns every periodic job
	sched := scheduler.New(config.Redis, logger)
	err = scheduler.RegisterAll(sched, scheduler.Deps{
		DB:        config.DB,
		Pipeline:  driver,
		SendQueue: queue,
		Decisions: decisions,
		Retention: retentionEngine,
		Dunning:   dunning,
		Lifecycle: betaMailer,
		Reports:   reporter,
		LLM:       llmClient,
	})
	if err != nil {
		logger.Fatalf("Failed to register jobs: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// IMAP reply poller
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replyWorker := worker.NewReplyWorker(config.DB, queue, config.AppConfig.IMAP,
		log.New(os.Stdout, "REPLIES: ", log.LstdFlags))
	go replyWorker.Start(ctx)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Deps{
		DB:        config.DB,
		Redis:     config.Redis,
		Pipeline:  driver,
		Queue:     queue,
		Decisions: decisions,
		Hub:       hub,
		Dunning:   dunning,
		Scheduler: sched,
	})

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Println("Shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
