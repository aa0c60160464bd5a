package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskloom/internal/config"
	"taskloom/internal/database"
	"taskloom/internal/handlers"
	"taskloom/internal/health"
	"taskloom/internal/jobs"
	"taskloom/internal/logging"
	"taskloom/internal/middleware"
	"taskloom/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load .env file (ignore error if file doesn't exist)
	envErr := godotenv.Load()

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()
	logrus.Info("🚀 Starting Taskloom context engine...")
	if envErr != nil {
		logrus.Debugf("No .env file loaded: %v", envErr)
	}

	cfg := config.Load()
	logrus.Infof("📋 Configuration loaded (Port: %s, knowledge: %s, ledger: %s)", cfg.Port, cfg.KnowledgeBackend, cfg.LedgerBackend)

	// Engine tunables, hot-reloaded when a file is configured
	engineConfig := config.DefaultEngineConfig()
	if cfg.EngineConfigPath != "" {
		loaded, err := config.LoadEngineConfig(cfg.EngineConfigPath)
		if err != nil {
			logrus.Fatalf("❌ Failed to load engine config: %v", err)
		}
		engineConfig = loaded
		logrus.Infof("✅ Engine config loaded from %s", cfg.EngineConfigPath)
	}
	configs := config.NewEngineConfigStore(engineConfig)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Optional connections
	var (
		sqlDB        *database.DB
		mongoDB      *database.MongoDB
		redisService *services.RedisService
	)

	if cfg.KnowledgeBackend == "sql" {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			logrus.Fatalf("❌ Failed to connect to database: %v", err)
		}
		if err := db.Initialize(); err != nil {
			logrus.Fatalf("❌ Failed to initialize database: %v", err)
		}
		sqlDB = db
	}

	if cfg.MongoURI != "" {
		db, err := database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			logrus.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		if err := db.Initialize(rootCtx); err != nil {
			logrus.Fatalf("❌ Failed to initialize MongoDB: %v", err)
		}
		mongoDB = db
	}

	if cfg.RedisURL != "" {
		r, err := services.NewRedisService(cfg.RedisURL)
		if err != nil {
			logrus.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		redisService = r
	}

	knowledgeStore, err := newKnowledgeStore(cfg, sqlDB, mongoDB)
	if err != nil {
		logrus.Fatalf("❌ %v", err)
	}
	ledgerStore, err := newLedgerStore(cfg, mongoDB, redisService)
	if err != nil {
		logrus.Fatalf("❌ %v", err)
	}

	metrics := services.NewEngineMetrics(nil)

	// Summarizer: AI compression when a completion endpoint is configured, deterministic fallback otherwise
	tracker := health.NewTracker(3, time.Hour)
	var completer services.Completer
	if cfg.SummarizerEnabled() {
		completer = services.NewOpenAICompleter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, tracker)
		logrus.Infof("🤖 [SUMMARIZER] Using %s at %s", cfg.LLMModel, cfg.LLMBaseURL)
	} else {
		logrus.Warn("⚠️  [SUMMARIZER] LLM_BASE_URL not set, over-budget items use the excerpt fallback")
	}
	summarizer := services.NewContextSummarizer(completer, configs.Get().Summarizer, metrics)

	previewService := services.NewContextPreviewService(knowledgeStore, configs, summarizer, metrics)
	previewService.SetCache(services.NewPreviewCache(cfg.PreviewCacheTTL))

	// Session ledger with rotation events
	eventBus := services.NewSessionEventBus()
	var locker services.ProjectLocker
	if redisService != nil {
		eventBus.SetMirror(redisService)
		locker = services.NewRedisProjectLocker(redisService, 0)
	}
	eventBus.OnEvent(func(e services.SessionEvent) {
		if e.Type == services.SessionEventRotated {
			previewService.InvalidateProject(e.ProjectID)
		}
	})
	ledger := services.NewSessionLedger(ledgerStore, configs, locker, eventBus, metrics)

	if cfg.EngineConfigPath != "" {
		go func() {
			err := config.WatchEngineConfig(rootCtx, cfg.EngineConfigPath, configs, func(*config.EngineConfig) {
				previewService.FlushCache()
			})
			if err != nil {
				logrus.Errorf("❌ Engine config watcher stopped: %v", err)
			}
		}()
	}

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		logrus.Fatalf("❌ %v", err)
	}
	if cfg.PreviewWarmEnabled {
		warmJob := jobs.NewPreviewWarmJob(previewService, ledger)
		if err := jobScheduler.Register(jobs.PreviewWarmJobName, cfg.PreviewWarmCron, warmJob.Run); err != nil {
			logrus.Fatalf("❌ Failed to register preview warm job: %v", err)
		}
	}
	jobScheduler.Start()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Taskloom",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second, // previews may wait on one summarizer call
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("taskloom")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	logrus.Info("📊 Prometheus metrics endpoint enabled at /metrics")

	allowedOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		logrus.Warn("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg.RateLimitMax)
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	logrus.Infof("🛡️  [RATE-LIMIT] Global=%d/min, Activity=%d/min per project", rateLimitConfig.GlobalAPIMax, rateLimitConfig.ActivityMax)

	healthHandler := handlers.NewHealthHandler(tracker)
	if sqlDB != nil {
		healthHandler.AddCheck("database", sqlDB.PingContext)
	}
	if mongoDB != nil {
		healthHandler.AddCheck("mongodb", mongoDB.Ping)
	}
	if redisService != nil {
		healthHandler.AddCheck("redis", redisService.Ping)
	}
	contextHandler := handlers.NewContextHandler(previewService, ledger)

	app.Get("/health", healthHandler.Handle)

	projects := app.Group("/api/projects/:projectId")
	projects.Get("/context-preview", contextHandler.GetContextPreview)
	projects.Post("/activity", middleware.ActivityRateLimiter(rateLimitConfig), contextHandler.RecordActivity)
	projects.Get("/sessions", contextHandler.ListSessions)

	logrus.Infof("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logrus.Info("🛑 Shutting down server...")

		if err := jobScheduler.Stop(); err != nil {
			logrus.Warnf("⚠️ Error stopping scheduler: %v", err)
		}
		cancelRoot()

		if err := app.Shutdown(); err != nil {
			logrus.Warnf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		logrus.Fatalf("❌ Failed to start server: %v", err)
	}

	closeConnections(sqlDB, mongoDB, redisService)
}

func newKnowledgeStore(cfg *config.Config, sqlDB *database.DB, mongoDB *database.MongoDB) (services.KnowledgeStore, error) {
	switch cfg.KnowledgeBackend {
	case "sql":
		return services.NewSQLKnowledgeStore(sqlDB), nil
	case "mongo":
		if mongoDB == nil {
			return nil, fmt.Errorf("KNOWLEDGE_BACKEND=mongo requires MONGODB_URI")
		}
		return services.NewMongoKnowledgeStore(mongoDB), nil
	default:
		return nil, fmt.Errorf("unknown KNOWLEDGE_BACKEND %q", cfg.KnowledgeBackend)
	}
}

func newLedgerStore(cfg *config.Config, mongoDB *database.MongoDB, redisService *services.RedisService) (services.LedgerStore, error) {
	switch cfg.LedgerBackend {
	case "memory":
		if cfg.IsProduction() {
			logrus.Warn("⚠️  [SESSION-LEDGER] In-memory ledger in production: session history is lost on restart")
		}
		return services.NewMemoryLedgerStore(), nil
	case "mongo":
		if mongoDB == nil {
			return nil, fmt.Errorf("LEDGER_BACKEND=mongo requires MONGODB_URI")
		}
		return services.NewMongoLedgerStore(mongoDB), nil
	case "redis":
		if redisService == nil {
			return nil, fmt.Errorf("LEDGER_BACKEND=redis requires REDIS_URL")
		}
		return services.NewRedisLedgerStore(redisService), nil
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}
}

func closeConnections(sqlDB *database.DB, mongoDB *database.MongoDB, redisService *services.RedisService) {
	if sqlDB != nil {
		sqlDB.Close()
	}
	if mongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoDB.Close(ctx)
	}
	if redisService != nil {
		_ = redisService.Close()
	}
}
