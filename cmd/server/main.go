package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/gaole-2025/rizzify-sub000/internal/client"
	"github.com/gaole-2025/rizzify-sub000/internal/config"
	"github.com/gaole-2025/rizzify-sub000/internal/handler"
	"github.com/gaole-2025/rizzify-sub000/internal/middleware"
	"github.com/gaole-2025/rizzify-sub000/internal/prompt"
	"github.com/gaole-2025/rizzify-sub000/internal/queue"
	"github.com/gaole-2025/rizzify-sub000/internal/repository"
	"github.com/gaole-2025/rizzify-sub000/internal/service"
	"github.com/gaole-2025/rizzify-sub000/internal/transfer"
	"github.com/gaole-2025/rizzify-sub000/internal/watermark"
	"github.com/gaole-2025/rizzify-sub000/internal/worker"
	ws "github.com/gaole-2025/rizzify-sub000/internal/websocket"
	"github.com/gaole-2025/rizzify-sub000/pkg/logger"
	"github.com/gaole-2025/rizzify-sub000/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New(cfg.Server.LogLevel)

	// Redis (queue backend + liveness check)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slogger.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
	}

	// Metadata store
	db, err := repository.Open(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}

	taskRepo := repository.NewTaskRepository(db)
	uploadRepo := repository.NewUploadRepository(db)
	photoRepo := repository.NewPhotoRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)

	// Durable queue
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	queueClient := queue.NewClient(redisOpt, cfg.Pipeline.QueueMaxRetry)
	defer queueClient.Close()

	// Object storage, one client per bucket
	uploadsStore, err := client.NewS3Client(&cfg.Storage, cfg.Storage.UploadsBucket, cfg.Storage.UploadsBaseURL)
	if err != nil {
		log.Fatalf("Failed to init uploads storage: %v", err)
	}
	resultsStore, err := client.NewS3Client(&cfg.Storage, cfg.Storage.ResultsBucket, cfg.Storage.ResultsBaseURL)
	if err != nil {
		log.Fatalf("Failed to init results storage: %v", err)
	}

	// Generation API + pipeline collaborators
	genClient := client.NewGenAPIClient(&cfg.GenAPI, slogger)
	if !genClient.IsConfigured() {
		slogger.Warn("generation API not configured, tasks will fail")
	}

	catalog, err := prompt.LoadCatalog(cfg.Prompts.PrimaryPath, cfg.Prompts.SecondaryPath)
	if err != nil {
		log.Fatalf("Failed to load prompt catalogs: %v", err)
	}
	sampler := prompt.NewSampler(catalog)

	transferManager := transfer.NewManager(resultsStore, "")
	stamper := watermark.NewStamper(cfg.Watermark.Text, cfg.Watermark.Opacity)

	// WebSocket hub
	hub := ws.NewHub(slogger)
	go hub.Run()

	// Services and handlers
	taskService := service.NewTaskService(taskRepo, uploadRepo, photoRepo, quotaRepo, queueClient, slogger)
	taskHandler := handler.NewTaskHandler(taskService, slogger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	// HTTP server
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    20 * 1024 * 1024, // 20MB
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())
	api.Post("/tasks", taskHandler.StartTask)
	api.Get("/tasks/:taskId/status", taskHandler.GetStatus)
	api.Get("/tasks/:taskId/photos", taskHandler.ListPhotos)
	api.Get("/quota", taskHandler.GetQuota)

	// WebSocket progress stream
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/tasks/:taskId", websocket.New(func(c *websocket.Conn) {
		taskID := c.Params("taskId")
		hub.HandleConnection(c, taskID)
	}))

	// Worker pool + stalled-task sweeper
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	generateWorker := worker.NewGenerateWorker(worker.Deps{
		Tasks:           taskRepo,
		Uploads:         uploadRepo,
		Photos:          photoRepo,
		Quotas:          quotaRepo,
		Generator:       genClient,
		Transfer:        transferManager,
		Stamper:         stamper,
		Sampler:         sampler,
		UploadStore:     uploadsStore,
		Hub:             hub,
		Plans:           cfg.Plans,
		BatchSize:       cfg.Pipeline.BatchSize,
		PerImageSeconds: cfg.Pipeline.PerImageSeconds,
		Log:             slogger,
	})

	go startWorkerServer(cfg, redisOpt, taskRepo, generateWorker, slogger)

	sweeper := worker.NewSweeper(
		taskRepo,
		time.Duration(cfg.Pipeline.SweepIntervalSec)*time.Second,
		time.Duration(cfg.Pipeline.StalledAfterMin)*time.Minute,
		slogger,
	)
	go sweeper.Run(workerCtx)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slogger.Info("shutting down server")
		stopWorkers()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slogger.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slogger.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, taskRepo repository.TaskRepository, generateWorker *worker.GenerateWorker, slogger *slog.Logger) {
	srv := queue.NewServer(redisOpt, cfg.Pipeline.WorkerConcurrency,
		worker.NewDeadLetterHandler(taskRepo, slogger))

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeGenerate, generateWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		slogger.Error("asynq worker error", "error", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
