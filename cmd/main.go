package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/courseforge/courseforge-backend/internal/app"
	redisclient "github.com/courseforge/courseforge-backend/internal/clients/redis"
	"github.com/courseforge/courseforge-backend/internal/course"
	"github.com/courseforge/courseforge-backend/internal/data/repos/jobs"
	"github.com/courseforge/courseforge-backend/internal/data/repos/snapshots"
	"github.com/courseforge/courseforge-backend/internal/db"
	"github.com/courseforge/courseforge-backend/internal/genai"
	"github.com/courseforge/courseforge-backend/internal/handlers"
	"github.com/courseforge/courseforge-backend/internal/jobs/pipeline/course_generate"
	"github.com/courseforge/courseforge-backend/internal/jobs/runtime"
	"github.com/courseforge/courseforge-backend/internal/jobs/worker"
	"github.com/courseforge/courseforge-backend/internal/middleware"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
	"github.com/courseforge/courseforge-backend/internal/platform/openai"
	"github.com/courseforge/courseforge-backend/internal/server"
	"github.com/courseforge/courseforge-backend/internal/services"
	"github.com/courseforge/courseforge-backend/internal/sse"
	"github.com/courseforge/courseforge-backend/internal/utils"
)

func main() {
	_ = godotenv.Load()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := app.LoadConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	jobRepo := jobs.NewJobRepo(thePG, log)
	snapshotRepo := snapshots.NewSnapshotRepo(thePG, log)

	// SSE, with optional redis fan-out across instances
	sseHub := sse.NewHub(log)
	var sseBus redisclient.SSEBus
	if os.Getenv("REDIS_ADDR") != "" {
		sseBus, err = redisclient.NewSSEBus(log)
		if err != nil {
			log.Warn("Redis SSE bus init failed; running single-instance", "error", err)
			sseBus = nil
		} else if err := sseBus.StartForwarder(ctx, sseHub.Broadcast); err != nil {
			log.Warn("Redis SSE forwarder failed to start; running single-instance", "error", err)
			_ = sseBus.Close()
			sseBus = nil
		}
	}

	// Services
	notifier := services.NewJobNotifier(log, sseHub, sseBus)
	jobService := services.NewJobService(log, jobRepo, snapshotRepo, notifier)

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("Could not init OpenAI client", "error", err)
	}
	generator := genai.NewGenerator(openaiClient, log)

	// Job pipeline + worker
	registry := runtime.NewRegistry()
	pipeline := course_generate.New(cfg, log, snapshotRepo, generator, course.NewDefaultActivityBuilder())
	if err := registry.Register(pipeline); err != nil {
		log.Fatal("Could not register pipeline", "error", err)
	}
	jobWorker := worker.NewWorker(cfg, log, jobRepo, registry, notifier)
	go func() {
		if err := jobWorker.Start(ctx); err != nil {
			log.Error("Worker pool exited", "error", err)
		}
	}()

	// HTTP
	authMiddleware := middleware.NewAuthMiddleware(log, cfg.JWTSecretKey)
	jobHandler := handlers.NewJobHandler(log, jobService)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware: authMiddleware,
		JobHandler:     jobHandler,
		SSEHandler:     sseHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
