package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/postfleet/postfleet/configs"
	"github.com/postfleet/postfleet/internal/api/handlers"
	"github.com/postfleet/postfleet/internal/api/middleware"
	"github.com/postfleet/postfleet/internal/engine"
	job "github.com/postfleet/postfleet/internal/jobs"
	"github.com/postfleet/postfleet/internal/platform"
	"github.com/postfleet/postfleet/internal/queue"
	"github.com/postfleet/postfleet/internal/repository"
	"github.com/postfleet/postfleet/internal/service"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	taskEventRepo := repository.NewTaskEventRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)

	registry := platform.NewRegistry(
		platform.NewTiktokAdapter(),
		platform.NewInstagramAdapter(),
		platform.NewYoutubeAdapter(),
		platform.NewTwitterAdapter(),
	)

	bus := engine.NewBus()
	recorder := engine.NewRecorder(taskEventRepo)
	go recorder.Run(bus.Subscribe(256))

	credentialService := service.NewCredentialService(*cfg, socialAccountRepo)
	manager := queue.NewManager(client)
	orchestrator := engine.NewOrchestrator(taskRepo, credentialService, registry, manager, bus, cfg.Engine)

	authService := service.NewAuthService(*cfg, userRepo)
	userService := service.NewUserService(userRepo)
	r2Service := service.NewR2Service(*cfg)
	mediaService := service.NewMediaService(mediaAssetRepo, *r2Service)
	taskService := service.NewTaskService(*cfg, taskRepo, taskEventRepo, socialAccountRepo, registry, orchestrator)
	platformService := service.NewPlatformService(*cfg, socialAccountRepo, taskRepo)
	instagramService := service.NewInstagramService(*cfg, socialAccountRepo)
	tiktokService := service.NewTiktokService(*cfg, socialAccountRepo)
	youtubeService := service.NewYoutubeService(*cfg, socialAccountRepo)
	twitterService := service.NewTwitterService(*cfg, socialAccountRepo)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	auth := handlers.NewAuthHandler(*cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)

	platformHandler := handlers.NewPlatformHandler(platformService, instagramService, tiktokService, youtubeService, twitterService, *cfg)
	app.Get("/auth/:platform", platformHandler.AddSocialAccount)
	app.Get("/auth/:platform/callback", platformHandler.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(userService)
	api.Get("/user/info", user.GetUserInfo)

	task := handlers.NewTaskHandler(taskService)
	api.Post("/tasks/create", task.CreateTask)
	api.Get("/tasks", task.ListTasks)
	api.Get("/tasks/calendar", task.Calendar)
	api.Get("/tasks/history", task.TaskHistory)
	api.Post("/tasks/cancel", task.CancelTask)

	media := handlers.NewMediaHandler(mediaService)
	api.Post("/media/upload", media.UploadMedia)
	api.Get("/media", media.MediaInfo)
	api.Post("/media/remove", media.RemoveMedia)

	// social accounts api routes
	api.Get("/accounts", platformHandler.ListSocialAccounts)
	api.Post("/accounts/remove", platformHandler.DeleteSocialAccount)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, youtubeService, tiktokService, instagramService, twitterService)
	scheduler := engine.NewScheduler(taskRepo, orchestrator)
	poller := engine.NewPoller(taskRepo, orchestrator)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.AddFunc(fmt.Sprintf("@every %s", cfg.Engine.SweepInterval), scheduler.Sweep)
	c.AddFunc(fmt.Sprintf("@every %s", cfg.Engine.PollSweepInterval), poller.Sweep)
	c.Start()

	pool := queue.NewWorkerPool(redisConn, cfg.Engine.Concurrency, orchestrator.Execute)
	if err := pool.Start(); err != nil {
		log.Fatalf("Could not start queue workers: %v", err)
	}

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db, pool)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, pool *queue.WorkerPool) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	pool.Shutdown()

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
