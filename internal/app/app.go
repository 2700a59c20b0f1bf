package app

import (
	"context"
	"log"
	"net/http"
	"oral_practice_backend/internal/config"
	"oral_practice_backend/internal/controller"
	"oral_practice_backend/internal/repository"
	"oral_practice_backend/internal/service"
	"oral_practice_backend/pkg/database"
	"oral_practice_backend/pkg/logger"
	"oral_practice_backend/pkg/monitoring"
	"oral_practice_backend/pkg/security"
	"oral_practice_backend/pkg/tracing"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services

	bgCtx    context.Context
	bgCancel context.CancelFunc
}

type repositories struct {
	user     *repository.UserRepository
	question *repository.QuestionRepository
	practice *repository.PracticeRepository
}

type services struct {
	auth          *service.AuthService
	storage       *service.StorageService
	ai            *service.AIService
	transcription *service.TranscriptionService
	scoring       *service.ScoringService
	submission    *service.SubmissionService
	question      *service.QuestionService
}

type controllers struct {
	auth     *controller.AuthController
	question *controller.QuestionController
	practice *controller.PracticeController
	health   *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	return &repositories{
		user:     repository.NewUserRepository(db),
		question: repository.NewQuestionRepository(db),
		practice: repository.NewPracticeRepository(db, rdb),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}

	callTimeout := cfg.Pipeline.CallTimeout()

	storage, err := service.NewStorageService(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize recording storage", zap.Error(err))
	}
	s.storage = storage
	s.auth = service.NewAuthService(repos.user, cfg)
	s.question = service.NewQuestionService(repos.question)

	ai, err := service.NewAIService(cfg.AI, callTimeout)
	if err != nil {
		logger.Log.Fatal("Failed to initialize AI client", zap.Error(err))
	}
	s.ai = ai
	s.scoring = service.NewScoringService(s.ai)

	transcription, err := service.NewTranscriptionService(cfg.Speech, callTimeout)
	if err != nil {
		logger.Log.Fatal("Failed to initialize transcription client", zap.Error(err))
	}
	s.transcription = transcription

	s.submission = service.NewSubmissionService(
		repos.practice,
		s.storage,
		s.transcription,
		s.scoring,
		repos.question,
		cfg.Pipeline.QuestionWorkers,
		callTimeout,
		time.Duration(cfg.Pipeline.StuckSessionMinutes)*time.Minute,
	)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB) *controllers {
	return &controllers{
		auth:     controller.NewAuthController(s.auth),
		question: controller.NewQuestionController(s.question),
		practice: controller.NewPracticeController(s.submission),
		health:   controller.NewHealthController(db),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 600
	}
	windowMinutes := cfg.RateLimit.WindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	router.Use(security.RateLimiter(maxRequests, time.Duration(windowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks(s *services) {
	// 回收处理中超时的会话（进程崩溃后的遗留）
	s.submission.StartReaper(a.bgCtx, time.Minute)
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// release 模式默认不迁移，-migrate / -migrate-only 显式触发
	if cfg.Server.Mode != "release" || cfg.ForceMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	// 仅迁移模式下不再初始化其余组件
	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	app := &App{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	repos := app.initRepositories(db, rdb)
	services := app.initServices(repos, cfg)
	app.services = services
	controllers := app.initControllers(services, db)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("oral-practice-backend", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, cfg)

	// 本地存储模式下直接静态伺服录音文件
	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(services)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 停掉后台回收循环
	if a.bgCancel != nil {
		a.bgCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
