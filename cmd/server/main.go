package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"messenger/internal/config"
	"messenger/internal/handler"
	"messenger/internal/middleware"
	"messenger/internal/presence"
	"messenger/internal/realtime"
	"messenger/internal/repository"
	"messenger/internal/service"
	"messenger/pkg/logger"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)

	// Подключение к PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	appLogger.Info("Database connection established")

	// Подключение к Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	// Realtime-транспорт: одно разделяемое соединение процесса,
	// передается через DI.
	redisTransport := realtime.NewRedisTransport(rdb, appLogger)
	manager := realtime.NewManager(redisTransport, appLogger)
	defer manager.Close()

	// Инициализация репозиториев и сервисов
	repos := repository.NewRepositories(dbPool, rdb, appLogger)
	services := service.NewServices(repos, manager, cfg, appLogger)

	// Наблюдающий presence-движок для запросов онлайн-состава
	presenceCtx, presenceCancel := context.WithCancel(context.Background())
	defer presenceCancel()

	presenceEngine := presence.NewEngine(manager, redisTransport, repos.User, presence.Config{
		Heartbeat: cfg.Presence.Heartbeat,
		StaleTTL:  cfg.Presence.StaleTTL,
	}, appLogger)
	if err := presenceEngine.Start(presenceCtx); err != nil {
		appLogger.Error("Failed to start presence engine", "error", err)
	}
	go presenceEngine.Run(presenceCtx)

	// Middleware и handlers
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(repos.RateLimit, cfg.RateLimit, appLogger)

	handlers := handler.NewHandlers(services, repos, manager, redisTransport, presenceEngine, authMiddleware, cfg, appLogger)

	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.ErrorHandler())

	// Health check и метрики
	router.GET("/health", handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := router.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		conversations := protected.Group("/conversations")
		{
			conversations.POST("", handlers.Chat.CreateConversation)
			conversations.GET("/:id/messages", handlers.Chat.GetMessages)
			conversations.POST("/:id/messages", rateLimitMiddleware.LimitSend(), handlers.Chat.SendMessage)
			conversations.POST("/:id/read", handlers.Chat.MarkAsRead)
		}

		messages := protected.Group("/messages")
		{
			messages.POST("/:messageId/reactions", handlers.Reaction.AddReaction)
			messages.DELETE("/:messageId/reactions", handlers.Reaction.RemoveReaction)
		}

		presenceGroup := protected.Group("/presence")
		{
			presenceGroup.GET("", handlers.Presence.GetOnlineUsers)
			presenceGroup.GET("/:userId", handlers.Presence.IsUserOnline)
		}
	}

	// WebSocket-гейтвей живой ленты диалога
	router.GET("/ws/conversations/:id", handlers.WebSocket.HandleConversation)

	return router
}
