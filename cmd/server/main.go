// Package main runs the study room HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lectura/studyroom/config"
	"github.com/lectura/studyroom/internal/activity"
	"github.com/lectura/studyroom/internal/auth"
	"github.com/lectura/studyroom/internal/middleware"
	"github.com/lectura/studyroom/internal/presentations"
	"github.com/lectura/studyroom/internal/realtime"
	"github.com/lectura/studyroom/internal/sessions"
	"github.com/lectura/studyroom/internal/studysessions"
	"github.com/lectura/studyroom/internal/worker"
	"github.com/lectura/studyroom/pkg/database"
	"github.com/lectura/studyroom/pkg/queue"
	"github.com/lectura/studyroom/pkg/redis"
	"github.com/lectura/studyroom/pkg/response"
	"github.com/lectura/studyroom/pkg/storage"
)

// roomStore serves the realtime handlers from the session and presentation tables.
type roomStore struct {
	*sessionRepository
	*presentationRepository
}

type (
	sessionRepository      = sessions.Repository
	presentationRepository = presentations.Repository
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Presentation uploads answer 503 until a bucket is configured.
	var objects presentations.ObjectStore
	if cfg.AWS.Region != "" && cfg.AWS.PresentationsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			PresentationsBucket:  cfg.AWS.PresentationsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			objects = s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	sessionRepo := sessions.NewRepository(pool)
	presentationRepo := presentations.NewRepository(pool)
	activityRepo := activity.NewRepository(pool)
	studyRepo := studysessions.NewRepository(pool)

	hub := realtime.NewHub(logger)
	whiteboard := realtime.NewWhiteboardBuffer(sessionRepo, cfg.Room.WhiteboardDebounce, logger)
	roomRouter := realtime.NewRouter(hub, roomStore{sessionRepo, presentationRepo}, whiteboard, jobQueue, cfg.Room.HandlerTimeout, logger)

	manager := sessions.NewManager(sessionRepo, roomRouter, jobQueue, logger)
	sessionHandler := sessions.NewHandler(manager, sessionRepo, whiteboard, logger)
	presentationHandler := presentations.NewHandler(presentationRepo, sessionRepo, objects, logger)
	activityHandler := activity.NewHandler(activityRepo, sessionRepo, logger)
	studyHandler := studysessions.NewHandler(studysessions.NewService(studyRepo, logger), logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins()))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		rooms, conns := hub.Stats()
		response.OK(c, gin.H{"status": "ok", "rooms": rooms, "connections": conns})
	})

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/me", authHandler.Me)
		sessionHandler.Register(api)
		presentationHandler.Register(api)
		studyHandler.Register(api)
		api.GET("/sessions/:id/activity", activityHandler.List)
	}

	// WebSocket (token in query or Authorization header)
	router.GET("/ws", realtime.ServeWs(roomRouter, jwtService, realtime.ClientConfig{
		SendBuffer:      cfg.Room.SendBuffer,
		MaxMessageBytes: cfg.Room.MaxMessageBytes,
		AllowedOrigins:  cfg.Server.AllowedOrigins(),
	}, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Server.InProcessWorker {
		go worker.NewActivityProcessor(activityRepo, jobQueue, logger).Run(workerCtx)
		logger.Info("activity worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	whiteboard.FlushAll(shutdownCtx)
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
