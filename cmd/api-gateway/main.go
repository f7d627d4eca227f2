package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/academic-requests-api/api/swagger"
	"github.com/noah-isme/academic-requests-api/internal/handler"
	internalmiddleware "github.com/noah-isme/academic-requests-api/internal/middleware"
	"github.com/noah-isme/academic-requests-api/internal/repository"
	"github.com/noah-isme/academic-requests-api/internal/service"
	"github.com/noah-isme/academic-requests-api/pkg/cache"
	"github.com/noah-isme/academic-requests-api/pkg/config"
	"github.com/noah-isme/academic-requests-api/pkg/database"
	"github.com/noah-isme/academic-requests-api/pkg/jobs"
	"github.com/noah-isme/academic-requests-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/academic-requests-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/academic-requests-api/pkg/middleware/requestid"
)

// @title Academic Requests API
// @version 1.0.0
// @description Intake, triage and audit of academic requests
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	rules, err := service.LoadScoringRules(cfg.Lifecycle.PriorityRulesFile)
	if err != nil {
		logr.Fatal("failed to load priority rules", zap.String("path", cfg.Lifecycle.PriorityRulesFile), zap.Error(err))
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, redisClient != nil)

	invalidator := service.NewDashboardInvalidator(cacheSvc, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	}, logr)
	invalidator.Start(ctx)
	defer invalidator.Stop()

	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)

	requestSvc := service.NewRequestService(requestRepo, userRepo, validate, logr,
		service.WithPriorityPolicy(service.NewScoringPolicy(rules, time.Now)),
		service.WithRequestChangeListener(invalidator),
		service.WithRequestMetrics(metricsSvc),
		service.WithRequireResponsible(cfg.Lifecycle.RequireResponsible),
	)
	historySvc := service.NewHistoryService(requestRepo, logr)
	userSvc := service.NewUserService(userRepo, validate, logr)
	dashboardSvc := service.NewDashboardService(requestRepo, cacheSvc, service.DashboardServiceConfig{
		CacheTTL:    cfg.Dashboard.CacheTTL,
		RecentLimit: cfg.Dashboard.RecentLimit,
	}, logr)
	exportSvc := service.NewExportService(requestRepo, nil, nil, logr)

	requestHandler := handler.NewRequestHandler(requestSvc, historySvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	userHandler := handler.NewUserHandler(userSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"database": db,
		"cache":    handler.PingFunc(cacheRepo.Ping),
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics", "/health", "/ready"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.WithResponseMeta())

	requests := api.Group("/requests")
	requests.POST("", requestHandler.Submit)
	requests.GET("", requestHandler.List)
	requests.GET("/recent", requestHandler.Recent)
	requests.GET("/export", exportHandler.Requests)
	requests.GET("/states/:state/next", requestHandler.NextStates)
	requests.GET("/:id", requestHandler.Get)
	requests.GET("/:id/history", requestHandler.History)
	requests.PUT("/:id/classify", requestHandler.Classify)
	requests.PUT("/:id/prioritize", requestHandler.Prioritize)
	requests.PUT("/:id/assign", requestHandler.Assign)
	requests.PUT("/:id/state", requestHandler.ChangeState)
	requests.PUT("/:id/close", requestHandler.Close)

	if cfg.Dashboard.Enabled {
		api.GET("/dashboard", dashboardHandler.Summary)
	}

	users := api.Group("/users")
	users.GET("", userHandler.List)
	users.POST("", userHandler.Create)
	users.GET("/responsibles", userHandler.Responsibles)
	users.GET("/:id", userHandler.Get)
	users.PUT("/:id", userHandler.Update)
	users.PUT("/:id/deactivate", userHandler.Deactivate)
	users.PUT("/:id/activate", userHandler.Activate)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}
}
