package main

import (
	"context"
	"time"

	"churn-service/internal/churn"
	"churn-service/internal/crm"
	"churn-service/internal/handler"
	"churn-service/internal/jobs"
	"churn-service/internal/middleware"
	"churn-service/internal/model"
	"churn-service/internal/store"
	"churn-service/internal/syncer"
	"churn-service/pkg/config"
	"churn-service/pkg/database"
	"churn-service/pkg/jwtutil"
	"churn-service/pkg/logger"
	"churn-service/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load("churn-service")
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	log.Info("Starting churn service...", zap.String("environment", cfg.Server.Env))

	// Initialize JWT utilities
	jwtutil.Initialize(&cfg.JWT)
	log.Info("JWT utilities initialized")

	// Initialize Prometheus metrics
	prometheus.InitMetrics(cfg)
	log.Info("Prometheus metrics initialized")

	// Initialize database and run migrations
	db, err := database.InitDB(&cfg.DB)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.MigrateModels(
		&model.Tenant{},
		&model.Customer{},
		&model.Ticket{},
		&model.Payment{},
		&model.Prediction{},
	); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database connection established and migrations completed",
		zap.String("db_host", cfg.DB.Host),
		zap.String("db_name", cfg.DB.DBName))

	// Wire the pipeline: stores, CRM sync, model loading, scoring
	entities := store.NewEntityStore(db)
	predictions := store.NewPredictionStore(db, cfg.Prediction.StaleAfter)

	sync := syncer.New(db, entities, crm.DefaultMapping(), func(t *model.Tenant) crm.Fetcher {
		return crm.NewClient(t.CRMAPIURL, t.CRMAPIKey, &cfg.CRM)
	})

	loader := churn.NewLoader(cfg.Model.Dir)
	if _, err := loader.Load(cfg.Model.Version); err != nil {
		// Scoring endpoints will keep refusing until the artifact appears;
		// sync still works, so boot anyway.
		log.Warn("Model artifact not loadable at startup",
			zap.String("version", cfg.Model.Version),
			zap.Error(err))
	} else {
		log.Info("Model artifact loaded", zap.String("version", cfg.Model.Version))
	}
	predictor := churn.NewPredictor(loader, entities, predictions, &cfg.Prediction, cfg.Model.Version)

	// Background job pool for sync and prediction runs
	pool := jobs.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueSize)
	pool.Run(context.Background())
	defer pool.Shutdown()
	log.Info("Job pool started",
		zap.Int("workers", cfg.Worker.PoolSize),
		zap.Int("queue_size", cfg.Worker.QueueSize))

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(middleware.MetricsMiddleware)

	// Request logging middleware
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			log := logger.FromEcho(c)
			log.Info("HTTP Request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Float64("duration_s", duration),
				zap.String("ip", c.RealIP()),
			)

			return err
		}
	})

	// Handlers
	syncHandler := handler.NewSyncHandler(sync, pool, entities)
	predictionHandler := handler.NewPredictionHandler(predictor, predictions, entities, pool, &cfg.Prediction)

	// Routes
	// Public routes that don't require authentication
	e.GET("/", handler.Hello)
	e.GET("/health", handler.Hello)

	// Prometheus metrics endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API routes that require authentication
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware)

	// Sync endpoints with tenant context requirement
	syncGroup := api.Group("/sync")
	syncGroup.Use(middleware.RequireTenantContext)
	syncGroup.POST("", syncHandler.TriggerSync)
	syncGroup.GET("/status", syncHandler.SyncStatus)
	syncGroup.POST("/test", syncHandler.TestConnection)

	// Prediction endpoints with tenant context requirement
	predictionGroup := api.Group("/predictions")
	predictionGroup.Use(middleware.RequireTenantContext)
	predictionGroup.POST("/run", predictionHandler.RunPredictions)
	predictionGroup.POST("/batch", predictionHandler.BatchPredict)
	predictionGroup.GET("/high-risk", predictionHandler.ListHighRisk)
	predictionGroup.GET("/summary", predictionHandler.PredictionSummary)
	predictionGroup.GET("/:customer_id", predictionHandler.GetPrediction)
	predictionGroup.GET("/:customer_id/trend", predictionHandler.GetTrend)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
