package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sicoprot/sicoprot-api/api/swagger"
	"github.com/sicoprot/sicoprot-api/internal/handler"
	"github.com/sicoprot/sicoprot-api/internal/middleware"
	"github.com/sicoprot/sicoprot-api/internal/models"
	"github.com/sicoprot/sicoprot-api/internal/repository"
	"github.com/sicoprot/sicoprot-api/internal/service"
	"github.com/sicoprot/sicoprot-api/pkg/cache"
	"github.com/sicoprot/sicoprot-api/pkg/config"
	"github.com/sicoprot/sicoprot-api/pkg/database"
	"github.com/sicoprot/sicoprot-api/pkg/jobs"
	"github.com/sicoprot/sicoprot-api/pkg/logger"
	corsmiddleware "github.com/sicoprot/sicoprot-api/pkg/middleware/cors"
	reqidmiddleware "github.com/sicoprot/sicoprot-api/pkg/middleware/requestid"
	"github.com/sicoprot/sicoprot-api/pkg/storage"
)

// @title SICOPROT API
// @version 1.0.0
// @description Thesis observation and correction review cycle service
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	cacheRepo := repository.NewCacheRepository(nil, logr)
	if cfg.Reviews.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, review cache disabled", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	observationRepo := repository.NewObservationRepository(db)
	correctionRepo := repository.NewCorrectionRepository(db)
	reportRepo := repository.NewReportRepository(db)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Reviews.CacheTTL, logr, cfg.Reviews.CacheEnabled)
	guard := service.NewReviewGuard(projectRepo, documentRepo)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	projectSvc := service.NewProjectService(projectRepo, userRepo, validate, logr, cfg.Periods.ActivePeriodID)

	documentStore, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	documentSvc := service.NewDocumentService(documentRepo, guard, documentStore, service.DocumentConfig{
		MaxFileSizeBytes: cfg.Documents.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Documents.AllowedMIMEs,
	}, logr)

	observationSvc := service.NewObservationService(observationRepo, projectRepo, guard, cacheSvc, metricsSvc, validate, logr)
	correctionSvc := service.NewCorrectionService(correctionRepo, observationRepo, guard, cacheSvc, metricsSvc, validate, logr)

	var reportSvc *service.ReportService
	if cfg.Reports.Enabled {
		reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		reportSvc = service.NewReportService(reportRepo, observationRepo, correctionRepo, guard,
			reportStore, signer, validate, logr, jobs.QueueConfig{
				Workers:    cfg.Reports.WorkerConcurrency,
				MaxRetries: cfg.Reports.WorkerRetries,
			})
		reportSvc.Start(context.Background())
		defer reportSvc.Stop()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	projectHandler := handler.NewProjectHandler(projectSvc)
	documentHandler := handler.NewDocumentHandler(documentSvc)
	observationHandler := handler.NewObservationHandler(observationSvc)
	correctionHandler := handler.NewCorrectionHandler(correctionSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		protected := auth.Group("")
		protected.Use(middleware.JWT(authSvc))
		protected.POST("/logout", authHandler.Logout)
		protected.POST("/change-password", authHandler.ChangePassword)
		protected.GET("/me", authHandler.Me)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))

	users := secured.Group("/users")
	users.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		users.GET("", userHandler.List)
		users.POST("", middleware.Audit(userRepo, "USER_CREATE", "users"), userHandler.Create)
		users.GET("/:id", userHandler.Get)
		users.DELETE("/:id", middleware.Audit(userRepo, "USER_DEACTIVATE", "users"), userHandler.Deactivate)
	}

	projects := secured.Group("/projects")
	{
		projects.POST("", middleware.RequireRoles(models.RoleAdmin), projectHandler.Create)
		projects.GET("", projectHandler.List)
		projects.GET("/:id", projectHandler.Get)
		projects.PUT("/:id/advisor", middleware.RequireRoles(models.RoleAdmin), projectHandler.ReassignAdvisor)

		projects.POST("/:id/documents", middleware.RequireRoles(models.RoleStudent), documentHandler.Upload)
		projects.GET("/:id/documents", documentHandler.ListByProject)
		projects.GET("/:id/observations", observationHandler.ListByProject)
		projects.GET("/:id/review-summary", observationHandler.Summary)
	}

	documents := secured.Group("/documents")
	{
		documents.GET("/:id", documentHandler.Get)
		documents.GET("/:id/observations", observationHandler.ListByDocument)
		documents.POST("/:id/observations", middleware.RequireRoles(models.RoleAdvisor), observationHandler.Create)
	}

	observations := secured.Group("/observations")
	{
		observations.GET("/mine", middleware.RequireRoles(models.RoleStudent), observationHandler.ListMine)
		observations.GET("/:id", observationHandler.Get)
		observations.PATCH("/:id", middleware.RequireRoles(models.RoleAdvisor), observationHandler.Update)
		observations.POST("/:id/archive", middleware.RequireRoles(models.RoleAdvisor), observationHandler.Archive)
		observations.POST("/:id/review", middleware.RequireRoles(models.RoleAdvisor), observationHandler.OpenReview)
		observations.POST("/:id/verify", middleware.RequireRoles(models.RoleAdvisor), observationHandler.Verify)
		observations.POST("/:id/corrections", middleware.RequireRoles(models.RoleStudent), correctionHandler.Create)
		observations.GET("/:id/corrections", correctionHandler.ListByObservation)
	}

	corrections := secured.Group("/corrections")
	{
		corrections.GET("/:id", correctionHandler.Get)
		corrections.PATCH("/:id", middleware.RequireRoles(models.RoleStudent), correctionHandler.Update)
		corrections.DELETE("/:id", middleware.RequireRoles(models.RoleStudent), correctionHandler.Delete)
	}

	if reportSvc != nil {
		reportHandler := handler.NewReportHandler(reportSvc)
		api.GET("/reports/download", reportHandler.Download)
		reports := secured.Group("/reports")
		reports.POST("", reportHandler.Enqueue)
		reports.GET("/:id", reportHandler.Status)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
