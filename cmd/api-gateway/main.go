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

	_ "github.com/noah-isme/scholarship-api/api/swagger"
	"github.com/noah-isme/scholarship-api/internal/handler"
	"github.com/noah-isme/scholarship-api/internal/middleware"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/repository"
	"github.com/noah-isme/scholarship-api/internal/service"
	"github.com/noah-isme/scholarship-api/pkg/cache"
	"github.com/noah-isme/scholarship-api/pkg/config"
	"github.com/noah-isme/scholarship-api/pkg/database"
	"github.com/noah-isme/scholarship-api/pkg/export"
	"github.com/noah-isme/scholarship-api/pkg/jobs"
	"github.com/noah-isme/scholarship-api/pkg/logger"
	"github.com/noah-isme/scholarship-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/scholarship-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/scholarship-api/pkg/middleware/requestid"
	"github.com/noah-isme/scholarship-api/pkg/registry"
)

// @title Scholarship Disbursement API
// @version 1.0.0
// @description Review authority, quota tracking and payment roster pipeline for scholarship awards
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	checks := []handler.DependencyCheck{{Name: "postgres", Ping: db.PingContext}}
	if redisClient == nil {
		logr.Warn("redis disabled: quota cache off, generation relies on database guards")
	} else {
		defer redisClient.Close()
		checks = append(checks, handler.DependencyCheck{Name: "redis", Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }})
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	applicationRepo := repository.NewApplicationRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	configRepo := repository.NewConfigurationRepository(db)
	rosterRepo := repository.NewRosterRepository(db)
	auditRepo := repository.NewRosterAuditRepository(db)
	scheduleRepo := repository.NewRosterScheduleRepository(db)
	taskRepo := repository.NewVerificationTaskRepository(db)
	lockRepo := repository.NewGenerationLockRepository(redisClient)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, "scholarship", cfg.Quota.CacheTTL, logr, cfg.Quota.CacheEnabled && redisClient != nil)
	quotaSvc := service.NewQuotaService(configRepo, applicationRepo, cacheSvc, cfg.Quota.CacheTTL, logr)
	reviewSvc := service.NewReviewAuthorityService(applicationRepo, reviewRepo, quotaSvc, db, validate, logr)
	applicationSvc := service.NewApplicationService(applicationRepo, configRepo, db, validate, logr)

	verifier := service.NewStudentVerifier(registry.NewClient(cfg.Registry), metricsSvc, logr)
	ledgerSvc := service.NewRosterLedgerService(rosterRepo, auditRepo, db, cfg.Rosters.CodePrefix, logr)
	generatorSvc := service.NewRosterGeneratorService(
		configRepo,
		applicationRepo,
		rosterRepo,
		reviewSvc,
		quotaSvc,
		verifier,
		ledgerSvc,
		lockRepo,
		metricsSvc,
		service.RosterGeneratorConfig{
			VerificationConcurrency: cfg.Rosters.VerificationConcurrency,
			LockTTL:                 cfg.Rosters.GenerationLockTTL,
		},
		logr,
	)
	exportSvc := service.NewRosterExportService(ledgerSvc, export.NewExcelExporter(), export.NewCSVExporter(), export.NewPDFExporter(), logr)

	verificationWorker := service.NewVerificationTaskWorker(taskRepo, ledgerSvc, verifier, service.VerificationWorkerConfig{
		BatchSize:   cfg.Verification.BatchSize,
		Concurrency: cfg.Rosters.VerificationConcurrency,
		MaxRetries:  cfg.Verification.WorkerRetries,
	}, logr)
	verificationQueue := jobs.NewQueue("verification", verificationWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Verification.WorkerConcurrency,
		MaxRetries: cfg.Verification.WorkerRetries,
		RetryDelay: cfg.Verification.RetryDelay,
		Logger:     logr,
	})
	verificationQueue.Start(ctx)
	defer verificationQueue.Stop()
	taskSvc := service.NewVerificationTaskService(taskRepo, ledgerSvc, verificationQueue, logr)

	var sender mailer.Sender = mailer.NopSender{}
	if cfg.Mail.Enabled {
		sender = mailer.NewSMTPMailer(cfg.Mail)
	}
	notifier := service.NewNotificationService(sender, logr)

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logr.Warn("unknown scheduler timezone, falling back to UTC", zap.String("timezone", cfg.Scheduler.Timezone), zap.Error(err))
		location = time.UTC
	}
	schedulerSvc := service.NewRosterSchedulerService(scheduleRepo, configRepo, generatorSvc, ledgerSvc, notifier, metricsSvc, service.RosterSchedulerConfig{
		Location:          location,
		DefaultMaxRetries: cfg.Scheduler.DefaultMaxRetries,
		DefaultRetryDelay: cfg.Scheduler.DefaultRetryDelay,
	}, logr)
	if cfg.Scheduler.Enabled {
		if err := schedulerSvc.Start(ctx); err != nil {
			logr.Fatal("failed to start roster scheduler", zap.Error(err))
		}
		defer schedulerSvc.Stop()
	}

	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks...)
	applicationHandler := handler.NewApplicationHandler(applicationSvc, reviewSvc)
	quotaHandler := handler.NewQuotaHandler(quotaSvc)
	rosterHandler := handler.NewRosterHandler(generatorSvc, ledgerSvc, exportSvc, taskSvc)
	scheduleHandler := handler.NewRosterScheduleHandler(schedulerSvc)
	streamHandler := handler.NewVerificationStreamHandler(taskSvc, cfg.CORS.AllowedOrigins, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	reviewers := middleware.RequireRoles(models.RoleProfessor, models.RoleCollege, models.RoleAdmin, models.RoleSuperAdmin)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))
	{
		applications := api.Group("/applications")
		applications.POST("", applicationHandler.Submit)
		applications.GET("/:id", applicationHandler.Get)
		applications.PATCH("/:id/rank", admins, applicationHandler.SetRank)
		applications.POST("/:id/reviews", reviewers, applicationHandler.SubmitReview)
		applications.GET("/:id/reviewable-sub-types", reviewers, applicationHandler.ReviewableSubTypes)
		applications.GET("/:id/sub-type-status", applicationHandler.SubTypeStatus)

		configurations := api.Group("/configurations", admins)
		configurations.GET("/:id/quota", quotaHandler.Quota)
		configurations.GET("/:id/quota/summary", quotaHandler.Summary)

		rosters := api.Group("/rosters", admins)
		rosters.POST("/generate", rosterHandler.Generate)
		rosters.GET("", rosterHandler.List)
		rosters.GET("/:id", rosterHandler.Get)
		rosters.GET("/:id/items", rosterHandler.Items)
		rosters.POST("/:id/lock", rosterHandler.Lock)
		rosters.POST("/:id/unlock", middleware.RequireRoles(models.RoleSuperAdmin), rosterHandler.Unlock)
		rosters.POST("/:id/fail", rosterHandler.Fail)
		rosters.GET("/:id/export", rosterHandler.Export)
		rosters.PATCH("/:id/items/:itemId/bank-status", rosterHandler.UpdateBankStatus)
		rosters.POST("/:id/verification-tasks", rosterHandler.CreateVerificationTask)

		api.GET("/roster-audit-logs", admins, rosterHandler.ListAudit)

		tasks := api.Group("/verification-tasks", admins)
		tasks.GET("/:id", rosterHandler.GetVerificationTask)
		tasks.POST("/:id/cancel", rosterHandler.CancelVerificationTask)
		tasks.GET("/:id/stream", streamHandler.Stream)

		schedules := api.Group("/roster-schedules", admins)
		schedules.POST("", scheduleHandler.Create)
		schedules.GET("", scheduleHandler.List)
		schedules.GET("/:id", scheduleHandler.Get)
		schedules.PATCH("/:id/status", scheduleHandler.UpdateStatus)
		schedules.POST("/:id/run", scheduleHandler.RunNow)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "prefix", cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
