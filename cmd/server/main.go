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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/mwalimu-mwangi/attendance-system/api/swagger"
	"github.com/mwalimu-mwangi/attendance-system/internal/handler"
	"github.com/mwalimu-mwangi/attendance-system/internal/middleware"
	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	"github.com/mwalimu-mwangi/attendance-system/internal/repository"
	"github.com/mwalimu-mwangi/attendance-system/internal/service"
	"github.com/mwalimu-mwangi/attendance-system/pkg/cache"
	"github.com/mwalimu-mwangi/attendance-system/pkg/config"
	"github.com/mwalimu-mwangi/attendance-system/pkg/database"
	"github.com/mwalimu-mwangi/attendance-system/pkg/logger"
	corsmiddleware "github.com/mwalimu-mwangi/attendance-system/pkg/middleware/cors"
	reqidmiddleware "github.com/mwalimu-mwangi/attendance-system/pkg/middleware/requestid"
	"github.com/mwalimu-mwangi/attendance-system/pkg/storage"
)

// @title School Attendance API
// @version 1.0.0
// @description Role-based attendance tracking for weekly recurring and instant lessons
// @BasePath /api
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	levelRepo := repository.NewLevelRepository(db)
	classRepo := repository.NewClassRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "attendance-system",
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	departmentSvc := service.NewDepartmentService(departmentRepo, validate, logr)
	levelSvc := service.NewLevelService(levelRepo, departmentRepo, validate, logr)
	classSvc := service.NewClassService(classRepo, levelRepo, validate, logr)
	teacherSvc := service.NewTeacherService(teacherRepo, userRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, userRepo, classRepo, validate, logr)
	lessonSvc := service.NewLessonService(lessonRepo, classRepo, teacherRepo, userRepo, validate, logr, nil)

	ttls := service.AttendanceCacheTTLs{}
	if cfg.Cache.Enabled && redisClient != nil {
		ttls.Summary = cfg.Cache.SummaryTTL
		ttls.Roster = cfg.Cache.RosterTTL
	}
	attendanceSvc := service.NewAttendanceService(
		attendanceRepo, lessonRepo, studentRepo, cacheRepo, metricsSvc, userRepo,
		validate, logr, nil, ttls,
	)

	var reportSvc *service.ReportService
	if cfg.Reports.Enabled {
		files, err := storage.NewExportDir(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewTokenSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		reportSvc = service.NewReportService(
			reportRepo, attendanceRepo, studentRepo, files, signer, metricsSvc,
			validate, logr, nil,
			service.ReportQueueConfig{Workers: cfg.Reports.WorkerConcurrency, MaxRetries: cfg.Reports.WorkerRetries},
		)
		rootCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		reportSvc.Start(rootCtx)
		defer reportSvc.Stop()

		go reportCleanupLoop(rootCtx, files, cfg.Reports.CleanupInterval, cfg.Reports.SignedURLTTL, logr)
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	departmentHandler := handler.NewDepartmentHandler(departmentSvc)
	levelHandler := handler.NewLevelHandler(levelSvc)
	classHandler := handler.NewClassHandler(classSvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	lessonHandler := handler.NewLessonHandler(lessonSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc, studentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
			auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
			auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
		}

		protected := api.Group("", middleware.JWT(authSvc))

		admin := middleware.RequireRoles(models.RoleAdmin)
		staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
		anyRole := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleStudent)

		users := protected.Group("/users")
		{
			users.GET("", admin, userHandler.List)
			users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), middleware.AllowSelf), userHandler.Get)
			users.POST("", admin, userHandler.Create)
			users.PUT("/:id", admin, userHandler.Update)
			users.DELETE("/:id", admin, userHandler.Delete)
		}

		departments := protected.Group("/departments")
		{
			departments.GET("", staff, departmentHandler.List)
			departments.GET("/:id", staff, departmentHandler.Get)
			departments.POST("", admin, departmentHandler.Create)
			departments.PUT("/:id", admin, departmentHandler.Update)
			departments.DELETE("/:id", admin, departmentHandler.Delete)
		}

		levels := protected.Group("/levels")
		{
			levels.GET("", staff, levelHandler.List)
			levels.GET("/:id", staff, levelHandler.Get)
			levels.POST("", admin, levelHandler.Create)
			levels.PUT("/:id", admin, levelHandler.Update)
			levels.DELETE("/:id", admin, levelHandler.Delete)
		}

		classes := protected.Group("/classes")
		{
			classes.GET("", staff, classHandler.List)
			classes.GET("/:id", staff, classHandler.Get)
			classes.POST("", admin, classHandler.Create)
			classes.PUT("/:id", admin, classHandler.Update)
			classes.DELETE("/:id", admin, classHandler.Delete)
			classes.GET("/:id/attendance", staff, attendanceHandler.ClassReport)
		}

		teachers := protected.Group("/teachers")
		{
			teachers.GET("", staff, teacherHandler.List)
			teachers.GET("/:id", staff, teacherHandler.Get)
			teachers.POST("", admin, teacherHandler.Create)
			teachers.PUT("/:id", admin, teacherHandler.Update)
			teachers.DELETE("/:id", admin, teacherHandler.Delete)
		}

		students := protected.Group("/students")
		{
			students.GET("", staff, studentHandler.List)
			students.GET("/:id", staff, studentHandler.Get)
			students.POST("", admin, studentHandler.Create)
			students.PUT("/:id", admin, studentHandler.Update)
			students.DELETE("/:id", admin, studentHandler.Delete)
			students.GET("/:id/attendance", anyRole, attendanceHandler.StudentHistory)
			students.GET("/:id/attendance/summary", anyRole, attendanceHandler.StudentSummary)
		}

		lessons := protected.Group("/lessons")
		{
			lessons.GET("", anyRole, lessonHandler.List)
			lessons.GET("/:id", anyRole, lessonHandler.Get)
			lessons.POST("", staff, middleware.Audit(userRepo, models.AuditActionLessonCreate, "lesson"), lessonHandler.Create)
			lessons.POST("/bulk", staff, lessonHandler.BulkCreate)
			lessons.POST("/instant", staff, lessonHandler.CreateInstant)
			lessons.PUT("/:id", staff, lessonHandler.Update)
			lessons.DELETE("/:id", staff, lessonHandler.Delete)
			lessons.GET("/:id/attendance", staff, attendanceHandler.ListByLesson)
		}

		attendance := protected.Group("/attendance")
		{
			attendance.POST("", anyRole, attendanceHandler.Mark)
			attendance.DELETE("", admin, attendanceHandler.ClearAll)
		}

		if reportSvc != nil {
			reportHandler := handler.NewReportHandler(reportSvc)
			reports := protected.Group("/reports")
			{
				reports.POST("", staff, reportHandler.Create)
				reports.GET("/:id", staff, reportHandler.Get)
			}
			// Download is token-authenticated; the signed URL is the credential.
			// Claims are attached when present so access logs carry the user.
			api.GET("/reports/download/:token", middleware.OptionalJWT(authSvc), reportHandler.Download)
		}

		protected.GET("/metrics/summary", admin, metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// reportCleanupLoop removes generated report files once their signed URLs can
// no longer reference them.
func reportCleanupLoop(ctx context.Context, files *storage.ExportDir, interval, ttl time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := files.CleanupOlderThan(ttl)
			if err != nil {
				logr.Sugar().Warnw("report cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logr.Sugar().Infow("expired report files removed", "count", removed)
			}
		}
	}
}
