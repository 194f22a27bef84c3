package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/postpilot/internal/config"
	"github.com/ifuryst/postpilot/internal/repository"
	"github.com/ifuryst/postpilot/internal/service"
	"github.com/ifuryst/postpilot/internal/service/content"
	"github.com/ifuryst/postpilot/internal/service/publisher"
	"github.com/ifuryst/postpilot/internal/service/publisher/telegram"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Content   *content.Provider
	Engine    *publisher.Engine
	Scheduler *service.Scheduler
	Janitor   *service.HistoryJanitor
	Posting   *service.PostingService
	Auth      *service.AuthService
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return NewServerWithDB(cfg, db, logger)
}

// NewServerWithDB wires the services on top of an already migrated
// database.
func NewServerWithDB(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	schedulerLoc, err := config.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone: %w", err)
	}
	contentLoc, err := config.LoadLocation(cfg.Content.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid content timezone: %w", err)
	}

	api, err := newTelegramAPI(cfg.Telegram, logger)
	if err != nil {
		return nil, err
	}

	// Initialize services
	repo := repository.New(db)
	provider := content.NewProvider(content.Config{
		TextFile:     cfg.Content.TextFile,
		ImageFile:    cfg.Content.ImageFile,
		FallbackText: cfg.Content.FallbackText,
		DateFormat:   cfg.Content.DateFormat,
		TimeFormat:   cfg.Content.TimeFormat,
		Location:     contentLoc,
	}, repo, logger)
	gateway := telegram.NewGateway(api, cfg.Telegram.SendTimeout, cfg.Telegram.RatePerSecond, logger)
	engine := publisher.NewEngine(repo, provider, gateway, publisher.Options{
		MaxAttempts: cfg.Publisher.MaxAttempts,
		RetryDelay:  cfg.Publisher.RetryDelay,
		MinDelay:    cfg.Publisher.MinDelay,
		MaxDelay:    cfg.Publisher.MaxDelay,
	}, logger)
	scheduler := service.NewScheduler(repo, engine, schedulerLoc, logger)
	janitor := service.NewHistoryJanitor(repo, cfg.Scheduler.HistoryRetentionDays, cfg.Scheduler.CleanupInterval, logger)
	stats := service.NewStatisticsService(repo, schedulerLoc, logger)
	posting := service.NewPostingService(repo, engine, scheduler, provider, gateway, stats, logger)
	auth := service.NewAuthService(cfg.Auth, logger)

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config:    cfg,
		DB:        db,
		Router:    router,
		Logger:    logger,
		Content:   provider,
		Engine:    engine,
		Scheduler: scheduler,
		Janitor:   janitor,
		Posting:   posting,
		Auth:      auth,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func newTelegramAPI(cfg config.TelegramConfig, logger *zap.Logger) (telegram.API, error) {
	if cfg.DryRun {
		logger.Warn("Telegram dry run enabled, posts are logged and not sent")
		return telegram.NewDryRunClient(logger), nil
	}
	client, err := telegram.NewClient(cfg.BotToken, cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram client: %w", err)
	}
	return client, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.Router.Use(s.Auth.AuthMiddleware("/health", "/api/v1/auth/login", "/api/v1/auth/setup"))
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
		api.PUT("/interval", s.handleUpdateInterval)

		publication := api.Group("/publication")
		{
			publication.GET("/status", s.handlePublicationStatus)
			publication.POST("/reset", s.handleResetPublication)
			publication.POST("/post-now", s.handlePostNow)
		}

		scheduler := api.Group("/scheduler")
		{
			scheduler.POST("/start", s.handleStartScheduler)
			scheduler.POST("/stop", s.handleStopScheduler)
		}

		contentGroup := api.Group("/content")
		{
			contentGroup.POST("/reload", s.handleReloadContent)
			contentGroup.GET("/preview", s.handlePreview)
			contentGroup.GET("/info", s.handlePostInfo)
		}

		destinations := api.Group("/destinations")
		{
			destinations.GET("", s.handleListDestinations)
			destinations.POST("", s.handleAddDestination)
			destinations.DELETE("/:id", s.handleRemoveDestination)
			destinations.PUT("/:id/disabled", s.handleSetDestinationDisabled)
		}

		templates := api.Group("/templates")
		{
			templates.GET("", s.handleListTemplates)
			templates.POST("", s.handleCreateTemplate)
			templates.PUT("/:id", s.handleUpdateTemplate)
			templates.DELETE("/:id", s.handleDeleteTemplate)
			templates.POST("/:id/activate", s.handleActivateTemplate)
		}

		schedules := api.Group("/schedules")
		{
			schedules.GET("", s.handleListSchedules)
			schedules.POST("", s.handleCreateSchedule)
			schedules.PUT("/:id", s.handleUpdateSchedule)
			schedules.DELETE("/:id", s.handleDeleteSchedule)
			schedules.POST("/:id/activate", s.handleActivateSchedule)
		}

		history := api.Group("/history")
		{
			history.GET("", s.handleQueryHistory)
			history.DELETE("", s.handleClearHistory)
			history.GET("/statistics", s.handleStatistics)
		}

		auth := api.Group("/auth")
		{
			auth.POST("/login", s.handleLogin)
			auth.GET("/setup", s.handleAuthSetup)
		}
	}
}

// Start launches the background services and serves HTTP until the server
// is shut down.
func (s *Server) Start(ctx context.Context) error {
	if s.Config.Content.Watch {
		go func() {
			if err := s.Content.Watch(ctx); err != nil {
				s.Logger.Error("Content watcher stopped", zap.Error(err))
			}
		}()
	}

	if s.Config.Scheduler.AutoStart() {
		if err := s.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	s.Janitor.Start(ctx)

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop background work first; this aborts a run in progress
	s.Janitor.Stop()
	s.Scheduler.Close()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
