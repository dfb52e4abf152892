package server

import (
	"context"
	"net/http"

	"ytbatch/app/config"
	"ytbatch/app/database"
	"ytbatch/app/filewatcher"
	"ytbatch/app/handler"
	"ytbatch/app/logger"
	"ytbatch/app/middleware"
	"ytbatch/app/service"
	"ytbatch/app/store"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server

	hub      *service.EventHub
	jobs     *service.JobService
	settings *service.SettingsService
	cleanup  *service.CleanupService
	watcher  *filewatcher.InboxWatcher
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger) *Server {
	router := gin.Default()
	router.Use(middleware.AccessLog(log))

	// 组装服务
	jobStore := store.NewJobStore(database.GetDB())
	hub := service.NewEventHub(log)
	settings := service.NewSettingsService(database.GetDB(), log, hub)

	var dispatcher service.Dispatcher
	if cfg.Worker.Endpoint != "" {
		dispatcher = service.NewRemoteDispatcher(cfg.Worker, log)
	} else {
		dispatcher = service.NewNoopDispatcher(log)
	}

	jobs := service.NewJobService(jobStore, settings, dispatcher, hub, log, cfg.Storage.QueueDir)
	settings.OnConcurrencyChange(jobs.SetConcurrency)

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:   cfg,
		Logger:   log,
		hub:      hub,
		jobs:     jobs,
		settings: settings,
		cleanup:  service.NewCleanupService(jobStore, settings, log),
	}

	if cfg.Watcher.Enabled {
		watcher, err := filewatcher.New(cfg.Storage.InputDir, jobs, log)
		if err != nil {
			log.Errorf("创建收件目录监控失败: %v", err)
		} else {
			s.watcher = watcher
		}
	}

	// 设置路由
	s.setupRoutes()

	return s
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	// 启动任务派发循环
	s.jobs.Start()

	// 启动存储清理服务
	if err := s.cleanup.Start(); err != nil {
		s.Logger.Errorf("启动存储清理服务失败: %v", err)
	}

	// 启动收件目录监控
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.Logger.Errorf("启动收件目录监控失败: %v", err)
		}
	}

	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.Logger.Errorf("停止收件目录监控失败: %v", err)
		}
	}

	s.cleanup.Stop()
	s.jobs.Stop()

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	// 创建处理器实例
	jobHandler := handler.NewJobHandler(s.jobs, s.Logger)
	settingsHandler := handler.NewSettingsHandler(s.settings, s.Logger)
	eventHandler := handler.NewEventHandler(s.hub, s.jobs, s.Logger)
	filesHandler := handler.NewFilesHandler(s.Config.Storage.DownloadDir, s.Logger)

	// API路由组
	api := s.gin.Group("/api")
	{
		// 任务相关路由
		jobs := api.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.GetJobs)
			jobs.GET("/:id", jobHandler.GetJob)
			jobs.POST("/:id/cancel", jobHandler.CancelJob)
			jobs.POST("/:id/retry", jobHandler.RetryJob)
			jobs.DELETE("/:id", jobHandler.DeleteJob)
		}

		// 外部执行单元进度上报
		api.POST("/progress", jobHandler.ReportProgress)

		// 运行时设置
		api.GET("/config", settingsHandler.GetConfig)
		api.PUT("/config", settingsHandler.UpdateConfig)

		// 实时事件流
		api.GET("/events", eventHandler.Stream)

		// 下载产物
		api.GET("/files", filesHandler.ListFiles)
		api.GET("/download_all", filesHandler.DownloadAll)
	}

	s.gin.GET("/download/:folder/:file", filesHandler.DownloadFile)
}
