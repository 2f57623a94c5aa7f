package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/config"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/events"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/handlers"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/manager"
)

// Server wires the workflow manager and event bus behind the HTTP API.
type Server struct {
	Router  *gin.Engine
	cfg     *config.Config
	manager *manager.Manager
	bus     *events.Bus

	httpServer *http.Server
}

// New builds the HTTP server and registers all routes.
func New(cfg *config.Config, mgr *manager.Manager, bus *events.Bus) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		Router:  router,
		cfg:     cfg,
		manager: mgr,
		bus:     bus,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	corsConfig := cors.Config{
		AllowOrigins:  s.cfg.Server.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	s.Router.Use(cors.New(corsConfig))

	// Request logging middleware
	s.Router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	// Timeout middleware for all routes (long-running reasoning requests)
	requestTimeout := s.cfg.Server.RequestTimeout.Std()
	if requestTimeout <= 0 {
		requestTimeout = time.Hour
	}
	s.Router.Use(func(c *gin.Context) {
		timeoutCtx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		c.Request = c.Request.WithContext(timeoutCtx)
		c.Next()
	})

	// Expose Prometheus metrics
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.Router.GET("/health", s.healthCheckHandler)

	api := s.Router.Group("/api/v1")
	{
		api.POST("/agent/process", handlers.ProcessHandler(s.manager))

		workflows := api.Group("/workflows")
		{
			workflows.POST("", handlers.CreateWorkflowHandler(s.manager))
			workflows.GET("/snapshots", handlers.ListAllSnapshotsHandler(s.manager))
			workflows.GET("/:workflow_id", handlers.GetWorkflowHandler(s.manager))
			workflows.POST("/:workflow_id/suspend", handlers.SuspendWorkflowHandler(s.manager))
			workflows.POST("/:workflow_id/resume", handlers.ResumeWorkflowHandler(s.manager))
			workflows.GET("/:workflow_id/snapshots", handlers.ListSnapshotsHandler(s.manager))
			workflows.GET("/:workflow_id/snapshots/:version", handlers.GetSnapshotHandler(s.manager))
		}

		eventsHandler := handlers.NewWorkflowEventsHandler(s.bus)
		api.GET("/workflows/events/ws", eventsHandler.WebSocketHandler)
		api.GET("/workflows/events/sse", eventsHandler.SSEHandler)
	}
}

// healthCheckHandler provides a basic liveness check for container
// orchestration.
func (s *Server) healthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	addr := s.cfg.Server.Host + ":" + strconv.Itoa(s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	logger.Logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
