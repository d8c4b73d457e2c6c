package controller

import (
	"net/http"

	"labyrinth/internal/common/http/middleware"
	"labyrinth/internal/grading/service"
	"labyrinth/internal/maze"
	"labyrinth/internal/metrics"

	"github.com/gin-gonic/gin"
)

// RouterConfig wires the facade. Limiter and Metrics are optional.
type RouterConfig struct {
	Engine  *maze.Engine
	Service *service.Service
	Limiter *middleware.SessionLimiter
	Metrics *metrics.Collector
}

// NewRouter builds the HTTP facade.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.TraceContextMiddleware(), middleware.AccessLog("/healthz", "/metrics"))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.HTTPMiddleware())
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	r.GET("/healthz", func(c *gin.Context) {
		pending, processing := cfg.Service.QueueStats()
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"sessions":         cfg.Engine.Len(),
			"queue_pending":    pending,
			"queue_processing": processing,
		})
	})

	var onClose func(string)
	limit := func(c *gin.Context) { c.Next() }
	if cfg.Limiter != nil {
		onClose = cfg.Limiter.Forget
		limit = cfg.Limiter.Middleware()
	}

	sessions := NewSessionController(cfg.Engine, cfg.Service, onClose)
	mazes := NewMazeController(cfg.Service)
	submissions := NewSubmissionController(cfg.Service)

	v1 := r.Group("/v1")
	{
		v1.POST("/session", sessions.Create)
		v1.GET("/session/:id", sessions.Get)
		v1.DELETE("/session/:id", sessions.Delete)
		v1.GET("/session/:id/render", sessions.Render)
		v1.POST("/session/:id/look", limit, sessions.Look)
		v1.POST("/session/:id/move", limit, sessions.Move)

		v1.GET("/maze", mazes.List)
		v1.GET("/maze/:id", mazes.Get)

		v1.POST("/submit", submissions.Submit)
		v1.GET("/submission/:id", submissions.Get)
		v1.POST("/validate", submissions.Validate)
	}
	return r
}
