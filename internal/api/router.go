package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/portalflow/internal/api/handler"
	"github.com/timmy/portalflow/internal/api/middleware"
	"github.com/timmy/portalflow/internal/logger"
	"github.com/timmy/portalflow/internal/registry"
)

// RouterConfig holds what the router needs besides its collaborators.
type RouterConfig struct {
	Mode    string
	Service string
	Version string
	CORS    middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	reg *registry.Registry,
	pool handler.PoolStatus,
	log *logger.Logger,
	cfg RouterConfig,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(cfg.Service, cfg.Version)
	taskHandler := handler.NewTaskHandler(reg, pool)

	r.GET("/", healthHandler.Banner)
	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	{
		api.POST("/submit", taskHandler.Submit)
		api.GET("/task/:id", taskHandler.Get)
		api.POST("/task/:id/cancel", taskHandler.Cancel)
		api.GET("/tasks", taskHandler.List)
		api.GET("/status", taskHandler.Status)
	}

	return r
}
