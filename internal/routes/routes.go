// internal/routes/routes.go
package routes

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/config"
	"serial-bridge/internal/handler"
	"serial-bridge/internal/middleware"
	"serial-bridge/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config  *config.Config
	logger  *zap.Logger
	manager *bridge.Manager
}

// NewRouter creates a new router instance
func NewRouter(config *config.Config, logger *zap.Logger, manager *bridge.Manager) *Router {
	return &Router{
		config:  config,
		logger:  logger,
		manager: manager,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	// Set Gin mode
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Create Gin engine
	router := gin.New()

	// Add middleware
	r.addMiddleware(router)

	// Add routes
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	// Recovery middleware
	router.Use(middleware.RecoveryMiddleware(r.logger))

	// Request ID middleware
	router.Use(middleware.RequestIDMiddleware())

	// Logging middleware
	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	// CORS middleware
	router.Use(middleware.CORSMiddleware(&r.config.Web))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	// Create handlers
	healthHandler := handler.NewHealthHandler(r.manager, r.config, r.logger)
	serialHandler := handler.NewSerialHandler(r.manager, r.config, r.logger)
	streamHandler := handler.NewStreamHandler(r.manager, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router.Group(""))

	// Serial control surface
	api := router.Group("/api")
	serialHandler.RegisterRoutes(api)

	// Streaming session endpoint
	streamHandler.RegisterRoutes(router)

	// Static frontend with SPA fallback
	r.addStaticRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addStaticRoutes serves the frontend directory, falling back to index.html
// for unknown paths so client-side routing keeps working
func (r *Router) addStaticRoutes(router *gin.Engine) {
	staticDir := r.config.Web.StaticDir
	if staticDir == "" {
		return
	}

	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		path := filepath.Join(staticDir, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			c.File(path)
			return
		}

		index := filepath.Join(staticDir, "index.html")
		if _, err := os.Stat(index); err == nil {
			c.File(index)
			return
		}

		c.AbortWithStatus(http.StatusNotFound)
	})
}
