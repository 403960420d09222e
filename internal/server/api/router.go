package api

import (
	"net/http"

	"ipwatch/internal/server/api/middleware"
	av1 "ipwatch/internal/server/api/v1"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Router handles all routing logic
type Router struct {
	engine *gin.Engine
	logger *zap.Logger
}

// NewRouter creates and configures a new router
func NewRouter(api *av1.API, debug bool, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Set gin mode based on log level
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine: gin.New(),
		logger: logger,
	}

	// Initialize middleware
	r.setupMiddleware()

	// Initialize API versions
	api.RegisterRoutes(r.engine.Group("/api/v1"))

	return r
}

// Handler returns the HTTP handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// setupMiddleware configures all middleware
func (r *Router) setupMiddleware() {
	m := middleware.New(r.logger)

	r.engine.Use(m.RequestID())
	r.engine.Use(m.Logger())
	r.engine.Use(m.Recovery())
	r.engine.Use(m.Secure())
	r.engine.Use(m.NoCache())
}
