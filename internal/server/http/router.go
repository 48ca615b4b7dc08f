package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agentex/internal/logging"
)

// NewRouter builds the gin engine with all routes. /healthz and /v1/authn
// stay public; everything else passes the principal middleware and the
// per-route admission checks inside the handlers.
func NewRouter(deps RouterDeps, cfg RouterConfig) http.Handler {
	logger := logging.OrNop(deps.Logger)

	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if env != "development" && env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(observabilityMiddleware(deps.Tracer, logger))
	if len(cfg.CORSOrigins) > 0 {
		engine.Use(corsMiddleware(cfg.CORSOrigins))
	}

	api := NewAPIHandler(deps)
	auth := NewAuthHandler(deps, api)

	engine.GET("/healthz", api.HandleHealth)
	engine.POST("/v1/authn", auth.HandleAuthn)

	authenticated := engine.Group("/", principalMiddleware(deps.Verifier, deps.Metrics))

	authz := authenticated.Group("/v1/authz")
	authz.POST("/grant", auth.HandleGrant)
	authz.POST("/revoke", auth.HandleRevoke)
	authz.POST("/check", auth.HandleCheck)
	authz.POST("/search", auth.HandleSearch)

	authenticated.POST("/events", api.HandleAppendEvent)
	authenticated.GET("/events", api.HandleListEvents)
	authenticated.GET("/events/stream", api.HandleStreamEvents)
	authenticated.GET("/events/:id", api.HandleGetEvent)

	trackers := authenticated.Group("/v1/trackers")
	trackers.POST("", api.HandleCreateTracker)
	trackers.GET("/:id", api.HandleGetTracker)
	trackers.PATCH("/:id", api.HandleCommitTracker)

	agents := authenticated.Group("/v1/agents")
	agents.POST("", api.HandleRegisterAgent)
	agents.GET("", api.HandleListAgents)
	agents.GET("/:name", api.HandleGetAgent)

	tasks := authenticated.Group("/v1/tasks")
	tasks.GET("/:id/state", api.HandleGetState)
	tasks.PUT("/:id/state", api.HandlePutState)

	return engine
}
