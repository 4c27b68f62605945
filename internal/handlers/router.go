package handlers

import (
	"time"

	"flow-runner/internal/config"
	"flow-runner/internal/flow"
	"flow-runner/internal/middleware"
	"flow-runner/internal/runner"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Dependencies are the services the API is built on.
type Dependencies struct {
	Flows        FlowStore
	Environments EnvironmentStore
	Runs         RunStore
	Service      flow.RequestService
	Manager      *runner.Manager
	Config       *config.Config
}

// NewRouter wires middleware and every API route.
func NewRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	router := gin.New()
	router.Use(gin.Recovery())
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "X-Run-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORSAllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.Logger())

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	rateLimited := middleware.RateLimitMiddleware(limiter)

	flowHandler := NewFlowHandler(deps.Flows, cfg)
	executionHandler := NewExecutionHandler(deps.Service, cfg)
	environmentHandler := NewEnvironmentHandler(deps.Environments)
	runHandler := NewRunHandler(deps.Flows, deps.Environments, deps.Runs, deps.Manager, cfg)

	router.GET("/health", HealthCheck)

	api := router.Group("/api/v1")
	{
		// Ad-hoc execution
		api.POST("/execute", rateLimited, executionHandler.ExecuteRequest)

		// Flows
		api.POST("/flows", flowHandler.CreateFlow)
		api.GET("/flows", flowHandler.ListFlows)
		api.POST("/flows/import", flowHandler.ImportCollection)
		api.GET("/flows/:id", flowHandler.GetFlow)
		api.PUT("/flows/:id", flowHandler.UpdateFlow)
		api.DELETE("/flows/:id", flowHandler.DeleteFlow)

		// Blocks
		api.POST("/flows/:id/blocks", flowHandler.CreateBlock)
		api.GET("/flows/:id/blocks/:blockId", flowHandler.GetBlock)
		api.PUT("/flows/:id/blocks/:blockId", flowHandler.UpdateBlock)
		api.DELETE("/flows/:id/blocks/:blockId", flowHandler.DeleteBlock)

		// Runs
		api.POST("/flows/:id/run", rateLimited, runHandler.RunFlow)
		api.GET("/flows/:id/ws", rateLimited, runHandler.RunFlowWebSocket)
		api.GET("/flows/:id/runs", runHandler.ListRuns)
		api.GET("/runs/active", runHandler.ActiveRuns)
		api.GET("/runs/:id", runHandler.GetRun)
		api.POST("/runs/:id/stop", runHandler.StopRun)

		// Environments
		api.POST("/environments", environmentHandler.CreateEnvironment)
		api.GET("/environments", environmentHandler.ListEnvironments)
		api.GET("/environments/:id", environmentHandler.GetEnvironment)
		api.PUT("/environments/:id", environmentHandler.UpdateEnvironment)
		api.PATCH("/environments/:id/variables", environmentHandler.BatchUpdateEnvironmentVariables)
		api.DELETE("/environments/:id", environmentHandler.DeleteEnvironment)
	}

	return router
}
