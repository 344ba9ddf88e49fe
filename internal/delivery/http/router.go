package http

import (
	"github.com/gdugdh24/gowith-backend/internal/delivery/http/handler"
	"github.com/gdugdh24/gowith-backend/internal/delivery/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Router struct {
	matchingHandler *handler.MatchingHandler
	authMiddleware  *middleware.AuthMiddleware
	logger          *zap.Logger
}

func NewRouter(
	matchingHandler *handler.MatchingHandler,
	authMiddleware *middleware.AuthMiddleware,
	logger *zap.Logger,
) *Router {
	return &Router{
		matchingHandler: matchingHandler,
		authMiddleware:  authMiddleware,
		logger:          logger,
	}
}

func (r *Router) Setup() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(r.logger.Named("access")))

	// Health check (supports both GET and HEAD)
	healthHandler := func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := router.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(r.authMiddleware.RequireAuth())
	{
		requests := protected.Group("/requests/:id")
		{
			requests.POST("/matching", r.matchingHandler.StartMatching)
			requests.GET("/matching/status", r.matchingHandler.GetStatus)
			requests.POST("/matching/cancel", r.matchingHandler.CancelMatching)
			requests.GET("/matches", r.matchingHandler.ListMatches)
		}
	}

	return router
}
