package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	api := router.Group("/api")
	{
		api.GET("/runs", handler.ListRuns)
		api.GET("/runs/:run_id", handler.GetRun)
		api.GET("/runs/:run_id/stats", handler.GetRunStats)
		api.GET("/runs/:run_id/listings", handler.GetListings)
		api.GET("/suburbs/:suburb", handler.GetSuburb)
		api.GET("/suburbs/:suburb/neighbours", handler.GetNeighbours)
	}
}

// NewRouter builds an engine that logs requests through logger.
func NewRouter(handler *Handler, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	SetupRoutes(router, handler)
	return router
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Handled request")
	}
}
