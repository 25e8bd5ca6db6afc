package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jengzang/trips-backend-go/internal/config"
	"github.com/jengzang/trips-backend-go/internal/handler"
	"github.com/jengzang/trips-backend-go/internal/middleware"
	"github.com/jengzang/trips-backend-go/internal/service"
)

// SetupRouter wires the HTTP routes. gatherer backs /metrics.
func SetupRouter(cfg *config.Config, recorder *service.RecorderService, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger(logger), gin.Recovery())

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+middleware.RequestIDHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"message":     "Trips Backend API is running",
			"activeTrips": len(recorder.ActiveTrips()),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	trips := handler.NewTripHandler(recorder)

	// API 路由组
	api := r.Group("/api/v1")
	if cfg.AuthOn {
		api.Use(middleware.Auth(cfg.JWTSecret))
	}
	{
		group := api.Group("/trips")
		group.POST("", trips.StartTrip)
		group.GET("", trips.GetTrips)
		group.GET("/:id", trips.GetTripByID)
		group.PATCH("/:id", trips.UpdateTrip)
		group.DELETE("/:id", trips.DeleteTrip)
		group.POST("/:id/fixes", middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute), trips.RecordFix)
		group.POST("/:id/finish", trips.FinishTrip)
		group.POST("/:id/resume", trips.ResumeTrip)
		group.GET("/:id/points", trips.GetPoints)
		group.GET("/:id/track", trips.GetTrack)
	}

	return r
}
