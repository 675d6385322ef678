package mcsim

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/mcportal/internal/observability"
)

// AdminRouter serves read-only views of the simulated firmware state.
func (s *Sim) AdminRouter(node string, corsOrigins []string, logger zerolog.Logger) *gin.Engine {
	observability.RegisterMetrics()
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(started).String(),
			"component": node,
			"firmware":  s.cfg.Firmware.String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/containers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"containers": s.Snapshot().Containers,
		})
	})

	r.GET("/containers/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid container id"})
			return
		}
		info, ok := s.Container(uint32(id))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "container not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	r.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"connections": s.Snapshot().Connections,
		})
	})
	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
