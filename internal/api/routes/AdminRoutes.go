package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mail-cci/spamassassin/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AddAdminRoutes mounts the operator surface: log level, Prometheus
// scraping, and the deps-gated C2/C4/C6 routes (reload/learn/forget/pool).
func AddAdminRoutes(r *gin.Engine, deps AdminDeps) {
	r.POST("/log-level", func(c *gin.Context) {
		newLevel := c.Query("level")
		if err := logger.SetLevel(newLevel); err != nil {
			c.JSON(400, gin.H{"error": "Invalid level"})
			return
		}
		c.JSON(200, gin.H{"new_level": newLevel})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/reload", func(c *gin.Context) {
		if deps.Reload == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reload not configured"})
			return
		}
		if err := deps.Reload(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
	})

	r.POST("/learn", func(c *gin.Context) {
		if deps.Bayes == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bayes not configured"})
			return
		}
		var req learnRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		isSpam := c.Query("spam") != "false"
		if err := deps.learnMessage(c.Request.Context(), req, isSpam); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "learned"})
	})

	r.POST("/forget", func(c *gin.Context) {
		if deps.Bayes == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bayes not configured"})
			return
		}
		var req learnRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := deps.forgetMessage(c.Request.Context(), req); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "forgotten"})
	})

	r.GET("/pool", func(c *gin.Context) {
		if deps.Pool == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pool not configured"})
			return
		}
		c.JSON(http.StatusOK, deps.Pool.Stats())
	})
}
