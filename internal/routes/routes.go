package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agrivest/internal/handlers"
	"agrivest/internal/middleware"
	"agrivest/pkg/config"
)

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(h *handlers.Handler, server config.ServerSettings) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Add health check endpoint
	r.Any("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(server.AllowedOrigins))
	r.Use(middleware.Metrics())
	r.Use(middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: server.RateLimitRPS,
		Burst:             server.RateLimitBurst,
	}))

	// Setup routes for each module
	SetupProjectRoutes(r, h)
	SetupCashflowRoutes(r, h)
	SetupDistributionRoutes(r, h)
	SetupTokenBalanceRoutes(r, h)
	SetupCapitalPoolRoutes(r, h)
	SetupWalletRoutes(r, h)
	SetupSystemConfigRoutes(r, h)

	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		// 确保包含所有必要的请求头
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		// Handle preflight requests
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
