package routes

import (
	"github.com/gin-gonic/gin"

	"agrivest/internal/handlers"
)

// SetupSystemConfigRoutes sets up routes for the audit trail
func SetupSystemConfigRoutes(r *gin.Engine, h *handlers.Handler) {
	logs := r.Group("/system-logs")
	{
		logs.GET("", h.ListSystemLogs)
		logs.GET("/:id", h.GetSystemLog)
	}
}
