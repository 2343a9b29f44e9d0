package routes

import (
	"github.com/gin-gonic/gin"

	"agrivest/internal/handlers"
)

// SetupCashflowRoutes sets up routes for recording and verifying cashflow events
func SetupCashflowRoutes(r *gin.Engine, h *handlers.Handler) {
	events := r.Group("/cashflow-events")
	{
		events.POST("", h.RecordCashflow)
		events.GET("/:id", h.GetCashflow)
		events.GET("/project/:project_id", h.ListProjectCashflows)
		events.POST("/:id/verify", h.VerifyCashflow)
	}
}
