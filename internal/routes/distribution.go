package routes

import (
	"github.com/gin-gonic/gin"

	"agrivest/internal/handlers"
)

// SetupDistributionRoutes sets up routes for executing and querying distributions
func SetupDistributionRoutes(r *gin.Engine, h *handlers.Handler) {
	dist := r.Group("/distributions")
	{
		dist.POST("/execute/:event_id", h.ExecuteDistribution)
		dist.GET("/preview/:event_id", h.PreviewDistribution)
		dist.POST("/reconcile", h.ReconcileSettlement)
		dist.GET("/project/:project_id", h.ListProjectDistributions)
		dist.GET("/holder/:holder_id", h.ListHolderEntries)
		dist.GET("/:id", h.GetDistribution)
	}
}
