package routes

import (
	"github.com/gin-gonic/gin"

	"agrivest/internal/handlers"
)

// SetupCapitalPoolRoutes sets up routes for contributions and allocations
func SetupCapitalPoolRoutes(r *gin.Engine, h *handlers.Handler) {
	pool := r.Group("/capital-pool")
	{
		pool.POST("/contributions", h.SubmitContribution)
		pool.GET("/contributions", h.ListContributions)
		pool.POST("/contributions/:id/approve", h.ApproveContribution)
		pool.POST("/contributions/:id/reject", h.RejectContribution)
		pool.POST("/allocations", h.CreateAllocation)
		pool.GET("/allocations", h.ListAllocations)
		pool.GET("/balance", h.PoolBalance)
		pool.GET("/shares", h.PoolShares)
	}
}
