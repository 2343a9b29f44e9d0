package routes

import (
	"github.com/gin-gonic/gin"

	"agrivest/internal/handlers"
)

func SetupTokenBalanceRoutes(r *gin.Engine, h *handlers.Handler) {
	balances := r.Group("/token-balances")
	{
		balances.POST("/issue", h.IssueTokens)
		balances.POST("/transfer", h.TransferTokens)
		balances.POST("/lock", h.LockTokens)
		balances.POST("/sweep-unlocks", h.SweepUnlocks)
		balances.GET("/holder/:holder_id", h.ListHolderBalances)
		balances.GET("/project/:project_id/snapshot", h.ProjectSnapshot)
	}
}
