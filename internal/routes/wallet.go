package routes

import (
	"github.com/gin-gonic/gin"

	"agrivest/internal/handlers"
)

func SetupWalletRoutes(r *gin.Engine, h *handlers.Handler) {
	wallets := r.Group("/wallets")
	{
		wallets.POST("", h.RegisterWallet)
		wallets.GET("/:holder_id", h.GetWallet)
	}
}
