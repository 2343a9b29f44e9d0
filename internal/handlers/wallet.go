package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type RegisterWalletRequest struct {
	HolderID string `json:"holder_id" binding:"required"`
	Address  string `json:"address" binding:"required"`
}

func (h *Handler) GetWallet(c *gin.Context) {
	account, err := h.Wallets.Get(c.Request.Context(), c.Param("holder_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// RegisterWallet sets the account a holder's distributions are paid into
func (h *Handler) RegisterWallet(c *gin.Context) {
	var req RegisterWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := h.Wallets.Register(c.Request.Context(), req.HolderID, req.Address)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
