package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type RecordCashflowRequest struct {
	ProjectID   uint            `json:"project_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind" binding:"required"` // revenue / expense
	Description string          `json:"description"`
}

type VerifyCashflowRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required"`
	Notes      string `json:"notes"`
}

// RecordCashflow stores a reported revenue or expense as recorded
func (h *Handler) RecordCashflow(c *gin.Context) {
	var req RecordCashflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event, err := h.Cashflow.Record(c.Request.Context(), req.ProjectID, req.Amount, req.Kind, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// VerifyCashflow moves a recorded event to verified
func (h *Handler) VerifyCashflow(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req VerifyCashflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event, err := h.Cashflow.Verify(c.Request.Context(), id, req.ReviewerID, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *Handler) GetCashflow(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	event, err := h.Cashflow.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// ListProjectCashflows returns a project's events, newest first
func (h *Handler) ListProjectCashflows(c *gin.Context) {
	projectID, ok := parseID(c, "project_id")
	if !ok {
		return
	}
	page, pageSize := parsePagination(c)
	events, total, err := h.Cashflow.ListByProject(c.Request.Context(), projectID, c.Query("status"), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, events, total, page, pageSize)
}
