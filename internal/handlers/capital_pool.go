package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"agrivest/internal/models"
)

type ContributionRequest struct {
	ContributorID string          `json:"contributor_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Proof         string          `json:"proof"`
}

type ReviewContributionRequest struct {
	AdminID string `json:"admin_id" binding:"required"`
	Reason  string `json:"reason"`
}

type AllocationRequest struct {
	ProjectID uint            `json:"project_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Purpose   string          `json:"purpose"`
	AdminID   string          `json:"admin_id" binding:"required"`
}

// SubmitContribution records a pending contribution to the capital pool
func (h *Handler) SubmitContribution(c *gin.Context) {
	var req ContributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contribution, err := h.Pool.SubmitContribution(c.Request.Context(), req.ContributorID, req.Amount, req.Proof)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contribution)
}

func (h *Handler) ApproveContribution(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ReviewContributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	var result *models.Contribution
	err := h.withConflictRetry(ctx, func() error {
		var err error
		result, err = h.Pool.Approve(ctx, id, req.AdminID)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RejectContribution(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ReviewContributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contribution, err := h.Pool.Reject(c.Request.Context(), id, req.AdminID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contribution)
}

func (h *Handler) ListContributions(c *gin.Context) {
	page, pageSize := parsePagination(c)
	list, total, err := h.Pool.ListContributions(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, list, total, page, pageSize)
}

// CreateAllocation allocates pool capital to a project pro rata over contributors
func (h *Handler) CreateAllocation(c *gin.Context) {
	var req AllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	var result *models.Allocation
	err := h.withConflictRetry(ctx, func() error {
		var err error
		result, err = h.Pool.Allocate(ctx, req.ProjectID, req.Amount, req.Purpose, req.AdminID)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) ListAllocations(c *gin.Context) {
	var projectID uint
	if pid := c.Query("project_id"); pid != "" {
		parsed, err := strconv.ParseUint(pid, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project_id format"})
			return
		}
		projectID = uint(parsed)
	}
	page, pageSize := parsePagination(c)
	list, total, err := h.Pool.ListAllocations(c.Request.Context(), projectID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, list, total, page, pageSize)
}

// PoolBalance returns the available balance next to the pool summary row
func (h *Handler) PoolBalance(c *gin.Context) {
	ctx := c.Request.Context()
	available, err := h.Pool.AvailableBalance(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	summary, err := h.Pool.Summary(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available_balance": available, "pool": summary})
}

func (h *Handler) PoolShares(c *gin.Context) {
	shares, err := h.Pool.Shares(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shares)
}
