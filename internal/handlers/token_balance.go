package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"agrivest/internal/business/holding"
)

type IssueTokensRequest struct {
	HolderID  string            `json:"holder_id" binding:"required"`
	ProjectID uint              `json:"project_id" binding:"required"`
	Amount    int64             `json:"amount" binding:"required"`
	Lock      *holding.LockSpec `json:"lock"`
}

type TransferTokensRequest struct {
	HolderID   string `json:"holder_id" binding:"required"`
	ToHolderID string `json:"to_holder_id" binding:"required"`
	ProjectID  uint   `json:"project_id" binding:"required"`
	Amount     int64  `json:"amount" binding:"required"`
}

type LockTokensRequest struct {
	HolderID  string     `json:"holder_id" binding:"required"`
	ProjectID uint       `json:"project_id" binding:"required"`
	Amount    int64      `json:"amount" binding:"required"`
	LockType  string     `json:"lock_type" binding:"required"` // time_locked / permanent
	UnlockAt  *time.Time `json:"unlock_at"`
	Reason    string     `json:"reason"`
}

// IssueTokens mints project tokens to a holder
func (h *Handler) IssueTokens(c *gin.Context) {
	var req IssueTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	balance, err := h.Holdings.Issue(c.Request.Context(), req.HolderID, req.ProjectID, req.Amount, req.Lock)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, balance)
}

// TransferTokens moves liquid tokens between two holders of a project
func (h *Handler) TransferTokens(c *gin.Context) {
	var req TransferTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	err := h.withConflictRetry(ctx, func() error {
		return h.Holdings.TransferLiquid(ctx, req.HolderID, req.ProjectID, req.ToHolderID, req.Amount)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	from, err := h.Holdings.Get(ctx, req.HolderID, req.ProjectID)
	if err != nil {
		respondError(c, err)
		return
	}
	to, err := h.Holdings.Get(ctx, req.ToHolderID, req.ProjectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to})
}

// LockTokens moves liquid tokens into the locked bucket
func (h *Handler) LockTokens(c *gin.Context) {
	var req LockTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	balance, err := h.Holdings.Lock(c.Request.Context(), req.HolderID, req.ProjectID, req.Amount, req.LockType, req.UnlockAt, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// SweepUnlocks releases every expired time lock
func (h *Handler) SweepUnlocks(c *gin.Context) {
	released, err := h.Holdings.SweepUnlocks(c.Request.Context(), h.now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

func (h *Handler) ListHolderBalances(c *gin.Context) {
	balances, err := h.Holdings.ListByHolder(c.Request.Context(), c.Param("holder_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

// ProjectSnapshot returns the project's holdings now, or at as_of (RFC3339 or
// unix seconds) when given.
func (h *Handler) ProjectSnapshot(c *gin.Context) {
	projectID, ok := parseID(c, "project_id")
	if !ok {
		return
	}
	asOf := h.now()
	if raw := c.Query("as_of"); raw != "" {
		parsed, err := parseInstant(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid as_of format"})
			return
		}
		asOf = parsed
	}
	snap, err := h.Holdings.SnapshotAt(c.Request.Context(), projectID, asOf)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func parseInstant(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
