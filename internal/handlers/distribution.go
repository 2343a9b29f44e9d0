package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"agrivest/internal/business/distribution"
)

// ExecuteDistribution distributes a verified revenue event. Settlement runs
// after the distribution is committed; the response carries the leg states
// as they stood when dispatch returned.
func (h *Handler) ExecuteDistribution(c *gin.Context) {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return
	}
	var result *distribution.Result
	err := h.withConflictRetry(c.Request.Context(), func() error {
		var err error
		result, err = h.Engine.Execute(c.Request.Context(), eventID)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	log.WithFields(log.Fields{
		"event_id":        eventID,
		"distribution_id": result.Distribution.ID,
	}).Info("> distribution executed via api")
	c.JSON(http.StatusCreated, gin.H{
		"distribution": result.Distribution,
		"legs":         result.Legs,
	})
}

// PreviewDistribution computes the distribution without writing anything
func (h *Handler) PreviewDistribution(c *gin.Context) {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return
	}
	preview, err := h.Engine.Preview(c.Request.Context(), eventID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// GetDistribution returns a distribution with its entries and settlement legs
func (h *Handler) GetDistribution(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	dist, err := h.Engine.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	legs, err := h.Engine.Legs(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"distribution": dist, "legs": legs})
}

func (h *Handler) ListProjectDistributions(c *gin.Context) {
	projectID, ok := parseID(c, "project_id")
	if !ok {
		return
	}
	page, pageSize := parsePagination(c)
	dists, total, err := h.Engine.ListByProject(c.Request.Context(), projectID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, dists, total, page, pageSize)
}

// ListHolderEntries returns the distribution entries credited to a holder
func (h *Handler) ListHolderEntries(c *gin.Context) {
	holderID := c.Param("holder_id")
	page, pageSize := parsePagination(c)
	entries, total, err := h.Engine.ListEntriesByHolder(c.Request.Context(), holderID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respondPage(c, entries, total, page, pageSize)
}

// ReconcileSettlement runs one reconciliation pass over unconfirmed legs
func (h *Handler) ReconcileSettlement(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	report, err := h.Engine.Reconcile(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
