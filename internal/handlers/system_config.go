package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agrivest/internal/models"
)

// ListSystemLogs returns the paginated audit trail with optional filters
func (h *Handler) ListSystemLogs(c *gin.Context) {
	page, pageSize := parsePagination(c)
	orderField := "id"
	if of := c.Query("order_field"); of != "" {
		valid := map[string]bool{
			"id": true, "project_id": true, "level": true, "created_at": true,
		}
		if valid[of] {
			orderField = of
		}
	}
	orderType := "desc"
	if ot := c.Query("order_type"); ot == "asc" || ot == "desc" {
		orderType = ot
	}

	query := h.DB.WithContext(c.Request.Context()).Model(&models.SystemLog{})
	// Filters
	if level := c.Query("level"); level != "" {
		query = query.Where("level = ?", level)
	}
	if module := c.Query("module"); module != "" {
		query = query.Where("module = ?", module)
	}
	if pid := c.Query("project_id"); pid != "" {
		if parsed, err := strconv.Atoi(pid); err == nil {
			query = query.Where("project_id = ?", parsed)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var logs []models.SystemLog
	if err := query.Order(orderField + " " + orderType).
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	respondPage(c, logs, total, page, pageSize)
}

// GetSystemLog returns a specific system log by ID
func (h *Handler) GetSystemLog(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var entry models.SystemLog
	if err := h.DB.WithContext(c.Request.Context()).First(&entry, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
