package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"agrivest/internal/models"
)

// ProjectRequest represents the request body for creating a project
type ProjectRequest struct {
	Name            string `json:"name" binding:"required"`
	Currency        string `json:"currency"`
	RevenueAccount  string `json:"revenue_account" binding:"required"`
	TreasuryAccount string `json:"treasury_account" binding:"required"`
	LpPoolAccount   string `json:"lp_pool_account" binding:"required"`
}

// CreateProject registers a farm project and its settlement accounts
func (h *Handler) CreateProject(c *gin.Context) {
	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = h.DefaultCurrency
	}
	if currency == "" {
		currency = "USD"
	}
	project := models.Project{
		Name:            strings.TrimSpace(req.Name),
		Status:          models.ProjectStatusActive,
		Currency:        currency,
		RevenueAccount:  req.RevenueAccount,
		TreasuryAccount: req.TreasuryAccount,
		LpPoolAccount:   req.LpPoolAccount,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&project).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.WithFields(log.Fields{"project_id": project.ID, "name": project.Name}).Info("> project created")
	c.JSON(http.StatusCreated, project)
}

// ListProjects returns all projects, optionally filtered by status
func (h *Handler) ListProjects(c *gin.Context) {
	query := h.DB.WithContext(c.Request.Context()).Model(&models.Project{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	var projects []models.Project
	if err := query.Order("id").Find(&projects).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, projects)
}

// GetProject returns a specific project by ID
func (h *Handler) GetProject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var project models.Project
	if err := h.DB.WithContext(c.Request.Context()).First(&project, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	c.JSON(http.StatusOK, project)
}
