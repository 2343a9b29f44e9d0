package routes

import (
	"github.com/gin-gonic/gin"

	"agrivest/internal/handlers"
)

func SetupProjectRoutes(r *gin.Engine, h *handlers.Handler) {
	projects := r.Group("/projects")
	{
		projects.POST("", h.CreateProject)
		projects.GET("", h.ListProjects)
		projects.GET("/:id", h.GetProject)
	}
}
