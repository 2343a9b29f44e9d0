package store

import (
	"agrivest/internal/models"

	"gorm.io/gorm"
)

// Audit appends an INFO row to system_logs on the given session so the audit
// trail commits or rolls back together with the change it describes.
func Audit(tx *gorm.DB, module string, projectID uint, actor, message string, meta models.JSONMap) error {
	return tx.Create(&models.SystemLog{
		ProjectID: projectID,
		Level:     models.LogLevelInfo,
		Message:   message,
		Module:    module,
		Actor:     actor,
		Meta:      meta,
	}).Error
}
