package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"agrivest/internal/business/capitalpool"
	"agrivest/internal/business/cashflow"
	"agrivest/internal/business/distribution"
	"agrivest/internal/business/errs"
	"agrivest/internal/business/holding"
	"agrivest/internal/wallet"
	"agrivest/pkg/retry"
)

// Handler carries the services the HTTP handlers call into.
type Handler struct {
	DB       *gorm.DB
	Cashflow *cashflow.Ledger
	Holdings *holding.Registry
	Pool     *capitalpool.Ledger
	Engine   *distribution.Engine
	Wallets  *wallet.Directory
	Clock    clockwork.Clock

	// DefaultCurrency is used for projects created without one.
	DefaultCurrency string

	// ConflictRetry is applied to mutations that lost a datastore race.
	ConflictRetry retry.Config
}

func (h *Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now().UTC()
	}
	return h.Clock.Now().UTC()
}

// withConflictRetry reruns fn while it fails with a concurrency conflict.
func (h *Handler) withConflictRetry(ctx context.Context, fn func() error) error {
	cfg := h.ConflictRetry
	if cfg.MaxAttempts <= 0 {
		cfg = retry.DefaultConfig()
	}
	cfg.Retryable = func(err error) bool {
		return errors.Is(err, errs.ErrConcurrencyConflict)
	}
	return retry.Do(ctx, cfg, fn)
}

// respondError maps the error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrInsufficientLiquidBalance), errors.Is(err, errs.ErrInsufficientPoolBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrConcurrencyConflict):
		status = http.StatusConflict
		body["retryable"] = true
	case errors.Is(err, errs.ErrSettlementUncertain):
		status = http.StatusAccepted
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("> request failed")
	}
	c.JSON(status, body)
}

// parseID reads a positive integer path parameter.
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + " format"})
		return 0, false
	}
	return uint(id), true
}

// parsePagination reads page and page_size with the usual defaults.
func parsePagination(c *gin.Context) (int, int) {
	page := 1
	if p := c.Query("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}
	pageSize := 10
	if ps := c.Query("page_size"); ps != "" {
		if parsed, err := strconv.Atoi(ps); err == nil && parsed > 0 && parsed <= 100 {
			pageSize = parsed
		}
	}
	return page, pageSize
}

func respondPage(c *gin.Context, data interface{}, total int64, page, pageSize int) {
	totalPages := (total + int64(pageSize) - 1) / int64(pageSize)
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"pagination": gin.H{
			"current_page": page,
			"page_size":    pageSize,
			"total_pages":  totalPages,
			"total_count":  total,
			"has_next":     page < int(totalPages),
			"has_prev":     page > 1,
		},
	})
}
