package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/payout-service/payout_service/internal/domain/services/reconciliation"
	"github.com/payout-service/payout_service/internal/infrastructure/database"
	"github.com/payout-service/payout_service/pkg/logger"
)

// CoreHandlers serves health, metrics and operational endpoints
type CoreHandlers struct {
	db         *sqlx.DB
	reconciler *reconciliation.Service
	logger     *logger.Logger
}

// NewCoreHandlers creates core handlers
func NewCoreHandlers(db *sqlx.DB, reconciler *reconciliation.Service, log *logger.Logger) *CoreHandlers {
	return &CoreHandlers{db: db, reconciler: reconciler, logger: log}
}

// Health reports service and database health
// GET /health
func (h *CoreHandlers) Health(c *gin.Context) {
	if err := database.HealthCheck(h.db); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	database.ReportPoolStats(h.db)
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Metrics serves the Prometheus scrape endpoint
// GET /metrics
func (h *CoreHandlers) Metrics(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}

// RunReconciliation triggers a manual reconciliation run
// POST /api/v1/admin/reconciliation/run
func (h *CoreHandlers) RunReconciliation(c *gin.Context) {
	report, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		h.logger.Error("manual reconciliation failed", "error", err)
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, report)
}
