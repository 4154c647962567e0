package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/internal/service"
	"github.com/noah-isme/classroom-roster/pkg/response"
)

type snapshotSource interface {
	Snapshot() models.RosterSnapshot
}

// MetricsHandler serves health and metrics endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	roster  snapshotSource
}

// NewMetricsHandler constructs a metrics handler. roster may be nil.
func NewMetricsHandler(metrics *service.MetricsService, roster snapshotSource) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, roster: roster}
}

// Prometheus serves the scrape endpoint, or 503 when metrics are disabled.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Summary returns a JSON digest of the collected metrics.
func (h *MetricsHandler) Summary(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot())
}

// Health reports liveness plus the roster sync state. A roster whose last
// load failed is reported as degraded but still answers 200.
func (h *MetricsHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.roster != nil {
		snap := h.roster.Snapshot()
		body["rosterActive"] = snap.Active
		if snap.SyncError != "" {
			body["status"] = "degraded"
			body["syncError"] = snap.SyncError
		}
	}
	c.JSON(http.StatusOK, body)
}
