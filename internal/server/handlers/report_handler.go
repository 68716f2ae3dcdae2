package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/internal/service/reporting"
)

const (
	defaultReportLimit = 20
	maxReportLimit     = 100
)

// ReportLister reads cycle history.
type ReportLister interface {
	LatestCycleReports(ctx context.Context, limit int64) ([]models.CycleReport, error)
}

// Summarizer aggregates cycle history.
type Summarizer interface {
	Summarize(ctx context.Context, limit int64) (reporting.Summary, error)
}

// ReportHandler serves cycle history. A handler without a store answers 503.
type ReportHandler struct {
	reports   ReportLister
	summaries Summarizer
	logger    *zap.Logger
}

// NewReportHandler constructs the history handler. Pass nil for both when no
// history store is configured.
func NewReportHandler(reports ReportLister, summaries Summarizer, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{reports: reports, summaries: summaries, logger: logger}
}

// List returns the most recent cycle reports.
func (h *ReportHandler) List(c *gin.Context) {
	if h.reports == nil {
		unavailable(c)
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	reports, err := h.reports.LatestCycleReports(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load cycle reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load cycle reports"})
		return
	}

	c.JSON(http.StatusOK, reports)
}

// Summary returns an aggregate over the most recent cycles.
func (h *ReportHandler) Summary(c *gin.Context) {
	if h.summaries == nil {
		unavailable(c)
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	summary, err := h.summaries.Summarize(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to summarize cycle reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize cycle reports"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary, "text": summary.String()})
}

func parseLimit(c *gin.Context) (int64, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultReportLimit, true
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(limit, maxReportLimit), true
}

func unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cycle history is not configured"})
}
