package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/codec"
	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/internal/service/transfer"
)

// CycleRunner runs one sync cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) models.CycleReport
}

// Importer uploads records to the remote import directory.
type Importer interface {
	Import(ctx context.Context, records []models.Record, format models.Format, fileName string) (bool, string, error)
}

// TransferHandler exposes export and import over HTTP.
type TransferHandler struct {
	runner   CycleRunner
	importer Importer
	logger   *zap.Logger
}

// NewTransferHandler constructs the HTTP handler adapter.
func NewTransferHandler(runner CycleRunner, importer Importer, logger *zap.Logger) *TransferHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferHandler{runner: runner, importer: importer, logger: logger}
}

// Export runs a sync cycle immediately and returns its report.
func (h *TransferHandler) Export(c *gin.Context) {
	report := h.runner.RunCycle(c.Request.Context())

	status := http.StatusOK
	if report.Status == models.CycleFailure {
		h.logger.Warn("manual export failed", zap.String("cycle", report.ID), zap.String("error", report.Error))
		status = http.StatusBadGateway
	}
	c.JSON(status, report)
}

// Import serializes the posted records and uploads them.
func (h *TransferHandler) Import(c *gin.Context) {
	var req models.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid import payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	var format models.Format
	if req.Format != "" {
		parsed, err := models.ParseFormat(req.Format)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		format = parsed
	}

	_, localPath, err := h.importer.Import(c.Request.Context(), req.Records, format, req.FileName)
	if err != nil {
		if isClientError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("import failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"file": localPath})
}

func isClientError(err error) bool {
	return errors.Is(err, transfer.ErrNoRecords) ||
		errors.Is(err, transfer.ErrInvalidFileName) ||
		errors.Is(err, codec.ErrParse) ||
		errors.Is(err, codec.ErrUnencodable) ||
		errors.Is(err, codec.ErrUnsupportedFormat)
}
