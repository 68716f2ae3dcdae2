package transfer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/domain/models"
)

const processedFilePrefix = "processed_requisitions_"

// ProcessBatch exports requisitions, stamps each record with processed_date and
// processed, and writes them to a timestamped CSV in the local upload directory.
// The file is not uploaded. An export without records writes nothing and
// returns an empty path.
func (s *Service) ProcessBatch(ctx context.Context, opts ExportOptions) (string, models.ExportResult, error) {
	s.logger.Info("starting batch processing")

	result, err := s.Export(ctx, opts)
	if err != nil {
		return "", result, fmt.Errorf("export: %w", err)
	}

	now := s.now().UTC()
	stamp := now.Format(time.RFC3339)
	for i := range result.Records {
		result.Records[i].Set("processed_date", stamp)
		result.Records[i].Set("processed", "true")
	}
	s.logger.Info("processed requisitions", zap.Int("records", len(result.Records)))

	if len(result.Records) == 0 {
		return "", result, nil
	}

	localPath := filepath.Join(s.cfg.LocalUploadDir, ProcessedFileName(now))
	if err := s.codec.WriteFile(localPath, result.Records, models.FormatCSV); err != nil {
		return "", result, fmt.Errorf("write processed file: %w", err)
	}
	s.logger.Info("created processed file", zap.String("path", localPath))
	return localPath, result, nil
}

// ProcessedFileName returns the batch output name for the given time.
func ProcessedFileName(t time.Time) string {
	return processedFilePrefix + t.UTC().Format("20060102_150405") + models.FormatCSV.Extension()
}
