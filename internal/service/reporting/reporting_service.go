package reporting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/domain/models"
)

const timeLayout = "2006-01-02 15:04"

// HistoryReader loads recent cycle reports, newest first.
type HistoryReader interface {
	LatestCycleReports(ctx context.Context, limit int64) ([]models.CycleReport, error)
}

// Summary aggregates a window of cycle reports.
type Summary struct {
	Cycles      int                        `json:"cycles"`
	ByStatus    map[models.CycleStatus]int `json:"by_status"`
	Files       int                        `json:"files"`
	FailedFiles int                        `json:"failed_files"`
	Records     int                        `json:"records"`
	Oldest      time.Time                  `json:"oldest"`
	Newest      time.Time                  `json:"newest"`
	LastFailure *models.CycleReport        `json:"last_failure,omitempty"`
}

// String renders the summary as a short operator digest.
func (s Summary) String() string {
	if s.Cycles == 0 {
		return "Sync summary: no cycles recorded yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sync summary (%s - %s UTC): %d cycles", s.Oldest.Format(timeLayout), s.Newest.Format(timeLayout), s.Cycles)
	fmt.Fprintf(&b, ", %d success, %d partial, %d failure.",
		s.ByStatus[models.CycleSuccess], s.ByStatus[models.CyclePartial], s.ByStatus[models.CycleFailure])
	fmt.Fprintf(&b, " %d files (%d failed), %d records.", s.Files, s.FailedFiles, s.Records)
	if s.LastFailure != nil {
		fmt.Fprintf(&b, " Last failure %s: %s", s.LastFailure.StartedAt.Format(timeLayout), s.LastFailure.Error)
	}
	return b.String()
}

// Service exposes lightweight analytics over cycle history.
type Service struct {
	history HistoryReader
	logger  *zap.Logger
}

// NewService wires a new reporting service instance.
func NewService(history HistoryReader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{history: history, logger: logger}
}

// Summarize aggregates the latest limit cycles.
func (s *Service) Summarize(ctx context.Context, limit int64) (Summary, error) {
	reports, err := s.history.LatestCycleReports(ctx, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("load cycle history: %w", err)
	}

	summary := Summary{ByStatus: map[models.CycleStatus]int{}}
	for i := range reports {
		report := reports[i]
		summary.Cycles++
		summary.ByStatus[report.Status]++
		summary.Files += len(report.Files)
		summary.FailedFiles += report.Failed
		summary.Records += report.Records

		started := report.StartedAt.UTC()
		if summary.Oldest.IsZero() || started.Before(summary.Oldest) {
			summary.Oldest = started
		}
		if started.After(summary.Newest) {
			summary.Newest = started
		}

		if report.Status == models.CycleFailure && (summary.LastFailure == nil || report.StartedAt.After(summary.LastFailure.StartedAt)) {
			summary.LastFailure = &report
		}
	}

	s.logger.Debug("cycle history summarized", zap.Int("cycles", summary.Cycles))
	return summary, nil
}
