package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/codec"
	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/internal/service/transfer"
	"github.com/mamadbah2/reqsync/pkg/clients/sftp"
)

// Exporter runs one export against the remote endpoint.
type Exporter interface {
	Export(ctx context.Context, opts transfer.ExportOptions) (models.ExportResult, error)
	DefaultExportOptions() transfer.ExportOptions
}

// ReportStore persists cycle reports.
type ReportStore interface {
	SaveCycleReport(ctx context.Context, report models.CycleReport) error
}

// RecordSink receives the rows exported during a cycle.
type RecordSink interface {
	AppendRecords(ctx context.Context, header []string, rows [][]string) error
}

// Notifier announces finished cycles.
type Notifier interface {
	NotifyCycle(ctx context.Context, report models.CycleReport) error
}

// Config bounds connection retries within a cycle.
type Config struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

// Option configures optional report consumers.
type Option func(*Runner)

// WithReportStore saves every report to store.
func WithReportStore(store ReportStore) Option {
	return func(r *Runner) { r.store = store }
}

// WithRecordSink forwards exported records to sink.
func WithRecordSink(sink RecordSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithNotifier sends every report to notifier.
func WithNotifier(notifier Notifier) Option {
	return func(r *Runner) { r.notifier = notifier }
}

// Runner executes sync cycles one at a time.
type Runner struct {
	mu       sync.Mutex
	cfg      Config
	exporter Exporter
	store    ReportStore
	sink     RecordSink
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner creates a cycle runner.
func NewRunner(cfg Config, exporter Exporter, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 30 * cfg.BackoffMin
	}

	r := &Runner{
		cfg:      cfg,
		exporter: exporter,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunCycle exports pending files, retrying connection failures with bounded
// backoff, and returns the report. Cycles never overlap.
func (r *Runner) RunCycle(ctx context.Context) (report models.CycleReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report = models.CycleReport{
		ID:        uuid.NewString(),
		StartedAt: r.now().UTC(),
	}
	logger := r.logger.With(zap.String("cycle", report.ID))
	logger.Info("sync cycle started")

	var records []models.Record
	defer func() {
		if p := recover(); p != nil {
			logger.Error("sync cycle panicked", zap.Any("panic", p))
			report.Status = models.CycleFailure
			report.Error = fmt.Sprintf("panic: %v", p)
			records = nil
		}
		report.FinishedAt = r.now().UTC()
		r.publish(ctx, report, records, logger)
	}()

	result, err := r.exportWithRetry(ctx, &report, logger)
	records = result.Records
	summarize(&report, result, err)
	return report
}

func (r *Runner) exportWithRetry(ctx context.Context, report *models.CycleReport, logger *zap.Logger) (models.ExportResult, error) {
	b := &backoff.Backoff{
		Min:    r.cfg.BackoffMin,
		Max:    r.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}
	opts := r.exporter.DefaultExportOptions()

	for {
		report.Attempts++
		result, err := r.exporter.Export(ctx, opts)
		if err == nil || !errors.Is(err, sftp.ErrConnection) || report.Attempts >= r.cfg.MaxAttempts {
			return result, err
		}

		wait := b.Duration()
		logger.Warn("connection failed, retrying",
			zap.Int("attempt", report.Attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}

func summarize(report *models.CycleReport, result models.ExportResult, err error) {
	report.Files = result.Outcomes
	report.Records = len(result.Records)
	for _, outcome := range result.Outcomes {
		switch {
		case outcome.Failed():
			report.Failed++
		case outcome.Status == models.OutcomeSkipped:
			report.Skipped++
		default:
			report.Succeeded++
		}
	}

	switch {
	case err != nil:
		report.Status = models.CycleFailure
		report.Error = err.Error()
	case report.Failed == 0:
		report.Status = models.CycleSuccess
	case report.Succeeded == 0:
		report.Status = models.CycleFailure
	default:
		report.Status = models.CyclePartial
	}
}

// publish hands the report to every configured consumer. Consumer errors are
// logged and never change the report.
func (r *Runner) publish(ctx context.Context, report models.CycleReport, records []models.Record, logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Int("attempts", report.Attempts),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("records", report.Records),
	}
	if report.Status == models.CycleSuccess {
		logger.Info("sync cycle finished", fields...)
	} else {
		logger.Warn("sync cycle finished", append(fields, zap.String("error", report.Error))...)
	}

	// Consumers run even when the cycle context has expired.
	ctx = context.WithoutCancel(ctx)

	if r.store != nil {
		if err := r.store.SaveCycleReport(ctx, report); err != nil {
			logger.Error("failed to save cycle report", zap.Error(err))
		}
	}

	if r.sink != nil && len(records) > 0 {
		header, rows := tabulate(records)
		if err := r.sink.AppendRecords(ctx, header, rows); err != nil {
			logger.Error("failed to append records to sheet", zap.Error(err))
		}
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyCycle(ctx, report); err != nil {
			logger.Error("failed to notify cycle", zap.Error(err))
		}
	}
}

func tabulate(records []models.Record) ([]string, [][]string) {
	header := codec.Header(records)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(header))
		for i, field := range header {
			row[i] = rec.Text(field)
		}
		rows = append(rows, row)
	}
	return header, rows
}
