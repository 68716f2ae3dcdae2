package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/internal/service/transfer"
	"github.com/mamadbah2/reqsync/pkg/clients/sftp"
)

type exportCall struct {
	result models.ExportResult
	err    error
}

type fakeExporter struct {
	mu    sync.Mutex
	calls []exportCall
	count int
	panic bool
	opts  []transfer.ExportOptions
}

func (f *fakeExporter) Export(_ context.Context, opts transfer.ExportOptions) (models.ExportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("remote exploded")
	}
	f.opts = append(f.opts, opts)
	idx := f.count
	f.count++
	if idx >= len(f.calls) {
		idx = len(f.calls) - 1
	}
	return f.calls[idx].result, f.calls[idx].err
}

func (f *fakeExporter) DefaultExportOptions() transfer.ExportOptions {
	return transfer.ExportOptions{Pattern: "*.csv", DeleteRemote: true}
}

type fakeStore struct {
	reports []models.CycleReport
	err     error
}

func (f *fakeStore) SaveCycleReport(_ context.Context, report models.CycleReport) error {
	f.reports = append(f.reports, report)
	return f.err
}

type fakeSink struct {
	header []string
	rows   [][]string
	calls  int
}

func (f *fakeSink) AppendRecords(_ context.Context, header []string, rows [][]string) error {
	f.calls++
	f.header = header
	f.rows = rows
	return nil
}

type fakeNotifier struct {
	reports []models.CycleReport
}

func (f *fakeNotifier) NotifyCycle(_ context.Context, report models.CycleReport) error {
	f.reports = append(f.reports, report)
	return errors.New("webhook down")
}

var fastRetry = Config{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond}

func connErr() error {
	return fmt.Errorf("connect: %w: dial tcp: refused", sftp.ErrConnection)
}

func record(number string) models.Record {
	return models.NewRecord(models.Field{Name: "requisition_number", Value: number})
}

func TestRunCycleRetriesConnectionFailures(t *testing.T) {
	exporter := &fakeExporter{calls: []exportCall{
		{err: connErr()},
		{err: connErr()},
		{result: models.ExportResult{
			Records:  []models.Record{record("REQ-1")},
			Outcomes: []models.FileOutcome{{Name: "a.csv", Status: models.OutcomeDeleted, Records: 1}},
		}},
	}}
	runner := NewRunner(fastRetry, exporter, nil)

	report := runner.RunCycle(context.Background())

	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, models.CycleSuccess, report.Status)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Records)
	assert.Empty(t, report.Error)
	assert.NotEmpty(t, report.ID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.Equal(t, "*.csv", exporter.opts[0].Pattern)
}

func TestRunCycleStopsAfterMaxAttempts(t *testing.T) {
	exporter := &fakeExporter{calls: []exportCall{{err: connErr()}}}
	runner := NewRunner(fastRetry, exporter, nil)

	report := runner.RunCycle(context.Background())

	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, 3, exporter.count)
	assert.Equal(t, models.CycleFailure, report.Status)
	assert.Contains(t, report.Error, sftp.ErrConnection.Error())
}

func TestRunCycleDoesNotRetryOtherErrors(t *testing.T) {
	exporter := &fakeExporter{calls: []exportCall{{err: fmt.Errorf("list export directory: %w", sftp.ErrIO)}}}
	runner := NewRunner(fastRetry, exporter, nil)

	report := runner.RunCycle(context.Background())

	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, models.CycleFailure, report.Status)
}

func TestRunCycleHonorsCancellationBetweenAttempts(t *testing.T) {
	exporter := &fakeExporter{calls: []exportCall{{err: connErr()}}}
	runner := NewRunner(Config{MaxAttempts: 5, BackoffMin: time.Hour, BackoffMax: time.Hour}, exporter, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report := runner.RunCycle(ctx)

	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, models.CycleFailure, report.Status)
	assert.Contains(t, report.Error, context.DeadlineExceeded.Error())
}

func TestRunCycleClassifiesOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []models.FileOutcome
		want     models.CycleStatus
	}{
		{
			name: "nothing to do",
			want: models.CycleSuccess,
		},
		{
			name: "delete failure still counts as exported",
			outcomes: []models.FileOutcome{
				{Name: "a.csv", Status: models.OutcomeDeleteFailed},
				{Name: "b.pdf", Status: models.OutcomeSkipped},
			},
			want: models.CycleSuccess,
		},
		{
			name: "some files failed",
			outcomes: []models.FileOutcome{
				{Name: "a.csv", Status: models.OutcomeDownloaded},
				{Name: "b.csv", Status: models.OutcomeFailed},
			},
			want: models.CyclePartial,
		},
		{
			name: "every file failed",
			outcomes: []models.FileOutcome{
				{Name: "a.csv", Status: models.OutcomeFailed},
				{Name: "b.xml", Status: models.OutcomeFailed},
			},
			want: models.CycleFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := &fakeExporter{calls: []exportCall{{result: models.ExportResult{Outcomes: tt.outcomes}}}}
			report := NewRunner(fastRetry, exporter, nil).RunCycle(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Equal(t, len(tt.outcomes), report.Succeeded+report.Failed+report.Skipped)
		})
	}
}

func TestRunCyclePublishesToConsumers(t *testing.T) {
	exporter := &fakeExporter{calls: []exportCall{{result: models.ExportResult{
		Records: []models.Record{
			record("REQ-1"),
			models.NewRecord(
				models.Field{Name: "requisition_number", Value: "REQ-2"},
				models.Field{Name: "status", Value: "approved"},
			),
		},
		Outcomes: []models.FileOutcome{{Name: "a.csv", Status: models.OutcomeDownloaded, Records: 2}},
	}}}}
	store := &fakeStore{err: errors.New("mongo down")}
	sink := &fakeSink{}
	notifier := &fakeNotifier{}

	runner := NewRunner(fastRetry, exporter, nil, WithReportStore(store), WithRecordSink(sink), WithNotifier(notifier))
	report := runner.RunCycle(context.Background())

	assert.Equal(t, models.CycleSuccess, report.Status)
	require.Len(t, store.reports, 1)
	assert.Equal(t, report.ID, store.reports[0].ID)
	require.Len(t, notifier.reports, 1)
	assert.Equal(t, report.ID, notifier.reports[0].ID)

	assert.Equal(t, []string{"requisition_number", "status"}, sink.header)
	assert.Equal(t, [][]string{{"REQ-1", ""}, {"REQ-2", "approved"}}, sink.rows)
}

func TestRunCycleSkipsSinkWithoutRecords(t *testing.T) {
	exporter := &fakeExporter{calls: []exportCall{{}}}
	sink := &fakeSink{}

	NewRunner(fastRetry, exporter, nil, WithRecordSink(sink)).RunCycle(context.Background())

	assert.Zero(t, sink.calls)
}

func TestRunCycleRecoversFromPanic(t *testing.T) {
	store := &fakeStore{}
	runner := NewRunner(fastRetry, &fakeExporter{panic: true}, nil, WithReportStore(store))

	var report models.CycleReport
	assert.NotPanics(t, func() {
		report = runner.RunCycle(context.Background())
	})
	assert.Equal(t, models.CycleFailure, report.Status)
	assert.Contains(t, report.Error, "remote exploded")
	require.Len(t, store.reports, 1)
}

func TestNewRunnerDefaults(t *testing.T) {
	runner := NewRunner(Config{}, &fakeExporter{}, nil)
	assert.Equal(t, 3, runner.cfg.MaxAttempts)
	assert.Equal(t, time.Second, runner.cfg.BackoffMin)
	assert.Equal(t, 30*time.Second, runner.cfg.BackoffMax)
}
