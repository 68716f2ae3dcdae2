package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/config"
	"github.com/mamadbah2/reqsync/internal/domain/models"
)

// CycleRunner runs one sync cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) models.CycleReport
}

// Scheduler triggers sync cycles on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	runner     CycleRunner
	schedule   string
	runTimeout time.Duration
	logger     *zap.Logger
	entryID    cron.EntryID
}

// NewScheduler creates a new scheduler instance in the configured timezone.
func NewScheduler(cfg config.SyncConfig, runner CycleRunner, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	// A tick that fires while the previous cycle is still running is skipped.
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
	)

	return &Scheduler{
		cron:       c,
		runner:     runner,
		schedule:   cfg.Schedule,
		runTimeout: cfg.RunTimeout.Std(),
		logger:     logger,
	}, nil
}

// Start registers the sync job and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler", zap.String("schedule", s.schedule))

	id, err := s.cron.AddFunc(s.schedule, s.runCycle)
	if err != nil {
		return fmt.Errorf("schedule sync cycle %q: %w", s.schedule, err)
	}
	s.entryID = id

	s.cron.Start()
	return nil
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runCycle() {
	ctx := context.Background()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	report := s.runner.RunCycle(ctx)
	s.logger.Info("scheduled cycle completed",
		zap.String("cycle", report.ID),
		zap.String("status", string(report.Status)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
