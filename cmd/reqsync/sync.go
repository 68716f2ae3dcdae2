package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/internal/scheduler"
)

// SyncCmd returns the scheduled sync and history commands.
func SyncCmd() []*cli.Command {
	var syncCommands []*cli.Command

	syncCmd := &cli.Command{
		Name:  "sync",
		Usage: "Run sync cycles on the configured schedule until interrupted.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "run a single cycle, print its report and exit"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			if c.Bool("once") {
				ctx := c.Context
				if timeout := rt.app.Config.Sync.RunTimeout.Std(); timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}

				report := rt.app.Runner.RunCycle(ctx)
				if err := printJSON(c.App.Writer, report); err != nil {
					return err
				}
				if report.Status == models.CycleFailure {
					return cli.Exit("sync cycle failed", 1)
				}
				return nil
			}

			sched, err := scheduler.NewScheduler(rt.app.Config.Sync, rt.app.Runner, rt.logger.Named("scheduler"))
			if err != nil {
				return err
			}
			if err := sched.Start(); err != nil {
				return err
			}
			rt.logger.Info("next sync cycle scheduled", zap.Time("at", sched.Next()))

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			sched.Stop()
			return nil
		},
	}

	reportsCmd := &cli.Command{
		Name:  "reports",
		Usage: "Print recent cycle reports from the history store.",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "limit", Value: 20, Usage: "number of cycles to read"},
			&cli.BoolFlag{Name: "summary", Usage: "print an aggregate digest instead of raw reports"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.app.History == nil {
				return cli.Exit("cycle history is not configured (set MONGODB_URI)", 2)
			}

			if c.Bool("summary") {
				summary, err := rt.app.Reporting.Summarize(c.Context, c.Int64("limit"))
				if err != nil {
					return err
				}
				_, err = c.App.Writer.Write([]byte(summary.String() + "\n"))
				return err
			}

			reports, err := rt.app.History.LatestCycleReports(c.Context, c.Int64("limit"))
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, reports)
		},
	}

	syncCommands = append(syncCommands, syncCmd, reportsCmd)
	return syncCommands
}
