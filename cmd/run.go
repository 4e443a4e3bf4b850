// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/cadence-cli/internal/observability"
	"github.com/xkilldash9x/cadence-cli/internal/scheduler"
	"github.com/xkilldash9x/cadence-cli/internal/status"
)

// newRunCmd creates the `run` command, the long-running scheduler.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run engagement sessions with randomized cool-downs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}

			comps, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			tracker := status.NewTracker()
			out := cmd.OutOrStdout()
			sched := scheduler.New(comps.Factory, cfg, comps.Clock, comps.Sink, comps.Recorder, logger,
				scheduler.OnReport(tracker.Observe),
				scheduler.OnReport(func(rep scheduler.Report) { printReport(out, rep) }),
			)

			runCtx, stop := context.WithCancel(ctx)
			defer stop()
			g, gctx := errgroup.WithContext(runCtx)

			g.Go(func() error {
				// A finished schedule takes the status server down with it.
				defer stop()
				return sched.Run(gctx)
			})

			if cfg.Status.Enabled {
				srv := status.NewServer(cfg.Status, tracker, comps.Recorder, comps.Lines, logger)
				g.Go(func() error {
					return srv.Start(gctx)
				})
			}

			logger.Info("Cadence started.",
				zap.String("backend", cfg.Browser.Backend),
				zap.Strings("tags", cfg.Navigator.Tags),
				zap.Int("max_sessions", cfg.Schedule.MaxSessions),
				zap.Bool("status", cfg.Status.Enabled),
			)
			if err := g.Wait(); err != nil {
				return err
			}
			if ctx.Err() != nil {
				logger.Info("Cadence stopped by signal.")
			}
			return nil
		},
	}

	runCmd.Flags().StringSlice("tags", nil, "Hashtags to pick from (overrides navigator.tags)")
	runCmd.Flags().String("backend", "", "Browser backend: chromedp or rod")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window")
	runCmd.Flags().Int("max-sessions", 0, "Stop after this many sessions; 0 runs until interrupted")
	runCmd.Flags().Bool("status", false, "Serve the read-only status API")
	runCmd.Flags().String("status-addr", "", "Listen address for the status API")
	bindConfigFlag(runCmd, "tags", "navigator.tags")
	bindConfigFlag(runCmd, "backend", "browser.backend")
	bindConfigFlag(runCmd, "headless", "browser.headless")
	bindConfigFlag(runCmd, "max-sessions", "schedule.max_sessions")
	bindConfigFlag(runCmd, "status", "status.enabled")
	bindConfigFlag(runCmd, "status-addr", "status.addr")
	return runCmd
}

// printReport writes a one-line session summary.
func printReport(w io.Writer, rep scheduler.Report) {
	rec := rep.Record()
	if rec.Error != "" && rep.Loop.Reason == "" {
		fmt.Fprintf(w, "session %s failed: %s\n", rec.ID, rec.Error)
		return
	}
	fmt.Fprintf(w, "session %s #%s %s: %d/%d applied, %d already applied, %d posts, ended %s\n",
		rec.ID, rec.Tag, rec.Variant, rec.Applied, rec.Budget, rec.AlreadyApplied, rec.Posts, rec.Reason)
}
