// File: cmd/session.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/cadence-cli/internal/observability"
	"github.com/xkilldash9x/cadence-cli/internal/scheduler"
)

// newSessionCmd creates the `session` command, which runs a single session and exits.
func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Run exactly one engagement session without a cool-down",
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

			sched := scheduler.New(comps.Factory, cfg, comps.Clock, comps.Sink, comps.Recorder, logger)
			rep, err := sched.RunOnce(ctx)
			printReport(cmd.OutOrStdout(), rep)
			return err
		},
	}

	sessionCmd.Flags().String("tag", "", "Use this hashtag instead of picking one")
	sessionCmd.Flags().String("backend", "", "Browser backend: chromedp or rod")
	sessionCmd.Flags().Bool("headless", true, "Run the browser without a window")
	bindConfigFlag(sessionCmd, "tag", "navigator.tags")
	bindConfigFlag(sessionCmd, "backend", "browser.backend")
	bindConfigFlag(sessionCmd, "headless", "browser.headless")
	return sessionCmd
}
