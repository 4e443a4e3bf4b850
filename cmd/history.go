// File: cmd/history.go
package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/cadence-cli/internal/observability"
	"github.com/xkilldash9x/cadence-cli/internal/store"
)

// newHistoryCmd creates the `history` command, which lists recorded sessions.
func newHistoryCmd() *cobra.Command {
	var limit int
	var format string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recently recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == "" {
				return fmt.Errorf("no session store is configured (set database.driver)")
			}
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}

			recorder, err := openStore(ctx, cfg.Database, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open session store: %w", err)
			}
			defer recorder.Close()

			recs, err := recorder.RecentSessions(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to load sessions: %w", err)
			}

			switch strings.ToLower(format) {
			case "json":
				return writeHistoryJSON(cmd.OutOrStdout(), recs)
			case "table":
				return writeHistoryTable(cmd.OutOrStdout(), recs)
			default:
				return fmt.Errorf("unsupported format %q (use table or json)", format)
			}
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of sessions to list")
	historyCmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table or json")
	return historyCmd
}

func writeHistoryJSON(w io.Writer, recs []store.SessionRecord) error {
	if recs == nil {
		recs = []store.SessionRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

func writeHistoryTable(w io.Writer, recs []store.SessionRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "No sessions recorded yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTAG\tVARIANT\tAPPLIED\tBUDGET\tPOSTS\tREASON\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t#%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Tag, r.Variant,
			r.Applied, r.Budget, r.Posts, dash(r.Reason), dash(r.Error))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
