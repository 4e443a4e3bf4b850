// File: cmd/journal.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// pollJournal makes follow mode poll the file instead of using inotify.
var pollJournal = false

// newJournalCmd creates the `journal` command, which prints the action journal.
func newJournalCmd() *cobra.Command {
	var lines int
	var follow bool

	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the most recent journal lines, optionally following new ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := printJournalTail(out, cfg.Journal.Path, lines); err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followJournal(cmd.Context(), out, cfg.Journal.Path)
		},
	}

	journalCmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of lines to print; 0 prints the whole journal")
	journalCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are appended")
	return journalCmd
}

// printJournalTail prints the last n lines of the journal at path.
func printJournalTail(w io.Writer, path string, n int) error {
	t, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	defer t.Cleanup()

	var ring []string
	for line := range t.Lines {
		if line.Err != nil {
			return fmt.Errorf("failed to read journal: %w", line.Err)
		}
		ring = append(ring, line.Text)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	for _, text := range ring {
		if _, err := fmt.Fprintln(w, text); err != nil {
			return err
		}
	}
	return nil
}

// followJournal prints lines appended to the journal until ctx is done. Rotation is
// followed by reopening the path.
func followJournal(ctx context.Context, w io.Writer, path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      pollJournal,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow journal %s: %w", path, err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return fmt.Errorf("failed to read journal: %w", line.Err)
			}
			if _, err := fmt.Fprintln(w, line.Text); err != nil {
				return err
			}
		}
	}
}
