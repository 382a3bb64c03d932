package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ferry/wal"
)

var runsRetention int

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and prune push journals",
	Example: `  ferry runs list
  ferry runs prune --retention-days 7`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled push runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runs, err := wal.Runs(cfg.Push.JournalDir)
		if err != nil {
			return err
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove journals older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := wal.CleanupWithStats(cfg.Push.JournalDir, wal.Config{RetentionDays: runsRetention})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d journals (%d bytes)\n", stats.FilesRemoved, stats.BytesFreed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsPruneCmd)

	runsPruneCmd.Flags().IntVar(&runsRetention, "retention-days", wal.DefaultConfig().RetentionDays, "Keep journals newer than this many days")
}

func printRuns(out io.Writer, runs []wal.RunInfo) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No journaled runs.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tSTARTED\tFINISHED\tCREATED\tUPDATED\tFAILED\tROLLED BACK")
	_, _ = fmt.Fprintln(w, "---\t-------\t--------\t-------\t-------\t------\t-----------")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%d\t%d\n",
			r.RunID,
			r.Started.Format(time.RFC3339),
			r.Finished,
			r.Counts[wal.EntryCreated],
			r.Counts[wal.EntryUpdated],
			r.Counts[wal.EntryFailed],
			r.Counts[wal.EntryRolledBack],
		)
	}
	_ = w.Flush()
}
