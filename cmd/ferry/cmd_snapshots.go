package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ferry/internal/emitter"
	"github.com/yairfalse/ferry/storage"
)

var (
	snapshotsKeep   int
	snapshotsOutput string
)

// snapshotsCmd represents the snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect and manage saved trees",
	Long: `Every pull saves its tree as a new snapshot revision in the local store.
Snapshots feed push and validate, and show what changed between pulls.`,
	Example: `  ferry snapshots list
  ferry snapshots diff 3 5
  ferry snapshots export 5 -o tree.json
  ferry snapshots delete 2
  ferry snapshots compact --keep 10`,
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, store *storage.Store, _ []string) error {
		printSnapshots(cmd.OutOrStdout(), store.List())
		return nil
	}),
}

var snapshotsDiffCmd = &cobra.Command{
	Use:   "diff OLD NEW",
	Short: "Show record changes between two revisions",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(cmd *cobra.Command, store *storage.Store, args []string) error {
		revs, err := parseRevisions(args)
		if err != nil {
			return err
		}
		prev, err := store.Load(revs[0])
		if err != nil {
			return err
		}
		curr, err := store.Load(revs[1])
		if err != nil {
			return err
		}
		printChanges(cmd.OutOrStdout(), emitter.Diff(prev, curr))
		return nil
	}),
}

var snapshotsExportCmd = &cobra.Command{
	Use:   "export REVISION",
	Short: "Write a revision as a tree document",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, store *storage.Store, args []string) error {
		revs, err := parseRevisions(args)
		if err != nil {
			return err
		}
		tree, err := store.Load(revs[0])
		if err != nil {
			return err
		}
		if snapshotsOutput != "" {
			return storage.WriteFile(snapshotsOutput, tree)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tree)
	}),
}

var snapshotsDeleteCmd = &cobra.Command{
	Use:   "delete REVISION...",
	Short: "Delete snapshots",
	Args:  cobra.MinimumNArgs(1),
	RunE: withStore(func(cmd *cobra.Command, store *storage.Store, args []string) error {
		revs, err := parseRevisions(args)
		if err != nil {
			return err
		}
		for _, rev := range revs {
			if err := store.Delete(rev); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted revision %d\n", rev)
		}
		return nil
	}),
}

var snapshotsCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Keep only the newest snapshots of each tenant",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, store *storage.Store, _ []string) error {
		removed, err := store.Compact(snapshotsKeep)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshots\n", removed)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsDiffCmd, snapshotsExportCmd, snapshotsDeleteCmd, snapshotsCompactCmd)

	snapshotsExportCmd.Flags().StringVarP(&snapshotsOutput, "output", "o", "", "Write to this file instead of stdout")
	snapshotsCompactCmd.Flags().IntVar(&snapshotsKeep, "keep", 5, "Snapshots to keep per tenant")
}

// withStore opens the snapshot store around fn.
func withStore(fn func(*cobra.Command, *storage.Store, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(cfg.Storage.Dir)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return fn(cmd, store, args)
	}
}

func parseRevisions(args []string) ([]int64, error) {
	revs := make([]int64, 0, len(args))
	for _, arg := range args {
		rev, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || rev < 1 {
			return nil, fmt.Errorf("invalid revision %q", arg)
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

func printSnapshots(out io.Writer, snaps []storage.Snapshot) {
	if len(snaps) == 0 {
		_, _ = fmt.Fprintln(out, "No snapshots.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REVISION\tTENANT\tRUN\tCAPTURED\tRECORDS")
	_, _ = fmt.Fprintln(w, "--------\t------\t---\t--------\t-------")
	for _, s := range snaps {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n",
			s.Revision, s.Tenant, s.RunID, s.CapturedAt.Format(time.RFC3339), s.Records)
	}
	_ = w.Flush()
}

func printChanges(out io.Writer, changes []emitter.Change) {
	if len(changes) == 0 {
		_, _ = fmt.Fprintln(out, "No changes.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHANGE\tKIND\tCONTAINER\tNAME\tFIELDS")
	_, _ = fmt.Fprintln(w, "------\t----\t---------\t----\t------")
	for _, c := range changes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", c.Type, c.Kind, c.Container, c.Name, c.Fields)
	}
	_ = w.Flush()

	counts := emitter.Summarize(changes)
	_, _ = fmt.Fprintf(out, "\n%d added, %d removed, %d modified\n",
		counts[emitter.ChangeAdded], counts[emitter.ChangeRemoved], counts[emitter.ChangeModified])
}
