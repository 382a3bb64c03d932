package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ferry/internal/emitter"
)

var rollbackReport string

// rollbackCmd represents the rollback command
var rollbackCmd = &cobra.Command{
	Use:   "rollback RUN_ID",
	Short: "Delete the items a push created",
	Long: `Delete every item the journaled push run created in the destination,
newest first. Overwritten items cannot be restored and are counted as
irreversible. Rolling back twice is a no-op.`,
	Example: `  ferry rollback 6f1c2a9e-...   # Undo one push`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)

	rollbackCmd.Flags().StringVar(&rollbackReport, "report", "", "Write a JSON run report to this file")
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, rollbackReport)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.executor(ctx)
	if err != nil {
		return err
	}

	result, err := engine.Rollback(ctx, args[0])
	if result != nil {
		a.report(ctx, emitter.Report{
			Command:  emitter.CommandRollback,
			Tenant:   cfg.Destination.TSGID,
			RunID:    args[0],
			Rollback: result,
		})
	}
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d deletions failed; run rollback again to retry", result.Failed)
	}
	return nil
}
