package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/ferry/capture"
	"github.com/yairfalse/ferry/defaults"
	"github.com/yairfalse/ferry/internal/emitter"
	"github.com/yairfalse/ferry/internal/filter"
	"github.com/yairfalse/ferry/orchestrator"
	"github.com/yairfalse/ferry/storage"
	"github.com/yairfalse/ferry/types"
)

var (
	pullFolders         []string
	pullSnippets        []string
	pullIncludeDefaults bool
	pullNoInfra         bool
	pullOutput          string
	pullReport          string
	pullNoSave          bool
	pullExport          bool
)

// pullCmd represents the pull command
var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Capture the source tenant into a tree document",
	Long: `Capture folders, snippets and their records from the source tenant.

The tree is saved as a new snapshot revision, and optionally written to a
file and exported to S3. Changes against the previous snapshot of the same
tenant are reported.`,
	Example: `  ferry pull                               # Capture the whole tenant
  ferry pull --folder Branch --folder Lab  # Capture two folders
  ferry pull --snippet baseline            # Capture one snippet
  ferry pull -o tree.json --export         # Write a file and upload to S3`,
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().StringSliceVarP(&pullFolders, "folder", "f", nil, "Folder to capture (repeatable)")
	pullCmd.Flags().StringSliceVarP(&pullSnippets, "snippet", "s", nil, "Snippet to capture (repeatable)")
	pullCmd.Flags().BoolVar(&pullIncludeDefaults, "include-defaults", false, "Also capture platform default snippets")
	pullCmd.Flags().BoolVar(&pullNoInfra, "no-infrastructure", false, "Skip infrastructure records")
	pullCmd.Flags().StringVarP(&pullOutput, "output", "o", "", "Write the tree document to this file")
	pullCmd.Flags().StringVar(&pullReport, "report", "", "Write a JSON run report to this file")
	pullCmd.Flags().BoolVar(&pullNoSave, "no-save", false, "Do not save a snapshot revision")
	pullCmd.Flags().BoolVar(&pullExport, "export", false, "Upload the tree to the configured S3 bucket")
}

func runPull(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, pullReport)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	includeDefaults := pullIncludeDefaults || cfg.Pull.IncludeDefaults
	tree, report, err := orch.Pull(ctx, orchestrator.Options{
		Folders:         pullFolders,
		Snippets:        pullSnippets,
		IncludeDefaults: includeDefaults,
		Infrastructure:  !(pullNoInfra || cfg.Pull.SkipInfrastructure),
		Workers:         cfg.Pull.Workers,
		Progress: func(message string, current, total int) {
			log.Debug().Int("current", current).Int("total", total).Msg(message)
		},
	})
	if err != nil {
		if report != nil {
			a.report(ctx, emitter.Report{Command: emitter.CommandPull, Tenant: cfg.Source.TSGID, RunID: report.RunID, Pull: report})
		}
		return fmt.Errorf("pull failed: %w", err)
	}

	out := emitter.Report{
		Command: emitter.CommandPull,
		Tenant:  cfg.Source.TSGID,
		RunID:   report.RunID,
		Pull:    report,
		Tree:    tree,
	}

	if !pullNoSave {
		if prev, _, err := a.store.Latest(cfg.Source.TSGID); err == nil {
			out.Changes = emitter.Diff(prev, tree)
		}
		rev, err := a.store.Save(tree)
		if err != nil {
			return err
		}
		log.Info().Int64("revision", rev).Str("run_id", report.RunID).Msg("snapshot saved")
	}

	if pullOutput != "" {
		if err := storage.WriteFile(pullOutput, tree); err != nil {
			return err
		}
		log.Info().Str("path", pullOutput).Msg("tree written")
	}

	if pullExport {
		if err := exportTree(ctx, a, tree); err != nil {
			return err
		}
	}

	a.report(ctx, out)
	return nil
}

// orchestrator wires the source session, default classifier and filter
// into a pull orchestrator.
func (a *app) orchestrator() (*orchestrator.Orchestrator, error) {
	client, err := a.client("source", a.cfg.Source)
	if err != nil {
		return nil, err
	}

	classifier := defaults.Builtin()
	if path := a.cfg.Pull.DefaultsTable; path != "" {
		classifier, err = defaults.LoadTable(path)
		if err != nil {
			return nil, err
		}
	}

	excludeKinds, err := parseKinds(a.cfg.Pull.ExcludeKinds)
	if err != nil {
		return nil, fmt.Errorf("pull.exclude_kinds: %w", err)
	}
	f := filter.New(a.cfg.Pull.ExcludeFolders, excludeKinds)

	return orchestrator.New(capture.New(client, classifier, f), a.cfg.Source.TSGID,
		orchestrator.WithRecorder(a.telemetry),
		orchestrator.WithTracer(a.telemetry.Tracer()),
	), nil
}

func exportTree(ctx context.Context, a *app, tree *types.Tree) error {
	x, err := a.exporter(ctx)
	if err != nil {
		return err
	}
	if x == nil {
		return errors.New("storage.s3.bucket is not configured")
	}
	key, err := x.Export(ctx, tree)
	if err != nil {
		return err
	}
	log.Info().Str("bucket", a.cfg.Storage.S3.Bucket).Str("key", key).Msg("tree exported")
	return nil
}
