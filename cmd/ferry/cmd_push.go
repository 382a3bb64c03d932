package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/ferry/executor"
	"github.com/yairfalse/ferry/internal/emitter"
	"github.com/yairfalse/ferry/internal/filter"
	"github.com/yairfalse/ferry/policy"
	"github.com/yairfalse/ferry/storage"
	"github.com/yairfalse/ferry/types"
)

// treeSource picks the tree a command works on.
type treeSource struct {
	input    string
	revision int64
	s3Run    string
	s3Tenant string
}

func (s *treeSource) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.input, "input", "i", "", "Read the tree document from this file")
	cmd.Flags().Int64Var(&s.revision, "revision", 0, "Use this snapshot revision")
	cmd.Flags().StringVar(&s.s3Run, "s3-run", "", "Download the tree of this run id from S3")
	cmd.Flags().StringVar(&s.s3Tenant, "s3-tenant", "", "Source tenant of the S3 tree (default source.tsg_id)")
}

// load returns the selected tree; with nothing selected it is the latest
// snapshot of the source tenant.
func (s *treeSource) load(ctx context.Context, a *app) (*types.Tree, error) {
	switch {
	case s.input != "":
		return storage.ReadFile(s.input)
	case s.revision > 0:
		return a.store.Load(s.revision)
	case s.s3Run != "":
		x, err := a.exporter(ctx)
		if err != nil {
			return nil, err
		}
		if x == nil {
			return nil, fmt.Errorf("storage.s3.bucket is not configured")
		}
		tenant := s.s3Tenant
		if tenant == "" {
			tenant = a.cfg.Source.TSGID
		}
		return x.Import(ctx, tenant, s.s3Run)
	default:
		tree, snap, err := a.store.Latest(a.cfg.Source.TSGID)
		if err != nil {
			return nil, err
		}
		log.Info().Int64("revision", snap.Revision).Str("run_id", snap.RunID).Msg("using latest snapshot")
		return tree, nil
	}
}

var (
	pushSource          treeSource
	pushFolders         []string
	pushSnippets        []string
	pushKinds           []string
	pushNames           []string
	pushPolicy          string
	pushSuffix          string
	pushDryRun          bool
	pushIncludeDefaults bool
	pushTenantInfra     bool
	pushAllowSame       bool
	pushResume          string
	pushReport          string
)

// pushCmd represents the push command
var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push a selected part of a tree into the destination tenant",
	Long: `Write the selected folders, snippets and records of a tree into the
destination tenant, containers first and dependencies before dependents.

Conflict policies:
- skip: leave existing items untouched
- overwrite: replace existing items
- rename: create a copy under a free name and rewrite references to it

Every outcome is journaled. An interrupted push continues with --resume,
and a finished push is undone with 'ferry rollback'.`,
	Example: `  ferry push --dry-run                       # Plan against the latest snapshot
  ferry push --folder Branch --policy rename  # Push one folder, renaming conflicts
  ferry push -i tree.json --kind address      # Push only addresses from a file
  ferry push --resume 6f1c...                 # Continue an interrupted run`,
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushSource.register(pushCmd)
	pushCmd.Flags().StringSliceVarP(&pushFolders, "folder", "f", nil, "Folder to push (repeatable)")
	pushCmd.Flags().StringSliceVarP(&pushSnippets, "snippet", "s", nil, "Snippet to push (repeatable)")
	pushCmd.Flags().StringSliceVarP(&pushKinds, "kind", "k", nil, "Only push records of this kind (repeatable)")
	pushCmd.Flags().StringSliceVar(&pushNames, "name", nil, "Only push records with this name (repeatable)")
	pushCmd.Flags().StringVarP(&pushPolicy, "policy", "p", "", "Conflict policy: skip, overwrite, rename (default push.conflict_policy)")
	pushCmd.Flags().StringVar(&pushSuffix, "rename-suffix", "", "Suffix for renamed items (default push.rename_suffix)")
	pushCmd.Flags().BoolVar(&pushDryRun, "dry-run", false, "Plan without writing")
	pushCmd.Flags().BoolVar(&pushIncludeDefaults, "include-defaults", false, "Include platform default records (they are skipped)")
	pushCmd.Flags().BoolVar(&pushTenantInfra, "tenant-infrastructure", false, "Push tenant infrastructure with a folder or snippet selection")
	pushCmd.Flags().BoolVar(&pushAllowSame, "allow-same-tenant", false, "Allow pushing into the tenant the tree came from")
	pushCmd.Flags().StringVar(&pushResume, "resume", "", "Resume the journaled run with this id")
	pushCmd.Flags().StringVar(&pushReport, "report", "", "Write a JSON run report to this file")
}

func runPush(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, pushReport)
	if err != nil {
		return err
	}
	defer a.Close()

	name := pushPolicy
	if name == "" {
		name = cfg.Push.ConflictPolicy
	}
	conflict, err := executor.ParsePolicy(name)
	if err != nil {
		return err
	}
	kinds, err := parseKinds(pushKinds)
	if err != nil {
		return err
	}

	tree, err := pushSource.load(ctx, a)
	if err != nil {
		return err
	}

	engine, err := a.executor(ctx)
	if err != nil {
		return err
	}

	suffix := pushSuffix
	if suffix == "" {
		suffix = cfg.Push.RenameSuffix
	}
	opts := executor.Options{
		Policy:       conflict,
		RenameSuffix: suffix,
		DryRun:       pushDryRun,
		Selection: filter.Selection{
			Folders:         pushFolders,
			Snippets:        pushSnippets,
			Kinds:           kinds,
			Names:           pushNames,
			IncludeDefaults: pushIncludeDefaults,
			IncludeTenant:   pushTenantInfra || (len(pushFolders) == 0 && len(pushSnippets) == 0),
		},
		AllowSameTenant: pushAllowSame,
		Progress: func(message string, current, total int) {
			log.Debug().Int("current", current).Int("total", total).Msg(message)
		},
	}

	var result *executor.Result
	if pushResume != "" {
		result, err = engine.Resume(ctx, tree, pushResume, opts)
	} else {
		result, err = engine.Push(ctx, tree, opts)
	}
	if result != nil {
		a.report(ctx, emitter.Report{
			Command: emitter.CommandPush,
			Tenant:  cfg.Destination.TSGID,
			RunID:   result.RunID,
			Push:    result,
		})
	}
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	if result.Summary.Failed > 0 {
		return fmt.Errorf("%d items failed; resume with --resume %s", result.Summary.Failed, result.RunID)
	}
	return nil
}

// executor wires the destination session, the policy guard and the
// journal into a push engine.
func (a *app) executor(ctx context.Context) (*executor.Engine, error) {
	client, err := a.client("destination", a.cfg.Destination)
	if err != nil {
		return nil, err
	}

	opts := []executor.Option{
		executor.WithJournal(a.cfg.Push.JournalDir),
		executor.WithRecorder(a.telemetry),
		executor.WithTracer(a.telemetry.Tracer()),
	}
	if len(a.cfg.Policy.Files) > 0 {
		guard := policy.NewEngine()
		if err := policy.NewLoader(guard).Load(ctx, a.cfg.Policy.Files...); err != nil {
			return nil, fmt.Errorf("failed to load push policies: %w", err)
		}
		log.Info().Int("policies", guard.Len()).Msg("push policies loaded")
		opts = append(opts, executor.WithGuard(guard))
	}
	return executor.New(client, a.cfg.Destination.TSGID, opts...), nil
}
