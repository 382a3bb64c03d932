package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ferry/internal/filter"
	"github.com/yairfalse/ferry/resolver"
	"github.com/yairfalse/ferry/storage"
	"github.com/yairfalse/ferry/types"
)

var (
	validateSource   treeSource
	validateFolders  []string
	validateSnippets []string
	validateJSON     bool
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a tree for references that do not resolve",
	Long: `Build the dependency graph of a tree, or of the selected part of it,
and list the records referencing names the selection does not contain.
Those names must already exist in the destination for a push to succeed.

Exits non-zero when the tree is not self-contained.`,
	Example: `  ferry validate                      # Latest snapshot of the source tenant
  ferry validate -i tree.json --json   # A file, as JSON
  ferry validate --folder Branch       # Only what a push of Branch would write`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateSource.register(validateCmd)
	validateCmd.Flags().StringSliceVarP(&validateFolders, "folder", "f", nil, "Validate only this folder (repeatable)")
	validateCmd.Flags().StringSliceVarP(&validateSnippets, "snippet", "s", nil, "Validate only this snippet (repeatable)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the dependency report as JSON")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var tree *types.Tree
	var err error
	if validateSource.input != "" {
		// A file needs no store.
		tree, err = storage.ReadFile(validateSource.input)
	} else {
		var a *app
		a, err = newApp(ctx, cfg, "")
		if err != nil {
			return err
		}
		defer a.Close()
		tree, err = validateSource.load(ctx, a)
	}
	if err != nil {
		return err
	}

	subset := filter.Selection{
		Folders:       validateFolders,
		Snippets:      validateSnippets,
		IncludeTenant: len(validateFolders) == 0 && len(validateSnippets) == 0,
	}.Apply(tree)
	report := resolver.DependencyReport(subset)

	out := cmd.OutOrStdout()
	if validateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printValidation(out, tree, report)
	}

	if v := tree.Metadata.Version; v != "" && v != types.FormatVersion {
		return fmt.Errorf("tree version %s, expected %s", v, types.FormatVersion)
	}
	if !report.Validation.Valid {
		return fmt.Errorf("%d records have unresolved references", len(report.Validation.MissingDependencies))
	}
	return nil
}

func printValidation(w io.Writer, tree *types.Tree, report resolver.Report) {
	_, _ = fmt.Fprintf(w, "Tree %s from %s (version %s)\n", tree.Metadata.RunID, tree.Metadata.SourceTenant, tree.Metadata.Version)
	_, _ = fmt.Fprintf(w, "  Nodes: %d\n", report.Statistics.TotalNodes)
	_, _ = fmt.Fprintf(w, "  Edges: %d\n", report.Statistics.TotalEdges)

	if report.Validation.Valid {
		_, _ = fmt.Fprintln(w, "All references resolve.")
		return
	}

	keys := make([]string, 0, len(report.Validation.MissingDependencies))
	for k := range report.Validation.MissingDependencies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	_, _ = fmt.Fprintln(w, "Unresolved references:")
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "  %s -> %v\n", k, report.Validation.MissingDependencies[k])
	}
}
