package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/ferry/resolver"
	"github.com/yairfalse/ferry/types"
)

// checkFunc is a single preflight check
type checkFunc func(e *Engine, source, subset *types.Tree, opts Options) SafetyCheck

var preflightChecks = []checkFunc{
	checkFormatVersion,
	checkSameTenant,
	checkSelection,
	checkDependencies,
}

// preflight runs every check against the tree and the selected subset.
func (e *Engine) preflight(source, subset *types.Tree, opts Options) []SafetyCheck {
	results := make([]SafetyCheck, 0, len(preflightChecks))
	for _, check := range preflightChecks {
		results = append(results, check(e, source, subset, opts))
	}
	return results
}

func checkFormatVersion(_ *Engine, source, _ *types.Tree, _ Options) SafetyCheck {
	check := SafetyCheck{
		Name:        "format_version_check",
		Description: "Verify the tree document version is understood",
		Passed:      true,
		Severity:    SeverityError,
	}

	if v := source.Metadata.Version; v != "" && v != types.FormatVersion {
		check.Passed = false
		check.Message = fmt.Sprintf("tree version %s, expected %s", v, types.FormatVersion)
	}
	return check
}

func checkSameTenant(e *Engine, source, _ *types.Tree, opts Options) SafetyCheck {
	check := SafetyCheck{
		Name:        "same_tenant_check",
		Description: "Verify the destination is not the tenant the tree came from",
		Passed:      true,
		Severity:    SeverityCritical,
	}

	if opts.AllowSameTenant || opts.DryRun {
		return check
	}
	if src := source.Metadata.SourceTenant; src != "" && src == e.tenant {
		check.Passed = false
		check.Message = fmt.Sprintf("destination %s is the source tenant", e.tenant)
	}
	return check
}

func checkSelection(_ *Engine, source, subset *types.Tree, opts Options) SafetyCheck {
	check := SafetyCheck{
		Name:        "selection_check",
		Description: "Verify the selection names containers present in the tree",
		Passed:      true,
		Severity:    SeverityWarning,
	}

	var missing []string
	for _, name := range opts.Selection.Folders {
		if _, ok := source.Folder(name); !ok {
			missing = append(missing, "folder "+name)
		}
	}
	for _, name := range opts.Selection.Snippets {
		if _, ok := source.Snippet(name); !ok {
			missing = append(missing, "snippet "+name)
		}
	}

	switch {
	case len(missing) > 0:
		check.Passed = false
		check.Message = "not in tree: " + strings.Join(missing, ", ")
	case len(plan(subset)) == 0:
		check.Passed = false
		check.Message = "selection is empty"
	}
	return check
}

func checkDependencies(_ *Engine, _, subset *types.Tree, _ Options) SafetyCheck {
	check := SafetyCheck{
		Name:        "dependency_check",
		Description: "Verify selected records reference only selected or inherited records",
		Passed:      true,
		Severity:    SeverityWarning,
	}

	v := resolver.Validate(subset)
	if v.Valid {
		return check
	}
	keys := make([]string, 0, len(v.MissingDependencies))
	for k := range v.MissingDependencies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	check.Passed = false
	check.Message = fmt.Sprintf("%d records reference items outside the selection, which must already exist in the destination: %s",
		len(keys), strings.Join(keys, ", "))
	return check
}
