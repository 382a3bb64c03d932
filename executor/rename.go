package executor

import (
	"github.com/yairfalse/ferry/types"
)

// renames tracks items created under a new name so that later items
// referencing them are rewritten.
type renames struct {
	parents  map[string]string
	snippets map[string][]string
	// kind/name -> container -> new name
	byName map[string]map[string]string
}

func newRenames(tree *types.Tree) *renames {
	rn := &renames{
		parents:  make(map[string]string),
		snippets: make(map[string][]string),
		byName:   make(map[string]map[string]string),
	}
	for _, f := range tree.SecurityPolicies.Folders {
		rn.parents[f.Name] = f.Parent
	}
	for _, s := range tree.SecurityPolicies.Snippets {
		rn.snippets[s.Name] = s.Folders
	}
	return rn
}

func renameKey(kind types.Kind, name string) string {
	return string(kind) + "/" + name
}

func (rn *renames) add(kind types.Kind, container, name, newName string) {
	key := renameKey(kind, name)
	if rn.byName[key] == nil {
		rn.byName[key] = make(map[string]string)
	}
	rn.byName[key][container] = newName
}

func (rn *renames) empty() bool {
	return len(rn.byName) == 0
}

// scopes lists the containers whose records rec can see, nearest first.
func (rn *renames) scopes(rec types.Record) []string {
	var out []string
	seen := make(map[string]bool)
	chain := func(folder string) {
		for folder != "" && !seen[folder] {
			seen[folder] = true
			out = append(out, folder)
			folder = rn.parents[folder]
		}
	}

	if rec.Snippet != "" {
		out = append(out, rec.Snippet)
		for _, f := range rn.snippets[rec.Snippet] {
			chain(f)
		}
	} else {
		chain(rec.Folder)
	}
	return append(out, "")
}

func (rn *renames) resolve(kinds []types.Kind, name string, scopes []string) (string, bool) {
	for _, container := range scopes {
		for _, k := range kinds {
			if newName, ok := rn.byName[renameKey(k, name)][container]; ok {
				return newName, true
			}
		}
	}
	return "", false
}

// rewrite points the references in attrs at renamed items.
func (rn *renames) rewrite(rec types.Record, attrs map[string]any) {
	if rn.empty() {
		return
	}
	spec, ok := rec.Kind.Spec()
	if !ok {
		return
	}
	scopes := rn.scopes(rec)
	for _, field := range spec.Refs {
		types.Rewrite(attrs, field.Path, func(name string) string {
			if newName, ok := rn.resolve(field.Targets, name, scopes); ok {
				return newName
			}
			return name
		})
	}
}
