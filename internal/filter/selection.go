package filter

import (
	"github.com/yairfalse/ferry/types"
)

// Selection names the part of a captured tree to push. With no folders
// and no snippets named, every container is selected; naming either
// restricts the push to the named containers.
type Selection struct {
	Folders  []string
	Snippets []string
	// Kinds and Names restrict records; empty means all.
	Kinds []types.Kind
	Names []string
	// IncludeDefaults keeps platform default records in the subset.
	IncludeDefaults bool
	// IncludeTenant keeps tenant scoped infrastructure.
	IncludeTenant bool
}

// IsEmpty returns true if the selection does not restrict anything.
func (s Selection) IsEmpty() bool {
	return len(s.Folders) == 0 && len(s.Snippets) == 0 && len(s.Kinds) == 0 && len(s.Names) == 0
}

func (s Selection) containersRestricted() bool {
	return len(s.Folders) > 0 || len(s.Snippets) > 0
}

// IncludeFolder returns true if the folder is selected.
func (s Selection) IncludeFolder(name string) bool {
	if !s.containersRestricted() {
		return true
	}
	return contains(s.Folders, name)
}

// IncludeSnippet returns true if the snippet is selected.
func (s Selection) IncludeSnippet(name string) bool {
	if !s.containersRestricted() {
		return true
	}
	return contains(s.Snippets, name)
}

// IncludeRecord returns true if the record passes the kind, name and
// default filters.
func (s Selection) IncludeRecord(rec types.Record) bool {
	if rec.IsDefault && !s.IncludeDefaults {
		return false
	}
	if len(s.Kinds) > 0 {
		found := false
		for _, k := range s.Kinds {
			if k == rec.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.Names) > 0 && !contains(s.Names, rec.Name) {
		return false
	}
	return true
}

// Apply returns the selected subset of tree as a new tree. The source
// tree is not modified; records are shared since they are immutable.
func (s Selection) Apply(tree *types.Tree) *types.Tree {
	out := &types.Tree{
		Metadata:       tree.Metadata,
		Infrastructure: types.Infrastructure{},
	}
	out.Metadata.SelectedFolders = nil
	out.Metadata.SelectedSnippets = nil

	for i := range tree.SecurityPolicies.Folders {
		src := &tree.SecurityPolicies.Folders[i]
		if !s.IncludeFolder(src.Name) {
			continue
		}
		folder := types.Folder{
			ID:                 src.ID,
			Name:               src.Name,
			Parent:             src.Parent,
			Description:        src.Description,
			IsDefault:          src.IsDefault,
			ParentDependencies: src.ParentDependencies,
		}
		for _, rec := range src.Records() {
			if s.IncludeRecord(rec) {
				folder.Add(rec)
			}
		}
		out.SecurityPolicies.Folders = append(out.SecurityPolicies.Folders, folder)
		out.Metadata.SelectedFolders = append(out.Metadata.SelectedFolders, folder.Name)
	}

	for i := range tree.SecurityPolicies.Snippets {
		src := &tree.SecurityPolicies.Snippets[i]
		if !s.IncludeSnippet(src.Name) {
			continue
		}
		snippet := types.Snippet{
			ID:          src.ID,
			Name:        src.Name,
			Description: src.Description,
			Folders:     src.Folders,
			IsDefault:   src.IsDefault,
		}
		for _, rec := range src.Records() {
			if s.IncludeRecord(rec) {
				snippet.Add(rec)
			}
		}
		out.SecurityPolicies.Snippets = append(out.SecurityPolicies.Snippets, snippet)
		out.Metadata.SelectedSnippets = append(out.Metadata.SelectedSnippets, snippet.Name)
	}

	if s.IncludeTenant {
		for kind, recs := range tree.Infrastructure {
			for _, rec := range recs {
				if s.IncludeRecord(rec) {
					out.Infrastructure[kind] = append(out.Infrastructure[kind], rec)
				}
			}
		}
	}
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
