// Package filter decides which folders and kinds Ferry captures.
package filter

import (
	"github.com/yairfalse/ferry/types"
)

// Folders that exist on every tenant and can never be migrated.
var builtinExcluded = []string{"All", "ngfw-shared", "predefined"}

// Filter controls which folders and resource kinds to capture.
type Filter struct {
	excludeFolders map[string]bool
	excludeKinds   map[types.Kind]bool
	configured     int
}

// New creates a Filter. The built-in non-migratable folders are always
// excluded in addition to excludeFolders.
func New(excludeFolders []string, excludeKinds []types.Kind) *Filter {
	folders := make(map[string]bool)
	for _, name := range builtinExcluded {
		folders[name] = true
	}
	for _, name := range excludeFolders {
		folders[name] = true
	}

	kinds := make(map[types.Kind]bool)
	for _, k := range excludeKinds {
		kinds[k] = true
	}

	return &Filter{
		excludeFolders: folders,
		excludeKinds:   kinds,
		configured:     len(excludeFolders) + len(excludeKinds),
	}
}

// ShouldCaptureFolder returns true if the folder may be migrated.
func (f *Filter) ShouldCaptureFolder(name string) bool {
	return !f.excludeFolders[name]
}

// ShouldCaptureKind returns true if the kind should be captured.
func (f *Filter) ShouldCaptureKind(kind types.Kind) bool {
	return !f.excludeKinds[kind]
}

// FilterFolders returns only folders that may be migrated.
func (f *Filter) FilterFolders(folders []types.Folder) []types.Folder {
	filtered := make([]types.Folder, 0, len(folders))
	for _, folder := range folders {
		if f.ShouldCaptureFolder(folder.Name) {
			filtered = append(filtered, folder)
		}
	}
	return filtered
}

// IsEmpty returns true if nothing beyond the built-in exclusions is set.
func (f *Filter) IsEmpty() bool {
	return f.configured == 0
}
