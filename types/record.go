package types

import (
	"fmt"
	"sort"
)

// Reserved values that look like names but never point at a record.
var reservedNames = map[string]bool{
	"any":                 true,
	"application-default": true,
	"none":                true,
	"select":              true,
}

// IsReserved reports whether name is a keyword rather than a record name.
func IsReserved(name string) bool {
	return reservedNames[name]
}

// Reference is one named link from a record to another record.
type Reference struct {
	Field string `json:"field"`
	Kinds []Kind `json:"kinds"`
	Name  string `json:"name"`
	Soft  bool   `json:"soft,omitempty"`
}

// Record is one captured configuration item. Records are never mutated
// after capture; push works on cloned attributes.
type Record struct {
	Kind       Kind           `json:"kind"`
	Name       string         `json:"name"`
	ID         string         `json:"id,omitempty"`
	Folder     string         `json:"folder,omitempty"`
	Snippet    string         `json:"snippet,omitempty"`
	Position   string         `json:"position,omitempty"`
	IsDefault  bool           `json:"is_default"`
	References []Reference    `json:"references,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// Container returns the folder or snippet that owns the record.
func (r Record) Container() string {
	if r.Snippet != "" {
		return r.Snippet
	}
	return r.Folder
}

// Key identifies the record inside a tree.
func (r Record) Key() string {
	return RecordKey(r.Kind, r.Container(), r.Name)
}

// RecordKey builds the identity used for records, journal entries and
// destination lookups.
func RecordKey(kind Kind, container, name string) string {
	return fmt.Sprintf("%s/%s/%s", kind, container, name)
}

// ExtractReferences reads the reference fields declared for kind out of
// attrs. Reserved keywords and self references are dropped; duplicates
// collapse.
func ExtractReferences(kind Kind, name string, attrs map[string]any) []Reference {
	spec, ok := kind.Spec()
	if !ok || len(spec.Refs) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var refs []Reference
	for _, field := range spec.Refs {
		Walk(attrs, field.Path, func(target string) {
			if target == "" || IsReserved(target) {
				return
			}
			if target == name && containsKind(field.Targets, kind) {
				return
			}
			key := field.Path + "\x00" + target
			if seen[key] {
				return
			}
			seen[key] = true
			refs = append(refs, Reference{
				Field: field.Path,
				Kinds: field.Targets,
				Name:  target,
				Soft:  field.Soft,
			})
		})
	}
	return refs
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// HasKind reports whether the reference may point at kind k.
func (r Reference) HasKind(k Kind) bool {
	return containsKind(r.Kinds, k)
}

// ParentDependency is a record visible to a folder but owned by one of
// its ancestors. It is tracked by reference, never copied.
type ParentDependency struct {
	Kind         Kind   `json:"kind"`
	Name         string `json:"name"`
	SourceFolder string `json:"source_folder"`
}

// SortRecords orders records by kind then name. Rule collections are never
// sorted: their order is their meaning.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Name < b.Name
	})
}

// SortParentDependencies orders entries by kind, source folder and name.
func SortParentDependencies(deps []ParentDependency) {
	sort.Slice(deps, func(i, j int) bool {
		a, b := deps[i], deps[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.SourceFolder != b.SourceFolder {
			return a.SourceFolder < b.SourceFolder
		}
		return a.Name < b.Name
	})
}
