// Package defaults tells platform supplied configuration apart from
// tenant authored configuration.
package defaults

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/ferry/types"
)

// Classifier decides whether a record is a platform default. It must be
// pure: the same input always yields the same answer.
type Classifier interface {
	Classify(kind types.Kind, name, parentFolder string) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(kind types.Kind, name, parentFolder string) bool

// Classify calls f.
func (f ClassifierFunc) Classify(kind types.Kind, name, parentFolder string) bool {
	return f(kind, name, parentFolder)
}

// None classifies nothing as a default.
var None Classifier = ClassifierFunc(func(types.Kind, string, string) bool { return false })

//go:embed table.yaml
var embeddedTable []byte

type tableDoc struct {
	Folders       []string           `yaml:"folders"`
	Snippets      []string           `yaml:"snippets"`
	SourceFolders []string           `yaml:"source_folders"`
	Kinds         map[string]kindDoc `yaml:"kinds"`
}

type kindDoc struct {
	Names    []string `yaml:"names"`
	Prefixes []string `yaml:"prefixes"`
}

// Table is a static lookup table. It is read-only after construction.
type Table struct {
	folders       map[string]bool
	snippets      map[string]bool
	sourceFolders map[string]bool
	names         map[types.Kind]map[string]bool
	prefixes      map[types.Kind][]string
}

var (
	builtinOnce sync.Once
	builtin     *Table
)

// Builtin returns the table shipped with the binary.
func Builtin() *Table {
	builtinOnce.Do(func() {
		t, err := ParseTable(embeddedTable)
		if err != nil {
			panic(fmt.Sprintf("embedded default table: %v", err))
		}
		builtin = t
	})
	return builtin
}

// LoadTable reads a table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read default table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable builds a table from YAML.
func ParseTable(data []byte) (*Table, error) {
	var doc tableDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse default table: %w", err)
	}

	t := &Table{
		folders:       toSet(doc.Folders),
		snippets:      toSet(doc.Snippets),
		sourceFolders: toSet(doc.SourceFolders),
		names:         make(map[types.Kind]map[string]bool),
		prefixes:      make(map[types.Kind][]string),
	}
	for name, kd := range doc.Kinds {
		kind, err := types.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("invalid default table: %w", err)
		}
		t.names[kind] = toSet(kd.Names)
		for _, p := range kd.Prefixes {
			if p == "" {
				return nil, fmt.Errorf("invalid default table: empty prefix for %s", kind)
			}
			t.prefixes[kind] = append(t.prefixes[kind], p)
		}
	}
	return t, nil
}

// Classify reports whether the record called name of kind, captured
// from parentFolder, is supplied by the platform.
func (t *Table) Classify(kind types.Kind, name, parentFolder string) bool {
	switch kind {
	case types.KindFolder:
		return t.folders[name]
	case types.KindSnippet:
		return t.snippets[name]
	}
	if parentFolder != "" && t.sourceFolders[parentFolder] {
		return true
	}
	if t.names[kind][name] {
		return true
	}
	for _, p := range t.prefixes[kind] {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// IsDefaultFolder reports whether folder is built into the platform.
func (t *Table) IsDefaultFolder(name string) bool {
	return t.folders[name]
}

// IsDefaultSnippet reports whether snippet is built into the platform.
func (t *Table) IsDefaultSnippet(name string) bool {
	return t.snippets[name]
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
