package resolver

import (
	"sort"

	"github.com/yairfalse/ferry/types"
)

// Validation annotates a tree with references that do not resolve. It
// never fails a pull.
type Validation struct {
	Valid bool `json:"valid"`
	// MissingDependencies maps a record key to the names it references
	// that exist neither as captured records nor as parent dependencies.
	MissingDependencies map[string][]string `json:"missing_dependencies"`
}

// Statistics summarizes the graph.
type Statistics struct {
	TotalNodes int `json:"total_nodes"`
	TotalEdges int `json:"total_edges"`
}

// Report is attached to every pull.
type Report struct {
	Validation Validation `json:"validation"`
	Statistics Statistics `json:"statistics"`
}

// Validate checks every reference of tree.
func Validate(tree *types.Tree) Validation {
	return validateGraph(BuildGraph(tree))
}

func validateGraph(g *Graph) Validation {
	v := Validation{Valid: true, MissingDependencies: map[string][]string{}}
	for from, refs := range g.unresolved {
		seen := make(map[string]bool)
		var names []string
		for _, ref := range refs {
			if seen[ref.Name] {
				continue
			}
			seen[ref.Name] = true
			names = append(names, ref.Name)
		}
		sort.Strings(names)
		v.MissingDependencies[from.String()] = names
		v.Valid = false
	}
	return v
}

// DependencyReport validates tree and adds graph statistics.
func DependencyReport(tree *types.Tree) Report {
	g := BuildGraph(tree)
	return Report{
		Validation: validateGraph(g),
		Statistics: Statistics{
			TotalNodes: len(g.nodes),
			TotalEdges: len(g.edges),
		},
	}
}
