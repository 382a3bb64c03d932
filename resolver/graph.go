// Package resolver builds the reference graph of a captured tree and
// checks that every reference resolves.
package resolver

import (
	"fmt"

	"github.com/yairfalse/ferry/types"
)

// Node identifies a record by kind, name and owning container.
type Node struct {
	Kind      types.Kind `json:"kind"`
	Name      string     `json:"name"`
	Container string     `json:"container,omitempty"`
}

func (n Node) String() string {
	return types.RecordKey(n.Kind, n.Container, n.Name)
}

func nodeOf(rec types.Record) Node {
	return Node{Kind: rec.Kind, Name: rec.Name, Container: rec.Container()}
}

// Edge points from a record to a record it references.
type Edge struct {
	From  Node   `json:"from"`
	To    Node   `json:"to"`
	Field string `json:"field"`
}

// Graph is the reference graph of one tree. It is read-only once built.
// Inherited records appear as nodes but hold no edges of their own.
type Graph struct {
	nodes      []Node
	nodeSet    map[Node]bool
	edges      []Edge
	out        map[Node][]Edge
	unresolved map[Node][]types.Reference
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns every edge.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Dependencies returns the nodes n references.
func (g *Graph) Dependencies(n Node) []Node {
	var out []Node
	for _, e := range g.out[n] {
		out = append(out, e.To)
	}
	return out
}

// Has reports whether n is a node of the graph.
func (g *Graph) Has(n Node) bool {
	return g.nodeSet[n]
}

func (g *Graph) addNode(n Node) {
	if g.nodeSet[n] {
		return
	}
	g.nodeSet[n] = true
	g.nodes = append(g.nodes, n)
}

func (g *Graph) addEdge(e Edge) {
	g.edges = append(g.edges, e)
	g.out[e.From] = append(g.out[e.From], e)
}

// index answers "which record does this name point at" for one tree.
type index struct {
	owned          map[string]Node
	ownedByName    map[string][]Node
	inherited      map[string]map[string]Node
	anyInherited   map[string][]Node
	folderParent   map[string]string
	snippetFolders map[string][]string
}

func kindName(kind types.Kind, name string) string {
	return fmt.Sprintf("%s/%s", kind, name)
}

func newIndex(tree *types.Tree) *index {
	idx := &index{
		owned:          make(map[string]Node),
		ownedByName:    make(map[string][]Node),
		inherited:      make(map[string]map[string]Node),
		anyInherited:   make(map[string][]Node),
		folderParent:   make(map[string]string),
		snippetFolders: make(map[string][]string),
	}
	for _, rec := range tree.AllRecords() {
		n := nodeOf(rec)
		idx.owned[n.String()] = n
		kn := kindName(rec.Kind, rec.Name)
		idx.ownedByName[kn] = append(idx.ownedByName[kn], n)
	}
	for _, f := range tree.SecurityPolicies.Folders {
		idx.folderParent[f.Name] = f.Parent
		deps := make(map[string]Node, len(f.ParentDependencies))
		for _, pd := range f.ParentDependencies {
			n := Node{Kind: pd.Kind, Name: pd.Name, Container: pd.SourceFolder}
			kn := kindName(pd.Kind, pd.Name)
			deps[kn] = n
			idx.anyInherited[kn] = append(idx.anyInherited[kn], n)
		}
		idx.inherited[f.Name] = deps
	}
	for _, s := range tree.SecurityPolicies.Snippets {
		idx.snippetFolders[s.Name] = s.Folders
	}
	return idx
}

// scopes lists the containers whose records rec can see, nearest first.
func (idx *index) scopes(rec types.Record) []string {
	var start []string
	if rec.Snippet != "" {
		start = append([]string{rec.Snippet}, idx.snippetFolders[rec.Snippet]...)
	} else {
		start = []string{rec.Folder}
	}

	var out []string
	seen := make(map[string]bool)
	for _, c := range start {
		for c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
			c = idx.folderParent[c]
		}
	}
	return out
}

// resolve finds the node ref points at. Visible containers win over the
// folder's parent dependencies, which win over any match in the tree.
func (idx *index) resolve(rec types.Record, ref types.Reference) (Node, bool) {
	for _, c := range idx.scopes(rec) {
		for _, k := range ref.Kinds {
			if n, ok := idx.owned[types.RecordKey(k, c, ref.Name)]; ok {
				return n, true
			}
		}
		for _, k := range ref.Kinds {
			if n, ok := idx.inherited[c][kindName(k, ref.Name)]; ok {
				return n, true
			}
		}
	}
	for _, k := range ref.Kinds {
		if nodes := idx.ownedByName[kindName(k, ref.Name)]; len(nodes) > 0 {
			return nodes[0], true
		}
	}
	for _, k := range ref.Kinds {
		if nodes := idx.anyInherited[kindName(k, ref.Name)]; len(nodes) > 0 {
			return nodes[0], true
		}
	}
	return Node{}, false
}

// BuildGraph adds an edge from each record to every record its reference
// fields name. Soft references that match no captured record point at
// the platform catalog and produce no edge.
func BuildGraph(tree *types.Tree) *Graph {
	g := &Graph{
		nodeSet:    make(map[Node]bool),
		out:        make(map[Node][]Edge),
		unresolved: make(map[Node][]types.Reference),
	}
	idx := newIndex(tree)

	records := tree.AllRecords()
	for _, rec := range records {
		g.addNode(nodeOf(rec))
	}
	for _, f := range tree.SecurityPolicies.Folders {
		for _, pd := range f.ParentDependencies {
			g.addNode(Node{Kind: pd.Kind, Name: pd.Name, Container: pd.SourceFolder})
		}
	}

	for _, rec := range records {
		from := nodeOf(rec)
		for _, ref := range rec.References {
			to, ok := idx.resolve(rec, ref)
			if !ok {
				if !ref.Soft {
					g.unresolved[from] = append(g.unresolved[from], ref)
				}
				continue
			}
			g.addEdge(Edge{From: from, To: to, Field: ref.Field})
		}
	}
	return g
}
