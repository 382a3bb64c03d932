package emitter

import (
	"reflect"
	"sort"

	"github.com/yairfalse/ferry/types"
)

// ChangeType classifies a record difference between two trees.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Change is one record that differs between two trees.
type Change struct {
	Type      ChangeType `json:"type"`
	Kind      types.Kind `json:"kind"`
	Container string     `json:"container,omitempty"`
	Name      string     `json:"name"`
	// Fields lists the attributes that changed, for modifications.
	Fields []string `json:"fields,omitempty"`
}

// ignoredFields differ between captures of the same configuration.
var ignoredFields = map[string]bool{"id": true}

// Diff compares the records of two trees. A nil prev yields nil, the
// baseline; identical trees yield an empty slice. Changes are sorted by
// record key.
func Diff(prev, curr *types.Tree) []Change {
	if prev == nil || curr == nil {
		return nil
	}

	before := indexRecords(prev)
	after := indexRecords(curr)
	changes := make([]Change, 0)

	for key, old := range before {
		rec, ok := after[key]
		if !ok {
			changes = append(changes, changeOf(ChangeRemoved, old))
			continue
		}
		if fields := changedFields(old, rec); len(fields) > 0 {
			c := changeOf(ChangeModified, rec)
			c.Fields = fields
			changes = append(changes, c)
		}
	}
	for key, rec := range after {
		if _, ok := before[key]; !ok {
			changes = append(changes, changeOf(ChangeAdded, rec))
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		ki := types.RecordKey(changes[i].Kind, changes[i].Container, changes[i].Name)
		kj := types.RecordKey(changes[j].Kind, changes[j].Container, changes[j].Name)
		if ki != kj {
			return ki < kj
		}
		return changes[i].Type < changes[j].Type
	})
	return changes
}

func indexRecords(tree *types.Tree) map[string]types.Record {
	m := make(map[string]types.Record)
	for _, rec := range tree.AllRecords() {
		m[rec.Key()] = rec
	}
	return m
}

func changeOf(t ChangeType, rec types.Record) Change {
	return Change{Type: t, Kind: rec.Kind, Container: rec.Container(), Name: rec.Name}
}

// changedFields compares top level attributes. Position counts as a field
// for rules.
func changedFields(prev, curr types.Record) []string {
	var fields []string
	seen := make(map[string]bool)
	for k, v := range prev.Attributes {
		seen[k] = true
		if ignoredFields[k] {
			continue
		}
		if !reflect.DeepEqual(v, curr.Attributes[k]) {
			fields = append(fields, k)
		}
	}
	for k := range curr.Attributes {
		if !seen[k] && !ignoredFields[k] {
			fields = append(fields, k)
		}
	}
	if prev.Position != curr.Position {
		fields = append(fields, "position")
	}
	sort.Strings(fields)
	return fields
}

// Summarize counts changes by type.
func Summarize(changes []Change) map[ChangeType]int {
	out := make(map[ChangeType]int)
	for _, c := range changes {
		out[c.Type]++
	}
	return out
}
