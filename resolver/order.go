package resolver

import (
	"github.com/yairfalse/ferry/types"
)

// Order sorts records so that a record comes after the records of the
// same slice it references. Unrelated records keep their input order.
// Records caught in a cycle are appended in input order.
func Order(records []types.Record) []types.Record {
	if len(records) < 2 {
		return records
	}

	pos := make(map[string][]int, len(records))
	for i, rec := range records {
		kn := kindName(rec.Kind, rec.Name)
		pos[kn] = append(pos[kn], i)
	}

	indegree := make([]int, len(records))
	dependents := make([][]int, len(records))
	for i, rec := range records {
		seen := make(map[int]bool)
		for _, ref := range rec.References {
			for _, k := range ref.Kinds {
				for _, j := range pos[kindName(k, ref.Name)] {
					if j == i || seen[j] {
						continue
					}
					seen[j] = true
					indegree[i]++
					dependents[j] = append(dependents[j], i)
				}
			}
		}
	}

	out := make([]types.Record, 0, len(records))
	done := make([]bool, len(records))
	for len(out) < len(records) {
		// Lowest ready index first keeps the order stable.
		next := -1
		for i := range records {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			for i := range records {
				if !done[i] {
					out = append(out, records[i])
				}
			}
			break
		}
		done[next] = true
		out = append(out, records[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return out
}
