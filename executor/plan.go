package executor

import (
	"sort"

	"github.com/yairfalse/ferry/resolver"
	"github.com/yairfalse/ferry/types"
)

// Families pushed after the containers, in write order. Referenced
// families come first so their items exist before rules name them.
var folderFamilies = []types.Family{
	types.FamilyObject,
	types.FamilyProfile,
	types.FamilyHIP,
	types.FamilyInfrastructure,
	types.FamilyRule,
}

var snippetFamilies = []types.Family{
	types.FamilyObject,
	types.FamilyProfile,
	types.FamilyHIP,
	types.FamilyRule,
}

// plan flattens tree into push order: folders, then each folder family
// across all folders, then every snippet with its contents.
func plan(tree *types.Tree) []types.Record {
	folders := orderFolders(tree.SecurityPolicies.Folders)

	var items []types.Record
	for _, f := range folders {
		if !f.IsDefault {
			items = append(items, folderRecord(f))
		}
	}

	for _, family := range folderFamilies {
		var recs []types.Record
		for _, f := range folders {
			recs = append(recs, folderFamily(f, family)...)
		}
		if family == types.FamilyInfrastructure {
			recs = append(recs, tree.TenantRecords()...)
		}
		items = append(items, orderFamily(family, recs)...)
	}

	for i := range tree.SecurityPolicies.Snippets {
		s := &tree.SecurityPolicies.Snippets[i]
		if !s.IsDefault {
			items = append(items, snippetRecord(s))
		}
		for _, family := range snippetFamilies {
			items = append(items, orderFamily(family, snippetFamily(s, family))...)
		}
	}
	return items
}

// orderFamily sorts by dependency. Rules keep their captured order.
func orderFamily(family types.Family, recs []types.Record) []types.Record {
	if family == types.FamilyRule {
		return recs
	}
	return resolver.Order(recs)
}

// orderFolders puts every folder after its parent, keeping tree order
// otherwise.
func orderFolders(folders []types.Folder) []*types.Folder {
	byName := make(map[string]*types.Folder, len(folders))
	out := make([]*types.Folder, len(folders))
	for i := range folders {
		byName[folders[i].Name] = &folders[i]
		out[i] = &folders[i]
	}

	depth := make(map[string]int, len(folders))
	var depthOf func(f *types.Folder, seen map[string]bool) int
	depthOf = func(f *types.Folder, seen map[string]bool) int {
		if d, ok := depth[f.Name]; ok {
			return d
		}
		d := 0
		if parent, ok := byName[f.Parent]; ok && !seen[f.Name] {
			seen[f.Name] = true
			d = depthOf(parent, seen) + 1
		}
		depth[f.Name] = d
		return d
	}
	for _, f := range out {
		depthOf(f, map[string]bool{})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return depth[out[i].Name] < depth[out[j].Name]
	})
	return out
}

func folderFamily(f *types.Folder, family types.Family) []types.Record {
	switch family {
	case types.FamilyObject:
		return f.Objects
	case types.FamilyProfile:
		return f.Profiles
	case types.FamilyHIP:
		return f.HIP
	case types.FamilyInfrastructure:
		return f.Infrastructure
	case types.FamilyRule:
		return f.Rules
	}
	return nil
}

func snippetFamily(s *types.Snippet, family types.Family) []types.Record {
	switch family {
	case types.FamilyObject:
		return s.Objects
	case types.FamilyProfile:
		return s.Profiles
	case types.FamilyHIP:
		return s.HIP
	case types.FamilyRule:
		return s.Rules
	}
	return nil
}

func folderRecord(f *types.Folder) types.Record {
	attrs := map[string]any{"name": f.Name}
	if f.Parent != "" {
		attrs["parent"] = f.Parent
	}
	if f.Description != "" {
		attrs["description"] = f.Description
	}
	return types.Record{Kind: types.KindFolder, Name: f.Name, ID: f.ID, IsDefault: f.IsDefault, Attributes: attrs}
}

func snippetRecord(s *types.Snippet) types.Record {
	attrs := map[string]any{"name": s.Name}
	if s.Description != "" {
		attrs["description"] = s.Description
	}
	if len(s.Folders) > 0 {
		folders := make([]any, 0, len(s.Folders))
		for _, f := range s.Folders {
			folders = append(folders, map[string]any{"name": f})
		}
		attrs["folders"] = folders
	}
	return types.Record{Kind: types.KindSnippet, Name: s.Name, ID: s.ID, IsDefault: s.IsDefault, Attributes: attrs}
}
