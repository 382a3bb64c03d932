package types

import "time"

// FormatVersion is written into every tree document.
const FormatVersion = "1.0"

// Folder is one node of the hierarchical namespace. Its collections hold
// only records created in the folder itself; records inherited from an
// ancestor appear once in ParentDependencies.
type Folder struct {
	ID                 string             `json:"id,omitempty"`
	Name               string             `json:"name"`
	Parent             string             `json:"parent,omitempty"`
	Description        string             `json:"description,omitempty"`
	IsDefault          bool               `json:"is_default"`
	Rules              []Record           `json:"rules"`
	Objects            []Record           `json:"objects"`
	Profiles           []Record           `json:"profiles"`
	HIP                []Record           `json:"hip"`
	Infrastructure     []Record           `json:"infrastructure"`
	ParentDependencies []ParentDependency `json:"parent_dependencies"`
}

// Snippet is a named policy bundle outside the folder tree.
type Snippet struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Folders     []string `json:"folders,omitempty"`
	IsDefault   bool     `json:"is_default"`
	Rules       []Record `json:"rules"`
	Objects     []Record `json:"objects"`
	Profiles    []Record `json:"profiles"`
	HIP         []Record `json:"hip"`
}

// Records returns every record of the folder in push family order.
func (f *Folder) Records() []Record {
	return concat(f.Objects, f.Profiles, f.HIP, f.Infrastructure, f.Rules)
}

// Records returns every record of the snippet in push family order.
func (s *Snippet) Records() []Record {
	return concat(s.Objects, s.Profiles, s.HIP, s.Rules)
}

// Add appends rec to the collection of its family.
func (f *Folder) Add(rec Record) {
	switch rec.Kind.Family() {
	case FamilyRule:
		f.Rules = append(f.Rules, rec)
	case FamilyObject:
		f.Objects = append(f.Objects, rec)
	case FamilyProfile:
		f.Profiles = append(f.Profiles, rec)
	case FamilyHIP:
		f.HIP = append(f.HIP, rec)
	case FamilyInfrastructure:
		f.Infrastructure = append(f.Infrastructure, rec)
	}
}

// Add appends rec to the collection of its family.
func (s *Snippet) Add(rec Record) {
	switch rec.Kind.Family() {
	case FamilyRule:
		s.Rules = append(s.Rules, rec)
	case FamilyObject:
		s.Objects = append(s.Objects, rec)
	case FamilyProfile:
		s.Profiles = append(s.Profiles, rec)
	case FamilyHIP:
		s.HIP = append(s.HIP, rec)
	}
}

func concat(groups ...[]Record) []Record {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	out := make([]Record, 0, n)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Metadata describes the pull run that produced a tree.
type Metadata struct {
	RunID            string    `json:"run_id"`
	SourceTenant     string    `json:"source_tenant"`
	CapturedAt       time.Time `json:"captured_at"`
	Version          string    `json:"version"`
	SelectedFolders  []string  `json:"selected_folders,omitempty"`
	SelectedSnippets []string  `json:"selected_snippets,omitempty"`
	IncludesDefaults bool      `json:"includes_defaults"`
}

// SecurityPolicies holds the folder tree and the snippets.
type SecurityPolicies struct {
	Folders  []Folder  `json:"folders"`
	Snippets []Snippet `json:"snippets"`
}

// Infrastructure holds tenant scoped records keyed by kind.
type Infrastructure map[Kind][]Record

// Tree is the captured configuration of one tenant. A tree is built once
// per pull and read-only afterwards; a re-pull produces a new tree.
type Tree struct {
	Metadata         Metadata         `json:"metadata"`
	SecurityPolicies SecurityPolicies `json:"security_policies"`
	Infrastructure   Infrastructure   `json:"infrastructure"`
}

// Folder returns the folder called name.
func (t *Tree) Folder(name string) (*Folder, bool) {
	for i := range t.SecurityPolicies.Folders {
		if t.SecurityPolicies.Folders[i].Name == name {
			return &t.SecurityPolicies.Folders[i], true
		}
	}
	return nil, false
}

// Snippet returns the snippet called name.
func (t *Tree) Snippet(name string) (*Snippet, bool) {
	for i := range t.SecurityPolicies.Snippets {
		if t.SecurityPolicies.Snippets[i].Name == name {
			return &t.SecurityPolicies.Snippets[i], true
		}
	}
	return nil, false
}

// TenantRecords returns the tenant scoped records in family kind order.
func (t *Tree) TenantRecords() []Record {
	var out []Record
	for _, k := range KindsOfScope(FamilyInfrastructure, ScopeTenant) {
		out = append(out, t.Infrastructure[k]...)
	}
	return out
}

// AllRecords returns every owned record of the tree: folder records,
// snippet records and tenant infrastructure.
func (t *Tree) AllRecords() []Record {
	var out []Record
	for i := range t.SecurityPolicies.Folders {
		out = append(out, t.SecurityPolicies.Folders[i].Records()...)
	}
	for i := range t.SecurityPolicies.Snippets {
		out = append(out, t.SecurityPolicies.Snippets[i].Records()...)
	}
	return append(out, t.TenantRecords()...)
}
