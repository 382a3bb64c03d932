// Package policy evaluates Rego push guards. A guard sees one item about
// to be written to the destination tenant and may deny it with reasons.
package policy

import (
	"github.com/yairfalse/ferry/types"
)

// Query is the rule every guard module contributes to.
const Query = "data.ferry.push.deny"

// Input is the document a guard evaluates as `input`.
type Input struct {
	Kind        types.Kind     `json:"kind"`
	Name        string         `json:"name"`
	Folder      string         `json:"folder,omitempty"`
	Snippet     string         `json:"snippet,omitempty"`
	Position    string         `json:"position,omitempty"`
	IsDefault   bool           `json:"is_default"`
	Attributes  map[string]any `json:"attributes"`
	Source      string         `json:"source_tenant,omitempty"`
	Destination string         `json:"destination_tenant,omitempty"`
	Conflict    string         `json:"conflict_policy"`
	DryRun      bool           `json:"dry_run"`
}

// NewInput builds the guard input for a record.
func NewInput(rec types.Record) Input {
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return Input{
		Kind:       rec.Kind,
		Name:       rec.Name,
		Folder:     rec.Folder,
		Snippet:    rec.Snippet,
		Position:   rec.Position,
		IsDefault:  rec.IsDefault,
		Attributes: attrs,
	}
}

// Result types
type Result string

const (
	ResultAllow Result = "allow"
	ResultDeny  Result = "deny"
)

// Decision is the aggregate outcome of every loaded guard.
type Decision struct {
	Result   Result   `json:"result"`
	Reasons  []string `json:"reasons,omitempty"`
	Policies []string `json:"policies,omitempty"`
}

// Denied reports whether any guard denied the item.
func (d Decision) Denied() bool {
	return d.Result == ResultDeny
}
