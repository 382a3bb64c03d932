package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ferry/types"
)

const noAnyAllow = `package ferry.push

import rego.v1

deny contains msg if {
	input.kind == "security-rule"
	input.attributes.action == "allow"
	"any" in input.attributes.destination
	msg := sprintf("rule %s allows any destination", [input.name])
}
`

const noLabFolder = `package ferry.push

import rego.v1

deny contains "lab folder is not migrated" if {
	input.folder == "Lab"
}
`

func ruleInput(name, folder string, destination ...any) Input {
	return NewInput(types.Record{
		Kind:   types.KindSecurityRule,
		Name:   name,
		Folder: folder,
		Attributes: map[string]any{
			"name":        name,
			"action":      "allow",
			"destination": destination,
		},
	})
}

func TestEngine_NoPoliciesAllows(t *testing.T) {
	engine := NewEngine()

	decision, err := engine.Evaluate(context.Background(), ruleInput("r1", "Shared", "any"))
	require.NoError(t, err)
	assert.False(t, decision.Denied())
	assert.Empty(t, decision.Reasons)
}

func TestEngine_Deny(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine()
	require.NoError(t, engine.LoadPolicy(ctx, "no-any", noAnyAllow))
	require.NoError(t, engine.LoadPolicy(ctx, "no-lab", noLabFolder))
	assert.Equal(t, 2, engine.Len())

	tests := []struct {
		name     string
		input    Input
		reasons  []string
		policies []string
	}{
		{
			name:  "allowed",
			input: ruleInput("allow-web", "Shared", "web-1"),
		},
		{
			name:     "any destination",
			input:    ruleInput("wide-open", "Shared", "any"),
			reasons:  []string{"rule wide-open allows any destination"},
			policies: []string{"no-any"},
		},
		{
			name:     "both guards",
			input:    ruleInput("wide-open", "Lab", "any"),
			reasons:  []string{"lab folder is not migrated", "rule wide-open allows any destination"},
			policies: []string{"no-any", "no-lab"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.Evaluate(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, len(tt.reasons) > 0, decision.Denied())
			assert.ElementsMatch(t, tt.reasons, decision.Reasons)
			assert.Equal(t, tt.policies, decision.Policies)
		})
	}
}

func TestEngine_OtherPackageIgnored(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine()
	require.NoError(t, engine.LoadPolicy(ctx, "other", `package other

import rego.v1

deny contains "never seen" if { true }
`))

	reasons, err := engine.Deny(ctx, ruleInput("r1", "Shared", "any"))
	require.NoError(t, err)
	assert.Empty(t, reasons)
}

func TestEngine_InvalidPolicy(t *testing.T) {
	engine := NewEngine()
	err := engine.LoadPolicy(context.Background(), "broken", "package ferry.push\n\ndeny contains if {")
	assert.Error(t, err)
	assert.Equal(t, 0, engine.Len())
}
