package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadDirectoryAndFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-any.rego"), []byte(noAnyAllow), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a policy"), 0600))

	extra := filepath.Join(t.TempDir(), "lab.policy")
	require.NoError(t, os.WriteFile(extra, []byte(noLabFolder), 0600))

	engine := NewEngine()
	require.NoError(t, NewLoader(engine).Load(context.Background(), dir, extra))
	assert.Equal(t, 2, engine.Len())

	reasons, err := engine.Deny(context.Background(), ruleInput("r", "Lab", "web"))
	require.NoError(t, err)
	assert.Equal(t, []string{"lab folder is not migrated"}, reasons)
}

func TestLoader_MissingPath(t *testing.T) {
	err := NewLoader(NewEngine()).Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoader_CompileError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rego")
	require.NoError(t, os.WriteFile(path, []byte("package ferry.push\n\ndeny contains"), 0600))

	err := NewLoader(NewEngine()).Load(context.Background(), path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestValidateFilePath(t *testing.T) {
	assert.NoError(t, validateFilePath("/policies", "/policies/a/b.rego"))
	assert.Error(t, validateFilePath("/policies", "/etc/passwd"))
}
