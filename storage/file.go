package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yairfalse/ferry/types"
)

// WriteFile writes tree as an indented JSON document, replacing path
// atomically.
func WriteFile(path string, tree *types.Tree) error {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tree: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ReadFile reads a tree document.
func ReadFile(path string) (*types.Tree, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	tree := &types.Tree{}
	if err := json.Unmarshal(data, tree); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return tree, nil
}
