package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yairfalse/ferry/telemetry"
)

// Loader reads .rego files into an Engine.
type Loader struct {
	engine *Engine
	logger *telemetry.Logger
}

// NewLoader creates a loader feeding engine.
func NewLoader(engine *Engine) *Loader {
	return &Loader{
		engine: engine,
		logger: telemetry.NewLogger("policy-loader"),
	}
}

// Load loads every path. A directory contributes each .rego file below
// it; a file is loaded whatever its extension.
func (l *Loader) Load(ctx context.Context, paths ...string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("policy path %s: %w", path, err)
		}
		if !info.IsDir() {
			if err := l.loadFile(ctx, path); err != nil {
				return err
			}
			continue
		}
		if err := l.loadDir(ctx, path); err != nil {
			return err
		}
	}

	l.logger.WithContext(ctx).Info().
		Int("policies", l.engine.Len()).
		Msg("policies loaded")
	return nil
}

func (l *Loader) loadDir(ctx context.Context, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}
		if err := validateFilePath(root, path); err != nil {
			return fmt.Errorf("invalid file path %s: %w", path, err)
		}
		return l.loadFile(ctx, path)
	})
}

func (l *Loader) loadFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := l.engine.LoadPolicy(ctx, name, string(content)); err != nil {
		return fmt.Errorf("failed to load policy %s from %s: %w", name, path, err)
	}
	return nil
}

// validateFilePath rejects files that resolve outside root.
func validateFilePath(root, path string) error {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected")
	}
	return nil
}
