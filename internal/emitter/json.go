package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// JSONEmitter writes each report as an indented JSON document.
type JSONEmitter struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONEmitter writes reports to w. Close does not close w.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{w: w}
}

// NewJSONFileEmitter writes reports to the file at path, truncating it.
func NewJSONFileEmitter(path string) (*JSONEmitter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create report directory: %w", err)
		}
	}
	f, err := os.Create(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("create report file: %w", err)
	}
	return &JSONEmitter{w: f, closer: f}, nil
}

// Emit writes the report.
func (e *JSONEmitter) Emit(_ context.Context, report Report) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	enc := json.NewEncoder(e.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write %s report: %w", report.Command, err)
	}
	return nil
}

// Close closes the file the emitter opened.
func (e *JSONEmitter) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}
