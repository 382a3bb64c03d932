// Package emitter defines the report sinks for Ferry runs.
package emitter

import (
	"context"
	"time"

	"github.com/yairfalse/ferry/executor"
	"github.com/yairfalse/ferry/orchestrator"
	"github.com/yairfalse/ferry/types"
)

// Command names carried in reports.
const (
	CommandPull     = "pull"
	CommandPush     = "push"
	CommandRollback = "rollback"
)

// Report is the outcome of one CLI command. Only the section matching
// Command is set.
type Report struct {
	Command  string                   `json:"command"`
	Tenant   string                   `json:"tenant"`
	RunID    string                   `json:"run_id"`
	Time     time.Time                `json:"time"`
	Pull     *orchestrator.Report     `json:"pull,omitempty"`
	Push     *executor.Result         `json:"push,omitempty"`
	Rollback *executor.RollbackResult `json:"rollback,omitempty"`
	// Changes against the previous snapshot of the same tenant.
	Changes []Change `json:"changes,omitempty"`

	// Tree is the captured tree of a pull; it is not serialized.
	Tree *types.Tree `json:"-"`
}

// Emitter outputs run reports to a backend.
type Emitter interface {
	// Emit sends the report to the backend.
	Emit(ctx context.Context, report Report) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, report Report) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, report); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}
