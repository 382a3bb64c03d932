package emitter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yairfalse/ferry/executor"
)

// LogEmitter writes a summary of each report to a zerolog logger. Failed
// push items are logged individually at warn, changes at debug.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a log emitter.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With().Str("component", "report").Logger()}
}

// Emit logs the report.
func (e *LogEmitter) Emit(_ context.Context, report Report) error {
	switch {
	case report.Pull != nil:
		e.emitPull(report)
	case report.Push != nil:
		e.emitPush(report.Push)
	case report.Rollback != nil:
		rb := report.Rollback
		e.logger.Info().
			Str("run_id", rb.RunID).
			Int("rolled_back", rb.RolledBack).
			Int("failed", rb.Failed).
			Int("irreversible", rb.Irreversible).
			Msg("rollback complete")
	}
	return nil
}

func (e *LogEmitter) emitPull(report Report) {
	p := report.Pull
	event := e.logger.Info().
		Str("run_id", p.RunID).
		Str("tenant", report.Tenant).
		Str("state", string(p.State))
	for name, n := range p.Stats.Counts() {
		event = event.Int(name, n)
	}
	event.Float64("elapsed_seconds", p.Stats.ElapsedSeconds).Msg("pull complete")

	for _, ce := range p.Errors {
		e.logger.Warn().Err(ce).Msg("capture error")
	}

	if report.Changes != nil {
		counts := Summarize(report.Changes)
		e.logger.Info().
			Int("added", counts[ChangeAdded]).
			Int("removed", counts[ChangeRemoved]).
			Int("modified", counts[ChangeModified]).
			Msg("changes since previous snapshot")
		for _, c := range report.Changes {
			e.logger.Debug().
				Str("change", string(c.Type)).
				Str("kind", string(c.Kind)).
				Str("container", c.Container).
				Str("name", c.Name).
				Strs("fields", c.Fields).
				Msg("record changed")
		}
	}
}

func (e *LogEmitter) emitPush(r *executor.Result) {
	s := r.Summary
	e.logger.Info().
		Str("run_id", r.RunID).
		Str("policy", r.Policy).
		Bool("dry_run", r.DryRun).
		Int("total", s.Total).
		Int("created", s.Created).
		Int("updated", s.Updated).
		Int("skipped", s.Skipped).
		Int("renamed", s.Renamed).
		Int("failed", s.Failed).
		Int("not_implemented", s.NotImplemented).
		Int("resumed", s.Resumed).
		Float64("elapsed_seconds", r.ElapsedSeconds).
		Msg("push complete")

	for _, entry := range r.Entries {
		if entry.Action != executor.ActionFailed {
			continue
		}
		e.logger.Warn().
			Str("kind", string(entry.Kind)).
			Str("container", entry.Container).
			Str("name", entry.Name).
			Str("error", entry.Error).
			Msg("push item failed")
	}
}

// Close is a no-op for the log emitter.
func (e *LogEmitter) Close() error {
	return nil
}
