// Package executor replays a selected part of a captured tree into a
// destination tenant under a conflict policy. Every outcome is journaled
// so a run can be resumed and rolled back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/ferry/api"
	"github.com/yairfalse/ferry/policy"
	"github.com/yairfalse/ferry/telemetry"
	"github.com/yairfalse/ferry/types"
	"github.com/yairfalse/ferry/wal"
)

// Option configures an Engine.
type Option func(*Engine)

// WithJournal journals runs into dir. Without it runs cannot be resumed
// or rolled back.
func WithJournal(dir string) Option {
	return func(e *Engine) { e.journalDir = dir }
}

// WithGuard checks every item against guard before it is written.
func WithGuard(g Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithTracer replaces the process tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithRecorder attaches push metrics.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// Engine pushes trees into one destination tenant.
type Engine struct {
	dest       Destination
	tenant     string
	journalDir string
	guard      Guard
	clock      clock.Clock
	tracer     trace.Tracer
	recorder   Recorder
	logger     *telemetry.Logger
}

// New creates an engine writing to dest, the tenant called tenant.
func New(dest Destination, tenant string, opts ...Option) *Engine {
	e := &Engine{
		dest:     dest,
		tenant:   tenant,
		clock:    clock.WallClock,
		tracer:   telemetry.Tracer,
		recorder: nopRecorder{},
		logger:   telemetry.NewLogger("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the state of one Push call.
type run struct {
	engine    *Engine
	opts      Options
	source    string
	inv       *inventory
	renames   *renames
	completed map[string]wal.Entry
	journal   *wal.WAL
	result    *Result
	span      trace.Span
	total     int
}

// Push writes the selected part of tree to the destination. Item
// failures are entries in the result; an error is returned only when
// the run cannot start, a safety check blocks it, or ctx ends.
func (e *Engine) Push(ctx context.Context, tree *types.Tree, opts Options) (*Result, error) {
	start := e.clock.Now()
	if opts.Policy == "" {
		opts.Policy = PolicySkip
	}
	if opts.RenameSuffix == "" {
		opts.RenameSuffix = DefaultRenameSuffix
	}
	resume := opts.RunID != ""
	if !resume {
		opts.RunID = uuid.NewString()
	}

	result := &Result{
		RunID:   opts.RunID,
		Policy:  string(opts.Policy),
		DryRun:  opts.DryRun,
		Entries: []Entry{},
	}

	subset := opts.Selection.Apply(tree)
	result.Checks = e.preflight(tree, subset, opts)
	for _, check := range result.Checks {
		if check.Blocking() {
			return result, fmt.Errorf("%w: %s: %s", ErrUnsafe, check.Name, check.Message)
		}
		if !check.Passed {
			e.logger.WithContext(ctx).Warn().
				Str("check", check.Name).
				Msg(check.Message)
		}
	}

	ctx, runSpan := telemetry.StartPush(ctx, e.tracer, opts.RunID, e.tenant, string(opts.Policy), opts.DryRun)
	defer runSpan.End()

	r := &run{
		engine:    e,
		opts:      opts,
		source:    tree.Metadata.SourceTenant,
		inv:       newInventory(e.dest, opts.Snapshot),
		renames:   newRenames(tree),
		completed: map[string]wal.Entry{},
		result:    result,
		span:      runSpan.Span(),
	}

	if resume && e.journalDir != "" {
		if err := r.loadCompleted(); err != nil {
			return result, err
		}
	}
	if e.journalDir != "" && !opts.DryRun {
		j, err := wal.Open(e.journalDir, opts.RunID)
		if err != nil {
			return result, fmt.Errorf("failed to open push journal: %w", err)
		}
		defer func() { _ = j.Close() }()
		r.journal = j
		r.journalRun(wal.EntryStarted, map[string]any{
			"tenant":        e.tenant,
			"source_tenant": r.source,
			"policy":        opts.Policy,
			"resume":        resume,
		})
	}

	items := plan(subset)
	r.total = len(items)
	e.logger.LogRunStart(ctx, "push", opts.RunID,
		attribute.String("policy", string(opts.Policy)),
		attribute.Bool("dry_run", opts.DryRun),
		attribute.Int("items", r.total))

	var runErr error
	for _, rec := range items {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		r.record(ctx, r.pushItem(ctx, rec))
	}

	result.Elapsed = e.clock.Now().Sub(start)
	result.ElapsedSeconds = result.Elapsed.Seconds()
	r.journalRun(wal.EntryFinished, result.Summary)

	runSpan.SetCounts(result.Summary.Counts())
	e.recorder.RecordPush(ctx, string(opts.Policy), opts.DryRun, result.Summary.Counts(), result.Elapsed)
	e.logger.WithContext(ctx).Info().
		Str("run_id", opts.RunID).
		Int("created", result.Summary.Created).
		Int("updated", result.Summary.Updated).
		Int("skipped", result.Summary.Skipped).
		Int("renamed", result.Summary.Renamed).
		Int("failed", result.Summary.Failed).
		Int("not_implemented", result.Summary.NotImplemented).
		Dur("duration", result.Elapsed).
		Msg("push finished")

	return result, runErr
}

// Resume continues runID, skipping items the run already wrote.
func (e *Engine) Resume(ctx context.Context, tree *types.Tree, runID string, opts Options) (*Result, error) {
	if e.journalDir == "" {
		return nil, errors.New("resume requires a journal directory")
	}
	if _, err := wal.ReadRun(e.journalDir, runID); err != nil {
		return nil, err
	}
	opts.RunID = runID
	opts.DryRun = false
	return e.Push(ctx, tree, opts)
}

func (r *run) loadCompleted() error {
	entries, err := wal.ReadRun(r.engine.journalDir, r.opts.RunID)
	if errors.Is(err, wal.ErrNoRun) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read push journal: %w", err)
	}
	for _, entry := range entries {
		switch {
		case entry.Type.Completed():
			r.completed[entry.Key] = entry
		case entry.Type == wal.EntryRolledBack:
			delete(r.completed, entry.Key)
		}
	}
	return nil
}

func targetOf(rec types.Record) api.Target {
	return api.Target{Folder: rec.Folder, Snippet: rec.Snippet, Position: rec.Position}
}

func isContainer(kind types.Kind) bool {
	return kind.Family() == types.FamilyContainer
}

// pushItem decides and performs the write for one record.
func (r *run) pushItem(ctx context.Context, rec types.Record) Entry {
	entry := Entry{Kind: rec.Kind, Name: rec.Name, Container: rec.Container()}
	target := targetOf(rec)

	if prev, ok := r.completed[rec.Key()]; ok {
		return r.resumed(entry, target, prev)
	}

	spec, ok := rec.Kind.Spec()
	if !ok {
		return failed(entry, fmt.Errorf("unknown resource kind %q", rec.Kind))
	}
	if rec.IsDefault {
		entry.Action = ActionSkipped
		entry.Message = "platform default"
		return entry
	}
	if !spec.Writable {
		entry.Action = ActionNotImplemented
		entry.Message = fmt.Sprintf("%s: %s", ErrNotImplemented, rec.Kind)
		return entry
	}

	if r.engine.guard != nil {
		input := policy.NewInput(rec)
		input.Source = r.source
		input.Destination = r.engine.tenant
		input.Conflict = string(r.opts.Policy)
		input.DryRun = r.opts.DryRun
		reasons, err := r.engine.guard.Deny(ctx, input)
		if err != nil {
			return failed(entry, fmt.Errorf("policy evaluation: %w", err))
		}
		if len(reasons) > 0 {
			telemetry.RecordPolicyDenyEvent(r.span, string(rec.Kind), rec.Name, reasons)
			entry.Action = ActionSkipped
			entry.Message = "denied by policy: " + strings.Join(reasons, "; ")
			return entry
		}
	}

	attrs := r.prepare(rec)
	id, exists, err := r.inv.lookup(ctx, rec.Kind, target, rec.Name)
	if err != nil {
		return failed(entry, err)
	}

	if exists && isContainer(rec.Kind) {
		entry.Action = ActionSkipped
		entry.ID = id
		entry.Message = "already exists, reused"
		return entry
	}
	if !exists {
		return r.create(ctx, entry, target, attrs)
	}

	switch r.opts.Policy {
	case PolicyOverwrite:
		return r.update(ctx, entry, id, attrs)
	case PolicyRename:
		newName, err := r.inv.freeName(ctx, rec.Kind, target, rec.Name, r.opts.RenameSuffix)
		if err != nil {
			return failed(entry, err)
		}
		attrs["name"] = newName
		entry.NewName = newName
		return r.create(ctx, entry, target, attrs)
	default:
		entry.Action = ActionSkipped
		entry.ID = id
		entry.Message = "already exists"
		return entry
	}
}

// prepare copies the record attributes for writing and points references
// at renamed items.
func (r *run) prepare(rec types.Record) api.Item {
	attrs := types.CloneAttributes(rec.Attributes)
	if attrs == nil {
		attrs = map[string]any{}
	}
	delete(attrs, "id")
	delete(attrs, "folder")
	delete(attrs, "snippet")
	attrs["name"] = rec.Name
	r.renames.rewrite(rec, attrs)
	return attrs
}

func (r *run) create(ctx context.Context, entry Entry, target api.Target, attrs api.Item) Entry {
	name := entry.Name
	if entry.NewName != "" {
		name = entry.NewName
		entry.Message = fmt.Sprintf("renamed from %s", entry.Name)
	}

	if r.opts.DryRun {
		entry.Action = ActionCreated
		entry.Message = strings.TrimPrefix(entry.Message+"; dry run", "; ")
	} else {
		item, err := r.engine.dest.Create(ctx, entry.Kind, target, attrs)
		if err != nil {
			return failed(entry, err)
		}
		entry.Action = ActionCreated
		entry.ID, _ = item["id"].(string)
	}

	r.inv.add(entry.Kind, target, name, entry.ID)
	if isContainer(entry.Kind) {
		r.inv.planned(entry.Kind, name)
	}
	if entry.NewName != "" {
		r.renames.add(entry.Kind, scope(entry.Kind, target), entry.Name, entry.NewName)
	}
	return entry
}

func (r *run) update(ctx context.Context, entry Entry, id string, attrs api.Item) Entry {
	entry.ID = id
	if r.opts.DryRun {
		entry.Action = ActionUpdated
		entry.Message = "dry run"
		return entry
	}
	if _, err := r.engine.dest.Update(ctx, entry.Kind, id, attrs); err != nil {
		return failed(entry, err)
	}
	entry.Action = ActionUpdated
	return entry
}

// resumed reports an item written by an earlier attempt of the run.
func (r *run) resumed(entry Entry, target api.Target, prev wal.Entry) Entry {
	entry.Action = Action(prev.Type)
	entry.NewName = prev.NewName
	entry.ID = prev.ID
	entry.Resumed = true
	entry.Message = "written by an earlier attempt"

	name := entry.Name
	if prev.NewName != "" {
		name = prev.NewName
		r.renames.add(entry.Kind, scope(entry.Kind, target), entry.Name, prev.NewName)
	}
	r.inv.add(entry.Kind, target, name, prev.ID)
	return entry
}

func failed(entry Entry, err error) Entry {
	entry.Action = ActionFailed
	entry.Error = err.Error()
	if errors.Is(err, api.ErrNotFound) {
		entry.Message = "destination does not support this kind"
	}
	return entry
}

// record appends entry to the result, the journal and telemetry.
func (r *run) record(ctx context.Context, entry Entry) {
	entry.Status = entry.Action.Status()
	r.result.Entries = append(r.result.Entries, entry)
	r.result.Summary.add(entry)

	message := entry.Message
	if entry.Error != "" {
		message = entry.Error
	}
	if r.journal != nil && !entry.Resumed {
		err := r.journal.Append(wal.Entry{
			Type:      wal.EntryType(entry.Action),
			Key:       entry.Key(),
			Kind:      string(entry.Kind),
			Container: entry.Container,
			Name:      entry.Name,
			NewName:   entry.NewName,
			ID:        entry.ID,
			Message:   message,
		})
		if err != nil {
			r.engine.logger.WithContext(ctx).Error().
				Err(err).
				Str("key", entry.Key()).
				Msg("failed to journal push outcome")
		}
	}

	telemetry.RecordPushOutcomeEvent(r.span, string(entry.Kind), entry.Container, entry.Name, string(entry.Action), entry.NewName, message)
	r.engine.logger.LogPushOutcome(ctx, string(entry.Kind), entry.Container, entry.Name, string(entry.Action), message)

	if r.opts.Progress != nil {
		r.opts.Progress(fmt.Sprintf("%s %s %s", entry.Action, entry.Kind, entry.Name), len(r.result.Entries), r.total)
	}
}

func (r *run) journalRun(t wal.EntryType, data any) {
	if r.journal == nil {
		return
	}
	if err := r.journal.AppendData(wal.Entry{Type: t}, data); err != nil {
		r.engine.logger.Error().
			Err(err).
			Str("run_id", r.opts.RunID).
			Msg("failed to journal push run")
	}
}
