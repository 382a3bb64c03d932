// Package orchestrator runs a pull: discovery, per-folder capture,
// dependency resolution and the run report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/ferry/capture"
	"github.com/yairfalse/ferry/resolver"
	"github.com/yairfalse/ferry/telemetry"
	"github.com/yairfalse/ferry/types"
)

// ErrBusy is returned when Pull is called while a pull is running.
var ErrBusy = errors.New("pull already running")

// Recorder receives run metrics. *internal/telemetry.Provider implements it.
type Recorder interface {
	RecordPull(ctx context.Context, state string, records int, d time.Duration)
	RecordCaptureError(ctx context.Context, kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordPull(context.Context, string, int, time.Duration) {}
func (nopRecorder) RecordCaptureError(context.Context, string)             {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = clk }
}

// WithTracer replaces the process tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithRecorder attaches run metrics.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// Orchestrator coordinates discover → capture → resolve for one tenant.
type Orchestrator struct {
	capturer *capture.Capturer
	tenant   string
	clock    clock.Clock
	tracer   trace.Tracer
	recorder Recorder
	logger   *telemetry.Logger

	mu    sync.Mutex
	state State
}

// New creates an orchestrator for the tenant the capturer reads from.
func New(c *capture.Capturer, tenant string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		capturer: c,
		tenant:   tenant,
		clock:    clock.WallClock,
		tracer:   telemetry.Tracer,
		recorder: nopRecorder{},
		logger:   telemetry.NewLogger("orchestrator"),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// begin moves a finished or fresh orchestrator into discovering.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateIdle, StateDone, StateFailed:
		o.state = StateDiscovering
		return nil
	default:
		return ErrBusy
	}
}

// progress serializes callbacks from concurrent folder captures.
type progress struct {
	mu    sync.Mutex
	fn    ProgressFunc
	done  int
	total int
}

func (p *progress) step(message string) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn(message, p.done, p.total)
}

func (p *progress) finish(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if p.fn != nil {
		p.fn(message, p.done, p.total)
	}
}

type folderResult struct {
	folder types.Folder
	errors []*capture.CaptureError
}

type snippetResult struct {
	snippet types.Snippet
	errors  []*capture.CaptureError
}

// Pull captures the selected part of the tenant into a new tree. Capture
// failures are collected in the report; only an auth failure or a failed
// discovery fails the run, in which case the tree is nil.
func (o *Orchestrator) Pull(ctx context.Context, opts Options) (*types.Tree, *Report, error) {
	if err := o.begin(); err != nil {
		return nil, nil, err
	}

	start := o.clock.Now()
	report := &Report{RunID: uuid.NewString(), State: StateDiscovering}
	ctx, run := telemetry.StartPull(ctx, o.tracer, report.RunID, o.tenant)
	defer run.End()

	o.logger.LogRunStart(ctx, "pull", report.RunID,
		attribute.String("tenant", o.tenant),
		attribute.StringSlice("folders", opts.Folders),
		attribute.StringSlice("snippets", opts.Snippets))

	folders, snippets, err := o.discover(ctx, opts, report)
	if err != nil {
		return o.fail(ctx, run, report, start, err)
	}

	o.setState(StateCapturingFolder)
	report.State = StateCapturingFolder
	folderResults, snippetResults, infra, err := o.captureAll(ctx, opts, folders, snippets, report)
	if err != nil {
		return o.fail(ctx, run, report, start, err)
	}

	tree := o.assemble(report.RunID, opts, folderResults, snippetResults, infra)

	o.setState(StateResolving)
	report.State = StateResolving
	_, span := telemetry.StartResolve(ctx, o.tracer)
	report.DependencyReport = resolver.DependencyReport(tree)
	telemetry.EndResolve(span,
		report.DependencyReport.Statistics.TotalNodes,
		report.DependencyReport.Statistics.TotalEdges,
		report.DependencyReport.Validation.Valid)

	report.Stats = countStats(tree)
	report.Stats.Errors = len(report.Errors)
	report.Stats.ElapsedSeconds = o.clock.Now().Sub(start).Seconds()

	o.setState(StateDone)
	report.State = StateDone
	run.SetCounts(report.Stats.Counts())
	o.recorder.RecordPull(ctx, string(StateDone), len(tree.AllRecords()), o.clock.Now().Sub(start))

	o.logger.WithContext(ctx).Info().
		Str("run_id", report.RunID).
		Int("folders", report.Stats.Folders).
		Int("snippets", report.Stats.Snippets).
		Int("errors", report.Stats.Errors).
		Bool("valid", report.DependencyReport.Validation.Valid).
		Float64("elapsed_seconds", report.Stats.ElapsedSeconds).
		Msg("pull complete")

	return tree, report, nil
}

func (o *Orchestrator) fail(ctx context.Context, run *telemetry.RunSpan, report *Report, start time.Time, err error) (*types.Tree, *Report, error) {
	o.setState(StateFailed)
	report.State = StateFailed
	report.Stats.Errors = len(report.Errors)
	report.Stats.ElapsedSeconds = o.clock.Now().Sub(start).Seconds()

	telemetry.RecordError(run.Span(), err.Error(), "pull")
	o.recorder.RecordPull(ctx, string(StateFailed), 0, o.clock.Now().Sub(start))
	o.logger.WithContext(ctx).Error().
		Err(err).
		Str("run_id", report.RunID).
		Msg("pull failed")
	return nil, report, err
}

// discover lists the namespace and narrows it to the selection. Named
// containers that do not exist become capture errors.
func (o *Orchestrator) discover(ctx context.Context, opts Options, report *Report) ([]types.Folder, []types.Snippet, error) {
	restricted := len(opts.Folders) > 0 || len(opts.Snippets) > 0

	allFolders, err := o.capturer.DiscoverFolders(ctx)
	if err != nil {
		return nil, nil, err
	}
	folders := allFolders
	if restricted {
		folders = pick(allFolders, opts.Folders, func(f types.Folder) string { return f.Name })
		report.Errors = append(report.Errors, notFound(types.KindFolder, opts.Folders, folders, func(f types.Folder) string { return f.Name })...)
	}

	if restricted && len(opts.Snippets) == 0 {
		return folders, nil, nil
	}

	allSnippets, err := o.capturer.DiscoverSnippets(ctx)
	if err != nil {
		return nil, nil, err
	}
	var snippets []types.Snippet
	if restricted {
		snippets = pick(allSnippets, opts.Snippets, func(s types.Snippet) string { return s.Name })
		report.Errors = append(report.Errors, notFound(types.KindSnippet, opts.Snippets, snippets, func(s types.Snippet) string { return s.Name })...)
	} else {
		for _, s := range allSnippets {
			if s.IsDefault && !opts.IncludeDefaults {
				continue
			}
			snippets = append(snippets, s)
		}
	}
	return folders, snippets, nil
}

func pick[T any](all []T, names []string, name func(T) string) []T {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []T
	for _, v := range all {
		if want[name(v)] {
			out = append(out, v)
		}
	}
	return out
}

func notFound[T any](kind types.Kind, names []string, found []T, name func(T) string) []*capture.CaptureError {
	have := make(map[string]bool, len(found))
	for _, v := range found {
		have[name(v)] = true
	}
	var errs []*capture.CaptureError
	for _, n := range names {
		if have[n] {
			continue
		}
		errs = append(errs, &capture.CaptureError{
			Container: n,
			Kind:      kind,
			Err:       fmt.Errorf("%s %q not found or not migratable", kind, n),
			Message:   fmt.Sprintf("%s %q not found or not migratable", kind, n),
		})
	}
	return errs
}

// captureAll fans folder and snippet capture out over a bounded pool.
// Each worker writes only its own result slot.
func (o *Orchestrator) captureAll(ctx context.Context, opts Options, folders []types.Folder, snippets []types.Snippet, report *Report) ([]folderResult, []snippetResult, types.Infrastructure, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	prog := &progress{fn: opts.Progress, total: len(folders) + len(snippets)}
	folderResults := make([]folderResult, len(folders))
	snippetResults := make([]snippetResult, len(snippets))
	infra := types.Infrastructure{}
	var infraErrs []*capture.CaptureError

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range folders {
		g.Go(func() error {
			folderResults[i] = o.captureFolder(gctx, folders[i], opts.Infrastructure, prog)
			return firstFatal(folderResults[i].errors)
		})
	}
	for i := range snippets {
		g.Go(func() error {
			snippetResults[i] = o.captureSnippet(gctx, snippets[i], prog)
			return firstFatal(snippetResults[i].errors)
		})
	}
	if opts.Infrastructure {
		g.Go(func() error {
			var errs []*capture.CaptureError
			infra, errs = o.capturer.CaptureTenantInfrastructure(gctx)
			for _, e := range errs {
				o.noteError(gctx, nil, e)
			}
			infraErrs = errs
			return firstFatal(errs)
		})
	}

	err := g.Wait()
	if err == nil {
		// Cut-short containers are reported as errors; the tree is partial.
		err = ctx.Err()
	}
	for _, r := range folderResults {
		report.Errors = append(report.Errors, r.errors...)
	}
	for _, r := range snippetResults {
		report.Errors = append(report.Errors, r.errors...)
	}
	report.Errors = append(report.Errors, infraErrs...)
	if err != nil {
		return nil, nil, nil, err
	}
	return folderResults, snippetResults, infra, nil
}

func firstFatal(errs []*capture.CaptureError) error {
	for _, e := range errs {
		if e.Fatal() {
			return e
		}
	}
	return nil
}

func (o *Orchestrator) noteError(ctx context.Context, span trace.Span, e *capture.CaptureError) {
	telemetry.RecordCaptureErrorEvent(span, e.Container, string(e.Kind), e.Message)
	o.logger.LogCaptureError(ctx, e.Container, string(e.Kind), e.Err)
	o.recorder.RecordCaptureError(ctx, string(e.Kind))
}

// interrupted records a capture step that never ran because ctx ended.
func interrupted(container string, kind types.Kind, step string, err error) *capture.CaptureError {
	return &capture.CaptureError{
		Container: container,
		Kind:      kind,
		Err:       err,
		Message:   fmt.Sprintf("%s not captured: %v", step, err),
	}
}

type step struct {
	name string
	run  func(context.Context, string) capture.Result
}

// captureFolder runs rules, objects, profiles, then infrastructure and
// HIP for one folder. It stops early on a fatal error.
func (o *Orchestrator) captureFolder(ctx context.Context, folder types.Folder, withInfra bool, prog *progress) folderResult {
	started := o.clock.Now()
	ctx, span := telemetry.StartFolderCapture(ctx, o.tracer, folder.Name)

	steps := []step{
		{"rules", o.capturer.CaptureRules},
		{"objects", o.capturer.CaptureObjects},
		{"profiles", o.capturer.CaptureProfiles},
	}
	if withInfra {
		steps = append(steps, step{"infrastructure", o.capturer.CaptureInfrastructure})
	}
	steps = append(steps, step{"hip", o.capturer.CaptureHIP})

	res := folderResult{folder: folder}

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			for _, skipped := range steps[i:] {
				e := interrupted(folder.Name, types.KindFolder, skipped.name, err)
				o.noteError(ctx, span, e)
				res.errors = append(res.errors, e)
			}
			break
		}
		prog.step(fmt.Sprintf("capturing %s in %s", s.name, folder.Name))
		r := s.run(ctx, folder.Name)
		for _, rec := range r.Owned {
			res.folder.Add(rec)
		}
		res.folder.ParentDependencies = append(res.folder.ParentDependencies, r.Parents...)
		for _, e := range r.Errors {
			o.noteError(ctx, span, e)
		}
		res.errors = append(res.errors, r.Errors...)
		if firstFatal(r.Errors) != nil {
			break
		}
	}

	records := len(res.folder.Records())
	telemetry.EndFolderCapture(span, records, len(res.folder.ParentDependencies), len(res.errors))
	o.logger.LogFolderCaptured(ctx, folder.Name, records, len(res.folder.ParentDependencies), o.clock.Now().Sub(started))
	prog.finish(fmt.Sprintf("captured folder %s", folder.Name))
	return res
}

func (o *Orchestrator) captureSnippet(ctx context.Context, snippet types.Snippet, prog *progress) snippetResult {
	ctx, span := telemetry.StartFolderCapture(ctx, o.tracer, snippet.Name)
	prog.step(fmt.Sprintf("capturing snippet %s", snippet.Name))

	res := snippetResult{snippet: snippet}
	if err := ctx.Err(); err != nil {
		e := interrupted(snippet.Name, types.KindSnippet, "contents", err)
		o.noteError(ctx, span, e)
		res.errors = []*capture.CaptureError{e}
		telemetry.EndFolderCapture(span, 0, 0, 1)
		prog.finish(fmt.Sprintf("skipped snippet %s", snippet.Name))
		return res
	}
	r := o.capturer.CaptureSnippetContents(ctx, snippet.Name)
	for _, rec := range r.Owned {
		res.snippet.Add(rec)
	}
	for _, e := range r.Errors {
		o.noteError(ctx, span, e)
	}
	res.errors = r.Errors

	telemetry.EndFolderCapture(span, len(r.Owned), 0, len(r.Errors))
	prog.finish(fmt.Sprintf("captured snippet %s", snippet.Name))
	return res
}

// assemble builds the tree with deterministic ordering. Rule order is
// kept as captured.
func (o *Orchestrator) assemble(runID string, opts Options, folders []folderResult, snippets []snippetResult, infra types.Infrastructure) *types.Tree {
	tree := &types.Tree{
		Metadata: types.Metadata{
			RunID:            runID,
			SourceTenant:     o.tenant,
			CapturedAt:       o.clock.Now().UTC(),
			Version:          types.FormatVersion,
			SelectedFolders:  sortedCopy(opts.Folders),
			SelectedSnippets: sortedCopy(opts.Snippets),
			IncludesDefaults: opts.IncludeDefaults,
		},
		SecurityPolicies: types.SecurityPolicies{
			Folders:  make([]types.Folder, 0, len(folders)),
			Snippets: make([]types.Snippet, 0, len(snippets)),
		},
		Infrastructure: types.Infrastructure{},
	}

	for _, r := range folders {
		f := r.folder
		types.SortRecords(f.Objects)
		types.SortRecords(f.Profiles)
		types.SortRecords(f.HIP)
		types.SortRecords(f.Infrastructure)
		types.SortParentDependencies(f.ParentDependencies)
		f.Rules = orEmpty(f.Rules)
		f.Objects = orEmpty(f.Objects)
		f.Profiles = orEmpty(f.Profiles)
		f.HIP = orEmpty(f.HIP)
		f.Infrastructure = orEmpty(f.Infrastructure)
		if f.ParentDependencies == nil {
			f.ParentDependencies = []types.ParentDependency{}
		}
		tree.SecurityPolicies.Folders = append(tree.SecurityPolicies.Folders, f)
	}
	sort.SliceStable(tree.SecurityPolicies.Folders, func(i, j int) bool {
		return tree.SecurityPolicies.Folders[i].Name < tree.SecurityPolicies.Folders[j].Name
	})

	for _, r := range snippets {
		s := r.snippet
		types.SortRecords(s.Objects)
		types.SortRecords(s.Profiles)
		types.SortRecords(s.HIP)
		s.Rules = orEmpty(s.Rules)
		s.Objects = orEmpty(s.Objects)
		s.Profiles = orEmpty(s.Profiles)
		s.HIP = orEmpty(s.HIP)
		tree.SecurityPolicies.Snippets = append(tree.SecurityPolicies.Snippets, s)
	}
	sort.SliceStable(tree.SecurityPolicies.Snippets, func(i, j int) bool {
		return tree.SecurityPolicies.Snippets[i].Name < tree.SecurityPolicies.Snippets[j].Name
	})

	for kind, recs := range infra {
		if len(recs) == 0 {
			continue
		}
		sorted := append([]types.Record(nil), recs...)
		types.SortRecords(sorted)
		tree.Infrastructure[kind] = sorted
	}
	return tree
}

func orEmpty(recs []types.Record) []types.Record {
	if recs == nil {
		return []types.Record{}
	}
	return recs
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

func countStats(tree *types.Tree) Stats {
	var s Stats
	count := func(recs []types.Record) int {
		for _, r := range recs {
			if r.IsDefault {
				s.DefaultsDetected++
			}
		}
		return len(recs)
	}
	for i := range tree.SecurityPolicies.Folders {
		f := &tree.SecurityPolicies.Folders[i]
		s.Folders++
		s.Rules += count(f.Rules)
		s.Objects += count(f.Objects)
		s.Profiles += count(f.Profiles)
		s.HIP += count(f.HIP)
		s.Infrastructure += count(f.Infrastructure)
	}
	for i := range tree.SecurityPolicies.Snippets {
		sn := &tree.SecurityPolicies.Snippets[i]
		s.Snippets++
		s.Rules += count(sn.Rules)
		s.Objects += count(sn.Objects)
		s.Profiles += count(sn.Profiles)
		s.HIP += count(sn.HIP)
	}
	for _, recs := range tree.Infrastructure {
		s.Infrastructure += count(recs)
	}
	return s
}
