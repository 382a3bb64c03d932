package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/ferry/api"
	"github.com/yairfalse/ferry/internal/filter"
	"github.com/yairfalse/ferry/policy"
	"github.com/yairfalse/ferry/types"
)

// ErrNotImplemented marks kinds that have no write path.
var ErrNotImplemented = errors.New("push not implemented for kind")

// ErrUnsafe is returned when a preflight check blocks the push.
var ErrUnsafe = errors.New("push blocked by safety check")

// Destination is the write side of a tenant. *api.Client implements it.
type Destination interface {
	List(ctx context.Context, kind types.Kind, target api.Target) ([]api.Item, error)
	Create(ctx context.Context, kind types.Kind, target api.Target, attrs api.Item) (api.Item, error)
	Update(ctx context.Context, kind types.Kind, id string, attrs api.Item) (api.Item, error)
	Delete(ctx context.Context, kind types.Kind, id string) error
}

// Guard decides whether an item may be pushed. *policy.Engine implements it.
type Guard interface {
	Deny(ctx context.Context, input policy.Input) ([]string, error)
}

// Recorder receives push metrics. *internal/telemetry.Provider implements it.
type Recorder interface {
	RecordPush(ctx context.Context, policy string, dryRun bool, counts map[string]int, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordPush(context.Context, string, bool, map[string]int, time.Duration) {}

// ConflictPolicy says what happens when an item already exists in the
// destination container.
type ConflictPolicy string

const (
	PolicySkip      ConflictPolicy = "skip"
	PolicyOverwrite ConflictPolicy = "overwrite"
	PolicyRename    ConflictPolicy = "rename"
)

// DefaultRenameSuffix is appended to renamed items.
const DefaultRenameSuffix = "_imported"

// ParsePolicy converts a policy name, case-insensitively.
func ParsePolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySkip, PolicyOverwrite, PolicyRename:
		return p, nil
	case "":
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Action is the outcome of one pushed item.
type Action string

const (
	ActionCreated        Action = "created"
	ActionUpdated        Action = "updated"
	ActionSkipped        Action = "skipped"
	ActionFailed         Action = "failed"
	ActionNotImplemented Action = "not_implemented"
	ActionRolledBack     Action = "rolled_back"
)

// Status is the coarse outcome of an entry for report consumers.
type Status string

const (
	StatusOK             Status = "ok"
	StatusError          Status = "error"
	StatusNotImplemented Status = "not_implemented"
)

// Status derives from the action.
func (a Action) Status() Status {
	switch a {
	case ActionFailed:
		return StatusError
	case ActionNotImplemented:
		return StatusNotImplemented
	default:
		return StatusOK
	}
}

// Entry is the result of one item. Renamed creations are ActionCreated
// with NewName set.
type Entry struct {
	Kind      types.Kind `json:"kind"`
	Name      string     `json:"name"`
	Container string     `json:"container,omitempty"`
	Action    Action     `json:"action"`
	Status    Status     `json:"status"`
	NewName   string     `json:"new_name,omitempty"`
	ID        string     `json:"id,omitempty"`
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
	// Resumed entries were written by an earlier attempt of the run.
	Resumed bool `json:"resumed,omitempty"`
}

// Key identifies the item the entry is about.
func (e Entry) Key() string {
	return types.RecordKey(e.Kind, e.Container, e.Name)
}

// Summary counts entries per action.
type Summary struct {
	Total          int `json:"total"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Skipped        int `json:"skipped"`
	Renamed        int `json:"renamed"`
	Failed         int `json:"failed"`
	NotImplemented int `json:"not_implemented"`
	Resumed        int `json:"resumed"`
}

func (s *Summary) add(e Entry) {
	s.Total++
	switch e.Action {
	case ActionCreated:
		s.Created++
		if e.NewName != "" {
			s.Renamed++
		}
	case ActionUpdated:
		s.Updated++
	case ActionSkipped:
		s.Skipped++
	case ActionFailed:
		s.Failed++
	case ActionNotImplemented:
		s.NotImplemented++
	}
	if e.Resumed {
		s.Resumed++
	}
}

// Counts flattens the summary for span attributes and metrics.
func (s Summary) Counts() map[string]int {
	return map[string]int{
		"created":         s.Created,
		"updated":         s.Updated,
		"skipped":         s.Skipped,
		"renamed":         s.Renamed,
		"failed":          s.Failed,
		"not_implemented": s.NotImplemented,
	}
}

// Severity of a preflight check
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SafetyCheck is one preflight validation of a push.
type SafetyCheck struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Passed      bool     `json:"passed"`
	Message     string   `json:"message,omitempty"`
}

// Blocking reports whether a failed check stops the push.
func (c SafetyCheck) Blocking() bool {
	return !c.Passed && c.Severity != SeverityWarning
}

// ProgressFunc receives (message, current, total) after each item.
type ProgressFunc func(message string, current, total int)

// Options configure one push.
type Options struct {
	Policy       ConflictPolicy
	RenameSuffix string
	DryRun       bool
	// Selection picks the subset of the tree to push.
	Selection filter.Selection
	// Snapshot is the destination content. When nil the destination is
	// listed lazily.
	Snapshot *types.Tree
	// RunID names the journal; empty starts a new run.
	RunID string
	// AllowSameTenant permits pushing a tree back into its source.
	AllowSameTenant bool
	Progress        ProgressFunc
}

// Result is the outcome of one push.
type Result struct {
	RunID          string        `json:"run_id"`
	Policy         string        `json:"policy"`
	DryRun         bool          `json:"dry_run"`
	Summary        Summary       `json:"summary"`
	Entries        []Entry       `json:"entries"`
	Checks         []SafetyCheck `json:"checks,omitempty"`
	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
}

// RollbackResult is the outcome of undoing a run.
type RollbackResult struct {
	RunID      string `json:"run_id"`
	RolledBack int    `json:"rolled_back"`
	Failed     int    `json:"failed"`
	// Irreversible counts updates; the journal does not hold the state
	// they overwrote.
	Irreversible int     `json:"irreversible"`
	Entries      []Entry `json:"entries"`
}
