package orchestrator

import (
	"github.com/yairfalse/ferry/capture"
	"github.com/yairfalse/ferry/resolver"
)

// State is the pull state machine position.
type State string

const (
	StateIdle            State = "idle"
	StateDiscovering     State = "discovering"
	StateCapturingFolder State = "capturing_folder"
	StateResolving       State = "resolving_dependencies"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// ProgressFunc receives progress for each capture sub-step. Calls are
// serialized; the callback must return quickly. current counts finished
// containers, so with several workers consecutive steps may repeat it.
type ProgressFunc func(message string, current, total int)

// Options selects what a pull captures.
type Options struct {
	// Folders to capture; with no folders and no snippets named the
	// whole tenant is captured.
	Folders  []string
	Snippets []string
	// IncludeDefaults also captures platform default snippets. Default
	// records inside captured containers are always kept and tagged.
	IncludeDefaults bool
	// Infrastructure captures folder and tenant infrastructure.
	Infrastructure bool
	// Workers bounds concurrent folder captures.
	Workers  int
	Progress ProgressFunc
}

// Stats counts what a pull captured.
type Stats struct {
	Folders          int     `json:"folders"`
	Rules            int     `json:"rules"`
	Objects          int     `json:"objects"`
	Profiles         int     `json:"profiles"`
	HIP              int     `json:"hip"`
	Infrastructure   int     `json:"infrastructure"`
	Snippets         int     `json:"snippets"`
	DefaultsDetected int     `json:"defaults_detected"`
	Errors           int     `json:"errors"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// Report is the outcome of one pull run.
type Report struct {
	RunID            string                  `json:"run_id"`
	State            State                   `json:"state"`
	Stats            Stats                   `json:"stats"`
	Errors           []*capture.CaptureError `json:"errors"`
	DependencyReport resolver.Report         `json:"dependency_report"`
}

// Counts flattens the stats for span attributes and metrics.
func (s Stats) Counts() map[string]int {
	return map[string]int{
		"folders":           s.Folders,
		"rules":             s.Rules,
		"objects":           s.Objects,
		"profiles":          s.Profiles,
		"hip":               s.HIP,
		"infrastructure":    s.Infrastructure,
		"snippets":          s.Snippets,
		"defaults_detected": s.DefaultsDetected,
		"errors":            s.Errors,
	}
}
