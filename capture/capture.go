// Package capture turns raw service items into canonical records.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/ferry/api"
	"github.com/yairfalse/ferry/defaults"
	"github.com/yairfalse/ferry/internal/filter"
	"github.com/yairfalse/ferry/types"
)

// Lister reads resources from a tenant. *api.Client implements it.
type Lister interface {
	List(ctx context.Context, kind types.Kind, target api.Target) ([]api.Item, error)
}

// CaptureError is a failure scoped to one folder or snippet and kind.
// It is recorded in the run and never aborts it.
type CaptureError struct {
	Container string     `json:"container"`
	Kind      types.Kind `json:"kind"`
	Err       error      `json:"-"`
	Message   string     `json:"message"`
}

func newCaptureError(container string, kind types.Kind, err error) *CaptureError {
	return &CaptureError{Container: container, Kind: kind, Err: err, Message: err.Error()}
}

func (e *CaptureError) Error() string {
	if e.Container == "" {
		return fmt.Sprintf("capture %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("capture %s in %s: %s", e.Kind, e.Container, e.Message)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error ends the whole session.
func (e *CaptureError) Fatal() bool {
	var authErr *api.AuthError
	return errors.As(e.Err, &authErr)
}

// Capturer captures the configuration of one tenant.
type Capturer struct {
	client     Lister
	classifier defaults.Classifier
	filter     *filter.Filter
	logger     zerolog.Logger
}

// New creates a Capturer. A nil classifier classifies nothing as default;
// a nil filter only drops the built-in non-migratable folders.
func New(client Lister, classifier defaults.Classifier, f *filter.Filter) *Capturer {
	if classifier == nil {
		classifier = defaults.None
	}
	if f == nil {
		f = filter.New(nil, nil)
	}
	return &Capturer{
		client:     client,
		classifier: classifier,
		filter:     f,
		logger:     log.With().Str("component", "capture").Logger(),
	}
}

// Result is what capturing one family in one container found.
type Result struct {
	Owned   []types.Record
	Parents []types.ParentDependency
	Errors  []*CaptureError
}

// Defaults counts the owned records classified as defaults.
func (r Result) Defaults() int {
	n := 0
	for _, rec := range r.Owned {
		if rec.IsDefault {
			n++
		}
	}
	return n
}

// toRecord normalizes one item. container is the folder or snippet the
// item was listed for and fills in a missing owner.
func (c *Capturer) toRecord(kind types.Kind, item api.Item, target api.Target) types.Record {
	name, _ := item["name"].(string)
	id, _ := item["id"].(string)
	folder, _ := item["folder"].(string)
	snippet, _ := item["snippet"].(string)
	if folder == "" && snippet == "" && kind.MustSpec().Scope == types.ScopeFolder {
		folder, snippet = target.Folder, target.Snippet
	}

	attrs := make(map[string]any, len(item))
	for k, v := range item {
		switch k {
		case "id", "folder", "snippet":
			continue
		}
		attrs[k] = v
	}

	source := folder
	if source == "" {
		source = snippet
	}
	return types.Record{
		Kind:       kind,
		Name:       name,
		ID:         id,
		Folder:     folder,
		Snippet:    snippet,
		Position:   target.Position,
		IsDefault:  c.classifier.Classify(kind, name, source),
		References: types.ExtractReferences(kind, name, attrs),
		Attributes: attrs,
	}
}
