package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/ferry/telemetry"
)

// Engine holds compiled guard modules. It is safe for concurrent use
// once loading is done.
type Engine struct {
	logger *telemetry.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	queries map[string]rego.PreparedEvalQuery
}

// NewEngine creates an engine with no guards; it allows everything.
func NewEngine() *Engine {
	return &Engine{
		logger:  telemetry.NewLogger("policy-engine"),
		tracer:  otel.Tracer("github.com/yairfalse/ferry/policy"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// LoadPolicy compiles a Rego module under name. Loading the same name
// again replaces the module.
func (e *Engine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy.load",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query(Query),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	e.mu.Lock()
	e.queries[name] = prepared
	e.mu.Unlock()

	e.logger.WithContext(ctx).Debug().
		Str("policy_name", name).
		Msg("policy loaded")
	return nil
}

// Len returns the number of loaded guards.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queries)
}

// Evaluate runs every guard against input. Guards run in name order so
// reasons come back in a stable order.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	e.mu.RLock()
	names := make([]string, 0, len(e.queries))
	for name := range e.queries {
		names = append(names, name)
	}
	queries := make(map[string]rego.PreparedEvalQuery, len(e.queries))
	for k, v := range e.queries {
		queries[k] = v
	}
	e.mu.RUnlock()
	sort.Strings(names)

	decision := Decision{Result: ResultAllow}
	for _, name := range names {
		reasons, err := evaluatePolicy(ctx, queries[name], input)
		if err != nil {
			return Decision{}, fmt.Errorf("policy %s: %w", name, err)
		}
		if len(reasons) == 0 {
			continue
		}
		decision.Result = ResultDeny
		decision.Reasons = append(decision.Reasons, reasons...)
		decision.Policies = append(decision.Policies, name)
	}

	if decision.Denied() {
		e.logger.WithContext(ctx).Debug().
			Str("kind", string(input.Kind)).
			Str("name", input.Name).
			Strs("reasons", decision.Reasons).
			Msg("push denied by policy")
	}
	return decision, nil
}

// Deny returns the denial reasons for input; none means allowed.
func (e *Engine) Deny(ctx context.Context, input Input) ([]string, error) {
	d, err := e.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}
	return d.Reasons, nil
}

func evaluatePolicy(ctx context.Context, query rego.PreparedEvalQuery, input Input) ([]string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	var reasons []string
	for _, res := range results {
		for _, expr := range res.Expressions {
			reasons = append(reasons, reasonsOf(expr.Value)...)
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}

// reasonsOf flattens a deny value. A set arrives as a slice; a boolean
// true deny yields a generic reason.
func reasonsOf(value any) []string {
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	case string:
		return []string{v}
	case bool:
		if v {
			return []string{"denied by policy"}
		}
	}
	return nil
}
