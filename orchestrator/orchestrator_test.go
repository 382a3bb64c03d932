package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yairfalse/ferry/api"
	"github.com/yairfalse/ferry/capture"
	"github.com/yairfalse/ferry/defaults"
	"github.com/yairfalse/ferry/internal/filter"
	"github.com/yairfalse/ferry/internal/tenanttest"
	"github.com/yairfalse/ferry/types"
)

func newClient(t *testing.T, tn *tenanttest.Tenant, secret string) *api.Client {
	t.Helper()
	cfg := api.DefaultConfig()
	cfg.BaseURL = tn.URL()
	cfg.AuthURL = tn.AuthURL()
	cfg.Credentials = api.Credentials{
		TSGID:        tenanttest.TSGID,
		ClientID:     tenanttest.ClientID,
		ClientSecret: secret,
	}
	cfg.RateLimit = 100000
	cfg.RetryDelay = time.Millisecond
	cfg.CacheTTL = 0
	return api.NewClient(cfg)
}

func newOrchestrator(t *testing.T, tn *tenanttest.Tenant, opts ...Option) *Orchestrator {
	t.Helper()
	client := newClient(t, tn, tenanttest.ClientSecret)
	c := capture.New(client, defaults.Builtin(), filter.New(nil, nil))
	return New(c, tenanttest.TSGID, opts...)
}

// seedMobileUsers builds Shared with one address group and Mobile Users
// below it with a rule that references the group.
func seedMobileUsers(tn *tenanttest.Tenant) {
	tn.AddFolder("Shared", "")
	tn.AddFolder("Mobile Users", "Shared")
	tn.Add(types.KindAddressGroup, "Shared", map[string]any{"name": "corp-nets", "dynamic": map[string]any{"filter": "'corp'"}})
	tn.AddRule("Mobile Users", types.PositionPre, map[string]any{
		"name":        "allow-corp",
		"source":      []any{"any"},
		"destination": []any{"corp-nets"},
		"service":     []any{"application-default"},
		"application": []any{"web-browsing"},
		"action":      "allow",
	})
}

func TestPull_ChildFolderTracksParentDependency(t *testing.T) {
	tn := tenanttest.New(t)
	seedMobileUsers(tn)
	orch := newOrchestrator(t, tn)

	tree, report, err := orch.Pull(context.Background(), Options{Folders: []string{"Mobile Users"}, Workers: 2})
	require.NoError(t, err)

	require.Len(t, tree.SecurityPolicies.Folders, 1)
	folder := tree.SecurityPolicies.Folders[0]
	assert.Equal(t, "Mobile Users", folder.Name)
	assert.Empty(t, folder.Objects, "inherited group must not be owned")
	require.Len(t, folder.Rules, 1)
	assert.Equal(t, []types.ParentDependency{
		{Kind: types.KindAddressGroup, Name: "corp-nets", SourceFolder: "Shared"},
	}, folder.ParentDependencies)
	assert.Empty(t, tree.SecurityPolicies.Snippets)

	assert.True(t, report.DependencyReport.Validation.Valid)
	assert.Empty(t, report.DependencyReport.Validation.MissingDependencies)
	assert.Equal(t, 1, report.DependencyReport.Statistics.TotalEdges)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, StateDone, orch.State())
	assert.Equal(t, 1, report.Stats.Folders)
	assert.Equal(t, 1, report.Stats.Rules)
	assert.Equal(t, 0, report.Stats.Objects)
	assert.Equal(t, []string{"Mobile Users"}, tree.Metadata.SelectedFolders)
	assert.Equal(t, tenanttest.TSGID, tree.Metadata.SourceTenant)
	assert.Equal(t, report.RunID, tree.Metadata.RunID)
}

func seedTenant(tn *tenanttest.Tenant) {
	seedMobileUsers(tn)
	tn.Add(types.KindAddress, "Shared", map[string]any{"name": "web-1", "ip_netmask": "10.0.0.1/32"})
	tn.Add(types.KindService, "Shared", map[string]any{"name": "service-http"})
	tn.Add(types.KindTag, "Mobile Users", map[string]any{"name": "mobile"})
	tn.Add(types.KindIKECryptoProfile, "Shared", map[string]any{"name": "ike-strong"})
	tn.AddRule("Shared", types.PositionPost, map[string]any{"name": "deny-rest", "action": "deny"})
	tn.AddRule("Shared", types.PositionPre, map[string]any{"name": "allow-web", "destination": []any{"web-1"}, "action": "allow"})
	tn.AddSnippet("branch", "Mobile Users")
	tn.AddToSnippet(types.KindAddress, "branch", map[string]any{"name": "branch-gw", "ip_netmask": "10.9.0.1/32"})
	tn.AddSnippet("predefined-snippet")
	tn.AddTenantItem(types.KindBandwidthAlloc, map[string]any{"name": "emea", "allocated_bandwidth": 100})
	tn.Unsupported("/service-connections")
}

func TestPull_WholeTenant(t *testing.T) {
	tn := tenanttest.New(t)
	seedTenant(tn)
	orch := newOrchestrator(t, tn)

	var mu sync.Mutex
	var calls []int
	progress := func(_ string, current, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, total)
		calls = append(calls, current)
	}

	tree, report, err := orch.Pull(context.Background(), Options{Workers: 3, Infrastructure: true, Progress: progress})
	require.NoError(t, err)

	require.Len(t, tree.SecurityPolicies.Folders, 2)
	assert.Equal(t, "Mobile Users", tree.SecurityPolicies.Folders[0].Name)
	shared := tree.SecurityPolicies.Folders[1]
	assert.Equal(t, "Shared", shared.Name)
	assert.True(t, shared.IsDefault)

	// Pre rules come before post rules, each in service order.
	require.Len(t, shared.Rules, 2)
	assert.Equal(t, "allow-web", shared.Rules[0].Name)
	assert.Equal(t, types.PositionPre, shared.Rules[0].Position)
	assert.Equal(t, "deny-rest", shared.Rules[1].Name)

	// Objects sorted by kind then name.
	require.Len(t, shared.Objects, 3)
	assert.Equal(t, types.KindAddress, shared.Objects[0].Kind)
	assert.Equal(t, types.KindAddressGroup, shared.Objects[1].Kind)
	assert.True(t, shared.Objects[2].IsDefault, "service-http is a platform default")
	require.Len(t, shared.Infrastructure, 1)

	// The default snippet is left out without IncludeDefaults.
	require.Len(t, tree.SecurityPolicies.Snippets, 1)
	snippet := tree.SecurityPolicies.Snippets[0]
	assert.Equal(t, "branch", snippet.Name)
	assert.Equal(t, []string{"Mobile Users"}, snippet.Folders)
	require.Len(t, snippet.Objects, 1)
	assert.Equal(t, "branch", snippet.Objects[0].Snippet)

	require.Len(t, tree.Infrastructure[types.KindBandwidthAlloc], 1)

	assert.Empty(t, report.Errors, "unsupported families are not errors")
	assert.Equal(t, Stats{
		Folders: 2, Rules: 3, Objects: 5, Infrastructure: 2, Snippets: 1,
		DefaultsDetected: 1, ElapsedSeconds: report.Stats.ElapsedSeconds,
	}, report.Stats)
	assert.True(t, report.DependencyReport.Validation.Valid)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, calls)
	assert.Equal(t, 3, calls[len(calls)-1])
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i], calls[i-1])
	}
}

func TestPull_Idempotent(t *testing.T) {
	tn := tenanttest.New(t)
	seedTenant(tn)
	orch := newOrchestrator(t, tn)
	opts := Options{Workers: 4, Infrastructure: true}

	first, _, err := orch.Pull(context.Background(), opts)
	require.NoError(t, err)
	second, _, err := orch.Pull(context.Background(), opts)
	require.NoError(t, err)

	assert.NotEqual(t, first.Metadata.RunID, second.Metadata.RunID)
	first.Metadata, second.Metadata = types.Metadata{}, types.Metadata{}
	assert.Equal(t, first, second)
}

func TestPull_CaptureErrorDoesNotAbort(t *testing.T) {
	tn := tenanttest.New(t)
	seedTenant(tn)
	tn.FailNext(http.MethodGet, "/addresses", http.StatusBadRequest, 1)
	orch := newOrchestrator(t, tn)

	tree, report, err := orch.Pull(context.Background(), Options{Folders: []string{"Shared", "Mobile Users"}, Workers: 1})
	require.NoError(t, err)
	require.NotNil(t, tree)

	require.Len(t, report.Errors, 1)
	assert.Equal(t, types.KindAddress, report.Errors[0].Kind)
	assert.Equal(t, 1, report.Stats.Errors)
	assert.Len(t, tree.SecurityPolicies.Folders, 2)
	assert.Equal(t, StateDone, report.State)
}

func TestPull_UnknownFolderIsReported(t *testing.T) {
	tn := tenanttest.New(t)
	seedMobileUsers(tn)
	tn.AddFolder("All", "")
	orch := newOrchestrator(t, tn)

	tree, report, err := orch.Pull(context.Background(), Options{Folders: []string{"Mobile Users", "Lab", "All"}})
	require.NoError(t, err)
	assert.Len(t, tree.SecurityPolicies.Folders, 1)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, "Lab", report.Errors[0].Container)
	assert.Equal(t, "All", report.Errors[1].Container)
}

func TestPull_CancelledRunFails(t *testing.T) {
	tn := tenanttest.New(t)
	seedMobileUsers(tn)
	tn.Add(types.KindAddress, "Shared", map[string]any{"name": "web-1", "ip_netmask": "10.0.0.1/32"})
	orch := newOrchestrator(t, tn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree, report, err := orch.Pull(ctx, Options{
		Folders:  []string{"Mobile Users", "Shared"},
		Workers:  1,
		Progress: func(string, int, int) { cancel() },
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, tree)
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, StateFailed, orch.State())

	containers := map[string]bool{}
	for _, e := range report.Errors {
		containers[e.Container] = true
	}
	assert.True(t, containers["Shared"], "Shared was cut short")
	assert.True(t, containers["Mobile Users"], "Mobile Users was cut short")
	assert.Equal(t, len(report.Errors), report.Stats.Errors)

	// The orchestrator is usable again after a cancelled run.
	tree, report, err = orch.Pull(context.Background(), Options{Folders: []string{"Shared"}})
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	require.Len(t, tree.SecurityPolicies.Folders, 1)
	var names []string
	for _, rec := range tree.SecurityPolicies.Folders[0].Objects {
		names = append(names, rec.Name)
	}
	assert.Contains(t, names, "web-1")
	assert.Contains(t, names, "corp-nets")
}

func TestPull_AuthFailureFailsRun(t *testing.T) {
	tn := tenanttest.New(t)
	seedMobileUsers(tn)
	client := newClient(t, tn, "wrong-secret")
	orch := New(capture.New(client, nil, nil), tenanttest.TSGID)

	tree, report, err := orch.Pull(context.Background(), Options{})
	require.Error(t, err)
	assert.Nil(t, tree)
	var authErr *api.AuthError
	assert.True(t, errors.As(err, &authErr))
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, StateFailed, orch.State())
}

func TestPull_Spans(t *testing.T) {
	tn := tenanttest.New(t)
	seedMobileUsers(tn)
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	orch := newOrchestrator(t, tn, WithTracer(provider.Tracer("test")))

	_, _, err := orch.Pull(context.Background(), Options{Folders: []string{"Mobile Users"}})
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range exporter.GetSpans() {
		names[s.Name]++
	}
	assert.Equal(t, map[string]int{"capture_folder": 1, "resolve_dependencies": 1, "pull": 1}, names)
}
