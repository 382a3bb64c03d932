// Package tenanttest runs an in-process configuration service for tests.
package tenanttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/yairfalse/ferry/types"
)

// Test credentials accepted by the token endpoint.
const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	TSGID        = "1234567890"
)

const basePath = "/sse/config/v1"

// Call is one request seen by the tenant.
type Call struct {
	Method   string
	Path     string
	RawQuery string
	Body     map[string]any
}

type item struct {
	kind     types.Kind
	id       string
	folder   string
	snippet  string
	position string
	attrs    map[string]any
}

func (it item) render() map[string]any {
	out := types.CloneAttributes(it.attrs)
	out["id"] = it.id
	if it.folder != "" {
		out["folder"] = it.folder
	}
	if it.snippet != "" {
		out["snippet"] = it.snippet
	}
	return out
}

func (it item) name() string {
	name, _ := it.attrs["name"].(string)
	return name
}

type fault struct {
	method    string
	path      string
	status    int
	remaining int
}

// Tenant is a mock tenant backed by an httptest server.
type Tenant struct {
	Server *httptest.Server

	mu          sync.Mutex
	items       []item
	nextID      int
	tokens      map[string]bool
	tokenTTL    int
	authCalls   int
	calls       []Call
	faults      []*fault
	unsupported map[string]bool
	byPath      map[string]types.Kind
}

// New starts a tenant and stops it when the test ends.
func New(t testing.TB) *Tenant {
	t.Helper()
	tn := &Tenant{
		tokens:      make(map[string]bool),
		tokenTTL:    900,
		unsupported: make(map[string]bool),
		byPath:      make(map[string]types.Kind),
	}
	for _, k := range types.AllKinds() {
		tn.byPath[strings.TrimPrefix(k.MustSpec().Path, "/")] = k
	}
	tn.Server = httptest.NewServer(tn.routes())
	t.Cleanup(tn.Server.Close)
	return tn
}

// URL is the base URL of the resource API.
func (tn *Tenant) URL() string {
	return tn.Server.URL + basePath
}

// AuthURL is the token endpoint.
func (tn *Tenant) AuthURL() string {
	return tn.Server.URL + "/oauth2/access_token"
}

func (tn *Tenant) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/oauth2/access_token", tn.token)
	r.Route(basePath, func(r chi.Router) {
		r.Use(tn.record, tn.authorize, tn.injectFaults)
		r.Get("/{resource}", tn.list)
		r.Post("/{resource}", tn.create)
		r.Get("/{resource}/{id}", tn.get)
		r.Put("/{resource}/{id}", tn.update)
		r.Delete("/{resource}/{id}", tn.remove)
	})
	return r
}

// AddFolder creates a folder under parent. An empty parent makes a root.
func (tn *Tenant) AddFolder(name, parent string) string {
	attrs := map[string]any{"name": name}
	if parent != "" {
		attrs["parent"] = parent
	}
	return tn.insert(item{kind: types.KindFolder, attrs: attrs})
}

// AddSnippet creates a snippet associated with folders.
func (tn *Tenant) AddSnippet(name string, folders ...string) string {
	assoc := make([]any, 0, len(folders))
	for _, f := range folders {
		assoc = append(assoc, map[string]any{"name": f})
	}
	return tn.insert(item{kind: types.KindSnippet, attrs: map[string]any{"name": name, "folders": assoc}})
}

// Add creates an item of kind owned by folder.
func (tn *Tenant) Add(kind types.Kind, folder string, attrs map[string]any) string {
	return tn.insert(item{kind: kind, folder: folder, attrs: types.CloneAttributes(attrs)})
}

// AddRule creates a security rule in folder at position.
func (tn *Tenant) AddRule(folder, position string, attrs map[string]any) string {
	return tn.insert(item{kind: types.KindSecurityRule, folder: folder, position: position, attrs: types.CloneAttributes(attrs)})
}

// AddToSnippet creates an item of kind owned by snippet.
func (tn *Tenant) AddToSnippet(kind types.Kind, snippet string, attrs map[string]any) string {
	it := item{kind: kind, snippet: snippet, attrs: types.CloneAttributes(attrs)}
	if kind == types.KindSecurityRule {
		it.position = types.PositionPre
	}
	return tn.insert(it)
}

// AddTenantItem creates a tenant scoped item.
func (tn *Tenant) AddTenantItem(kind types.Kind, attrs map[string]any) string {
	return tn.insert(item{kind: kind, attrs: types.CloneAttributes(attrs)})
}

func (tn *Tenant) insert(it item) string {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.nextID++
	it.id = fmt.Sprintf("%s-%04d", it.kind, tn.nextID)
	tn.items = append(tn.items, it)
	return it.id
}

// Find returns the item of kind called name in container, as served.
func (tn *Tenant) Find(kind types.Kind, container, name string) (map[string]any, bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	for _, it := range tn.items {
		if it.kind == kind && it.name() == name && (container == "" || it.folder == container || it.snippet == container) {
			return it.render(), true
		}
	}
	return nil, false
}

// Count returns the number of stored items of kind.
func (tn *Tenant) Count(kind types.Kind) int {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	n := 0
	for _, it := range tn.items {
		if it.kind == kind {
			n++
		}
	}
	return n
}

// FailNext makes the next times calls matching method and resource path
// answer with status.
func (tn *Tenant) FailNext(method, path string, status, times int) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.faults = append(tn.faults, &fault{method: method, path: path, status: status, remaining: times})
}

// Unsupported makes every call to the resource path answer 404.
func (tn *Tenant) Unsupported(path string) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.unsupported[strings.TrimPrefix(path, "/")] = true
}

// RevokeTokens invalidates every issued token.
func (tn *Tenant) RevokeTokens() {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.tokens = make(map[string]bool)
}

// SetTokenTTL sets expires_in of issued tokens in seconds.
func (tn *Tenant) SetTokenTTL(seconds int) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.tokenTTL = seconds
}

// AuthCalls returns the number of token requests.
func (tn *Tenant) AuthCalls() int {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	return tn.authCalls
}

// Calls returns the resource calls seen so far.
func (tn *Tenant) Calls() []Call {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	out := make([]Call, len(tn.calls))
	copy(out, tn.calls)
	return out
}

// CallCount counts calls with method whose path starts with prefix.
func (tn *Tenant) CallCount(method, prefix string) int {
	n := 0
	for _, c := range tn.Calls() {
		if (method == "" || c.Method == method) && strings.HasPrefix(c.Path, prefix) {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (tn *Tenant) ResetCalls() {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.calls = nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"_errors":     []any{map[string]any{"code": strconv.Itoa(status), "message": msg}},
		"_request_id": "test",
	})
}
