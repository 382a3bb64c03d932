package tenanttest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yairfalse/ferry/types"
)

// token handles POST /oauth2/access_token.
func (tn *Tenant) token(w http.ResponseWriter, r *http.Request) {
	tn.mu.Lock()
	tn.authCalls++
	tn.mu.Unlock()

	id, secret, ok := r.BasicAuth()
	if !ok || id != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("scope") != "tsg_id:"+TSGID {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_scope"})
		return
	}

	tn.mu.Lock()
	tok := fmt.Sprintf("token-%d", tn.authCalls)
	tn.tokens[tok] = true
	ttl := tn.tokenTTL
	tn.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tok,
		"expires_in":   ttl,
		"token_type":   "Bearer",
	})
}

func (tn *Tenant) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := Call{
			Method:   r.Method,
			Path:     strings.TrimPrefix(r.URL.Path, basePath),
			RawQuery: r.URL.RawQuery,
		}
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			_ = r.Body.Close()
			if len(data) > 0 {
				_ = json.Unmarshal(data, &call.Body)
			}
			r.Body = io.NopCloser(bytes.NewReader(data))
		}
		tn.mu.Lock()
		tn.calls = append(tn.calls, call)
		tn.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (tn *Tenant) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tn.mu.Lock()
		valid := tn.tokens[tok]
		tn.mu.Unlock()
		if !valid {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (tn *Tenant) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, basePath)
		tn.mu.Lock()
		status := 0
		for _, f := range tn.faults {
			if f.remaining > 0 && f.method == r.Method && strings.HasPrefix(path, f.path) {
				f.remaining--
				status = f.status
				break
			}
		}
		unsupported := tn.unsupported[strings.Split(strings.TrimPrefix(path, "/"), "/")[0]]
		tn.mu.Unlock()

		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		if unsupported {
			writeError(w, http.StatusNotFound, "resource not available")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (tn *Tenant) kindOf(w http.ResponseWriter, r *http.Request) (types.Kind, bool) {
	kind, ok := tn.byPath[chi.URLParam(r, "resource")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown resource")
	}
	return kind, ok
}

// ancestors returns folder and every folder above it. Caller holds mu.
func (tn *Tenant) ancestors(folder string) map[string]bool {
	chain := map[string]bool{}
	for folder != "" && !chain[folder] {
		chain[folder] = true
		parent := ""
		for _, it := range tn.items {
			if it.kind == types.KindFolder && it.name() == folder {
				parent, _ = it.attrs["parent"].(string)
				break
			}
		}
		folder = parent
	}
	return chain
}

func (tn *Tenant) list(w http.ResponseWriter, r *http.Request) {
	kind, ok := tn.kindOf(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	folder, snippet, position, name := q.Get("folder"), q.Get("snippet"), q.Get("position"), q.Get("name")
	spec := kind.MustSpec()
	if spec.Scope == types.ScopeFolder && folder == "" && snippet == "" {
		writeError(w, http.StatusBadRequest, "folder or snippet is required")
		return
	}
	if kind == types.KindSecurityRule && position == "" {
		position = types.PositionPre
	}

	limit := 200
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	offset, _ := strconv.Atoi(q.Get("offset"))

	tn.mu.Lock()
	chain := tn.ancestors(folder)
	var matched []map[string]any
	for _, it := range tn.items {
		if it.kind != kind {
			continue
		}
		if name != "" && it.name() != name {
			continue
		}
		if spec.Scope == types.ScopeFolder {
			if snippet != "" && it.snippet != snippet {
				continue
			}
			if snippet == "" && (it.folder == "" || !chain[it.folder]) {
				continue
			}
			if kind == types.KindSecurityRule && it.position != position {
				continue
			}
		}
		matched = append(matched, it.render())
	}
	tn.mu.Unlock()

	page := []map[string]any{}
	if offset < len(matched) {
		end := offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		page = matched[offset:end]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   page,
		"limit":  limit,
		"offset": offset,
		"total":  len(matched),
	})
}

func (tn *Tenant) get(w http.ResponseWriter, r *http.Request) {
	kind, ok := tn.kindOf(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	tn.mu.Lock()
	defer tn.mu.Unlock()
	for _, it := range tn.items {
		if it.kind == kind && it.id == id {
			writeJSON(w, http.StatusOK, it.render())
			return
		}
	}
	writeError(w, http.StatusNotFound, "object not found")
}

func (tn *Tenant) create(w http.ResponseWriter, r *http.Request) {
	kind, ok := tn.kindOf(w, r)
	if !ok {
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name, _ := body["name"].(string)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	it := item{kind: kind}
	it.folder, _ = body["folder"].(string)
	it.snippet, _ = body["snippet"].(string)
	delete(body, "folder")
	delete(body, "snippet")
	delete(body, "id")
	it.attrs = body
	if kind == types.KindSecurityRule {
		it.position = r.URL.Query().Get("position")
		if it.position == "" {
			it.position = types.PositionPre
		}
	}
	if kind.MustSpec().Scope == types.ScopeFolder && it.folder == "" && it.snippet == "" {
		writeError(w, http.StatusBadRequest, "folder or snippet is required")
		return
	}

	tn.mu.Lock()
	for _, existing := range tn.items {
		if existing.kind == kind && existing.name() == name && existing.folder == it.folder && existing.snippet == it.snippet {
			tn.mu.Unlock()
			writeError(w, http.StatusConflict, "object already exists")
			return
		}
	}
	tn.nextID++
	it.id = fmt.Sprintf("%s-%04d", kind, tn.nextID)
	tn.items = append(tn.items, it)
	out := it.render()
	tn.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

func (tn *Tenant) update(w http.ResponseWriter, r *http.Request) {
	kind, ok := tn.kindOf(w, r)
	if !ok {
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	delete(body, "id")
	delete(body, "folder")
	delete(body, "snippet")

	id := chi.URLParam(r, "id")
	tn.mu.Lock()
	defer tn.mu.Unlock()
	for i := range tn.items {
		if tn.items[i].kind == kind && tn.items[i].id == id {
			tn.items[i].attrs = body
			writeJSON(w, http.StatusOK, tn.items[i].render())
			return
		}
	}
	writeError(w, http.StatusNotFound, "object not found")
}

func (tn *Tenant) remove(w http.ResponseWriter, r *http.Request) {
	kind, ok := tn.kindOf(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	tn.mu.Lock()
	defer tn.mu.Unlock()
	for i := range tn.items {
		if tn.items[i].kind == kind && tn.items[i].id == id {
			out := tn.items[i].render()
			tn.items = append(tn.items[:i], tn.items[i+1:]...)
			writeJSON(w, http.StatusOK, out)
			return
		}
	}
	writeError(w, http.StatusNotFound, "object not found")
}
