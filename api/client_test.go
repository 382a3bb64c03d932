package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ferry/internal/tenanttest"
	"github.com/yairfalse/ferry/types"
)

func newTestClient(t *testing.T, tn *tenanttest.Tenant, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = tn.URL()
	cfg.AuthURL = tn.AuthURL()
	cfg.Credentials = Credentials{
		TSGID:        tenanttest.TSGID,
		ClientID:     tenanttest.ClientID,
		ClientSecret: tenanttest.ClientSecret,
	}
	cfg.RetryDelay = time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg)
}

func TestRequest_RetriesServerErrors(t *testing.T) {
	tn := tenanttest.New(t)
	tn.AddFolder("Shared", "")
	tn.Add(types.KindAddress, "Shared", map[string]any{"name": "web-1", "ip_netmask": "10.0.0.1/32"})
	tn.FailNext(http.MethodGet, "/addresses", http.StatusServiceUnavailable, 2)

	client := newTestClient(t, tn)
	items, err := client.List(context.Background(), types.KindAddress, Target{Folder: "Shared"})

	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 3, tn.CallCount(http.MethodGet, "/addresses"))
}

func TestRequest_NotFoundIsNotRetried(t *testing.T) {
	tn := tenanttest.New(t)
	tn.Unsupported("/remote-networks")

	client := newTestClient(t, tn)
	_, err := client.List(context.Background(), types.KindRemoteNetwork, Target{Folder: "Remote Networks"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, tn.CallCount(http.MethodGet, "/remote-networks"))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestRequest_RateLimitExhaustion(t *testing.T) {
	tn := tenanttest.New(t)
	tn.FailNext(http.MethodGet, "/tags", http.StatusTooManyRequests, 10)

	client := newTestClient(t, tn)
	_, err := client.List(context.Background(), types.KindTag, Target{Folder: "Shared"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 3, tn.CallCount(http.MethodGet, "/tags"))
}

func TestRequest_BadRequestFailsImmediately(t *testing.T) {
	tn := tenanttest.New(t)
	tn.FailNext(http.MethodPost, "/tags", http.StatusBadRequest, 1)

	client := newTestClient(t, tn)
	_, err := client.Create(context.Background(), types.KindTag, Target{Folder: "Shared"}, Item{"name": "prod"})

	require.Error(t, err)
	assert.Equal(t, 1, tn.CallCount(http.MethodPost, "/tags"))
}

func TestList_FolderQueryEncoding(t *testing.T) {
	tn := tenanttest.New(t)
	tn.AddFolder("Access Agent", "")

	client := newTestClient(t, tn)
	_, err := client.List(context.Background(), types.KindAddress, Target{Folder: "Access Agent"})
	require.NoError(t, err)

	calls := tn.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].RawQuery, "folder=Access%20Agent")
	assert.NotContains(t, calls[0].RawQuery, "Access+Agent")
}

func TestEncodeQuery(t *testing.T) {
	tests := []struct {
		name   string
		params url.Values
		want   string
	}{
		{name: "empty", params: nil, want: ""},
		{name: "space", params: url.Values{"folder": {"Mobile Users"}}, want: "folder=Mobile%20Users"},
		{name: "sorted keys", params: url.Values{"offset": {"0"}, "folder": {"A"}, "limit": {"200"}}, want: "folder=A&limit=200&offset=0"},
		{name: "literal plus", params: url.Values{"name": {"a+b"}}, want: "name=a%2Bb"},
		{name: "ampersand", params: url.Values{"folder": {"R&D"}}, want: "folder=R%26D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeQuery(tt.params))
		})
	}
}

func TestListOptions_Values(t *testing.T) {
	v := ListOptions{Folder: "Mobile Users", Limit: 200}.Values()
	assert.Equal(t, "folder=Mobile%20Users&limit=200&offset=0", EncodeQuery(v))
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	tn := tenanttest.New(t)
	client := newTestClient(t, tn, func(c *Config) {
		c.Credentials.ClientSecret = "wrong"
	})

	err := client.Authenticate(context.Background())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}

func TestAuthenticate_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"expires_in": 900}`))
	}))
	defer srv.Close()

	client := NewClient(Config{
		AuthURL:     srv.URL,
		Credentials: Credentials{TSGID: "1", ClientID: "id", ClientSecret: "secret"},
	})
	err := client.Authenticate(context.Background())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Error(), "access_token")
}

func TestAuthError_IsNotRetried(t *testing.T) {
	tn := tenanttest.New(t)
	client := newTestClient(t, tn, func(c *Config) {
		c.Credentials.ClientSecret = "wrong"
	})

	_, err := client.List(context.Background(), types.KindTag, Target{Folder: "Shared"})

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, 1, tn.AuthCalls())
	assert.Zero(t, tn.CallCount("", "/"))
}

func TestRequest_ReauthenticatesOnce(t *testing.T) {
	tn := tenanttest.New(t)
	client := newTestClient(t, tn, func(c *Config) { c.CacheTTL = 0 })
	ctx := context.Background()

	_, err := client.List(ctx, types.KindTag, Target{Folder: "Shared"})
	require.NoError(t, err)
	require.Equal(t, 1, tn.AuthCalls())

	tn.RevokeTokens()
	_, err = client.List(ctx, types.KindTag, Target{Folder: "Shared"})
	require.NoError(t, err)
	assert.Equal(t, 2, tn.AuthCalls())
	assert.Equal(t, 3, tn.CallCount(http.MethodGet, "/tags"))
}

func TestRequest_RefreshesTokenNearExpiry(t *testing.T) {
	tn := tenanttest.New(t)
	tn.SetTokenTTL(30)
	client := newTestClient(t, tn, func(c *Config) { c.CacheTTL = 0 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.List(ctx, types.KindTag, Target{Folder: "Shared"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, tn.AuthCalls())
}

func TestRequest_CachesListsAndClearsOnWrite(t *testing.T) {
	tn := tenanttest.New(t)
	client := newTestClient(t, tn)
	ctx := context.Background()
	target := Target{Folder: "Shared"}

	_, err := client.List(ctx, types.KindTag, target)
	require.NoError(t, err)
	_, err = client.List(ctx, types.KindTag, target)
	require.NoError(t, err)
	assert.Equal(t, 1, tn.CallCount(http.MethodGet, "/tags"))

	_, err = client.Create(ctx, types.KindTag, target, Item{"name": "prod"})
	require.NoError(t, err)
	assert.Zero(t, client.Cache().Len())

	items, err := client.List(ctx, types.KindTag, target)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 2, tn.CallCount(http.MethodGet, "/tags"))
}

func TestList_Paginates(t *testing.T) {
	tn := tenanttest.New(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		tn.Add(types.KindTag, "Shared", map[string]any{"name": name})
	}
	client := newTestClient(t, tn, func(c *Config) { c.PageSize = 2 })

	items, err := client.List(context.Background(), types.KindTag, Target{Folder: "Shared"})

	require.NoError(t, err)
	assert.Len(t, items, 5)
	calls := tn.Calls()
	require.Len(t, calls, 3)
	assert.True(t, strings.Contains(calls[2].RawQuery, "offset=4"))
}

func TestCreateUpdateDelete(t *testing.T) {
	tn := tenanttest.New(t)
	client := newTestClient(t, tn)
	ctx := context.Background()

	created, err := client.Create(ctx, types.KindSecurityRule, Target{Folder: "Shared", Position: types.PositionPost},
		Item{"name": "allow-web", "id": "stale", "folder": "Other", "action": "allow"})
	require.NoError(t, err)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.NotEqual(t, "stale", id)
	assert.Equal(t, "Shared", created["folder"])

	calls := tn.Calls()
	assert.Equal(t, "position=post", calls[len(calls)-1].RawQuery)

	updated, err := client.Update(ctx, types.KindSecurityRule, id, Item{"name": "allow-web", "action": "deny"})
	require.NoError(t, err)
	assert.Equal(t, "deny", updated["action"])

	require.NoError(t, client.Delete(ctx, types.KindSecurityRule, id))
	err = client.Delete(ctx, types.KindSecurityRule, id)
	assert.True(t, IsNotFound(err))
}

func TestList_UnknownKind(t *testing.T) {
	tn := tenanttest.New(t)
	client := newTestClient(t, tn)

	_, err := client.List(context.Background(), types.Kind("bogus"), Target{})
	assert.Error(t, err)
}
