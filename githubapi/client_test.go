package githubapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

func TestFetchSuccess(t *testing.T) {
	var gotAccept []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Values("Accept")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "59")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		_, _ = w.Write([]byte(`[{"id":123,"full_name":"x/y"}]`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	res, err := Fetch[[]item](context.Background(), c, c.Endpoint(nil, "orgs", "algorand", "repos"), nil)
	require.NoError(t, err)

	assert.Equal(t, []item{{ID: 123, FullName: "x/y"}}, res.Data)
	require.NotNil(t, res.RateLimit.Limit)
	require.NotNil(t, res.RateLimit.Remaining)
	require.NotNil(t, res.RateLimit.Reset)
	assert.Equal(t, 60, *res.RateLimit.Limit)
	assert.Equal(t, 59, *res.RateLimit.Remaining)
	assert.Equal(t, int64(1700000000), *res.RateLimit.Reset)
	assert.Equal(t, []string{MediaType}, gotAccept)
}

func TestFetchMergesCallerHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	opts := &RequestOptions{Header: http.Header{
		"Accept":        {"application/vnd.github.raw+json"},
		"X-Custom":      {"1"},
		"If-None-Match": {`"abc"`},
	}}
	_, err := Fetch[map[string]any](context.Background(), c, srv.URL+"/x", opts)
	require.NoError(t, err)

	assert.Equal(t, []string{MediaType, "application/vnd.github.raw+json"}, got.Values("Accept"))
	assert.Equal(t, "1", got.Get("X-Custom"))
	assert.Equal(t, `"abc"`, got.Get("If-None-Match"))
}

func TestFetchSendsToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithToken("ghp_test"))
	_, err := Fetch[map[string]any](context.Background(), c, srv.URL+"/x", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer ghp_test", auth)
}

func TestFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"API rate limit exceeded for 1.2.3.4.","documentation_url":"https://docs.github.com"}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	u := srv.URL + "/orgs/algorand/repos"
	_, err := Fetch[[]item](context.Background(), c, u, nil)
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, u, apiErr.URL)
	assert.Equal(t, "API rate limit exceeded for 1.2.3.4.", apiErr.Message)
	require.NotNil(t, apiErr.RateLimit.Remaining)
	assert.Equal(t, 0, *apiErr.RateLimit.Remaining)
	assert.JSONEq(t, `{"message":"API rate limit exceeded for 1.2.3.4.","documentation_url":"https://docs.github.com"}`, string(apiErr.Payload))
	assert.True(t, apiErr.RateLimited())
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, KindRateLimited, apiErr.Kind())
	assert.True(t, apiErr.Retryable())
}

func TestFetchForbiddenWithQuotaLeftIsNotRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "12")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	_, err := Fetch[item](context.Background(), c, srv.URL+"/repos/a/b", nil)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.False(t, apiErr.RateLimited())
	assert.Equal(t, KindForbidden, apiErr.Kind())
	assert.False(t, apiErr.Retryable())
}

func TestFetchErrorMessageFallbacks(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantMessage string
		wantPayload bool
	}{
		{"json with message", "application/json", `{"message":"Not Found"}`, "Not Found", true},
		{"json without message", "application/json", `{"error":"x"}`, "GitHub request failed (404)", true},
		{"invalid json", "application/json", `{"message":`, "GitHub request failed (404)", false},
		{"html body", "text/html", `<h1>Not Found</h1>`, "GitHub request failed (404)", false},
		{"no content type", "", `{"message":"ignored"}`, "GitHub request failed (404)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				} else {
					w.Header()["Content-Type"] = nil
				}
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(WithBaseURL(srv.URL))
			_, err := Fetch[item](context.Background(), c, srv.URL+"/repos/a/b", nil)

			apiErr, ok := AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.wantPayload, apiErr.Payload != nil)
			assert.True(t, IsNotFound(err))
			assert.True(t, apiErr.RateLimit.IsZero())
		})
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	u := srv.URL + "/orgs/x/repos"
	srv.Close()

	c := New(WithBaseURL(srv.URL))
	_, err := Fetch[[]item](context.Background(), c, u, nil)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 0, apiErr.StatusCode)
	assert.Equal(t, u, apiErr.URL)
	assert.Equal(t, KindNetwork, apiErr.Kind())
	assert.NotNil(t, apiErr.Unwrap())
}

func TestFetchCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(WithBaseURL(srv.URL))
	_, err := Fetch[item](ctx, c, srv.URL+"/x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFetchSingleAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	_, err := Fetch[item](context.Background(), c, srv.URL+"/x", nil)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, KindServer, apiErr.Kind())
	assert.Equal(t, int32(1), hits.Load())
}

func TestEndpointEscapesSegments(t *testing.T) {
	c := New(WithBaseURL("https://api.example.com/"))

	got := c.Endpoint(url.Values{"per_page": {"100"}}, "repos", "we ird", "a/b")
	assert.Equal(t, "https://api.example.com/repos/we%20ird/a%2Fb?per_page=100", got)

	assert.Equal(t, "https://api.example.com/orgs/x", c.Endpoint(nil, "orgs", "x"))
}

func TestDownload(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/readme.md":
			_, _ = w.Write([]byte("# Hello\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(WithToken("secret"))
	body, ok, err := c.Download(context.Background(), srv.URL+"/readme.md")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "# Hello\n", body)
	assert.Empty(t, auth)

	_, ok, err = c.Download(context.Background(), srv.URL+"/missing.md")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Download(context.Background(), "http://127.0.0.1:1/unreachable")
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err = c.Download(ctx, srv.URL+"/readme.md")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}
