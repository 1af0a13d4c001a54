package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/repoexplorer/cache"
	"github.com/briangreenhill/repoexplorer/githubapi"
	"github.com/briangreenhill/repoexplorer/internal/jobs"
	"github.com/briangreenhill/repoexplorer/repos"
)

var resetAt = time.Unix(1_700_000_000, 0)

// fakeGitHub answers a handful of canned API paths
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/orgs/one/repos":
			_, _ = w.Write([]byte(`[{"id":1,"full_name":"one/a"},{"id":2,"full_name":"shared/x"}]`))
		case "/orgs/two/repos":
			_, _ = w.Write([]byte(`[{"id":3,"full_name":"shared/x"},{"id":4,"full_name":"two/b"}]`))
		case "/orgs/limited/repos":
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", "1700000000")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
		case "/repos/one/a":
			_, _ = w.Write([]byte(`{"id":1,"full_name":"one/a"}`))
		case "/repos/one/a/readme":
			_, _ = w.Write([]byte(`{"download_url":"` + srv.URL + `/raw/one/a/README.md"}`))
		case "/repos/one/bare/readme":
			_, _ = w.Write([]byte(`{}`))
		case "/repos/one/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"Server Error"}`))
		case "/raw/one/a/README.md":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("# one/a"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueWarm, Type: task.Type()}, nil
}

func newTestServer(t *testing.T, enq jobs.Enqueuer) (*Server, *cache.MemoryStore) {
	t.Helper()
	gh := fakeGitHub(t)

	store, err := cache.NewMemoryStore()
	require.NoError(t, err)
	svc := repos.NewService(cache.NewExpiring(store), githubapi.New(githubapi.WithBaseURL(gh.URL)))

	s := New(ServerOptions{
		Repos:      svc,
		Enqueuer:   enq,
		Orgs:       []string{"one", "two"},
		AdminToken: "admin",
		Logger:     zerolog.Nop(),
	})
	s.Now = func() time.Time { return resetAt.Add(-30 * time.Second) }
	return s, store
}

func do(t *testing.T, s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func fullNames(t *testing.T, body []byte) []string {
	t.Helper()
	var list []struct {
		FullName string `json:"full_name"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	names := make([]string, 0, len(list))
	for _, r := range list {
		names = append(names, r.FullName)
	}
	return names
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestOrgRepos(t *testing.T) {
	s, store := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/orgs/one/repos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"one/a", "shared/x"}, fullNames(t, rec.Body.Bytes()))
	assert.Equal(t, 1, store.Len())
}

func TestListReposMergesOrgs(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/repos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"one/a", "shared/x", "two/b"}, fullNames(t, rec.Body.Bytes()))

	rec = do(t, s, http.MethodGet, "/repos?org=two", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"shared/x", "two/b"}, fullNames(t, rec.Body.Bytes()))
}

func TestListReposWithoutOrgs(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.Orgs = nil

	rec := do(t, s, http.MethodGet, "/repos", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRepository(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/repos/one/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"full_name":"one/a"`)
}

func TestReadme(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/repos/one/a/readme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"owner":"one","name":"a","markdown":"# one/a"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/repos/one/bare/readme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"owner":"one","name":"bare","markdown":null}`, rec.Body.String())
}

func TestErrorMapping(t *testing.T) {
	s, store := newTestServer(t, nil)

	t.Run("rate limited", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/orgs/limited/repos", nil)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))

		var body struct {
			Message   string `json:"message"`
			Status    int    `json:"status"`
			URL       string `json:"url"`
			RateLimit struct {
				Limit     *int   `json:"limit"`
				Remaining *int   `json:"remaining"`
				Reset     *int64 `json:"reset"`
			} `json:"rate_limit"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "API rate limit exceeded", body.Message)
		assert.Equal(t, http.StatusForbidden, body.Status)
		assert.True(t, strings.HasSuffix(body.URL, "/orgs/limited/repos?per_page=100&sort=updated&type=public"))
		require.NotNil(t, body.RateLimit.Remaining)
		assert.Equal(t, 0, *body.RateLimit.Remaining)
	})

	t.Run("not found", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/repos/one/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), `"message":"Not Found"`)
	})

	t.Run("upstream failure", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/repos/one/broken", nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":500`)
	})

	assert.Equal(t, 0, store.Len())
}

func TestWarm(t *testing.T) {
	enq := &recordingEnqueuer{}
	s, _ := newTestServer(t, enq)

	rec := do(t, s, http.MethodPost, "/orgs/algorand/warm?refresh=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"task_id":"task-1","queue":"warm"}`, rec.Body.String())

	require.Len(t, enq.tasks, 1)
	var p jobs.WarmOrgReposPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	assert.Equal(t, jobs.WarmOrgReposPayload{Org: "algorand", Refresh: true}, p)
}

func TestWarmWithoutQueue(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodPost, "/orgs/algorand/warm", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClearCacheRequiresAdmin(t *testing.T) {
	s, store := newTestServer(t, nil)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/orgs/one/repos", nil).Code)
	require.Equal(t, 1, store.Len())

	rec := do(t, s, http.MethodDelete, "/cache", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, store.Len())

	rec = do(t, s, http.MethodDelete, "/cache", http.Header{"Authorization": {"Bearer admin"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, store.Len())
}
