package routes

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/repoexplorer/githubapi"
	appmw "github.com/briangreenhill/repoexplorer/internal/http/middleware"
	"github.com/briangreenhill/repoexplorer/internal/jobs"
	"github.com/briangreenhill/repoexplorer/repos"
)

// Repos is the cached GitHub service behind the API
type Repos interface {
	OrganizationRepos(ctx context.Context, org string) ([]*repos.Repository, error)
	Organizations(ctx context.Context, orgs ...string) ([]*repos.Repository, error)
	Repository(ctx context.Context, owner, name string) (*repos.Repository, error)
	ReadmeMarkdown(ctx context.Context, owner, name string) (string, bool, error)
	ClearCache(ctx context.Context) error
}

type Server struct {
	Router     *chi.Mux
	Repos      Repos
	Enqueuer   jobs.Enqueuer // nil when no worker queue is configured
	Orgs       []string      // default orgs for GET /repos
	AdminToken string
	Now        func() time.Time
}

type ServerOptions struct {
	Repos      Repos
	Enqueuer   jobs.Enqueuer
	Orgs       []string
	AdminToken string
	Logger     zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{
		Router:     r,
		Repos:      opts.Repos,
		Enqueuer:   opts.Enqueuer,
		Orgs:       opts.Orgs,
		AdminToken: opts.AdminToken,
		Now:        time.Now,
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})

	r.Get("/repos", s.handleListRepos)
	r.Get("/orgs/{org}/repos", s.handleOrgRepos)
	r.Post("/orgs/{org}/warm", s.handleWarm)
	r.Get("/repos/{owner}/{name}", s.handleRepository)
	r.Get("/repos/{owner}/{name}/readme", s.handleReadme)

	r.Group(func(ar chi.Router) {
		ar.Use(appmw.RequireAdminToken(opts.AdminToken))
		ar.Delete("/cache", s.handleClearCache)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleOrgRepos(w http.ResponseWriter, r *http.Request) {
	list, err := s.Repos.OrganizationRepos(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	orgs := r.URL.Query()["org"]
	if len(orgs) == 0 {
		orgs = s.Orgs
	}
	if len(orgs) == 0 {
		writeMessage(w, r, http.StatusBadRequest, "org query parameter required")
		return
	}

	list, err := s.Repos.Organizations(r.Context(), orgs...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.Repos.Repository(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, repo)
}

type readmeResponse struct {
	Owner    string  `json:"owner"`
	Name     string  `json:"name"`
	Markdown *string `json:"markdown"`
}

func (s *Server) handleReadme(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")
	md, ok, err := s.Repos.ReadmeMarkdown(r.Context(), owner, name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res := readmeResponse{Owner: owner, Name: name}
	if ok {
		res.Markdown = &md
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	if s.Enqueuer == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "warm queue not configured")
		return
	}

	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	p := jobs.WarmOrgReposPayload{Org: chi.URLParam(r, "org"), Refresh: refresh}

	info, err := jobs.EnqueueWarm(r.Context(), s.Enqueuer, p)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("org", p.Org).Msg("failed to enqueue warm job")
		writeMessage(w, r, http.StatusInternalServerError, "failed to queue warm job")
		return
	}

	hlog.FromRequest(r).Info().Str("org", p.Org).Str("task_id", info.ID).Msg("warm job queued")
	writeJSON(w, r, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.Repos.ClearCache(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	hlog.FromRequest(r).Warn().Msg("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Message   string               `json:"message"`
	Status    int                  `json:"status"`
	URL       string               `json:"url,omitempty"`
	RateLimit *githubapi.RateLimit `json:"rate_limit,omitempty"`
}

// writeError maps API failures onto statuses: rate limited is 429 with
// Retry-After, 404 passes through, every other API failure is 502.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := githubapi.AsAPIError(err)
	if !ok {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeMessage(w, r, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusBadGateway
	switch {
	case apiErr.RateLimited():
		status = http.StatusTooManyRequests
		if reset, ok := apiErr.RateLimit.ResetAt(); ok {
			secs := int(math.Ceil(reset.Sub(s.Now()).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 0)))
		}
	case apiErr.Kind() == githubapi.KindNotFound:
		status = http.StatusNotFound
	}

	hlog.FromRequest(r).Warn().Err(err).Int("upstream_status", apiErr.StatusCode).Int("status", status).Msg("github request failed")

	res := errorResponse{Message: apiErr.Message, Status: apiErr.StatusCode, URL: apiErr.URL}
	if !apiErr.RateLimit.IsZero() {
		rl := apiErr.RateLimit
		res.RateLimit = &rl
	}
	writeJSON(w, r, status, res)
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Message: msg, Status: status})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write json response")
	}
}
