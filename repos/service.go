// Package repos implements the cached GitHub resource lookups: organization
// repository listings, repository detail and README markdown.
//
// Every lookup is read-through: a fresh cache entry is returned without any
// network call; on a miss the API is queried, the result written back with a
// per-resource TTL and then returned. API errors are never cached.
//
// Concurrent misses for the same key are not collapsed. Each caller fetches
// and writes, and the last write wins.
package repos

import (
	"context"
	"net/url"

	"github.com/google/go-github/v67/github"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/repoexplorer/cache"
	"github.com/briangreenhill/repoexplorer/githubapi"
)

// Repository is the record type served by listings and detail lookups.
type Repository = github.Repository

// readmeValue is cached even when Markdown is nil so that a confirmed
// missing README is not fetched again within ReadmeTTL.
type readmeValue struct {
	Markdown *string `json:"markdown"`
}

type Service struct {
	cache  *cache.Expiring
	client *githubapi.Client
	keys   Keys
	logger zerolog.Logger
}

type Option func(*Service)

// WithNamespace sets the cache key prefix
func WithNamespace(ns string) Option {
	return func(s *Service) { s.keys.Namespace = ns }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(c *cache.Expiring, client *githubapi.Client, opts ...Option) *Service {
	s := &Service{
		cache:  c,
		client: client,
		keys:   Keys{Namespace: DefaultNamespace},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Keys returns the key derivation used by the service
func (s *Service) Keys() Keys {
	return s.keys
}

// OrganizationRepos lists an organization's public repositories in the
// order GitHub returns them.
func (s *Service) OrganizationRepos(ctx context.Context, org string) ([]*Repository, error) {
	key := s.keys.OrgRepos(org)

	cached, ok, err := cache.Get[[]*Repository](ctx, s.cache, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return cached, nil
	}

	q := url.Values{
		"per_page": {"100"},
		"type":     {"public"},
		"sort":     {"updated"},
	}
	res, err := githubapi.Fetch[[]*Repository](ctx, s.client, s.client.Endpoint(q, "orgs", org, "repos"), nil)
	if err != nil {
		return nil, err
	}

	if err := cache.Set(ctx, s.cache, key, res.Data, OrgReposTTL); err != nil {
		return nil, err
	}
	s.logger.Info().Str("org", org).Int("count", len(res.Data)).Msg("cached organization repositories")
	return res.Data, nil
}

// Repository returns a single repository
func (s *Service) Repository(ctx context.Context, owner, name string) (*Repository, error) {
	key := s.keys.Repo(owner, name)

	cached, ok, err := cache.Get[*Repository](ctx, s.cache, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return cached, nil
	}

	res, err := githubapi.Fetch[*Repository](ctx, s.client, s.client.Endpoint(nil, "repos", owner, name), nil)
	if err != nil {
		return nil, err
	}

	if err := cache.Set(ctx, s.cache, key, res.Data, RepoDetailTTL); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// ReadmeMarkdown returns the repository README as markdown. ok is false
// when the README metadata has no download URL or the download did not
// succeed; that outcome is cached like any other. A failed metadata
// request (including 404 for repositories without a README) is an error.
func (s *Service) ReadmeMarkdown(ctx context.Context, owner, name string) (markdown string, ok bool, err error) {
	key := s.keys.Readme(owner, name)

	cached, hit, err := cache.Get[readmeValue](ctx, s.cache, key)
	if err != nil {
		return "", false, err
	}
	if hit {
		return deref(cached.Markdown)
	}

	meta, err := githubapi.Fetch[github.RepositoryContent](ctx, s.client, s.client.Endpoint(nil, "repos", owner, name, "readme"), nil)
	if err != nil {
		return "", false, err
	}

	var value readmeValue
	if u := meta.Data.GetDownloadURL(); u != "" {
		body, downloaded, err := s.client.Download(ctx, u)
		if err != nil {
			return "", false, err
		}
		if downloaded {
			value.Markdown = &body
		}
	}

	if err := cache.Set(ctx, s.cache, key, value, ReadmeTTL); err != nil {
		return "", false, err
	}
	return deref(value.Markdown)
}

func deref(md *string) (string, bool, error) {
	if md == nil {
		return "", false, nil
	}
	return *md, true, nil
}

// Organizations lists several organizations concurrently and merges the
// results, keeping the first occurrence of each full name. Any failure
// fails the whole call.
func (s *Service) Organizations(ctx context.Context, orgs ...string) ([]*Repository, error) {
	results := make([][]*Repository, len(orgs))

	g, gctx := errgroup.WithContext(ctx)
	for i, org := range orgs {
		i, org := i, org
		g.Go(func() error {
			list, err := s.OrganizationRepos(gctx, org)
			if err != nil {
				return err
			}
			results[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	merged := make([]*Repository, 0)
	for _, list := range results {
		for _, r := range list {
			if r == nil {
				continue
			}
			name := r.GetFullName()
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			merged = append(merged, r)
		}
	}
	return merged, nil
}

// InvalidateOrganization drops the cached listing for org
func (s *Service) InvalidateOrganization(ctx context.Context, org string) error {
	return s.cache.Remove(ctx, s.keys.OrgRepos(org))
}

// InvalidateRepository drops the cached detail and README for a repository
func (s *Service) InvalidateRepository(ctx context.Context, owner, name string) error {
	if err := s.cache.Remove(ctx, s.keys.Repo(owner, name)); err != nil {
		return err
	}
	return s.cache.Remove(ctx, s.keys.Readme(owner, name))
}

// ClearCache drops every cached entry
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}
