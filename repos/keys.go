package repos

import (
	"strings"
	"time"
)

const (
	DefaultNamespace = "github"

	OrgReposTTL   = 10 * time.Minute
	RepoDetailTTL = 30 * time.Minute
	ReadmeTTL     = 60 * time.Minute
)

// Keys derives cache keys. Inputs are lower-cased so differently cased
// names for the same resource share one entry. Bumping Namespace orphans
// every existing entry, which is how envelope format changes roll out.
type Keys struct {
	Namespace string
}

func (k Keys) OrgRepos(org string) string {
	return k.ns() + ":orgRepos:" + strings.ToLower(org)
}

func (k Keys) Repo(owner, name string) string {
	return k.ns() + ":repo:" + strings.ToLower(owner) + "/" + strings.ToLower(name)
}

func (k Keys) Readme(owner, name string) string {
	return k.ns() + ":readme:" + strings.ToLower(owner) + "/" + strings.ToLower(name)
}

func (k Keys) ns() string {
	if k.Namespace == "" {
		return DefaultNamespace
	}
	return k.Namespace
}
