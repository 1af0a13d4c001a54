package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/repoexplorer/githubapi"
	"github.com/briangreenhill/repoexplorer/repos"
)

// Warmer is the subset of *repos.Service the warm handler drives
type Warmer interface {
	OrganizationRepos(ctx context.Context, org string) ([]*repos.Repository, error)
	InvalidateOrganization(ctx context.Context, org string) error
}

type Handler struct {
	svc    Warmer
	logger zerolog.Logger
}

func NewHandler(svc Warmer, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register adds every task handler to mux
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskWarmOrgRepos, h.HandleWarmOrgRepos)
}

// HandleWarmOrgRepos fills the listing cache for one org. Errors that a
// retry cannot fix are wrapped with asynq.SkipRetry.
func (h *Handler) HandleWarmOrgRepos(ctx context.Context, t *asynq.Task) error {
	var p WarmOrgReposPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error().Err(err).Msg("bad warm payload")
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.Org == "" {
		return fmt.Errorf("warm payload without org: %w", asynq.SkipRetry)
	}

	log := h.logger.With().Str("org", p.Org).Bool("refresh", p.Refresh).Logger()
	start := time.Now()

	if p.Refresh {
		if err := h.svc.InvalidateOrganization(ctx, p.Org); err != nil {
			return fmt.Errorf("invalidate %s: %w", p.Org, err)
		}
	}

	list, err := h.svc.OrganizationRepos(ctx, p.Org)
	duration := time.Since(start)
	if err != nil {
		if isRetryableError(err) {
			log.Warn().Err(err).Dur("duration", duration).Msg("warm failed, will retry")
			return err
		}
		log.Error().Err(err).Dur("duration", duration).Msg("warm failed permanently, dropping task")
		return fmt.Errorf("warm %s: %w: %w", p.Org, err, asynq.SkipRetry)
	}

	log.Info().Int("count", len(list)).Dur("duration", duration).Msg("warmed organization repositories")
	return nil
}

// isRetryableError reports whether a failed warm should run again. API
// errors classify themselves; anything else (a store outage) is retried.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if apiErr, ok := githubapi.AsAPIError(err); ok {
		return apiErr.Retryable()
	}
	return true
}

// RetryDelay schedules rate limited retries just after the quota resets and
// falls back to asynq's exponential backoff otherwise.
func RetryDelay(now func() time.Time) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		if apiErr, ok := githubapi.AsAPIError(err); ok && apiErr.RateLimited() {
			if reset, ok := apiErr.RateLimit.ResetAt(); ok {
				if d := reset.Sub(now()) + time.Second; d > time.Second {
					return d
				}
				return time.Second
			}
		}
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
}

// ScheduleWarmups registers a periodic warm task per org
func ScheduleWarmups(s *asynq.Scheduler, orgs []string, every time.Duration) error {
	schedule := fmt.Sprintf("@every %s", every)
	for _, org := range orgs {
		task, err := NewWarmOrgReposTask(WarmOrgReposPayload{Org: org})
		if err != nil {
			return err
		}
		if _, err := s.Register(schedule, task); err != nil {
			return fmt.Errorf("schedule warm %s: %w", org, err)
		}
	}
	return nil
}
