package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TaskWarmOrgRepos = "warm:org_repos"

	QueueWarm = "warm"

	// warm tasks for the same org enqueued within this window collapse into one
	warmUniqueFor = time.Minute
)

type WarmOrgReposPayload struct {
	Org string `json:"org"`
	// Refresh drops the cached listing before fetching
	Refresh bool `json:"refresh,omitempty"`
}

// Enqueuer is the part of *asynq.Client the API needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func NewWarmOrgReposTask(p WarmOrgReposPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWarmOrgRepos, payload, asynq.Queue(QueueWarm)), nil
}

// EnqueueWarm queues a warm task with a fresh task id
func EnqueueWarm(ctx context.Context, enq Enqueuer, p WarmOrgReposPayload) (*asynq.TaskInfo, error) {
	task, err := NewWarmOrgReposTask(p)
	if err != nil {
		return nil, err
	}
	return enq.EnqueueContext(ctx, task, asynq.TaskID(uuid.NewString()), asynq.Unique(warmUniqueFor))
}
