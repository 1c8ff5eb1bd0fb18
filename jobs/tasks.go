package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

const (
	// QueueDefault is the queue for cache maintenance tasks.
	QueueDefault = "default"
	// TaskCacheInvalidate clears cached decisions for one principal or for everyone.
	TaskCacheInvalidate = "rbac:cache:invalidate"
	// TaskCacheFlush clears every cached decision on a schedule.
	TaskCacheFlush = "rbac:cache:flush"

	invalidateMaxRetry = 10
	flushMaxRetry      = 3
	taskTimeout        = 30 * time.Second
)

var errEmptyScope = errors.New("jobs: invalidation payload names no scope")

// CacheInvalidatePayload names the scope to clear. All takes precedence.
type CacheInvalidatePayload struct {
	UserID    int64 `json:"user_id,omitempty"`
	CompanyID int64 `json:"company_id,omitempty"`
	All       bool  `json:"all,omitempty"`
}

func (p CacheInvalidatePayload) validate() error {
	if p.All {
		return nil
	}
	if p.UserID <= 0 || p.CompanyID <= 0 {
		return errEmptyScope
	}
	return nil
}

// NewCacheInvalidateTask builds a retrying invalidation task for a principal scope.
func NewCacheInvalidateTask(scope rbac.CacheInvalidationScope) (*asynq.Task, error) {
	return newInvalidateTask(CacheInvalidatePayload{UserID: scope.PrincipalID, CompanyID: scope.CompanyID})
}

// NewCacheInvalidateAllTask builds a retrying clear-all task.
func NewCacheInvalidateAllTask() (*asynq.Task, error) {
	return newInvalidateTask(CacheInvalidatePayload{All: true})
}

func newInvalidateTask(payload CacheInvalidatePayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheInvalidate, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(invalidateMaxRetry),
		asynq.Timeout(taskTimeout),
	), nil
}

// NewCacheFlushTask builds the scheduled clear-all task.
func NewCacheFlushTask() *asynq.Task {
	return asynq.NewTask(TaskCacheFlush, nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(flushMaxRetry),
		asynq.Timeout(taskTimeout),
	)
}
