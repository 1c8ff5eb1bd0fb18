package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

// CacheMaintainer clears cached authorization decisions.
type CacheMaintainer interface {
	InvalidatePrincipalCache(ctx context.Context, principalID, companyID int64) error
	InvalidateAllCache(ctx context.Context) error
}

// CacheMaintenanceJob handles invalidation retries and scheduled flushes.
type CacheMaintenanceJob struct {
	Cache   CacheMaintainer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheMaintenanceJob wires dependencies for the cache task handlers.
func NewCacheMaintenanceJob(cache CacheMaintainer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheMaintenanceJob {
	return &CacheMaintenanceJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handlers returns the task registrations served by this job.
func (j *CacheMaintenanceJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskCacheInvalidate, Handler: j.HandleInvalidate},
		{Type: TaskCacheFlush, Handler: j.HandleFlush},
	}
}

// HandleInvalidate processes TaskCacheInvalidate. Malformed payloads are not retried.
func (j *CacheMaintenanceJob) HandleInvalidate(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Cache == nil {
		return errors.New("cache maintenance: handler not configured")
	}
	var payload CacheInvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("cache maintenance: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.validate(); err != nil {
		return fmt.Errorf("cache maintenance: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskCacheInvalidate)
	defer func() { err = tracker.End(err) }()

	logger := j.logger()
	if payload.All {
		if err = j.Cache.InvalidateAllCache(ctx); err != nil {
			logger.Warn("retry cache clear-all", slog.Any("error", err))
			return err
		}
		j.Metrics.AddInvalidation("all")
		logger.Info("cache cleared by retry task")
		return nil
	}
	if err = j.Cache.InvalidatePrincipalCache(ctx, payload.UserID, payload.CompanyID); err != nil {
		logger.Warn("retry principal invalidation",
			slog.Int64("user_id", payload.UserID),
			slog.Int64("company_id", payload.CompanyID),
			slog.Any("error", err))
		return err
	}
	j.Metrics.AddInvalidation("principal")
	logger.Info("principal cache invalidated by retry task",
		slog.Int64("user_id", payload.UserID),
		slog.Int64("company_id", payload.CompanyID))
	return nil
}

// HandleFlush processes the scheduled TaskCacheFlush.
func (j *CacheMaintenanceJob) HandleFlush(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Cache == nil {
		return errors.New("cache maintenance: handler not configured")
	}
	tracker := j.Metrics.Track(TaskCacheFlush)
	defer func() { err = tracker.End(err) }()

	if err = j.Cache.InvalidateAllCache(ctx); err != nil {
		j.logger().Error("scheduled cache flush", slog.Any("error", err))
		return err
	}
	j.Metrics.AddInvalidation("all")
	j.logger().Info("scheduled cache flush complete")
	return nil
}

func (j *CacheMaintenanceJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
