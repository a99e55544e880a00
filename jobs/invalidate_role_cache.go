package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockdesk/internal/clientstore"
	jobmetrics "github.com/odyssey-erp/stockdesk/internal/jobs"
	"github.com/odyssey-erp/stockdesk/internal/permstore"
)

// InvalidateRoleCacheJob removes stale permission snapshots from every client
// after a role's permissions change.
type InvalidateRoleCacheJob struct {
	Backend clientstore.Backend
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewInvalidateRoleCacheJob initialises the invalidation handler.
func NewInvalidateRoleCacheJob(backend clientstore.Backend, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvalidateRoleCacheJob {
	return &InvalidateRoleCacheJob{Backend: backend, Logger: logger, Metrics: metrics}
}

// Handle executes one invalidation.
func (j *InvalidateRoleCacheJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Backend == nil {
		return errors.New("invalidate role cache: handler not configured")
	}
	var payload InvalidateRoleCachePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RoleID == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskInvalidateRoleCache)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("role_id", payload.RoleID))
	start := time.Now()
	n, err := permstore.InvalidateRole(ctx, j.Backend, payload.RoleID)
	if err != nil {
		logger.Error("invalidate role cache", slog.Int("cleared", n), slog.Any("error", err))
		return err
	}
	logger.Info("role cache invalidated",
		slog.Int("cleared", n),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (j *InvalidateRoleCacheJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// InvalidateRole runs the invalidation in the calling goroutine. It serves
// deployments whose client storage lives in process memory, out of reach of
// a separate worker.
func (j *InvalidateRoleCacheJob) InvalidateRole(ctx context.Context, roleID string) error {
	task, err := NewInvalidateRoleCacheTask(roleID)
	if err != nil {
		return err
	}
	return j.Handle(ctx, task)
}
