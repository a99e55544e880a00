package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInvalidateRoleCache drops client permission caches built for a role.
	TaskInvalidateRoleCache = "rbac:invalidate_role_cache"
)

// InvalidateRoleCachePayload names the role whose caches are stale.
type InvalidateRoleCachePayload struct {
	RoleID string `json:"role_id"`
}

// NewInvalidateRoleCacheTask builds a cache invalidation task.
func NewInvalidateRoleCacheTask(roleID string) (*asynq.Task, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, errors.New("jobs: role id required")
	}
	body, err := json.Marshal(InvalidateRoleCachePayload{RoleID: roleID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvalidateRoleCache, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}
