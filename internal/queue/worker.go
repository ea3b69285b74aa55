package queue

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

// HandlePublishPostTask fires when a post's scheduled delay elapses. It goes
// through the coordinator's claim path, so losing the race to a concurrent
// cron sweep is benign and the task completes without retrying.
func (q *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	return q.coordinator.ProcessOne(ctx, payload.PostID)
}
