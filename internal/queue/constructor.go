package queue

import (
	"github.com/postpilot/postpilot/internal/pipeline"
)

// Queue is the asynq-backed fast path: posts are enqueued with their
// scheduled delay at creation time, and the handler pushes them through the
// same claim-and-dispatch path the cron sweep uses. The conditional claim
// arbitrates when both fire for the same post.
type Queue struct {
	coordinator *pipeline.Coordinator
}

func NewQueue(coordinator *pipeline.Coordinator) *Queue {
	return &Queue{coordinator: coordinator}
}

const TaskTypePublishPost = "publish:post"

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}
