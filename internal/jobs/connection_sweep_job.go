package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/postpilot/postpilot/internal/repository"
)

// ConnectionSweepJob periodically marks connections whose stored credential
// has expired as disconnected. The dispatcher then records those targets as
// needing reconnection without wasting an external call.
type ConnectionSweepJob struct {
	cr repository.ConnectionRepository
}

func NewConnectionSweepJob(cr repository.ConnectionRepository) *ConnectionSweepJob {
	return &ConnectionSweepJob{cr: cr}
}

func (j *ConnectionSweepJob) SweepExpired() {
	ctx := context.Background()

	disconnected, err := j.cr.DisconnectExpired(ctx, time.Now())
	if err != nil {
		slog.Info(err.Error())
		return
	}

	if disconnected > 0 {
		slog.Info("expired connections disconnected", "count", disconnected)
	}
}
