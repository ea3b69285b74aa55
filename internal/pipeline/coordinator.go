package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	config "github.com/postpilot/postpilot/configs"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/repository"
)

// CronRun summarizes a single coordinator invocation. It only lives in the
// trigger response; nothing about the run itself is persisted.
type CronRun struct {
	ProcessedCount int       `json:"processed_count"`
	FailedCount    int       `json:"failed_count"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Coordinator is the entry point the scheduler triggers. It claims a bounded
// batch of due posts and dispatches them across a fixed-size worker pool.
// Overlapping invocations are safe: the conditional claim ensures at most one
// run owns a post at a time.
type Coordinator struct {
	pr         repository.PostRepository
	dispatcher *Dispatcher
	cfg        config.Pipeline
}

func NewCoordinator(pr repository.PostRepository, dispatcher *Dispatcher, cfg config.Pipeline) *Coordinator {
	return &Coordinator{
		pr:         pr,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Run executes one batch. A store error before any post is claimed is fatal
// and returned as-is; per-post failures after that point only affect that
// post's counters, since each post's state is committed right after its own
// dispatch.
func (c *Coordinator) Run(ctx context.Context) (*CronRun, error) {
	startedAt := time.Now()
	leaseCutoff := startedAt.Add(-c.cfg.LeaseDuration)

	due, err := c.pr.QueryDue(ctx, startedAt, leaseCutoff, c.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("error querying due posts: %w", err)
	}

	var processed, failed int64
	jobs := make(chan *models.ScheduledPost)
	var wg sync.WaitGroup

	for i := 0; i < c.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for post := range jobs {
				status, ok := c.processPost(ctx, post)
				if !ok {
					continue
				}
				atomic.AddInt64(&processed, 1)
				if status == models.PostStatusFailed || status == models.PostStatusNeedsReconnection {
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	// Stop admitting posts once the soft deadline passes; in-flight work is
	// allowed to finish so no lease is left held without recorded progress.
	softDeadline := startedAt.Add(c.cfg.SoftDeadline)
	admitted := 0
	for _, post := range due {
		if time.Now().After(softDeadline) {
			slog.Info("soft deadline reached, deferring remaining posts",
				"deferred", len(due)-admitted)
			break
		}
		jobs <- post
		admitted++
	}
	close(jobs)
	wg.Wait()

	run := &CronRun{
		ProcessedCount: int(atomic.LoadInt64(&processed)),
		FailedCount:    int(atomic.LoadInt64(&failed)),
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
	}

	slog.Info("publish run finished",
		"due", len(due),
		"processed", run.ProcessedCount,
		"failed", run.FailedCount,
		"duration", run.FinishedAt.Sub(run.StartedAt).String())

	return run, nil
}

// processPost claims and dispatches one post. ok is false when the post was
// not processed at all: the claim was lost to a concurrent run, or the claim
// write itself failed.
func (c *Coordinator) processPost(ctx context.Context, post *models.ScheduledPost) (status string, ok bool) {
	token, err := gonanoid.New()
	if err != nil {
		slog.Error("error generating processing token", "post_id", post.ID, "error", err.Error())
		return "", false
	}

	now := time.Now()
	claimed, err := c.pr.TryClaim(ctx, post.ID, token, now, now.Add(-c.cfg.LeaseDuration))
	if err != nil {
		slog.Error("error claiming post", "post_id", post.ID, "error", err.Error())
		return "", false
	}
	if !claimed {
		// Another invocation owns this post; benign.
		slog.Info("claim lost", "post_id", post.ID)
		return "", false
	}

	post.Status = models.PostStatusProcessing
	post.ProcessingToken = token

	status, err = c.dispatcher.Dispatch(ctx, post)
	if err != nil {
		slog.Error("dispatch failed", "post_id", post.ID, "error", err.Error())
		status = models.PostStatusFailed
		if serr := c.pr.SetTerminalStatus(ctx, post.ID, token, status); serr != nil {
			slog.Error("error writing failure status", "post_id", post.ID, "error", serr.Error())
		}
	}

	return status, true
}

// ProcessOne claims and dispatches a single post outside a batch run. The
// queue worker uses it when a post's scheduled delay fires; the claim makes
// it race-free against a concurrent cron sweep.
func (c *Coordinator) ProcessOne(ctx context.Context, postID int64) error {
	post, err := c.pr.GetByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("error loading post %d: %w", postID, err)
	}
	if post == nil {
		slog.Info("post no longer exists", "post_id", postID)
		return nil
	}
	if models.IsTerminalStatus(post.Status) {
		return nil
	}
	if post.ScheduledAt.After(time.Now()) {
		return nil
	}

	if _, ok := c.processPost(ctx, post); !ok {
		return nil
	}
	return nil
}
