package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/publisher"
	"github.com/postpilot/postpilot/internal/repository"
	"github.com/postpilot/postpilot/pkg/utils"
)

// Dispatcher fans one claimed post out to all of its target platforms,
// persists each attempt as it completes, and derives the post's terminal
// status from the per-target outcomes.
type Dispatcher struct {
	pr        repository.PostRepository
	tr        repository.TargetRepository
	ar        repository.AttemptRepository
	cr        repository.ConnectionRepository
	pm        repository.PostMediaRepository
	ma        repository.MediaAssetRepository
	executor  *Executor
	secretKey []byte
	maxRetry  int
}

func NewDispatcher(
	pr repository.PostRepository,
	tr repository.TargetRepository,
	ar repository.AttemptRepository,
	cr repository.ConnectionRepository,
	pm repository.PostMediaRepository,
	ma repository.MediaAssetRepository,
	executor *Executor,
	secretKey []byte,
	maxRetry int) *Dispatcher {
	return &Dispatcher{
		pr:        pr,
		tr:        tr,
		ar:        ar,
		cr:        cr,
		pm:        pm,
		ma:        ma,
		executor:  executor,
		secretKey: secretKey,
		maxRetry:  maxRetry,
	}
}

// publishTask is one target that passed every pre-flight check and will
// actually hit its platform API.
type publishTask struct {
	platform     string
	cred         publisher.Credential
	priorRetries int
}

// Dispatch processes one claimed post and returns the terminal status it
// wrote. The post must carry the processing token it was claimed with.
func (d *Dispatcher) Dispatch(ctx context.Context, post *models.ScheduledPost) (string, error) {
	targets, err := d.tr.ListByPostID(ctx, post.ID)
	if err != nil {
		return "", fmt.Errorf("error listing targets for post %d: %w", post.ID, err)
	}
	if len(targets) == 0 {
		status := models.PostStatusFailed
		if err := d.pr.SetTerminalStatus(ctx, post.ID, post.ProcessingToken, status); err != nil {
			return "", fmt.Errorf("error writing status for post %d: %w", post.ID, err)
		}
		return status, nil
	}

	// Attempts recorded by an interrupted earlier run. Targets that already
	// reached a terminal outcome are never re-published.
	existing, err := d.ar.MapByPostID(ctx, post.ID)
	if err != nil {
		return "", fmt.Errorf("error loading attempts for post %d: %w", post.ID, err)
	}

	content, err := d.loadContent(ctx, post)
	if err != nil {
		return "", fmt.Errorf("error loading content for post %d: %w", post.ID, err)
	}

	// First pass resolves every target that will not publish: prior terminal
	// outcomes, frozen retry budgets, missing connections, undecryptable
	// credentials. No goroutine exists yet, so a store error here aborts
	// cleanly with nothing in flight.
	outcomes := make(map[string]string, len(targets))
	var tasks []publishTask

	for _, platform := range targets {
		prior := existing[platform]

		if prior != nil && models.IsTerminalOutcome(prior.Outcome) {
			outcomes[platform] = prior.Outcome
			continue
		}

		priorRetries := 0
		if prior != nil {
			priorRetries = prior.RetryCount
		}

		// A target that burned through its lifetime retry budget is frozen
		// as a permanent failure until an operator retry.
		if priorRetries >= d.maxRetry {
			attempt := &models.PublishAttempt{
				PostID:      post.ID,
				Platform:    platform,
				Outcome:     models.OutcomePermanentFailure,
				ErrorDetail: "retry limit reached",
				AttemptedAt: time.Now(),
				RetryCount:  priorRetries,
			}
			d.recordAttempt(ctx, attempt)
			outcomes[platform] = attempt.Outcome
			continue
		}

		conn, err := d.cr.GetByUserAndPlatform(ctx, post.UserID, platform)
		if err != nil {
			return "", fmt.Errorf("error loading connection for post %d: %w", post.ID, err)
		}

		if conn == nil || !conn.IsConnected {
			attempt := &models.PublishAttempt{
				PostID:      post.ID,
				Platform:    platform,
				Outcome:     models.OutcomeNeedsReconnection,
				ErrorDetail: "platform is not connected",
				AttemptedAt: time.Now(),
				RetryCount:  priorRetries,
			}
			d.recordAttempt(ctx, attempt)
			outcomes[platform] = attempt.Outcome
			continue
		}

		cred, err := d.decryptCredential(conn)
		if err != nil {
			attempt := &models.PublishAttempt{
				PostID:      post.ID,
				Platform:    platform,
				Outcome:     models.OutcomeCredentialExpired,
				ErrorDetail: "stored credential could not be decrypted",
				AttemptedAt: time.Now(),
				RetryCount:  priorRetries,
			}
			d.recordAttempt(ctx, attempt)
			outcomes[platform] = attempt.Outcome
			continue
		}

		tasks = append(tasks, publishTask{platform: platform, cred: cred, priorRetries: priorRetries})
	}

	// Second pass fans out the remaining targets. The mutex covers every
	// concurrent write into outcomes.
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, task := range tasks {
		wg.Add(1)
		go func(task publishTask) {
			defer wg.Done()

			attempt := d.attemptSafely(ctx, task.platform, task.cred, content, task.priorRetries)
			attempt.PostID = post.ID

			// Written as soon as this target finishes; a slow platform never
			// delays recording the others.
			d.recordAttempt(ctx, attempt)

			mu.Lock()
			outcomes[task.platform] = attempt.Outcome
			mu.Unlock()
		}(task)
	}

	wg.Wait()

	status := deriveStatus(outcomes)
	if err := d.pr.SetTerminalStatus(ctx, post.ID, post.ProcessingToken, status); err != nil {
		return "", fmt.Errorf("error writing status for post %d: %w", post.ID, err)
	}

	return status, nil
}

// attemptSafely shields sibling targets from an unexpected panic in one
// platform's publish path by converting it to a permanent failure for that
// target only.
func (d *Dispatcher) attemptSafely(ctx context.Context, platform string, cred publisher.Credential, content publisher.Content, priorRetries int) (attempt *models.PublishAttempt) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("publish attempt panicked", "platform", platform, "panic", fmt.Sprintf("%v", r))
			attempt = &models.PublishAttempt{
				Platform:    platform,
				Outcome:     models.OutcomePermanentFailure,
				ErrorDetail: fmt.Sprintf("unexpected error: %v", r),
				AttemptedAt: time.Now(),
				RetryCount:  priorRetries + 1,
			}
		}
	}()

	return d.executor.Attempt(ctx, platform, cred, content, priorRetries)
}

func (d *Dispatcher) recordAttempt(ctx context.Context, attempt *models.PublishAttempt) {
	if err := d.ar.Upsert(ctx, attempt); err != nil {
		slog.Error("error recording attempt",
			"post_id", attempt.PostID,
			"platform", attempt.Platform,
			"error", err.Error())
	}
}

func (d *Dispatcher) decryptCredential(conn *models.PlatformConnection) (publisher.Credential, error) {
	token, err := utils.Decrypt(conn.Credential, d.secretKey)
	if err != nil {
		slog.Info(err.Error())
		return publisher.Credential{}, err
	}
	return publisher.Credential{
		AccountRef:  conn.AccountRef,
		AccessToken: token,
	}, nil
}

func (d *Dispatcher) loadContent(ctx context.Context, post *models.ScheduledPost) (publisher.Content, error) {
	content := publisher.Content{
		Caption: post.Caption,
		Title:   post.Title,
	}

	postMedias, err := d.pm.ListByPostID(ctx, post.ID)
	if err != nil {
		return content, err
	}

	for _, pm := range postMedias {
		asset, err := d.ma.GetByID(ctx, pm.AssetID)
		if err != nil {
			return content, err
		}
		if asset == nil || asset.FileURL == "" {
			continue
		}
		content.MediaURLs = append(content.MediaURLs, asset.FileURL)
	}

	return content, nil
}

// deriveStatus folds the per-target outcomes into the post status. The post
// is published only if every target succeeded; any success at all makes it
// partially published; with no successes, a credential problem on any target
// outranks plain failure so the UI prompts re-auth instead of implying a
// content problem.
func deriveStatus(outcomes map[string]string) string {
	var successes, reconnects int
	for _, outcome := range outcomes {
		switch outcome {
		case models.OutcomeSuccess:
			successes++
		case models.OutcomeCredentialExpired, models.OutcomeNeedsReconnection:
			reconnects++
		}
	}

	switch {
	case successes == len(outcomes):
		return models.PostStatusPublished
	case successes > 0:
		return models.PostStatusPartiallyPublished
	case reconnects > 0:
		return models.PostStatusNeedsReconnection
	default:
		return models.PostStatusFailed
	}
}
