package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	config "github.com/postpilot/postpilot/configs"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/publisher"
)

// Executor wraps a single target's publish call with a timeout, retry with
// exponential backoff for transient failures, and outcome classification.
// It never writes to the post store; the dispatcher owns persistence.
type Executor struct {
	registry publisher.Registry
	cfg      config.Pipeline
}

func NewExecutor(registry publisher.Registry, cfg config.Pipeline) *Executor {
	return &Executor{
		registry: registry,
		cfg:      cfg,
	}
}

// Attempt publishes content to one platform. priorRetries carries the retry
// count accumulated by earlier runs so the lifetime bound holds across
// reclaims. The returned attempt always has a terminal-for-this-run outcome.
func (e *Executor) Attempt(ctx context.Context, platform string, cred publisher.Credential, content publisher.Content, priorRetries int) *models.PublishAttempt {
	attempt := &models.PublishAttempt{
		Platform:    platform,
		AttemptedAt: time.Now(),
		RetryCount:  priorRetries,
	}

	pub, ok := e.registry.Get(platform)
	if !ok {
		attempt.Outcome = models.OutcomePermanentFailure
		attempt.ErrorDetail = "no publisher registered for platform " + platform
		return attempt
	}

	for try := 0; try < e.cfg.MaxPublishTries; try++ {
		if try > 0 {
			if err := e.backoff(ctx, try); err != nil {
				attempt.Outcome = models.OutcomeTransientFailure
				attempt.ErrorDetail = "run cancelled while waiting to retry"
				return attempt
			}
		}

		attempt.AttemptedAt = time.Now()
		attempt.RetryCount++

		externalID, err := e.publishOnce(ctx, pub, cred, content)
		if err == nil {
			attempt.Outcome = models.OutcomeSuccess
			attempt.ExternalID = externalID
			attempt.ErrorDetail = ""
			return attempt
		}

		attempt.ErrorDetail = err.Error()

		var pubErr *publisher.Error
		if errors.As(err, &pubErr) {
			switch pubErr.Kind {
			case publisher.KindAuth:
				attempt.Outcome = models.OutcomeCredentialExpired
				return attempt
			case publisher.KindPermanent:
				attempt.Outcome = models.OutcomePermanentFailure
				return attempt
			}
		}

		// Transient (rate limit, 5xx, timeout, network): loop for another try.
		slog.Info("publish attempt failed",
			"platform", platform,
			"try", try+1,
			"error", err.Error())
	}

	// Exhausted for this run, but a future run may retry.
	attempt.Outcome = models.OutcomeTransientFailure
	return attempt
}

func (e *Executor) publishOnce(ctx context.Context, pub publisher.Publisher, cred publisher.Credential, content publisher.Content) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	return pub.Publish(attemptCtx, cred, content)
}

// backoff waits BackoffBase * 2^(try-1), giving up early if the run is
// cancelled.
func (e *Executor) backoff(ctx context.Context, try int) error {
	delay := e.cfg.BackoffBase << (try - 1)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
