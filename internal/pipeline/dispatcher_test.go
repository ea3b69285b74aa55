package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/publisher"
	"github.com/stretchr/testify/assert"
)

type dispatchEnv struct {
	pr         *memPostRepository
	tr         *memTargetRepository
	ar         *memAttemptRepository
	cr         *memConnectionRepository
	pm         *memPostMediaRepository
	ma         *memMediaAssetRepository
	dispatcher *Dispatcher
}

func newDispatchEnv(registry publisher.Registry, maxRetry int) *dispatchEnv {
	env := &dispatchEnv{
		pr: newMemPostRepository(),
		tr: newMemTargetRepository(),
		ar: newMemAttemptRepository(),
		cr: newMemConnectionRepository(),
		pm: newMemPostMediaRepository(),
		ma: newMemMediaAssetRepository(),
	}
	executor := NewExecutor(registry, testPipelineConfig())
	env.dispatcher = NewDispatcher(env.pr, env.tr, env.ar, env.cr, env.pm, env.ma, executor, testSecretKey, maxRetry)
	return env
}

// claimedPost seeds a post already holding the processing lease, the state
// Dispatch expects to receive.
func (env *dispatchEnv) claimedPost(userID int64, platforms ...string) *models.ScheduledPost {
	now := time.Now()
	post := env.pr.add(&models.ScheduledPost{
		UserID:              userID,
		Caption:             "Fresh out of the oven",
		Title:               "Morning batch",
		ScheduledAt:         now.Add(-time.Minute),
		Status:              models.PostStatusProcessing,
		ProcessingClaimedAt: &now,
		ProcessingToken:     "tok-1",
	})
	for _, platform := range platforms {
		env.tr.Create(context.Background(), nil, &models.PostTarget{PostID: post.ID, Platform: platform})
	}
	return post
}

func (env *dispatchEnv) connect(userID int64, platform string) {
	env.cr.add(&models.PlatformConnection{
		UserID:      userID,
		Platform:    platform,
		AccountRef:  "acct-" + platform,
		Credential:  encryptedCredential("token-" + platform),
		IsConnected: true,
	})
}

func TestDispatcher_AllTargetsSucceed(t *testing.T) {
	fb := &countingPublisher{fn: func() (string, error) { return "fb-1", nil }}
	wh := &countingPublisher{fn: func() (string, error) { return "wh-1", nil }}
	env := newDispatchEnv(publisher.Registry{"facebook": fb, "webhook": wh}, 9)
	env.connect(1, "facebook")
	env.connect(1, "webhook")
	post := env.claimedPost(1, "facebook", "webhook")

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, status)
	assert.Equal(t, models.PostStatusPublished, env.pr.status(post.ID))

	fbAttempt := env.ar.get(post.ID, "facebook")
	assert.Equal(t, models.OutcomeSuccess, fbAttempt.Outcome)
	assert.Equal(t, "fb-1", fbAttempt.ExternalID)
	assert.Equal(t, 1, fbAttempt.RetryCount)
	assert.Equal(t, "wh-1", env.ar.get(post.ID, "webhook").ExternalID)
}

func TestDispatcher_DisconnectedTargetSkipsExternalCall(t *testing.T) {
	fb := &countingPublisher{fn: func() (string, error) { return "fb-1", nil }}
	ig := &countingPublisher{}
	env := newDispatchEnv(publisher.Registry{"facebook": fb, "instagram": ig}, 9)
	env.connect(1, "facebook")
	// Instagram connection exists but was disconnected.
	env.cr.add(&models.PlatformConnection{
		UserID:      1,
		Platform:    "instagram",
		Credential:  encryptedCredential("stale"),
		IsConnected: false,
	})
	post := env.claimedPost(1, "facebook", "instagram")

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusPartiallyPublished, status)
	assert.Equal(t, 0, ig.callCount())
	assert.Equal(t, models.OutcomeNeedsReconnection, env.ar.get(post.ID, "instagram").Outcome)
}

func TestDispatcher_MissingConnectionAlongsideSuccess(t *testing.T) {
	fb := &countingPublisher{}
	ig := &countingPublisher{fn: func() (string, error) { return "m123", nil }}
	env := newDispatchEnv(publisher.Registry{"facebook": fb, "instagram": ig}, 9)
	// No facebook connection was ever stored for this user.
	env.connect(1, "instagram")
	post := env.claimedPost(1, "facebook", "instagram")

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusPartiallyPublished, status)
	assert.Equal(t, 0, fb.callCount())
	assert.Equal(t, models.OutcomeNeedsReconnection, env.ar.get(post.ID, "facebook").Outcome)

	igAttempt := env.ar.get(post.ID, "instagram")
	assert.Equal(t, models.OutcomeSuccess, igAttempt.Outcome)
	assert.Equal(t, "m123", igAttempt.ExternalID)
}

func TestDispatcher_MissingConnection(t *testing.T) {
	ig := &countingPublisher{}
	env := newDispatchEnv(publisher.Registry{"instagram": ig}, 9)
	post := env.claimedPost(1, "instagram")

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusNeedsReconnection, status)
	assert.Equal(t, 0, ig.callCount())
}

func TestDispatcher_ReDispatchSkipsSucceededTarget(t *testing.T) {
	fb := &countingPublisher{}
	wh := &countingPublisher{fn: func() (string, error) { return "wh-2", nil }}
	env := newDispatchEnv(publisher.Registry{"facebook": fb, "webhook": wh}, 9)
	env.connect(1, "facebook")
	env.connect(1, "webhook")
	post := env.claimedPost(1, "facebook", "webhook")

	// An earlier interrupted run already published to facebook.
	env.ar.Upsert(context.Background(), &models.PublishAttempt{
		PostID:     post.ID,
		Platform:   "facebook",
		Outcome:    models.OutcomeSuccess,
		ExternalID: "fb-old",
		RetryCount: 1,
	})

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, status)
	assert.Equal(t, 0, fb.callCount(), "succeeded target must not be published twice")
	assert.Equal(t, 1, wh.callCount())
	assert.Equal(t, "fb-old", env.ar.get(post.ID, "facebook").ExternalID)
}

func TestDispatcher_LiveTargetBeforeResolvedTarget(t *testing.T) {
	// A live target listed ahead of an already-resolved one: the live
	// target's goroutine and the resolved target's outcome must land in the
	// same map without stepping on each other.
	wh := &countingPublisher{fn: func() (string, error) {
		time.Sleep(10 * time.Millisecond)
		return "wh-1", nil
	}}
	fb := &countingPublisher{}
	env := newDispatchEnv(publisher.Registry{"webhook": wh, "facebook": fb}, 9)
	env.connect(1, "webhook")
	env.connect(1, "facebook")
	post := env.claimedPost(1, "webhook", "facebook")

	env.ar.Upsert(context.Background(), &models.PublishAttempt{
		PostID:     post.ID,
		Platform:   "facebook",
		Outcome:    models.OutcomeSuccess,
		ExternalID: "fb-old",
		RetryCount: 1,
	})

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, status)
	assert.Equal(t, 1, wh.callCount())
	assert.Equal(t, 0, fb.callCount())
	assert.Equal(t, "wh-1", env.ar.get(post.ID, "webhook").ExternalID)
}

func TestDispatcher_ConnectionErrorAbortsBeforePublishing(t *testing.T) {
	wh := &countingPublisher{}
	env := newDispatchEnv(publisher.Registry{"webhook": wh, "facebook": &countingPublisher{}}, 9)
	env.connect(1, "webhook")
	env.cr.failGetPlatform = "facebook"
	post := env.claimedPost(1, "webhook", "facebook")

	_, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.Error(t, err)
	// Nothing may be publishing when Dispatch reports the error; the
	// coordinator is about to write a terminal status.
	assert.Equal(t, 0, wh.callCount())
	assert.Nil(t, env.ar.get(post.ID, "webhook"))
}

func TestDispatcher_TransientTargetRetriedOnReDispatch(t *testing.T) {
	fb := &countingPublisher{fn: func() (string, error) { return "fb-3", nil }}
	env := newDispatchEnv(publisher.Registry{"facebook": fb}, 9)
	env.connect(1, "facebook")
	post := env.claimedPost(1, "facebook")

	env.ar.Upsert(context.Background(), &models.PublishAttempt{
		PostID:     post.ID,
		Platform:   "facebook",
		Outcome:    models.OutcomeTransientFailure,
		RetryCount: 3,
	})

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, status)
	assert.Equal(t, 1, fb.callCount())
	// Retry count keeps accumulating across runs.
	assert.Equal(t, 4, env.ar.get(post.ID, "facebook").RetryCount)
}

func TestDispatcher_LifetimeRetryBudgetFreezesTarget(t *testing.T) {
	fb := &countingPublisher{}
	env := newDispatchEnv(publisher.Registry{"facebook": fb}, 9)
	env.connect(1, "facebook")
	post := env.claimedPost(1, "facebook")

	env.ar.Upsert(context.Background(), &models.PublishAttempt{
		PostID:     post.ID,
		Platform:   "facebook",
		Outcome:    models.OutcomeTransientFailure,
		RetryCount: 9,
	})

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, status)
	assert.Equal(t, 0, fb.callCount(), "exhausted target must not be retried")

	// The stored row freezes as permanent so clients do not see a
	// retryable-looking outcome on a target that will never auto-retry.
	frozen := env.ar.get(post.ID, "facebook")
	assert.Equal(t, models.OutcomePermanentFailure, frozen.Outcome)
	assert.Equal(t, 9, frozen.RetryCount)
}

func TestDispatcher_AuthFailureDerivesNeedsReconnection(t *testing.T) {
	fb := &countingPublisher{fn: func() (string, error) {
		return "", &publisher.Error{Kind: publisher.KindAuth, StatusCode: 401, Message: "token expired"}
	}}
	env := newDispatchEnv(publisher.Registry{"facebook": fb}, 9)
	env.connect(1, "facebook")
	post := env.claimedPost(1, "facebook")

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusNeedsReconnection, status)
	assert.Equal(t, models.OutcomeCredentialExpired, env.ar.get(post.ID, "facebook").Outcome)
}

func TestDispatcher_AllTransientFailuresDeriveFailed(t *testing.T) {
	fb := &countingPublisher{fn: func() (string, error) {
		return "", &publisher.Error{Kind: publisher.KindTransient, StatusCode: 503, Message: "unavailable"}
	}}
	env := newDispatchEnv(publisher.Registry{"facebook": fb}, 9)
	env.connect(1, "facebook")
	post := env.claimedPost(1, "facebook")

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, status)
	attempt := env.ar.get(post.ID, "facebook")
	assert.Equal(t, models.OutcomeTransientFailure, attempt.Outcome)
	assert.Equal(t, 3, attempt.RetryCount)
}

func TestDispatcher_UndecryptableCredential(t *testing.T) {
	fb := &countingPublisher{}
	env := newDispatchEnv(publisher.Registry{"facebook": fb}, 9)
	env.cr.add(&models.PlatformConnection{
		UserID:      1,
		Platform:    "facebook",
		Credential:  "not base64 at all!!",
		IsConnected: true,
	})
	post := env.claimedPost(1, "facebook")

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusNeedsReconnection, status)
	assert.Equal(t, 0, fb.callCount())
	assert.Equal(t, models.OutcomeCredentialExpired, env.ar.get(post.ID, "facebook").Outcome)
}

func TestDispatcher_NoTargets(t *testing.T) {
	env := newDispatchEnv(publisher.Registry{}, 9)
	post := env.claimedPost(1)

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, status)
	assert.Equal(t, models.PostStatusFailed, env.pr.status(post.ID))
}

func TestDispatcher_MediaURLsLoadedIntoContent(t *testing.T) {
	var gotMedia []string
	env := newDispatchEnv(publisher.Registry{
		"facebook": publisherFunc(func(ctx context.Context, cred publisher.Credential, content publisher.Content) (string, error) {
			gotMedia = content.MediaURLs
			return "fb-1", nil
		}),
	}, 9)
	env.connect(1, "facebook")
	post := env.claimedPost(1, "facebook")

	assetID, _ := env.ma.Create(context.Background(), nil, &models.MediaAsset{
		UserID:  1,
		FileURL: "https://cdn.example.com/a.jpg",
	})
	env.pm.Create(context.Background(), nil, &models.PostMedia{PostID: post.ID, AssetID: assetID})

	status, err := env.dispatcher.Dispatch(context.Background(), post)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, status)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg"}, gotMedia)
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		outcomes map[string]string
		want     string
	}{
		{
			name:     "all success",
			outcomes: map[string]string{"facebook": models.OutcomeSuccess, "webhook": models.OutcomeSuccess},
			want:     models.PostStatusPublished,
		},
		{
			name:     "mixed success and failure",
			outcomes: map[string]string{"facebook": models.OutcomeSuccess, "webhook": models.OutcomePermanentFailure},
			want:     models.PostStatusPartiallyPublished,
		},
		{
			name:     "credential problem outranks failure",
			outcomes: map[string]string{"facebook": models.OutcomeCredentialExpired, "webhook": models.OutcomePermanentFailure},
			want:     models.PostStatusNeedsReconnection,
		},
		{
			name:     "reconnection needed",
			outcomes: map[string]string{"instagram": models.OutcomeNeedsReconnection},
			want:     models.PostStatusNeedsReconnection,
		},
		{
			name:     "all failed",
			outcomes: map[string]string{"facebook": models.OutcomeTransientFailure, "webhook": models.OutcomePermanentFailure},
			want:     models.PostStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveStatus(tt.outcomes))
		})
	}
}
