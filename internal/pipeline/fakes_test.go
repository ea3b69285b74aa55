package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/publisher"
	"github.com/postpilot/postpilot/pkg/utils"
)

// In-memory repository fakes backing the dispatcher and coordinator tests.
// They mirror the SQL repositories' conditional-update semantics so claim
// races behave the same as against Postgres.

type memPostRepository struct {
	mu           sync.Mutex
	posts        map[int64]*models.ScheduledPost
	nextID       int64
	failQueryDue bool
}

func newMemPostRepository() *memPostRepository {
	return &memPostRepository{posts: make(map[int64]*models.ScheduledPost), nextID: 1}
}

func (r *memPostRepository) add(post *models.ScheduledPost) *models.ScheduledPost {
	r.mu.Lock()
	defer r.mu.Unlock()
	post.ID = r.nextID
	r.nextID++
	r.posts[post.ID] = post
	return post
}

func (r *memPostRepository) Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) (int64, error) {
	return r.add(post).ID, nil
}

func (r *memPostRepository) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	clone := *post
	return &clone, nil
}

func (r *memPostRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var posts []*models.ScheduledPost
	for _, post := range r.posts {
		if post.UserID == userID {
			clone := *post
			posts = append(posts, &clone)
		}
	}
	return posts, nil
}

func (r *memPostRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[postID]
	return ok && post.UserID == userID, nil
}

func (r *memPostRepository) QueryDue(ctx context.Context, now time.Time, leaseCutoff time.Time, limit int) ([]*models.ScheduledPost, error) {
	if r.failQueryDue {
		return nil, errors.New("store unavailable")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*models.ScheduledPost
	for _, post := range r.posts {
		pending := post.Status == models.PostStatusPending && !post.ScheduledAt.After(now)
		expired := post.Status == models.PostStatusProcessing &&
			post.ProcessingClaimedAt != nil && post.ProcessingClaimedAt.Before(leaseCutoff)
		if pending || expired {
			clone := *post
			due = append(due, &clone)
		}
	}

	for i := 0; i < len(due); i++ {
		for j := i + 1; j < len(due); j++ {
			if due[j].ScheduledAt.Before(due[i].ScheduledAt) {
				due[i], due[j] = due[j], due[i]
			}
		}
	}

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memPostRepository) TryClaim(ctx context.Context, postID int64, token string, now time.Time, leaseCutoff time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, ok := r.posts[postID]
	if !ok {
		return false, nil
	}

	claimable := post.Status == models.PostStatusPending ||
		(post.Status == models.PostStatusProcessing &&
			post.ProcessingClaimedAt != nil && post.ProcessingClaimedAt.Before(leaseCutoff))
	if !claimable {
		return false, nil
	}

	claimedAt := now
	post.Status = models.PostStatusProcessing
	post.ProcessingClaimedAt = &claimedAt
	post.ProcessingToken = token
	post.UpdatedAt = now
	return true, nil
}

func (r *memPostRepository) SetTerminalStatus(ctx context.Context, postID int64, token, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, ok := r.posts[postID]
	if !ok || post.ProcessingToken != token {
		return nil
	}
	post.Status = status
	post.ProcessingToken = ""
	post.ProcessingClaimedAt = nil
	post.UpdatedAt = time.Now()
	return nil
}

func (r *memPostRepository) ResetForRetry(ctx context.Context, postID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, ok := r.posts[postID]
	if !ok {
		return false, nil
	}
	switch post.Status {
	case models.PostStatusFailed, models.PostStatusNeedsReconnection, models.PostStatusPartiallyPublished:
		post.Status = models.PostStatusPending
		post.ProcessingToken = ""
		post.ProcessingClaimedAt = nil
		return true, nil
	}
	return false, nil
}

func (r *memPostRepository) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.posts, id)
	return nil
}

func (r *memPostRepository) status(id int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posts[id].Status
}

type memTargetRepository struct {
	mu      sync.Mutex
	targets map[int64][]string
}

func newMemTargetRepository() *memTargetRepository {
	return &memTargetRepository{targets: make(map[int64][]string)}
}

func (r *memTargetRepository) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[target.PostID] = append(r.targets[target.PostID], target.Platform)
	return nil
}

func (r *memTargetRepository) ListByPostID(ctx context.Context, postID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets[postID]...), nil
}

func (r *memTargetRepository) Remove(ctx context.Context, postID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, postID)
	return nil
}

type memAttemptRepository struct {
	mu       sync.Mutex
	attempts map[int64]map[string]*models.PublishAttempt
}

func newMemAttemptRepository() *memAttemptRepository {
	return &memAttemptRepository{attempts: make(map[int64]map[string]*models.PublishAttempt)}
}

func (r *memAttemptRepository) Upsert(ctx context.Context, attempt *models.PublishAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts[attempt.PostID] == nil {
		r.attempts[attempt.PostID] = make(map[string]*models.PublishAttempt)
	}
	clone := *attempt
	r.attempts[attempt.PostID][attempt.Platform] = &clone
	return nil
}

func (r *memAttemptRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var attempts []*models.PublishAttempt
	for _, attempt := range r.attempts[postID] {
		clone := *attempt
		attempts = append(attempts, &clone)
	}
	return attempts, nil
}

func (r *memAttemptRepository) MapByPostID(ctx context.Context, postID int64) (map[string]*models.PublishAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]*models.PublishAttempt, len(r.attempts[postID]))
	for platform, attempt := range r.attempts[postID] {
		clone := *attempt
		result[platform] = &clone
	}
	return result, nil
}

func (r *memAttemptRepository) ClearFailures(ctx context.Context, postID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for platform, attempt := range r.attempts[postID] {
		if attempt.Outcome != models.OutcomeSuccess {
			delete(r.attempts[postID], platform)
		}
	}
	return nil
}

func (r *memAttemptRepository) get(postID int64, platform string) *models.PublishAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[postID][platform]
}

type memConnectionRepository struct {
	mu              sync.Mutex
	conns           map[int64]*models.PlatformConnection
	nextID          int64
	failGetPlatform string
}

func newMemConnectionRepository() *memConnectionRepository {
	return &memConnectionRepository{conns: make(map[int64]*models.PlatformConnection), nextID: 1}
}

func (r *memConnectionRepository) add(conn *models.PlatformConnection) *models.PlatformConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.ID = r.nextID
	r.nextID++
	r.conns[conn.ID] = conn
	return conn
}

func (r *memConnectionRepository) Create(ctx context.Context, tx *sql.Tx, conn *models.PlatformConnection) (int64, error) {
	return r.add(conn).ID, nil
}

func (r *memConnectionRepository) GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, nil
	}
	clone := *conn
	return &clone, nil
}

func (r *memConnectionRepository) GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.PlatformConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGetPlatform == platform {
		return nil, errors.New("store unavailable")
	}
	for _, conn := range r.conns {
		if conn.UserID == userID && conn.Platform == platform {
			clone := *conn
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memConnectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var conns []*models.PlatformConnection
	for _, conn := range r.conns {
		if conn.UserID == userID {
			clone := *conn
			conns = append(conns, &clone)
		}
	}
	return conns, nil
}

func (r *memConnectionRepository) CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	return ok && conn.UserID == userID, nil
}

func (r *memConnectionRepository) SetDisconnected(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.IsConnected = false
	}
	return nil
}

func (r *memConnectionRepository) DisconnectExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, conn := range r.conns {
		if conn.IsConnected && !conn.TokenExpiresAt.IsZero() && conn.TokenExpiresAt.Before(now) {
			conn.IsConnected = false
			count++
		}
	}
	return count, nil
}

func (r *memConnectionRepository) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	return nil
}

type memPostMediaRepository struct {
	mu     sync.Mutex
	medias map[int64][]*models.PostMedia
}

func newMemPostMediaRepository() *memPostMediaRepository {
	return &memPostMediaRepository{medias: make(map[int64][]*models.PostMedia)}
}

func (r *memPostMediaRepository) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *pm
	r.medias[pm.PostID] = append(r.medias[pm.PostID], &clone)
	return nil
}

func (r *memPostMediaRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.PostMedia(nil), r.medias[postID]...), nil
}

func (r *memPostMediaRepository) Remove(ctx context.Context, postID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.medias, postID)
	return nil
}

type memMediaAssetRepository struct {
	mu     sync.Mutex
	assets map[int64]*models.MediaAsset
	nextID int64
}

func newMemMediaAssetRepository() *memMediaAssetRepository {
	return &memMediaAssetRepository{assets: make(map[int64]*models.MediaAsset), nextID: 1}
}

func (r *memMediaAssetRepository) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ma.ID = r.nextID
	r.nextID++
	r.assets[ma.ID] = ma
	return ma.ID, nil
}

func (r *memMediaAssetRepository) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok {
		return nil, nil
	}
	clone := *asset
	return &clone, nil
}

func (r *memMediaAssetRepository) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assets, id)
	return nil
}

// countingPublisher records how many times Publish was called and delegates
// to fn, defaulting to immediate success.
type countingPublisher struct {
	mu    sync.Mutex
	calls int
	fn    func() (string, error)
}

func (p *countingPublisher) Publish(ctx context.Context, cred publisher.Credential, content publisher.Content) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn()
	}
	return "ext-1", nil
}

func (p *countingPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var testSecretKey = []byte("0123456789abcdef0123456789abcdef")

func encryptedCredential(token string) string {
	cred, err := utils.Encrypt([]byte(token), testSecretKey)
	if err != nil {
		panic(err)
	}
	return cred
}
