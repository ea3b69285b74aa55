package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/postpilot/postpilot/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error)
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	QueryDue(ctx context.Context, now time.Time, leaseCutoff time.Time, limit int) ([]*models.ScheduledPost, error)
	TryClaim(ctx context.Context, postID int64, token string, now time.Time, leaseCutoff time.Time) (bool, error)
	SetTerminalStatus(ctx context.Context, postID int64, token, status string) error
	ResetForRetry(ctx context.Context, postID int64) (bool, error)
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) (int64, error) {
	query := `
		INSERT INTO posts (user_id, caption, title, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, post.UserID, post.Caption, post.Title, post.ScheduledAt, post.Status).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, post.UserID, post.Caption, post.Title, post.ScheduledAt, post.Status).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	query := `
		SELECT id, user_id, caption, title, scheduled_at, status, processing_claimed_at, processing_token, created_at, updated_at
		FROM posts
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var post models.ScheduledPost
	err := row.Scan(&post.ID, &post.UserID, &post.Caption, &post.Title, &post.ScheduledAt,
		&post.Status, &post.ProcessingClaimedAt, &post.ProcessingToken, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error) {
	query := `
		SELECT id, user_id, caption, title, scheduled_at, status, processing_claimed_at, processing_token, created_at, updated_at
		FROM posts
		WHERE user_id = $1
		ORDER BY scheduled_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		var post models.ScheduledPost
		err := rows.Scan(&post.ID, &post.UserID, &post.Caption, &post.Title, &post.ScheduledAt,
			&post.Status, &post.ProcessingClaimedAt, &post.ProcessingToken, &post.CreatedAt, &post.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, &post)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return posts, nil
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := "SELECT 1 FROM posts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// QueryDue returns posts eligible for claiming: pending posts whose scheduled
// time has passed, plus processing posts whose lease expired before
// leaseCutoff. Oldest due first, so a growing backlog drains fairly.
func (r *postRepository) QueryDue(ctx context.Context, now time.Time, leaseCutoff time.Time, limit int) ([]*models.ScheduledPost, error) {
	query := `
		SELECT id, user_id, caption, title, scheduled_at, status, processing_claimed_at, processing_token, created_at, updated_at
		FROM posts
		WHERE (status = $1 AND scheduled_at <= $2)
		   OR (status = $3 AND processing_claimed_at < $4)
		ORDER BY scheduled_at ASC
		LIMIT $5
	`
	rows, err := r.db.QueryContext(ctx, query, models.PostStatusPending, now, models.PostStatusProcessing, leaseCutoff, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		var post models.ScheduledPost
		err := rows.Scan(&post.ID, &post.UserID, &post.Caption, &post.Title, &post.ScheduledAt,
			&post.Status, &post.ProcessingClaimedAt, &post.ProcessingToken, &post.CreatedAt, &post.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, &post)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return posts, nil
}

// TryClaim takes the processing lease with a single conditional write. Exactly
// one caller can win for a given post: the update only matches a pending post
// or a processing post whose lease expired before leaseCutoff.
func (r *postRepository) TryClaim(ctx context.Context, postID int64, token string, now time.Time, leaseCutoff time.Time) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1,
			processing_claimed_at = $2,
			processing_token = $3,
			updated_at = $2
		WHERE id = $4
		  AND (status = $5 OR (status = $1 AND processing_claimed_at < $6))
	`
	result, err := r.db.ExecContext(ctx, query, models.PostStatusProcessing, now, token, postID, models.PostStatusPending, leaseCutoff)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	return affected == 1, nil
}

// SetTerminalStatus writes the derived status and releases the lease in the
// same update, guarded by the processing token so a run that lost its lease
// cannot overwrite a newer claimant's state.
func (r *postRepository) SetTerminalStatus(ctx context.Context, postID int64, token, status string) error {
	query := `
		UPDATE posts
		SET status = $1,
			processing_token = '',
			processing_claimed_at = NULL,
			updated_at = $2
		WHERE id = $3 AND processing_token = $4
	`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), postID, token)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ResetForRetry re-arms a terminal post back to pending. This is the operator
// action that allows frozen targets to run again.
func (r *postRepository) ResetForRetry(ctx context.Context, postID int64) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1,
			processing_token = '',
			processing_claimed_at = NULL,
			updated_at = $2
		WHERE id = $3 AND status IN ($4, $5, $6)
	`
	result, err := r.db.ExecContext(ctx, query, models.PostStatusPending, time.Now(), postID,
		models.PostStatusFailed, models.PostStatusNeedsReconnection, models.PostStatusPartiallyPublished)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
