package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postpilot/postpilot/internal/models"
)

type AttemptRepository interface {
	Upsert(ctx context.Context, attempt *models.PublishAttempt) error
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error)
	MapByPostID(ctx context.Context, postID int64) (map[string]*models.PublishAttempt, error)
	ClearFailures(ctx context.Context, postID int64) error
}

type attemptRepository struct {
	db *sql.DB
}

func NewAttemptRepository(db *sql.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

// Upsert records the latest attempt for one (post, platform) pair. The table
// keeps one row per target, so a retried target overwrites its previous row.
func (r *attemptRepository) Upsert(ctx context.Context, attempt *models.PublishAttempt) error {
	query := `
		INSERT INTO publish_attempts (post_id, platform, outcome, external_id, error_detail, attempted_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (post_id, platform)
		DO UPDATE SET
			outcome = EXCLUDED.outcome,
			external_id = EXCLUDED.external_id,
			error_detail = EXCLUDED.error_detail,
			attempted_at = EXCLUDED.attempted_at,
			retry_count = EXCLUDED.retry_count
	`
	_, err := r.db.ExecContext(ctx, query,
		attempt.PostID,
		attempt.Platform,
		attempt.Outcome,
		attempt.ExternalID,
		attempt.ErrorDetail,
		attempt.AttemptedAt,
		attempt.RetryCount,
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *attemptRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error) {
	query := `
		SELECT post_id, platform, outcome, external_id, error_detail, attempted_at, retry_count
		FROM publish_attempts
		WHERE post_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.PublishAttempt
	for rows.Next() {
		var a models.PublishAttempt
		err := rows.Scan(&a.PostID, &a.Platform, &a.Outcome, &a.ExternalID, &a.ErrorDetail, &a.AttemptedAt, &a.RetryCount)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return attempts, nil
}

// ClearFailures drops every attempt for the post that did not succeed. An
// operator retry calls this so frozen and failed targets run again with a
// fresh retry budget, while succeeded targets keep their rows and stay
// skipped.
func (r *attemptRepository) ClearFailures(ctx context.Context, postID int64) error {
	query := `DELETE FROM publish_attempts WHERE post_id = $1 AND outcome != $2`
	_, err := r.db.ExecContext(ctx, query, postID, models.OutcomeSuccess)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *attemptRepository) MapByPostID(ctx context.Context, postID int64) (map[string]*models.PublishAttempt, error) {
	attempts, err := r.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	byPlatform := make(map[string]*models.PublishAttempt, len(attempts))
	for _, a := range attempts {
		byPlatform[a.Platform] = a
	}
	return byPlatform, nil
}
