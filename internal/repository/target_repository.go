package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/postpilot/postpilot/internal/models"
)

type TargetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) error
	ListByPostID(ctx context.Context, postID int64) ([]string, error)
	Remove(ctx context.Context, postID int64) error
}

type targetRepository struct {
	db *sql.DB
}

func NewTargetRepository(db *sql.DB) TargetRepository {
	return &targetRepository{db: db}
}

func (r *targetRepository) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) error {
	var err error

	query := `
		INSERT INTO post_targets (post_id, platform)
		VALUES ($1, $2)
	`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, target.PostID, target.Platform)
	} else {
		_, err = r.db.ExecContext(ctx, query, target.PostID, target.Platform)
	}

	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *targetRepository) ListByPostID(ctx context.Context, postID int64) ([]string, error) {
	query := "SELECT platform FROM post_targets WHERE post_id = $1 ORDER BY created_at"

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var platforms []string
	for rows.Next() {
		var platform string
		if err := rows.Scan(&platform); err != nil {
			slog.Info(err.Error())
			return nil, fmt.Errorf("scan row: %w", err)
		}
		platforms = append(platforms, platform)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return platforms, nil
}

func (r *targetRepository) Remove(ctx context.Context, postID int64) error {
	query := `DELETE FROM post_targets WHERE post_id = $1`
	_, err := r.db.ExecContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
