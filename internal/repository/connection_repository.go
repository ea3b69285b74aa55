package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/postpilot/postpilot/internal/models"
)

type ConnectionRepository interface {
	Create(ctx context.Context, tx *sql.Tx, conn *models.PlatformConnection) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error)
	GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.PlatformConnection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error)
	CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error)
	SetDisconnected(ctx context.Context, id int64) error
	DisconnectExpired(ctx context.Context, now time.Time) (int64, error)
	Remove(ctx context.Context, id int64) error
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Create(ctx context.Context, tx *sql.Tx, conn *models.PlatformConnection) (int64, error) {
	var err error
	var id int64

	query := `
		INSERT INTO platform_connections (user_id, platform, account_ref, account_name, credential, is_connected, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, platform)
		DO UPDATE SET
			account_ref = EXCLUDED.account_ref,
			account_name = EXCLUDED.account_name,
			credential = EXCLUDED.credential,
			is_connected = EXCLUDED.is_connected,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, conn.UserID, conn.Platform, conn.AccountRef,
			conn.AccountName, conn.Credential, conn.IsConnected, conn.TokenExpiresAt).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, conn.UserID, conn.Platform, conn.AccountRef,
			conn.AccountName, conn.Credential, conn.IsConnected, conn.TokenExpiresAt).Scan(&id)
	}

	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error) {
	query := `
		SELECT id, user_id, platform, account_ref, account_name, credential, is_connected, token_expires_at, connected_at, updated_at
		FROM platform_connections
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var conn models.PlatformConnection
	err := row.Scan(&conn.ID, &conn.UserID, &conn.Platform, &conn.AccountRef, &conn.AccountName,
		&conn.Credential, &conn.IsConnected, &conn.TokenExpiresAt, &conn.ConnectedAt, &conn.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &conn, nil
}

func (r *connectionRepository) GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.PlatformConnection, error) {
	query := `
		SELECT id, user_id, platform, account_ref, account_name, credential, is_connected, token_expires_at, connected_at, updated_at
		FROM platform_connections
		WHERE user_id = $1 AND platform = $2
	`
	row := r.db.QueryRowContext(ctx, query, userID, platform)

	var conn models.PlatformConnection
	err := row.Scan(&conn.ID, &conn.UserID, &conn.Platform, &conn.AccountRef, &conn.AccountName,
		&conn.Credential, &conn.IsConnected, &conn.TokenExpiresAt, &conn.ConnectedAt, &conn.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &conn, nil
}

func (r *connectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	query := `
		SELECT id, user_id, platform, account_ref, account_name, is_connected, token_expires_at, connected_at
		FROM platform_connections
		WHERE user_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var connections []*models.PlatformConnection
	for rows.Next() {
		var conn models.PlatformConnection
		err := rows.Scan(&conn.ID, &conn.UserID, &conn.Platform, &conn.AccountRef, &conn.AccountName,
			&conn.IsConnected, &conn.TokenExpiresAt, &conn.ConnectedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		connections = append(connections, &conn)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return connections, nil
}

func (r *connectionRepository) CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error) {
	query := "SELECT 1 FROM platform_connections WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, connectionID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *connectionRepository) SetDisconnected(ctx context.Context, id int64) error {
	query := `
		UPDATE platform_connections
		SET is_connected = FALSE,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// DisconnectExpired flips connections whose stored credential has expired, so
// the dispatcher can skip them without an external call.
func (r *connectionRepository) DisconnectExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE platform_connections
		SET is_connected = FALSE,
			updated_at = CURRENT_TIMESTAMP
		WHERE is_connected = TRUE AND token_expires_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return affected, nil
}

func (r *connectionRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM platform_connections WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
