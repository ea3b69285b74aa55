package models

import "time"

type ScheduledPost struct {
	ID                  int64      `db:"id" json:"id"`
	UserID              int64      `db:"user_id" json:"user_id"`
	Caption             string     `db:"caption" json:"caption"`
	Title               string     `db:"title" json:"title"`
	ScheduledAt         time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status              string     `db:"status" json:"status"`
	ProcessingClaimedAt *time.Time `db:"processing_claimed_at" json:"-"`
	ProcessingToken     string     `db:"processing_token" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// PostTarget is one platform a post should be published to.
// Unique per (post_id, platform).
type PostTarget struct {
	PostID    int64     `db:"post_id" json:"post_id"`
	Platform  string    `db:"platform" json:"platform"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type MediaAsset struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	FileName     string    `db:"file_name"`
	FileType     string    `db:"file_type"`
	FileSize     int64     `db:"file_size"`
	FileURL      string    `db:"file_url"`
	ThumbnailURL string    `db:"thumbnail_url"`
	CreatedAt    time.Time `db:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}

const (
	PostStatusPending            = "pending"
	PostStatusProcessing         = "processing"
	PostStatusPublished          = "published"
	PostStatusPartiallyPublished = "partially_published"
	PostStatusFailed             = "failed"
	PostStatusNeedsReconnection  = "needs_reconnection"
)

// IsTerminalStatus reports whether a post status will not change without an
// operator retry.
func IsTerminalStatus(status string) bool {
	switch status {
	case PostStatusPublished, PostStatusPartiallyPublished, PostStatusFailed, PostStatusNeedsReconnection:
		return true
	}
	return false
}
