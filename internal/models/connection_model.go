package models

import "time"

// PlatformConnection is a tenant's credential for one platform. The credential
// is stored AES-GCM encrypted; account_ref is the platform-side identifier the
// publisher posts against (page id, Business Profile location, webhook URL).
type PlatformConnection struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Platform       string    `db:"platform" json:"platform"`
	AccountRef     string    `db:"account_ref" json:"account_ref"`
	AccountName    string    `db:"account_name" json:"account_name"`
	Credential     string    `db:"credential" json:"-"`
	IsConnected    bool      `db:"is_connected" json:"is_connected"`
	TokenExpiresAt time.Time `db:"token_expires_at" json:"token_expires_at"`
	ConnectedAt    time.Time `db:"connected_at" json:"connected_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

const (
	PlatformFacebook       = "facebook"
	PlatformInstagram      = "instagram"
	PlatformGoogleBusiness = "google"
	PlatformWebhook        = "webhook"
)
