package transfer

import "github.com/golang-jwt/jwt/v5"

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// PostCreation is the multipart form a client submits to schedule a post.
type PostCreation struct {
	Caption       string
	Title         string
	ScheduledTime string
	Platforms     string
}

// ConnectionCreation stores a platform credential for the calling tenant.
// The connect flow (OAuth dance) happens outside this service; it hands the
// finished credential over through this payload.
type ConnectionCreation struct {
	Platform       string `json:"platform"`
	AccountRef     string `json:"account_ref"`
	AccountName    string `json:"account_name"`
	Credential     string `json:"credential"`
	TokenExpiresAt string `json:"token_expires_at"`
}
