package models

import "time"

// PublishAttempt is the last recorded publish result for one post on one
// platform. Rows are upserted keyed on (post_id, platform), so the table
// always holds at most one row per target.
type PublishAttempt struct {
	PostID      int64     `db:"post_id" json:"post_id"`
	Platform    string    `db:"platform" json:"platform"`
	Outcome     string    `db:"outcome" json:"outcome"`
	ExternalID  string    `db:"external_id" json:"external_id,omitempty"`
	ErrorDetail string    `db:"error_detail" json:"error_detail,omitempty"`
	AttemptedAt time.Time `db:"attempted_at" json:"attempted_at"`
	RetryCount  int       `db:"retry_count" json:"retry_count"`
}

const (
	OutcomeSuccess           = "success"
	OutcomeTransientFailure  = "transient_failure"
	OutcomePermanentFailure  = "permanent_failure"
	OutcomeCredentialExpired = "credential_expired"
	OutcomeNeedsReconnection = "needs_reconnection"
)

// IsTerminalOutcome reports whether an attempt outcome is final across runs.
// A transient failure is terminal only for the run that recorded it.
func IsTerminalOutcome(outcome string) bool {
	switch outcome {
	case OutcomeSuccess, OutcomePermanentFailure, OutcomeCredentialExpired, OutcomeNeedsReconnection:
		return true
	}
	return false
}
