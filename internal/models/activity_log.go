package models

import (
	"context"
	"time"
)

// ActivityLog is a single line in an account's activity feed. The feed is
// observational only; it is never consulted for milestone decisions.
type ActivityLog struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ActivityLogRepository stores the capped per-account activity feed.
// Appends beyond the cap drop the oldest entries.
type ActivityLogRepository interface {
	Append(ctx context.Context, accountID, message string) error
	List(ctx context.Context, accountID string, limit int) ([]ActivityLog, error)
}
