package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/dennispaul8/bot-dashboard/internal/models"
	"github.com/google/uuid"
)

// ActivityLogRepository stores the per-account activity feed. Each feed is
// capped; appending past the cap drops the oldest rows so the table cannot
// grow without bound.
type ActivityLogRepository struct {
	db  *sql.DB
	cap int
}

func NewActivityLogRepository(db *sql.DB, cap int) *ActivityLogRepository {
	if cap <= 0 {
		cap = 50
	}
	return &ActivityLogRepository{db: db, cap: cap}
}

// Append stores a new entry and trims the account's feed to the cap.
func (r *ActivityLogRepository) Append(ctx context.Context, accountID, message string) error {
	insert := `
		INSERT INTO activity_logs (id, account_id, timestamp, message)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.ExecContext(ctx, insert, uuid.New().String(), accountID, time.Now(), message); err != nil {
		return err
	}

	trim := `
		DELETE FROM activity_logs
		WHERE account_id = $1 AND id NOT IN (
			SELECT id FROM activity_logs
			WHERE account_id = $1
			ORDER BY timestamp DESC
			LIMIT $2
		)
	`

	_, err := r.db.ExecContext(ctx, trim, accountID, r.cap)
	return err
}

// List returns an account's entries, newest first.
func (r *ActivityLogRepository) List(ctx context.Context, accountID string, limit int) ([]models.ActivityLog, error) {
	if limit <= 0 || limit > r.cap {
		limit = r.cap
	}

	query := `
		SELECT id, account_id, timestamp, message
		FROM activity_logs
		WHERE account_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.ActivityLog{}
	for rows.Next() {
		var entry models.ActivityLog
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Timestamp, &entry.Message); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}
