package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dennispaul8/bot-dashboard/internal/models"
	"github.com/google/uuid"
)

// PostgresAccountRepository implements models.AccountRepository on top of
// PostgreSQL. Upserts are single INSERT ... ON CONFLICT statements and the
// milestone advance is a conditional UPDATE, so concurrent writers cannot
// half-apply or revert each other's changes.
type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

const accountColumns = `
	id, twitter_id, username, display_name,
	access_token, access_secret,
	announce_message, media_ref, last_announced_milestone,
	needs_reauth, profile_image_url, last_fetched_at, last_fetched_count,
	created_at, updated_at
`

func (r *PostgresAccountRepository) Link(ctx context.Context, params models.LinkParams) (*models.Account, error) {
	if params.AccountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	// Re-linking must not reset announce_message, media_ref or
	// last_announced_milestone; only identity and credentials change.
	query := `
		INSERT INTO accounts
			(id, twitter_id, username, display_name, access_token, access_secret)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET
			twitter_id = EXCLUDED.twitter_id,
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			access_token = EXCLUDED.access_token,
			access_secret = EXCLUDED.access_secret,
			needs_reauth = FALSE,
			updated_at = NOW()
		RETURNING ` + accountColumns

	row := r.db.QueryRowContext(ctx, query,
		params.AccountID,
		params.TwitterID,
		params.Username,
		params.DisplayName,
		params.Credentials.AccessToken,
		params.Credentials.AccessSecret,
	)

	return scanAccount(row)
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return account, err
}

func (r *PostgresAccountRepository) GetByTwitterID(ctx context.Context, twitterID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE twitter_id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, twitterID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return account, err
}

func (r *PostgresAccountRepository) ListAll(ctx context.Context) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []*models.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

func (r *PostgresAccountRepository) UpdateSettings(ctx context.Context, id string, update models.SettingsUpdate) (*models.Account, error) {
	// COALESCE keeps columns whose pointer was nil untouched.
	query := `
		UPDATE accounts SET
			announce_message = COALESCE($2, announce_message),
			media_ref = COALESCE($3, media_ref),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id, update.AnnounceMessage, update.MediaRef))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return account, err
}

func (r *PostgresAccountRepository) AdvanceMilestone(ctx context.Context, id string, milestone int64) (bool, error) {
	query := `
		UPDATE accounts
		SET last_announced_milestone = $2, updated_at = NOW()
		WHERE id = $1 AND last_announced_milestone < $2
	`

	result, err := r.db.ExecContext(ctx, query, id, milestone)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func (r *PostgresAccountRepository) SetNeedsReauth(ctx context.Context, id string, needsReauth bool) error {
	query := `UPDATE accounts SET needs_reauth = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, needsReauth)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresAccountRepository) UpdateFetchCache(ctx context.Context, id string, count int64, fetchedAt time.Time, profileImageURL string) error {
	query := `
		UPDATE accounts SET
			last_fetched_count = $2,
			last_fetched_at = $3,
			profile_image_url = CASE WHEN $4 <> '' THEN $4 ELSE profile_image_url END,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, count, fetchedAt, profileImageURL)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresAccountRepository) RecordDispatchAttempt(ctx context.Context, id string, milestone int64) error {
	query := `
		INSERT INTO dispatch_attempts (id, account_id, milestone, attempted_at)
		VALUES ($1, $2, $3, NOW())
	`

	_, err := r.db.ExecContext(ctx, query, uuid.New().String(), id, milestone)
	return err
}

func (r *PostgresAccountRepository) HasRecentDispatchAttempt(ctx context.Context, id string, milestone int64, ttl time.Duration) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM dispatch_attempts
			WHERE account_id = $1 AND milestone = $2 AND attempted_at > $3
		)
	`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, id, milestone, time.Now().Add(-ttl)).Scan(&exists)
	return exists, err
}

func (r *PostgresAccountRepository) ClearCredentials(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET
			access_token = '',
			access_secret = '',
			needs_reauth = TRUE,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	var lastFetchedAt sql.NullTime
	var lastFetchedCount sql.NullInt64

	err := row.Scan(
		&account.ID,
		&account.TwitterID,
		&account.Username,
		&account.DisplayName,
		&account.Credentials.AccessToken,
		&account.Credentials.AccessSecret,
		&account.AnnounceMessage,
		&account.MediaRef,
		&account.LastAnnouncedMilestone,
		&account.NeedsReauth,
		&account.ProfileImageURL,
		&lastFetchedAt,
		&lastFetchedCount,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastFetchedAt.Valid {
		t := lastFetchedAt.Time
		account.LastFetchedAt = &t
	}
	if lastFetchedCount.Valid {
		n := lastFetchedCount.Int64
		account.LastFetchedCount = &n
	}
	account.Linked = account.Credentials.Present()

	return &account, nil
}
