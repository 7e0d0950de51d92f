package models

import (
	"context"
	"fmt"
	"time"
)

// DefaultAnnounceMessage is used when an account has no custom message.
// The milestone value is embedded into it.
const DefaultAnnounceMessage = "🎉 Thank you for %d followers! 🚀"

// Credentials is the OAuth 1.0a token pair needed to post on behalf of an
// account. Accounts without credentials can still be fetched (public
// lookup) but never notified.
type Credentials struct {
	AccessToken  string `json:"-"`
	AccessSecret string `json:"-"`
}

// Present reports whether both halves of the token pair are set.
func (c Credentials) Present() bool {
	return c.AccessToken != "" && c.AccessSecret != ""
}

// Account represents a social account being watched for follower milestones.
type Account struct {
	ID          string `json:"id"`
	TwitterID   string `json:"twitter_id,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	Credentials Credentials `json:"-"`
	Linked      bool        `json:"linked"`

	AnnounceMessage string `json:"announce_message,omitempty"`
	MediaRef        string `json:"media_ref,omitempty"`

	// LastAnnouncedMilestone is monotonically non-decreasing; it is the
	// single piece of state that makes announcements idempotent. It must
	// only advance after a dispatch is known to have succeeded.
	LastAnnouncedMilestone int64 `json:"last_announced_milestone"`

	NeedsReauth bool `json:"needs_reauth"`

	LastFetchedAt    *time.Time `json:"last_fetched_at,omitempty"`
	LastFetchedCount *int64     `json:"last_fetched_count,omitempty"`
	ProfileImageURL  string     `json:"profile_image_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnnouncementText builds the notification body for a crossed milestone.
// A custom message is used verbatim; the default template embeds the value.
func (a *Account) AnnouncementText(milestone int64) string {
	if a.AnnounceMessage != "" {
		return a.AnnounceMessage
	}
	return fmt.Sprintf(DefaultAnnounceMessage, milestone)
}

// CachedCount returns the cached follower count if the last successful
// fetch is newer than ttl.
func (a *Account) CachedCount(now time.Time, ttl time.Duration) (int64, bool) {
	if a.LastFetchedAt == nil || a.LastFetchedCount == nil {
		return 0, false
	}
	if now.Sub(*a.LastFetchedAt) >= ttl {
		return 0, false
	}
	return *a.LastFetchedCount, true
}

// LinkParams is what the OAuth collaborator hands over after a successful
// account link.
type LinkParams struct {
	AccountID   string
	TwitterID   string
	Username    string
	DisplayName string
	Credentials Credentials
}

// SettingsUpdate carries a partial configuration change. Nil fields are
// left untouched.
type SettingsUpdate struct {
	AnnounceMessage *string
	MediaRef        *string
}

// AccountRepository defines the persistent operations for accounts. All
// mutations go through these methods; there are no direct field writes,
// so concurrent writers cannot lose updates.
type AccountRepository interface {
	// Link creates or updates an account from an OAuth link callback.
	// Re-linking preserves announce_message, media_ref and
	// last_announced_milestone, and clears the needs-reauth flag.
	Link(ctx context.Context, params LinkParams) (*Account, error)

	// GetByID retrieves an account, or (nil, nil) if absent.
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByTwitterID retrieves an account by platform id, or (nil, nil).
	GetByTwitterID(ctx context.Context, twitterID string) (*Account, error)

	// ListAll returns every account, linked or not.
	ListAll(ctx context.Context) ([]*Account, error)

	// UpdateSettings applies a partial settings change and returns the
	// updated record.
	UpdateSettings(ctx context.Context, id string, update SettingsUpdate) (*Account, error)

	// AdvanceMilestone conditionally raises last_announced_milestone to
	// milestone. It succeeds only while the stored value is still lower,
	// and reports whether this caller won the write.
	AdvanceMilestone(ctx context.Context, id string, milestone int64) (bool, error)

	// SetNeedsReauth flags or unflags an account for re-linking.
	SetNeedsReauth(ctx context.Context, id string, needsReauth bool) error

	// UpdateFetchCache records the result of a successful follower fetch.
	UpdateFetchCache(ctx context.Context, id string, count int64, fetchedAt time.Time, profileImageURL string) error

	// RecordDispatchAttempt persists a marker before the external post
	// call is made, so a crash mid-dispatch is visible on restart.
	RecordDispatchAttempt(ctx context.Context, id string, milestone int64) error

	// HasRecentDispatchAttempt reports whether a dispatch for this
	// (account, milestone) pair was attempted within ttl.
	HasRecentDispatchAttempt(ctx context.Context, id string, milestone int64, ttl time.Duration) (bool, error)

	// ClearCredentials removes the token pair on unlink, leaving the
	// account record and its history in place.
	ClearCredentials(ctx context.Context, id string) error
}
