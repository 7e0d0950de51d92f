package watcher

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/dennispaul8/bot-dashboard/internal/models"
	"github.com/dennispaul8/bot-dashboard/internal/social"
)

// UserLookup is the follower-count side of the platform client.
type UserLookup interface {
	LookupUser(ctx context.Context, twitterID string) (*social.UserProfile, error)
}

// FetchResult is one observation of an account's follower count.
type FetchResult struct {
	Count     int64
	FetchedAt time.Time
	// Profile is set only for a fresh fetch; cached results carry the
	// count alone.
	Profile *social.UserProfile
	Cached  bool
}

// Fetcher resolves an account's current follower count, serving from the
// account's fetch cache when it is fresh enough. It never mutates account
// state; persisting a fresh observation is the caller's job.
type Fetcher struct {
	lookup   UserLookup
	cacheTTL time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewFetcher(lookup UserLookup, cacheTTL, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		lookup:   lookup,
		cacheTTL: cacheTTL,
		timeout:  timeout,
		logger:   logger,
	}
}

// Fetch returns the follower count for an account. Failures are always a
// *FetchError carrying the classified reason.
func (f *Fetcher) Fetch(ctx context.Context, account *models.Account) (*FetchResult, error) {
	now := time.Now()

	if count, ok := account.CachedCount(now, f.cacheTTL); ok {
		f.logger.Debug("serving cached follower count",
			"account_id", account.ID,
			"count", count,
			"fetched_at", account.LastFetchedAt)
		return &FetchResult{Count: count, FetchedAt: *account.LastFetchedAt, Cached: true}, nil
	}

	if account.TwitterID == "" {
		return nil, &FetchError{Class: FetchUnknown, Err: errors.New("account has no platform id")}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	profile, err := f.lookup.LookupUser(fetchCtx, account.TwitterID)
	if err != nil {
		return nil, &FetchError{Class: classifyFetch(err), Err: err}
	}

	return &FetchResult{
		Count:     profile.Followers,
		FetchedAt: now,
		Profile:   profile,
	}, nil
}

func classifyFetch(err error) FetchClass {
	switch social.Classify(err) {
	case social.ClassRateLimited:
		return FetchRateLimited
	case social.ClassAuthExpired:
		return FetchAuthExpired
	case social.ClassUpstream:
		return FetchUpstream
	default:
		return FetchUnknown
	}
}
