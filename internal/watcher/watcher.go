// Package watcher implements the milestone watch-and-notify loop: fetch a
// follower count, evaluate it against the last announced milestone, post
// an announcement when a new one is crossed, and record the advance.
//
// Delivery is at-least-once. The milestone only advances after a dispatch
// is known to have succeeded, so a failed dispatch is retried on a later
// tick. A dispatch-attempt marker is recorded before the external post
// call and checked first, which narrows (but cannot close) the window in
// which a crash between the post and the store update produces a
// duplicate announcement.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/dennispaul8/bot-dashboard/internal/metrics"
	"github.com/dennispaul8/bot-dashboard/internal/models"
	"github.com/dennispaul8/bot-dashboard/internal/push"
	"github.com/robfig/cron/v3"
)

// ErrUnknownAccount is returned when a check targets an account that was
// never linked or configured.
var ErrUnknownAccount = errors.New("unknown account")

// Config controls the watch loop.
type Config struct {
	Step       int64
	AttemptTTL time.Duration
	Workers    int
}

// Result is the outcome of one pipeline pass for one account.
type Result struct {
	AccountID  string `json:"account_id"`
	Followers  int64  `json:"followers"`
	Milestone  int64  `json:"milestone"`
	Dispatched bool   `json:"dispatched"`
	Reason     string `json:"reason,omitempty"`
}

// Watcher orchestrates Fetcher, Evaluate and Dispatcher over the account
// store, enforcing at most one pipeline in flight per account.
type Watcher struct {
	accounts   models.AccountRepository
	activity   models.ActivityLogRepository
	fetcher    *Fetcher
	dispatcher *Dispatcher
	sink       push.Sink
	collector  *metrics.Collector
	logger     *slog.Logger

	step       int64
	attemptTTL time.Duration
	workers    int

	mu       sync.Mutex
	inFlight map[string]struct{}

	cron *cron.Cron
}

func New(
	accounts models.AccountRepository,
	activity models.ActivityLogRepository,
	fetcher *Fetcher,
	dispatcher *Dispatcher,
	sink push.Sink,
	collector *metrics.Collector,
	logger *slog.Logger,
	cfg Config,
) *Watcher {
	if cfg.Step <= 0 {
		cfg.Step = 100
	}
	if cfg.AttemptTTL <= 0 {
		cfg.AttemptTTL = 10 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if sink == nil {
		sink = push.NopSink{}
	}

	return &Watcher{
		accounts:   accounts,
		activity:   activity,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		sink:       sink,
		collector:  collector,
		logger:     logger,
		step:       cfg.Step,
		attemptTTL: cfg.AttemptTTL,
		workers:    cfg.Workers,
		inFlight:   make(map[string]struct{}),
	}
}

// Start schedules timer-driven runs on the given cron spec and kicks off
// an immediate pass.
func (w *Watcher) Start(ctx context.Context, cronSpec string) error {
	c := cron.New()
	if _, err := c.AddFunc(cronSpec, func() { w.RunAll(ctx) }); err != nil {
		return fmt.Errorf("invalid watch cron spec %q: %w", cronSpec, err)
	}

	w.cron = c
	c.Start()
	w.logger.Info("milestone watcher started", "cron", cronSpec, "step", w.step)

	go w.RunAll(ctx)

	return nil
}

// Stop halts the timer and waits for in-flight runs it started.
func (w *Watcher) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
	w.logger.Info("milestone watcher stopped")
}

// RunAll passes every eligible account through the pipeline with bounded
// parallelism, so one account's slow call cannot stall the rest.
func (w *Watcher) RunAll(ctx context.Context) {
	accounts, err := w.accounts.ListAll(ctx)
	if err != nil {
		w.logger.Error("failed to list accounts for scheduled check", "error", err)
		return
	}

	w.logger.Info("running scheduled follower checks", "accounts", len(accounts))

	sem := make(chan struct{}, w.workers)
	var wg sync.WaitGroup

	for _, account := range accounts {
		if account.NeedsReauth {
			w.logger.Debug("skipping account pending re-link", "account_id", account.ID)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := w.RunOnce(ctx, id); err != nil {
				if errors.Is(err, ErrBusy) {
					w.logger.Debug("check already in flight, skipping", "account_id", id)
					return
				}
				w.logger.Error("scheduled check failed", "account_id", id, "error", err)
			}
		}(account.ID)
	}

	wg.Wait()
}

// RunOnce performs one pipeline pass for one account. It returns ErrBusy
// when a pass is already in flight for the account, ErrUnknownAccount for
// an absent account, and a plain error only for store faults. Classified
// fetch and dispatch failures are not errors: they are reported in the
// Result's Reason field, as the activity log is the user-facing channel
// for them.
func (w *Watcher) RunOnce(ctx context.Context, accountID string) (*Result, error) {
	if !w.acquire(accountID) {
		return nil, ErrBusy
	}
	defer w.release(accountID)

	return w.run(ctx, accountID)
}

func (w *Watcher) run(ctx context.Context, accountID string) (*Result, error) {
	start := time.Now()

	account, err := w.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, ErrUnknownAccount
	}

	if account.NeedsReauth {
		return &Result{AccountID: accountID, Reason: "account needs re-linking"}, nil
	}

	fetched, err := w.fetcher.Fetch(ctx, account)
	if err != nil {
		return w.handleFetchError(ctx, account, err, start)
	}

	if !fetched.Cached {
		profileURL := ""
		if fetched.Profile != nil {
			profileURL = fetched.Profile.ProfileImageURL
		}
		if err := w.accounts.UpdateFetchCache(ctx, accountID, fetched.Count, fetched.FetchedAt, profileURL); err != nil {
			w.logger.Error("failed to persist fetch cache", "account_id", accountID, "error", err)
		}
	}

	w.sink.Publish(push.Event{AccountID: accountID, Type: push.EventFollowers, Followers: fetched.Count})
	w.collector.SetFollowers(accountID, fetched.Count)
	w.logActivity(ctx, accountID, fmt.Sprintf("✅ Checked: %d followers", fetched.Count))

	candidate := fetched.Count / w.step * w.step

	milestone, crossed := Evaluate(fetched.Count, account.LastAnnouncedMilestone, w.step)
	if !crossed {
		w.logActivity(ctx, accountID, "No new milestone")
		w.collector.ObserveCheck("no_milestone", time.Since(start))
		return &Result{AccountID: accountID, Followers: fetched.Count, Milestone: candidate, Reason: "no new milestone"}, nil
	}

	recent, err := w.accounts.HasRecentDispatchAttempt(ctx, accountID, milestone, w.attemptTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to check dispatch attempts: %w", err)
	}
	if recent {
		w.logger.Info("dispatch attempted recently, holding off",
			"account_id", accountID, "milestone", milestone)
		w.collector.ObserveCheck("attempt_pending", time.Since(start))
		return &Result{AccountID: accountID, Followers: fetched.Count, Milestone: milestone, Reason: "dispatch recently attempted"}, nil
	}

	w.logActivity(ctx, accountID, fmt.Sprintf("🎯 Milestone %d reached! Posting announcement...", milestone))

	// The marker goes in before the external call so a crash between the
	// post and the store update is visible on the next tick.
	if err := w.accounts.RecordDispatchAttempt(ctx, accountID, milestone); err != nil {
		return nil, fmt.Errorf("failed to record dispatch attempt: %w", err)
	}

	tweetID, err := w.dispatcher.Dispatch(ctx, account, milestone)
	if err != nil {
		return w.handleDispatchError(ctx, account, milestone, fetched.Count, err, start)
	}

	won, err := w.accounts.AdvanceMilestone(ctx, accountID, milestone)
	if err != nil {
		// The post is out; losing the advance means a later tick may
		// announce again once the attempt marker expires.
		w.logger.Error("announcement posted but milestone not recorded",
			"account_id", accountID, "milestone", milestone, "tweet_id", tweetID, "error", err)
	} else if !won {
		w.logger.Info("milestone already recorded by a concurrent run",
			"account_id", accountID, "milestone", milestone)
	}

	w.logActivity(ctx, accountID, fmt.Sprintf("🎉 %s (Milestone: %d)", account.AnnouncementText(milestone), milestone))
	w.collector.ObserveDispatch("success")
	w.collector.ObserveCheck("dispatched", time.Since(start))

	return &Result{AccountID: accountID, Followers: fetched.Count, Milestone: milestone, Dispatched: true}, nil
}

func (w *Watcher) handleFetchError(ctx context.Context, account *models.Account, err error, start time.Time) (*Result, error) {
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		return nil, err
	}

	w.logActivity(ctx, account.ID, fetchErr.Reason())
	w.collector.ObserveCheck(string(fetchErr.Class), time.Since(start))

	switch fetchErr.Class {
	case FetchAuthExpired:
		w.logger.Warn("credentials expired, flagging for re-link", "account_id", account.ID)
		if err := w.accounts.SetNeedsReauth(ctx, account.ID, true); err != nil {
			w.logger.Error("failed to flag account for re-link", "account_id", account.ID, "error", err)
		}
	case FetchRateLimited, FetchUpstream:
		w.logger.Warn("transient fetch failure, retrying next tick",
			"account_id", account.ID, "class", fetchErr.Class, "error", fetchErr.Err)
	default:
		w.logger.Error("follower fetch failed", "account_id", account.ID, "error", fetchErr.Err)
	}

	return &Result{AccountID: account.ID, Reason: fetchErr.Reason()}, nil
}

func (w *Watcher) handleDispatchError(ctx context.Context, account *models.Account, milestone, followers int64, err error, start time.Time) (*Result, error) {
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		return nil, err
	}

	w.collector.ObserveDispatch(string(dispatchErr.Class))
	w.collector.ObserveCheck("dispatch_failed", time.Since(start))

	switch dispatchErr.Class {
	case DispatchAccountUnlinked:
		w.logActivity(ctx, account.ID, "Missing user tokens — please reconnect your account.")
		if err := w.accounts.SetNeedsReauth(ctx, account.ID, true); err != nil {
			w.logger.Error("failed to flag account for re-link", "account_id", account.ID, "error", err)
		}
	default:
		// Milestone stays un-announced; a later tick re-attempts once the
		// attempt marker expires.
		w.logActivity(ctx, account.ID, fmt.Sprintf("❌ Failed to post milestone %d announcement (%s)", milestone, dispatchErr.Class))
		w.logger.Error("dispatch failed",
			"account_id", account.ID,
			"milestone", milestone,
			"class", dispatchErr.Class,
			"status", dispatchErr.Status,
			"error", dispatchErr.Err)
	}

	return &Result{
		AccountID: account.ID,
		Followers: followers,
		Milestone: milestone,
		Reason:    fmt.Sprintf("dispatch failed: %s", dispatchErr.Class),
	}, nil
}

func (w *Watcher) logActivity(ctx context.Context, accountID, message string) {
	if err := w.activity.Append(ctx, accountID, message); err != nil {
		w.logger.Error("failed to append activity log", "account_id", accountID, "error", err)
	}
	w.sink.Publish(push.Event{AccountID: accountID, Type: push.EventLog, Message: message})
}

func (w *Watcher) acquire(accountID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, busy := w.inFlight[accountID]; busy {
		return false
	}
	w.inFlight[accountID] = struct{}{}
	return true
}

func (w *Watcher) release(accountID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, accountID)
}
