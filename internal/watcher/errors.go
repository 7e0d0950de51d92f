package watcher

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a check is requested for an account whose
// pipeline is already in flight.
var ErrBusy = errors.New("check already in flight for account")

// FetchClass buckets follower-fetch failures by required reaction.
type FetchClass string

const (
	FetchRateLimited FetchClass = "rate_limited"
	FetchAuthExpired FetchClass = "auth_expired"
	FetchUpstream    FetchClass = "upstream_5xx"
	FetchUnknown     FetchClass = "unknown"
)

// FetchError wraps a follower-fetch failure with its classification.
type FetchError struct {
	Class FetchClass
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed (%s): %v", e.Class, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Reason is the user-visible explanation written to the activity log.
func (e *FetchError) Reason() string {
	switch e.Class {
	case FetchRateLimited:
		return "⚠️ Too many requests — please wait a bit before trying again."
	case FetchAuthExpired:
		return "⚠️ Your Twitter connection might have expired. Please reconnect your account."
	case FetchUpstream:
		return "⚠️ Twitter seems to be having some issues — please try again later."
	default:
		return "⚠️ Unable to fetch your Twitter data right now. Please try again shortly."
	}
}

// DispatchClass buckets notification-dispatch failures.
type DispatchClass string

const (
	DispatchMediaUploadFailed DispatchClass = "media_upload_failed"
	DispatchPostFailed        DispatchClass = "post_failed"
	DispatchAccountUnlinked   DispatchClass = "account_unlinked"
)

// DispatchError wraps a dispatch failure with its classification. Status
// carries the upstream HTTP status for post failures, zero otherwise.
type DispatchError struct {
	Class  DispatchClass
	Status int
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dispatch failed (%s, status %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("dispatch failed (%s): %v", e.Class, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
