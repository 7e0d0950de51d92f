package watcher

import (
	"context"
	"errors"

	"log/slog"

	"github.com/dennispaul8/bot-dashboard/internal/models"
	"github.com/dennispaul8/bot-dashboard/internal/social"
)

// Poster is the posting side of the platform client.
type Poster interface {
	UploadMedia(ctx context.Context, creds models.Credentials, media []byte) (string, error)
	PostTweet(ctx context.Context, creds models.Credentials, notification models.Notification) (string, error)
}

// MediaStore reads back stored media assets by reference.
type MediaStore interface {
	Exists(ref string) bool
	Read(ref string) ([]byte, error)
}

// Dispatcher publishes milestone announcements. Each successful call makes
// exactly one externally visible post; invoking it at most once per
// (account, milestone) pair is the watch loop's responsibility.
type Dispatcher struct {
	poster Poster
	media  MediaStore
	retry  RetryPolicy
	logger *slog.Logger
}

func NewDispatcher(poster Poster, media MediaStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		poster: poster,
		media:  media,
		retry:  DefaultRetryPolicy(),
		logger: logger,
	}
}

// Dispatch posts the announcement for a crossed milestone and returns the
// platform's notification id. Failures are always a *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, account *models.Account, milestone int64) (string, error) {
	if !account.Credentials.Present() {
		return "", &DispatchError{
			Class: DispatchAccountUnlinked,
			Err:   errors.New("account has no credentials"),
		}
	}

	text := account.AnnouncementText(milestone)
	var notification models.Notification = models.TextNotification{Text: text}
	withMedia := false

	if account.MediaRef != "" {
		handle, err := d.uploadMedia(ctx, account)
		switch {
		case err != nil:
			return "", err
		case handle != "":
			notification = models.MediaNotification{Text: text, MediaHandle: handle}
			withMedia = true
		}
	}

	tweetID, err := d.poster.PostTweet(ctx, account.Credentials, notification)
	if err != nil {
		status := 0
		var apiErr *social.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", &DispatchError{Class: DispatchPostFailed, Status: status, Err: err}
	}

	d.logger.Info("milestone announcement posted",
		"account_id", account.ID,
		"milestone", milestone,
		"tweet_id", tweetID,
		"with_media", withMedia)

	return tweetID, nil
}

// uploadMedia uploads the account's stored asset. A reference whose file
// has gone missing downgrades the announcement to text-only rather than
// failing it; upload failures, after transient retries, abort the
// dispatch.
func (d *Dispatcher) uploadMedia(ctx context.Context, account *models.Account) (string, error) {
	if d.media == nil || !d.media.Exists(account.MediaRef) {
		d.logger.Warn("media reference missing on disk, posting text-only",
			"account_id", account.ID,
			"media_ref", account.MediaRef)
		return "", nil
	}

	data, err := d.media.Read(account.MediaRef)
	if err != nil {
		d.logger.Warn("failed to read media asset, posting text-only",
			"account_id", account.ID,
			"media_ref", account.MediaRef,
			"error", err)
		return "", nil
	}

	var handle string
	err = Retry(ctx, d.retry, func() error {
		var uploadErr error
		handle, uploadErr = d.poster.UploadMedia(ctx, account.Credentials, data)
		if uploadErr == nil {
			return nil
		}
		switch social.Classify(uploadErr) {
		case social.ClassUpstream, social.ClassRateLimited:
			return NewRetryableError(uploadErr)
		default:
			return uploadErr
		}
	})
	if err != nil {
		return "", &DispatchError{Class: DispatchMediaUploadFailed, Err: err}
	}

	return handle, nil
}
