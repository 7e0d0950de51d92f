package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dennispaul8/bot-dashboard/internal/media"
	"github.com/dennispaul8/bot-dashboard/internal/models"
	"github.com/dennispaul8/bot-dashboard/internal/push"
	"github.com/dennispaul8/bot-dashboard/internal/watcher"
	"log/slog"
)

// maxAnnounceMessageLen mirrors the platform's post length limit.
const maxAnnounceMessageLen = 280

// AccountsHandler serves account state, settings and the activity feed.
type AccountsHandler struct {
	accounts models.AccountRepository
	activity models.ActivityLogRepository
	fetcher  *watcher.Fetcher
	media    *media.Store
	sink     push.Sink
	logger   *slog.Logger
}

func NewAccountsHandler(
	accounts models.AccountRepository,
	activity models.ActivityLogRepository,
	fetcher *watcher.Fetcher,
	mediaStore *media.Store,
	sink push.Sink,
	logger *slog.Logger,
) *AccountsHandler {
	if sink == nil {
		sink = push.NopSink{}
	}
	return &AccountsHandler{
		accounts: accounts,
		activity: activity,
		fetcher:  fetcher,
		media:    mediaStore,
		sink:     sink,
		logger:   logger,
	}
}

// AccountResponse is the dashboard's view of one account.
type AccountResponse struct {
	Account    *models.Account `json:"account"`
	Followers  *int64          `json:"followers,omitempty"`
	Cached     bool            `json:"cached,omitempty"`
	FetchError string          `json:"fetch_error,omitempty"`
}

// GetAccount handles GET /api/accounts/:id. The follower count comes from
// the fetch cache when fresh, otherwise a live lookup is made and cached.
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	account, ok := h.loadAccount(w, r, "/api/accounts/")
	if !ok {
		return
	}

	response := AccountResponse{Account: account}

	if account.TwitterID != "" {
		result, err := h.fetcher.Fetch(r.Context(), account)
		switch {
		case err != nil:
			var fetchErr *watcher.FetchError
			if errors.As(err, &fetchErr) {
				response.FetchError = fetchErr.Reason()
			} else {
				response.FetchError = "Unable to fetch follower count right now."
			}
			h.logger.Warn("dashboard follower fetch failed", "account_id", account.ID, "error", err)
		default:
			response.Followers = &result.Count
			response.Cached = result.Cached
			if !result.Cached {
				profileURL := ""
				if result.Profile != nil {
					profileURL = result.Profile.ProfileImageURL
				}
				if err := h.accounts.UpdateFetchCache(r.Context(), account.ID, result.Count, result.FetchedAt, profileURL); err != nil {
					h.logger.Error("failed to persist fetch cache", "account_id", account.ID, "error", err)
				}
			}
		}
	}

	writeJSON(w, h.logger, http.StatusOK, response)
}

// MessageRequest carries a new announcement message. An empty message
// resets the account to the default template.
type MessageRequest struct {
	Message string `json:"message"`
}

// UpdateMessage handles POST /api/accounts/:id/message
func (h *AccountsHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	account, ok := h.loadAccount(w, r, "/api/accounts/")
	if !ok {
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	message := strings.TrimSpace(req.Message)
	if utf8.RuneCountInString(message) > maxAnnounceMessageLen {
		http.Error(w, "Message exceeds "+strconv.Itoa(maxAnnounceMessageLen)+" characters", http.StatusBadRequest)
		return
	}

	updated, err := h.accounts.UpdateSettings(r.Context(), account.ID, models.SettingsUpdate{AnnounceMessage: &message})
	if err != nil {
		h.logger.Error("failed to update announce message", "account_id", account.ID, "error", err)
		http.Error(w, "Failed to update message", http.StatusInternalServerError)
		return
	}

	h.logActivity(r, account.ID, "📝 Announcement message updated")
	writeJSON(w, h.logger, http.StatusOK, AccountResponse{Account: updated})
}

// UploadMedia handles POST /api/accounts/:id/media with a multipart form
// carrying the GIF under the "media" field.
func (h *AccountsHandler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	account, ok := h.loadAccount(w, r, "/api/accounts/")
	if !ok {
		return
	}

	file, _, err := r.FormFile("media")
	if err != nil {
		http.Error(w, "Missing media file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ref, err := h.media.SaveGIF(account.ID, file)
	if err != nil {
		if errors.Is(err, media.ErrNotGIF) {
			http.Error(w, "Only GIF files are allowed", http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to store media upload", "account_id", account.ID, "error", err)
		http.Error(w, "Failed to store upload", http.StatusBadRequest)
		return
	}

	updated, err := h.accounts.UpdateSettings(r.Context(), account.ID, models.SettingsUpdate{MediaRef: &ref})
	if err != nil {
		h.logger.Error("failed to record media reference", "account_id", account.ID, "error", err)
		http.Error(w, "Failed to record upload", http.StatusInternalServerError)
		return
	}

	h.logActivity(r, account.ID, "🖼️ Celebration GIF updated")
	writeJSON(w, h.logger, http.StatusOK, AccountResponse{Account: updated})
}

// GetLogs handles GET /api/accounts/:id/logs
func (h *AccountsHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	account, ok := h.loadAccount(w, r, "/api/accounts/")
	if !ok {
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	logs, err := h.activity.List(r.Context(), account.ID, limit)
	if err != nil {
		h.logger.Error("failed to list activity logs", "account_id", account.ID, "error", err)
		http.Error(w, "Failed to retrieve activity logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// LinkCallbackRequest is posted by the OAuth collaborator once a user
// has authorized the bot.
type LinkCallbackRequest struct {
	AccountID    string `json:"account_id"`
	TwitterID    string `json:"twitter_id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	AccessToken  string `json:"access_token"`
	AccessSecret string `json:"access_secret"`
}

// LinkCallback handles POST /api/auth/callback. Re-linking an existing
// account refreshes its credentials and keeps its settings and milestone
// progress.
func (h *AccountsHandler) LinkCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LinkCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.AccountID == "" || req.TwitterID == "" || req.AccessToken == "" || req.AccessSecret == "" {
		http.Error(w, "account_id, twitter_id and the token pair are required", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.Link(r.Context(), models.LinkParams{
		AccountID:   req.AccountID,
		TwitterID:   req.TwitterID,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Credentials: models.Credentials{
			AccessToken:  req.AccessToken,
			AccessSecret: req.AccessSecret,
		},
	})
	if err != nil {
		h.logger.Error("failed to link account", "account_id", req.AccountID, "error", err)
		http.Error(w, "Failed to link account", http.StatusInternalServerError)
		return
	}

	h.logger.Info("account linked", "account_id", account.ID, "username", account.Username)
	h.logActivity(r, account.ID, "🔗 Account connected: @"+account.Username)
	writeJSON(w, h.logger, http.StatusOK, AccountResponse{Account: account})
}

// Unlink handles DELETE /api/accounts/:id/link. Credentials are removed
// but settings, milestone progress and the activity feed stay.
func (h *AccountsHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	account, ok := h.loadAccount(w, r, "/api/accounts/")
	if !ok {
		return
	}

	if err := h.accounts.ClearCredentials(r.Context(), account.ID); err != nil {
		h.logger.Error("failed to clear credentials", "account_id", account.ID, "error", err)
		http.Error(w, "Failed to unlink account", http.StatusInternalServerError)
		return
	}

	h.logger.Info("account unlinked", "account_id", account.ID)
	h.logActivity(r, account.ID, "🔌 Account disconnected")
	w.WriteHeader(http.StatusNoContent)
}

// loadAccount resolves the account id segment of the request path and
// fetches the record, writing the error response itself on failure.
func (h *AccountsHandler) loadAccount(w http.ResponseWriter, r *http.Request, prefix string) (*models.Account, bool) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if i := strings.IndexByte(id, '/'); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		http.Error(w, "Account ID required", http.StatusBadRequest)
		return nil, false
	}

	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load account", "account_id", id, "error", err)
		http.Error(w, "Failed to load account", http.StatusInternalServerError)
		return nil, false
	}
	if account == nil {
		http.Error(w, "Account not found", http.StatusNotFound)
		return nil, false
	}

	return account, true
}

func (h *AccountsHandler) logActivity(r *http.Request, accountID, message string) {
	if err := h.activity.Append(r.Context(), accountID, message); err != nil {
		h.logger.Error("failed to append activity log", "account_id", accountID, "error", err)
	}
	h.sink.Publish(push.Event{AccountID: accountID, Type: push.EventLog, Message: message})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
