package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/dennispaul8/bot-dashboard/internal/auth"
	"github.com/dennispaul8/bot-dashboard/internal/media"
	"github.com/dennispaul8/bot-dashboard/internal/models"
	"github.com/dennispaul8/bot-dashboard/internal/push"
	"github.com/dennispaul8/bot-dashboard/internal/social"
	"github.com/dennispaul8/bot-dashboard/internal/watcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newMemAccountRepo(accounts ...*models.Account) *memAccountRepo {
	repo := &memAccountRepo{accounts: make(map[string]*models.Account)}
	for _, a := range accounts {
		repo.accounts[a.ID] = a
	}
	return repo
}

func (r *memAccountRepo) Link(ctx context.Context, params models.LinkParams) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[params.AccountID]
	if !ok {
		account = &models.Account{ID: params.AccountID}
		r.accounts[params.AccountID] = account
	}
	account.TwitterID = params.TwitterID
	account.Username = params.Username
	account.DisplayName = params.DisplayName
	account.Credentials = params.Credentials
	account.Linked = true
	account.NeedsReauth = false
	copied := *account
	return &copied, nil
}

func (r *memAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (r *memAccountRepo) GetByTwitterID(ctx context.Context, twitterID string) (*models.Account, error) {
	return nil, nil
}

func (r *memAccountRepo) ListAll(ctx context.Context) ([]*models.Account, error) {
	return nil, nil
}

func (r *memAccountRepo) UpdateSettings(ctx context.Context, id string, update models.SettingsUpdate) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	if update.AnnounceMessage != nil {
		account.AnnounceMessage = *update.AnnounceMessage
	}
	if update.MediaRef != nil {
		account.MediaRef = *update.MediaRef
	}
	copied := *account
	return &copied, nil
}

func (r *memAccountRepo) AdvanceMilestone(ctx context.Context, id string, milestone int64) (bool, error) {
	return false, nil
}

func (r *memAccountRepo) SetNeedsReauth(ctx context.Context, id string, needsReauth bool) error {
	return nil
}

func (r *memAccountRepo) UpdateFetchCache(ctx context.Context, id string, count int64, fetchedAt time.Time, profileImageURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	account.LastFetchedAt = &fetchedAt
	account.LastFetchedCount = &count
	return nil
}

func (r *memAccountRepo) RecordDispatchAttempt(ctx context.Context, id string, milestone int64) error {
	return nil
}

func (r *memAccountRepo) HasRecentDispatchAttempt(ctx context.Context, id string, milestone int64, ttl time.Duration) (bool, error) {
	return false, nil
}

func (r *memAccountRepo) ClearCredentials(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	account.Credentials = models.Credentials{}
	account.Linked = false
	account.NeedsReauth = true
	return nil
}

type memActivityLog struct {
	mu      sync.Mutex
	entries []models.ActivityLog
}

func (l *memActivityLog) Append(ctx context.Context, accountID, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, models.ActivityLog{
		AccountID: accountID,
		Timestamp: time.Now(),
		Message:   message,
	})
	return nil
}

func (l *memActivityLog) List(ctx context.Context, accountID string, limit int) ([]models.ActivityLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ActivityLog
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if l.entries[i].AccountID == accountID {
			out = append(out, l.entries[i])
		}
	}
	return out, nil
}

type stubLookup struct {
	followers int64
	err       error
}

func (s *stubLookup) LookupUser(ctx context.Context, twitterID string) (*social.UserProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &social.UserProfile{ID: twitterID, Followers: s.followers}, nil
}

type stubChecker struct {
	result *watcher.Result
	err    error
}

func (s *stubChecker) RunOnce(ctx context.Context, accountID string) (*watcher.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func linkedTestAccount(id string) *models.Account {
	return &models.Account{
		ID:          id,
		TwitterID:   "tw-" + id,
		Username:    id,
		Credentials: models.Credentials{AccessToken: "tok", AccessSecret: "sec"},
		Linked:      true,
	}
}

func newHandlers(t *testing.T, repo *memAccountRepo, activity *memActivityLog, lookup *stubLookup) *AccountsHandler {
	t.Helper()
	store, err := media.NewStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("failed to create media store: %v", err)
	}
	fetcher := watcher.NewFetcher(lookup, 5*time.Minute, time.Second, testLogger())
	return NewAccountsHandler(repo, activity, fetcher, store, nil, testLogger())
}

func TestLogin(t *testing.T) {
	config := auth.Config{JWTSecret: "secret", AdminPassword: "hunter2", TokenDuration: time.Hour}
	handler := NewAuthHandler(config, testLogger())

	t.Run("success", func(t *testing.T) {
		body := bytes.NewBufferString(`{"password":"hunter2"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
		rr := httptest.NewRecorder()
		handler.Login(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var resp LoginResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Token == "" {
			t.Fatal("expected a token")
		}
		if _, err := auth.ValidateToken(resp.Token, config.JWTSecret); err != nil {
			t.Fatalf("issued token failed validation: %v", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		body := bytes.NewBufferString(`{"password":"nope"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
		rr := httptest.NewRecorder()
		handler.Login(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})
}

func TestGetAccount(t *testing.T) {
	repo := newMemAccountRepo(linkedTestAccount("acct"))
	handler := newHandlers(t, repo, &memActivityLog{}, &stubLookup{followers: 247})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/acct", nil)
	rr := httptest.NewRecorder()
	handler.GetAccount(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp AccountResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Followers == nil || *resp.Followers != 247 {
		t.Fatalf("expected 247 followers, got %+v", resp.Followers)
	}

	// The fresh fetch is persisted, so the next read is served cached.
	account, _ := repo.GetByID(context.Background(), "acct")
	if account.LastFetchedCount == nil || *account.LastFetchedCount != 247 {
		t.Fatal("expected fetch cache to be persisted")
	}
}

func TestGetAccount_FetchErrorStillReturnsAccount(t *testing.T) {
	repo := newMemAccountRepo(linkedTestAccount("acct"))
	handler := newHandlers(t, repo, &memActivityLog{}, &stubLookup{err: &social.APIError{StatusCode: 429, Body: "slow down"}})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/acct", nil)
	rr := httptest.NewRecorder()
	handler.GetAccount(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp AccountResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Followers != nil {
		t.Fatal("expected no follower count on failed fetch")
	}
	if !strings.Contains(resp.FetchError, "Too many requests") {
		t.Fatalf("expected rate-limit reason, got %q", resp.FetchError)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	handler := newHandlers(t, newMemAccountRepo(), &memActivityLog{}, &stubLookup{})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/missing", nil)
	rr := httptest.NewRecorder()
	handler.GetAccount(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestUpdateMessage(t *testing.T) {
	repo := newMemAccountRepo(linkedTestAccount("acct"))
	activity := &memActivityLog{}
	handler := newHandlers(t, repo, activity, &stubLookup{})

	t.Run("sets custom message", func(t *testing.T) {
		body := bytes.NewBufferString(`{"message":"We hit it!"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/acct/message", body)
		rr := httptest.NewRecorder()
		handler.UpdateMessage(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		account, _ := repo.GetByID(context.Background(), "acct")
		if account.AnnounceMessage != "We hit it!" {
			t.Fatalf("expected message stored, got %q", account.AnnounceMessage)
		}
	})

	t.Run("rejects oversized message", func(t *testing.T) {
		long := strings.Repeat("x", maxAnnounceMessageLen+1)
		body, _ := json.Marshal(MessageRequest{Message: long})
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/acct/message", bytes.NewReader(body))
		rr := httptest.NewRecorder()
		handler.UpdateMessage(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("empty message resets to default", func(t *testing.T) {
		body := bytes.NewBufferString(`{"message":""}`)
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/acct/message", body)
		rr := httptest.NewRecorder()
		handler.UpdateMessage(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		account, _ := repo.GetByID(context.Background(), "acct")
		if account.AnnounceMessage != "" {
			t.Fatalf("expected message cleared, got %q", account.AnnounceMessage)
		}
	})
}

func TestUploadMedia(t *testing.T) {
	repo := newMemAccountRepo(linkedTestAccount("acct"))
	handler := newHandlers(t, repo, &memActivityLog{}, &stubLookup{})

	multipartBody := func(t *testing.T, content []byte) (*bytes.Buffer, string) {
		t.Helper()
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("media", "celebrate.gif")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
		writer.Close()
		return &buf, writer.FormDataContentType()
	}

	t.Run("accepts gif", func(t *testing.T) {
		body, contentType := multipartBody(t, []byte("GIF89a-animated-bytes"))
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/acct/media", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		handler.UploadMedia(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		account, _ := repo.GetByID(context.Background(), "acct")
		if account.MediaRef == "" || !strings.HasSuffix(account.MediaRef, ".gif") {
			t.Fatalf("expected gif media ref recorded, got %q", account.MediaRef)
		}
	})

	t.Run("rejects non-gif", func(t *testing.T) {
		body, contentType := multipartBody(t, []byte("\x89PNG\r\n"))
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/acct/media", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		handler.UploadMedia(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})
}

func TestGetLogs(t *testing.T) {
	repo := newMemAccountRepo(linkedTestAccount("acct"))
	activity := &memActivityLog{}
	_ = activity.Append(context.Background(), "acct", "✅ Checked: 100 followers")
	_ = activity.Append(context.Background(), "acct", "🎉 Milestone!")
	_ = activity.Append(context.Background(), "other", "unrelated")
	handler := newHandlers(t, repo, activity, &stubLookup{})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/acct/logs", nil)
	rr := httptest.NewRecorder()
	handler.GetLogs(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Logs  []models.ActivityLog `json:"logs"`
		Count int                  `json:"count"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 entries, got %d", resp.Count)
	}
	if resp.Logs[0].Message != "🎉 Milestone!" {
		t.Fatalf("expected newest-first ordering, got %q first", resp.Logs[0].Message)
	}
}

func TestLinkCallbackAndUnlink(t *testing.T) {
	repo := newMemAccountRepo()
	handler := newHandlers(t, repo, &memActivityLog{}, &stubLookup{})

	body := bytes.NewBufferString(`{
		"account_id": "acct",
		"twitter_id": "12345",
		"username": "someone",
		"access_token": "tok",
		"access_secret": "sec"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/callback", body)
	rr := httptest.NewRecorder()
	handler.LinkCallback(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	account, _ := repo.GetByID(context.Background(), "acct")
	if account == nil || !account.Linked {
		t.Fatal("expected account to be linked")
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/accounts/acct/link", nil)
	rr = httptest.NewRecorder()
	handler.Unlink(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	account, _ = repo.GetByID(context.Background(), "acct")
	if account.Linked || account.Credentials.Present() {
		t.Fatal("expected credentials cleared on unlink")
	}
}

func TestLinkCallback_MissingFields(t *testing.T) {
	handler := newHandlers(t, newMemAccountRepo(), &memActivityLog{}, &stubLookup{})

	body := bytes.NewBufferString(`{"account_id": "acct"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/callback", body)
	rr := httptest.NewRecorder()
	handler.LinkCallback(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCheckNow(t *testing.T) {
	tests := []struct {
		name       string
		checker    *stubChecker
		wantStatus int
	}{
		{
			name:       "success",
			checker:    &stubChecker{result: &watcher.Result{AccountID: "acct", Followers: 247, Milestone: 200, Dispatched: true}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "busy",
			checker:    &stubChecker{err: watcher.ErrBusy},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "unknown account",
			checker:    &stubChecker{err: watcher.ErrUnknownAccount},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewBotHandler(tt.checker, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/bot/check/acct", nil)
			rr := httptest.NewRecorder()
			handler.CheckNow(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}

			if tt.wantStatus == http.StatusOK {
				var result watcher.Result
				if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
					t.Fatalf("failed to decode result: %v", err)
				}
				if !result.Dispatched || result.Milestone != 200 {
					t.Fatalf("unexpected result: %+v", result)
				}
			}
		})
	}
}

func TestEventStream(t *testing.T) {
	hub := push.NewHub()
	handler := NewEventsHandler(hub, testLogger())

	server := httptest.NewServer(http.HandlerFunc(handler.Stream))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events/acct/stream", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", got)
	}

	// Publish until the subscription lands; the hub drops events for
	// accounts without subscribers.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				hub.Publish(push.Event{AccountID: "acct", Type: push.EventLog, Message: "✅ Checked: 100 followers"})
			}
		}
	}()
	defer close(stop)

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended early: %v (got %q)", err, strings.Join(lines, "\n"))
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, "data:") {
			break
		}
	}

	body := strings.Join(lines, "")
	if !strings.Contains(body, "event: log") {
		t.Fatalf("expected SSE event line, got %q", body)
	}
	if !strings.Contains(body, "✅ Checked: 100 followers") {
		t.Fatalf("expected event payload, got %q", body)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	repo := newMemAccountRepo(linkedTestAccount("acct"))
	store, err := media.NewStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("failed to create media store: %v", err)
	}
	fetcher := watcher.NewFetcher(&stubLookup{followers: 1}, 5*time.Minute, time.Second, testLogger())
	authConfig := auth.Config{JWTSecret: "secret", AdminPassword: "hunter2", TokenDuration: time.Hour}

	mux := http.NewServeMux()
	SetupRoutes(mux, repo, &memActivityLog{}, fetcher, &stubChecker{result: &watcher.Result{}}, store, push.NewHub(), authConfig, testLogger())

	protected := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/accounts/acct"},
		{http.MethodPost, "/api/accounts/acct/message"},
		{http.MethodGet, "/api/accounts/acct/logs"},
		{http.MethodDelete, "/api/accounts/acct/link"},
		{http.MethodPost, "/api/bot/check/acct"},
		{http.MethodPost, "/api/auth/callback"},
		{http.MethodGet, "/api/events/acct/stream"},
	}

	for _, route := range protected {
		req := httptest.NewRequest(route.method, route.path, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 without token, got %d", route.method, route.path, rr.Code)
		}
	}

	// With a valid token the account route responds.
	token, err := auth.GenerateToken("admin", authConfig.JWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/accounts/acct", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rr.Code, rr.Body.String())
	}
}
