package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dennispaul8/bot-dashboard/internal/models"
	_ "github.com/lib/pq"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping test database: %v", err)
	}

	if err := RunMigrations(db, "../../migrations", discardLogger()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if _, err := db.Exec("TRUNCATE accounts CASCADE"); err != nil {
		t.Fatalf("failed to truncate accounts: %v", err)
	}

	return db
}

func linkTestAccount(t *testing.T, repo *PostgresAccountRepository, id string) *models.Account {
	t.Helper()

	account, err := repo.Link(context.Background(), models.LinkParams{
		AccountID:   id,
		TwitterID:   "tw-" + id,
		Username:    id,
		DisplayName: id,
		Credentials: models.Credentials{AccessToken: "tok", AccessSecret: "sec"},
	})
	if err != nil {
		t.Fatalf("failed to link account: %v", err)
	}
	return account
}

func TestLink_PreservesProgressOnRelink(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := setupTestDB(t)
	defer db.Close()

	repo := NewPostgresAccountRepository(db)
	ctx := context.Background()

	linkTestAccount(t, repo, "dennis")

	message := "custom message"
	mediaRef := "dennis-123.gif"
	if _, err := repo.UpdateSettings(ctx, "dennis", models.SettingsUpdate{
		AnnounceMessage: &message,
		MediaRef:        &mediaRef,
	}); err != nil {
		t.Fatalf("failed to update settings: %v", err)
	}
	if ok, err := repo.AdvanceMilestone(ctx, "dennis", 300); err != nil || !ok {
		t.Fatalf("failed to advance milestone: ok=%v err=%v", ok, err)
	}

	// Re-link with fresh tokens; progress and settings must survive.
	account, err := repo.Link(ctx, models.LinkParams{
		AccountID:   "dennis",
		TwitterID:   "tw-dennis",
		Username:    "dennis",
		DisplayName: "Dennis",
		Credentials: models.Credentials{AccessToken: "tok2", AccessSecret: "sec2"},
	})
	if err != nil {
		t.Fatalf("failed to re-link account: %v", err)
	}

	if account.AnnounceMessage != message {
		t.Errorf("expected announce message %q after re-link, got %q", message, account.AnnounceMessage)
	}
	if account.MediaRef != mediaRef {
		t.Errorf("expected media ref %q after re-link, got %q", mediaRef, account.MediaRef)
	}
	if account.LastAnnouncedMilestone != 300 {
		t.Errorf("expected milestone 300 after re-link, got %d", account.LastAnnouncedMilestone)
	}
	if account.Credentials.AccessToken != "tok2" {
		t.Errorf("expected refreshed token, got %q", account.Credentials.AccessToken)
	}
	if account.NeedsReauth {
		t.Error("expected needs_reauth cleared after re-link")
	}
}

func TestAdvanceMilestone_CAS(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := setupTestDB(t)
	defer db.Close()

	repo := NewPostgresAccountRepository(db)
	ctx := context.Background()

	linkTestAccount(t, repo, "dennis")

	ok, err := repo.AdvanceMilestone(ctx, "dennis", 200)
	if err != nil || !ok {
		t.Fatalf("first advance should win: ok=%v err=%v", ok, err)
	}

	// A delayed writer racing with the same value must lose.
	ok, err = repo.AdvanceMilestone(ctx, "dennis", 200)
	if err != nil {
		t.Fatalf("second advance errored: %v", err)
	}
	if ok {
		t.Error("second advance to same milestone should not win")
	}

	// A stale writer with a lower value must lose too.
	ok, err = repo.AdvanceMilestone(ctx, "dennis", 100)
	if err != nil {
		t.Fatalf("stale advance errored: %v", err)
	}
	if ok {
		t.Error("advance to lower milestone should not win")
	}

	account, err := repo.GetByID(ctx, "dennis")
	if err != nil {
		t.Fatalf("failed to get account: %v", err)
	}
	if account.LastAnnouncedMilestone != 200 {
		t.Errorf("expected milestone 200, got %d", account.LastAnnouncedMilestone)
	}
}

func TestAdvanceMilestone_ConcurrentWriters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := setupTestDB(t)
	defer db.Close()

	repo := NewPostgresAccountRepository(db)
	ctx := context.Background()

	linkTestAccount(t, repo, "dennis")

	const writers = 8
	var wg sync.WaitGroup
	wins := make([]bool, writers)
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			wins[idx], errs[idx] = repo.AdvanceMilestone(ctx, "dennis", 500)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < writers; i++ {
		if errs[i] != nil {
			t.Errorf("writer %d failed: %v", i, errs[i])
		}
		if wins[i] {
			winners++
		}
	}

	if winners != 1 {
		t.Errorf("expected exactly one winning writer, got %d", winners)
	}

	account, err := repo.GetByID(ctx, "dennis")
	if err != nil {
		t.Fatalf("failed to get account: %v", err)
	}
	if account.LastAnnouncedMilestone != 500 {
		t.Errorf("expected milestone 500, got %d", account.LastAnnouncedMilestone)
	}
}

func TestDispatchAttempts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := setupTestDB(t)
	defer db.Close()

	repo := NewPostgresAccountRepository(db)
	ctx := context.Background()

	linkTestAccount(t, repo, "dennis")

	recent, err := repo.HasRecentDispatchAttempt(ctx, "dennis", 200, 10*time.Minute)
	if err != nil {
		t.Fatalf("attempt lookup failed: %v", err)
	}
	if recent {
		t.Error("expected no attempt before recording one")
	}

	if err := repo.RecordDispatchAttempt(ctx, "dennis", 200); err != nil {
		t.Fatalf("failed to record attempt: %v", err)
	}

	recent, err = repo.HasRecentDispatchAttempt(ctx, "dennis", 200, 10*time.Minute)
	if err != nil {
		t.Fatalf("attempt lookup failed: %v", err)
	}
	if !recent {
		t.Error("expected attempt to be visible within TTL")
	}

	// A different milestone is a different attempt key.
	recent, err = repo.HasRecentDispatchAttempt(ctx, "dennis", 300, 10*time.Minute)
	if err != nil {
		t.Fatalf("attempt lookup failed: %v", err)
	}
	if recent {
		t.Error("attempt for milestone 200 must not cover milestone 300")
	}
}

func TestActivityLogCap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := setupTestDB(t)
	defer db.Close()

	accountRepo := NewPostgresAccountRepository(db)
	linkTestAccount(t, accountRepo, "dennis")

	logRepo := NewActivityLogRepository(db, 5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := logRepo.Append(ctx, "dennis", fmt.Sprintf("entry %d", i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	logs, err := logRepo.List(ctx, "dennis", 100)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(logs) != 5 {
		t.Fatalf("expected feed capped at 5 entries, got %d", len(logs))
	}
	if logs[0].Message != "entry 11" {
		t.Errorf("expected newest entry first, got %q", logs[0].Message)
	}
}
