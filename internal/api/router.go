package api

import (
	"net/http"
	"strings"

	"github.com/dennispaul8/bot-dashboard/internal/auth"
	"github.com/dennispaul8/bot-dashboard/internal/media"
	"github.com/dennispaul8/bot-dashboard/internal/models"
	"github.com/dennispaul8/bot-dashboard/internal/push"
	"github.com/dennispaul8/bot-dashboard/internal/watcher"
	"log/slog"
)

// SetupRoutes configures all API routes
func SetupRoutes(
	mux *http.ServeMux,
	accounts models.AccountRepository,
	activity models.ActivityLogRepository,
	fetcher *watcher.Fetcher,
	checker MilestoneChecker,
	mediaStore *media.Store,
	hub *push.Hub,
	authConfig auth.Config,
	logger *slog.Logger,
) {
	accountsHandler := NewAccountsHandler(accounts, activity, fetcher, mediaStore, hub, logger)
	botHandler := NewBotHandler(checker, logger)
	eventsHandler := NewEventsHandler(hub, logger)
	authHandler := NewAuthHandler(authConfig, logger)

	// Auth middleware
	authMiddleware := auth.AuthMiddleware(authConfig)

	// Authentication routes (public)
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.HandleFunc("/api/auth/validate", func(w http.ResponseWriter, r *http.Request) {
		authMiddleware(http.HandlerFunc(authHandler.ValidateToken)).ServeHTTP(w, r)
	})

	// OAuth link callback (admin only; posted by the link collaborator)
	mux.HandleFunc("/api/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			writePreflight(w)
			return
		}
		authMiddleware(http.HandlerFunc(accountsHandler.LinkCallback)).ServeHTTP(w, r)
	})

	// Account routes (admin only)
	mux.HandleFunc("/api/accounts/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/accounts/" {
			http.NotFound(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			writePreflight(w)
			return
		}

		authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Handle /api/accounts/:id/message
			if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/message") {
				accountsHandler.UpdateMessage(w, r)
				return
			}

			// Handle /api/accounts/:id/media
			if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media") {
				accountsHandler.UploadMedia(w, r)
				return
			}

			// Handle /api/accounts/:id/logs
			if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/logs") {
				accountsHandler.GetLogs(w, r)
				return
			}

			// Handle /api/accounts/:id/link
			if r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/link") {
				accountsHandler.Unlink(w, r)
				return
			}

			// Otherwise handle as get by ID
			accountsHandler.GetAccount(w, r)
		})).ServeHTTP(w, r)
	})

	// Manual check route (admin only)
	mux.HandleFunc("/api/bot/check/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			writePreflight(w)
			return
		}
		authMiddleware(http.HandlerFunc(botHandler.CheckNow)).ServeHTTP(w, r)
	})

	// Live event stream (admin only; token via query param is not
	// supported, the dashboard uses fetch-based SSE)
	mux.HandleFunc("/api/events/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			writePreflight(w)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/stream") {
			http.NotFound(w, r)
			return
		}
		authMiddleware(http.HandlerFunc(eventsHandler.Stream)).ServeHTTP(w, r)
	})

	// CORS preflight
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			writePreflight(w)
			return
		}
		http.NotFound(w, r)
	})
}

func writePreflight(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusOK)
}
