package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dennispaul8/bot-dashboard/internal/watcher"
	"log/slog"
)

// MilestoneChecker runs the check pipeline for one account on demand.
type MilestoneChecker interface {
	RunOnce(ctx context.Context, accountID string) (*watcher.Result, error)
}

// BotHandler exposes manual bot controls to the dashboard.
type BotHandler struct {
	checker MilestoneChecker
	logger  *slog.Logger
}

func NewBotHandler(checker MilestoneChecker, logger *slog.Logger) *BotHandler {
	return &BotHandler{
		checker: checker,
		logger:  logger,
	}
}

// CheckNow handles POST /api/bot/check/:id. It runs the same pipeline as
// a scheduled tick; an overlapping run for the same account is rejected.
func (h *BotHandler) CheckNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accountID := strings.TrimPrefix(r.URL.Path, "/api/bot/check/")
	if accountID == "" || strings.Contains(accountID, "/") {
		http.Error(w, "Account ID required", http.StatusBadRequest)
		return
	}

	result, err := h.checker.RunOnce(r.Context(), accountID)
	if err != nil {
		switch {
		case errors.Is(err, watcher.ErrBusy):
			http.Error(w, "A check is already running for this account", http.StatusConflict)
		case errors.Is(err, watcher.ErrUnknownAccount):
			http.Error(w, "Account not found", http.StatusNotFound)
		default:
			h.logger.Error("manual check failed", "account_id", accountID, "error", err)
			http.Error(w, "Check failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, http.StatusOK, result)
}
