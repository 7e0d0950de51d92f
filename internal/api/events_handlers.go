package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dennispaul8/bot-dashboard/internal/push"
	"log/slog"
)

// EventsHandler streams live bot activity to the dashboard over SSE.
type EventsHandler struct {
	hub    *push.Hub
	logger *slog.Logger
}

func NewEventsHandler(hub *push.Hub, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: logger,
	}
}

// Stream handles GET /api/events/:id/stream. The connection stays open
// until the client goes away; missed events are not replayed, the
// dashboard re-fetches state on reconnect.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accountID := strings.TrimPrefix(r.URL.Path, "/api/events/")
	accountID = strings.TrimSuffix(accountID, "/stream")
	if accountID == "" || strings.Contains(accountID, "/") {
		http.Error(w, "Account ID required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events, cancel := h.hub.Subscribe(accountID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("event stream opened", "account_id", accountID)

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("event stream closed", "account_id", accountID)
			return
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
