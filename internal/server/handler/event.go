package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/everest/internal/domain"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// EventHandler pages through the durable settlement log so clients can
// catch up on events they missed while disconnected from /ws.
type EventHandler struct {
	log    domain.EventLog
	logger *slog.Logger
}

func NewEventHandler(log domain.EventLog, logger *slog.Logger) *EventHandler {
	return &EventHandler{log: log, logger: logger}
}

type eventEntry struct {
	ID    string                 `json:"id"`
	Event domain.SettlementEvent `json:"event"`
}

// ListEvents returns events after the given stream id, oldest first.
// GET /api/events?after=<id>&limit=<n>
//
// "next" is the id to pass as after on the following call; it equals the
// request's after when no newer events exist.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	limit := defaultEventPage
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventPage)
	}

	msgs, err := h.log.StreamRead(r.Context(), domain.StreamSettlements, after, limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "read events", err)
		return
	}

	entries := make([]eventEntry, 0, len(msgs))
	next := after
	for _, m := range msgs {
		next = m.ID
		var evt domain.SettlementEvent
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skipping malformed event",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, eventEntry{ID: m.ID, Event: evt})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"next":   next,
	})
}
