// Package handlers implements the HTTP endpoints of the sync server.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/envelope-ledger/internal/api/middleware"
	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
	"github.com/dvloznov/envelope-ledger/internal/syncer"
)

// MaxPageSize caps one pull page regardless of the requested limit.
const MaxPageSize = 500

// SyncHandler serves the push/pull endpoints. The server's store is the
// ordering authority: sequence numbers assigned here are what every device
// consumes at pull time.
type SyncHandler struct {
	store eventstore.Store
	log   zerolog.Logger
}

// NewSyncHandler creates a sync handler over the given store.
func NewSyncHandler(store eventstore.Store, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{store: store, log: log}
}

type pushRequest struct {
	Events []domain.Event `json:"events"`
}

type pushResponse struct {
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
}

// Push handles POST /api/sync/push. Events already known are skipped, so a
// client retrying a timed-out push cannot double-append. Accepted events get
// a fresh authoritative sequence number from this store.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var resp pushResponse
	for i := range req.Events {
		e := req.Events[i]
		if e.ID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Event without ID")
			return
		}

		exists, err := h.store.HasEvent(ctx, e.ID)
		if err != nil {
			h.log.Error().Err(err).Str("event_id", e.ID).Msg("Failed to check event")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to apply push batch")
			return
		}
		if exists {
			resp.Skipped++
			continue
		}

		if err := h.store.AppendEvent(ctx, &e); err != nil {
			h.log.Error().Err(err).Str("event_id", e.ID).Msg("Failed to append pushed event")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to apply push batch")
			return
		}
		resp.Accepted++
	}

	h.log.Info().Int("accepted", resp.Accepted).Int("skipped", resp.Skipped).Msg("Applied push batch")
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Pull handles GET /api/sync/pull. Omitting the cursor parameters requests
// full history. A full page sets hasMore; the client loops until it drains.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cursor domain.Cursor
	if ts := r.URL.Query().Get("since_ts"); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid since_ts")
			return
		}
		cursor.Timestamp = parsed
	}
	if seq := r.URL.Query().Get("since_seq"); seq != "" {
		parsed, err := strconv.ParseInt(seq, 10, 64)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid since_seq")
			return
		}
		cursor.Sequence = parsed
	}

	limit := MaxPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	events, err := h.store.ListEventsSince(ctx, cursor, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list events")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	next := cursor
	if len(events) > 0 {
		next = domain.EventCursor(events[len(events)-1])
	}

	middleware.WriteJSON(w, http.StatusOK, syncer.PullResponse{
		Events:     events,
		HasMore:    len(events) == limit,
		NextCursor: next,
	})
}
