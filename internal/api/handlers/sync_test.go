package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore/inmemory"
	"github.com/dvloznov/envelope-ledger/internal/syncer"
)

func allocEvent(t *testing.T, id string) domain.Event {
	t.Helper()
	e, err := domain.NewAllocationEvent(domain.AllocationEvent{
		ID:         id,
		Amount:     decimal.RequireFromString("10"),
		SourceType: domain.SourceManual,
	}, time.Time{}, "client-device")
	if err != nil {
		t.Fatalf("NewAllocationEvent: %v", err)
	}
	return e
}

func doPush(t *testing.T, h *SyncHandler, events []domain.Event) pushResponse {
	t.Helper()
	body, err := json.Marshal(pushRequest{Events: events})
	if err != nil {
		t.Fatalf("marshal push request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/sync/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Push(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("push status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp pushResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode push response: %v", err)
	}
	return resp
}

func TestSyncHandler_PushAssignsAuthoritativeSequence(t *testing.T) {
	store := inmemory.NewStore()
	h := NewSyncHandler(store, zerolog.Nop())

	// Client-side sequences are discarded on receipt.
	e := allocEvent(t, "ev1")
	e.Sequence = 999
	resp := doPush(t, h, []domain.Event{e})

	if resp.Accepted != 1 || resp.Skipped != 0 {
		t.Errorf("response = %+v, want 1 accepted", resp)
	}

	events, _ := store.ListEvents(context.Background())
	if len(events) != 1 {
		t.Fatalf("%d events stored, want 1", len(events))
	}
	if events[0].Sequence != 1 {
		t.Errorf("stored sequence = %d, want server-assigned 1", events[0].Sequence)
	}
}

func TestSyncHandler_PushRetryIsIdempotent(t *testing.T) {
	store := inmemory.NewStore()
	h := NewSyncHandler(store, zerolog.Nop())

	batch := []domain.Event{allocEvent(t, "ev1"), allocEvent(t, "ev2")}
	first := doPush(t, h, batch)
	if first.Accepted != 2 {
		t.Fatalf("first push = %+v, want 2 accepted", first)
	}

	// A client that lost the response resends the whole batch.
	second := doPush(t, h, batch)
	if second.Accepted != 0 || second.Skipped != 2 {
		t.Errorf("retried push = %+v, want 2 skipped", second)
	}
	events, _ := store.ListEvents(context.Background())
	if len(events) != 2 {
		t.Errorf("%d events after retry, want 2", len(events))
	}
}

func TestSyncHandler_PushRejectsMissingID(t *testing.T) {
	h := NewSyncHandler(inmemory.NewStore(), zerolog.Nop())

	body, _ := json.Marshal(pushRequest{Events: []domain.Event{{Type: domain.EventAllocation, Payload: []byte(`{}`)}}})
	req := httptest.NewRequest(http.MethodPost, "/api/sync/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Push(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSyncHandler_PullPagesThroughLog(t *testing.T) {
	store := inmemory.NewStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })
	h := NewSyncHandler(store, zerolog.Nop())

	for i := 0; i < 3; i++ {
		e := allocEvent(t, fmt.Sprintf("ev%d", i))
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := store.AppendEvent(context.Background(), &e); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	pull := func(query string) syncer.PullResponse {
		req := httptest.NewRequest(http.MethodGet, "/api/sync/pull"+query, nil)
		rec := httptest.NewRecorder()
		h.Pull(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("pull status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp syncer.PullResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode pull response: %v", err)
		}
		return resp
	}

	first := pull("?limit=2")
	if len(first.Events) != 2 || !first.HasMore {
		t.Fatalf("first page = %d events, hasMore %v, want 2 and true", len(first.Events), first.HasMore)
	}

	query := fmt.Sprintf("?limit=2&since_ts=%s&since_seq=%d",
		first.NextCursor.Timestamp.Format(time.RFC3339Nano), first.NextCursor.Sequence)
	second := pull(query)
	if len(second.Events) != 1 {
		t.Fatalf("second page = %d events, want the remaining 1", len(second.Events))
	}
	if second.Events[0].ID != "ev2" {
		t.Errorf("second page starts at %s, want ev2", second.Events[0].ID)
	}

	// Draining from the final cursor yields an empty page echoing the cursor.
	query = fmt.Sprintf("?since_ts=%s&since_seq=%d",
		second.NextCursor.Timestamp.Format(time.RFC3339Nano), second.NextCursor.Sequence)
	drained := pull(query)
	if len(drained.Events) != 0 || drained.HasMore {
		t.Errorf("drained page = %d events, hasMore %v", len(drained.Events), drained.HasMore)
	}
	if drained.NextCursor.Sequence != second.NextCursor.Sequence {
		t.Errorf("drained cursor = %+v, want echo of %+v", drained.NextCursor, second.NextCursor)
	}
}

func TestSyncHandler_PullRejectsBadParams(t *testing.T) {
	h := NewSyncHandler(inmemory.NewStore(), zerolog.Nop())

	for _, query := range []string{"?since_ts=yesterday", "?since_seq=lots", "?limit=0", "?limit=-3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/sync/pull"+query, nil)
		rec := httptest.NewRecorder()
		h.Pull(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q status = %d, want 400", query, rec.Code)
		}
	}
}
