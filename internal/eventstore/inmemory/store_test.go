package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
)

func newEvent(id string, ts time.Time) domain.Event {
	return domain.Event{
		ID:        id,
		Type:      domain.EventAllocation,
		Timestamp: ts,
		Payload:   []byte(`{}`),
	}
}

func TestStore_AppendAssignsSequenceAndTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	first := newEvent("e1", time.Time{})
	second := newEvent("e2", time.Time{})
	if err := store.AppendEvent(ctx, &first); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := store.AppendEvent(ctx, &second); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", first.Sequence, second.Sequence)
	}
	if !first.Timestamp.Equal(now) {
		t.Errorf("zero timestamp not filled: %s", first.Timestamp)
	}
	if first.Synced {
		t.Error("locally appended event marked synced")
	}
}

func TestStore_AppendRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	e := newEvent("e1", time.Now())
	if err := store.AppendEvent(ctx, &e); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	dup := newEvent("e1", time.Now())
	if err := store.AppendEvent(ctx, &dup); !errors.Is(err, eventstore.ErrDuplicateEvent) {
		t.Errorf("duplicate append error = %v, want ErrDuplicateEvent", err)
	}
}

func TestStore_InsertRemoteEventKeepsSequence(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	remote := newEvent("r1", time.Now())
	remote.Sequence = 40
	if err := store.InsertRemoteEvent(ctx, remote); err != nil {
		t.Fatalf("InsertRemoteEvent: %v", err)
	}

	events, _ := store.ListEvents(ctx)
	if len(events) != 1 || events[0].Sequence != 40 {
		t.Fatalf("stored event = %+v, want sequence 40 preserved", events)
	}
	if !events[0].Synced {
		t.Error("remote event not marked synced")
	}

	// The local counter must jump past remote sequences.
	local := newEvent("l1", time.Now())
	if err := store.AppendEvent(ctx, &local); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if local.Sequence != 41 {
		t.Errorf("local sequence after remote 40 = %d, want 41", local.Sequence)
	}
}

func TestStore_ListEventsSince(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"e1", "e2", "e3"} {
		e := newEvent(id, base.Add(time.Duration(i)*time.Hour))
		if err := store.AppendEvent(ctx, &e); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	// Same timestamp as e3; only sequence disambiguates.
	tie := newEvent("e4", base.Add(2*time.Hour))
	if err := store.AppendEvent(ctx, &tie); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	tests := []struct {
		name   string
		cursor domain.Cursor
		limit  int
		want   []string
	}{
		{
			name: "zero cursor returns everything",
			want: []string{"e1", "e2", "e3", "e4"},
		},
		{
			name:   "cursor excludes up to and including itself",
			cursor: domain.Cursor{Timestamp: base.Add(time.Hour), Sequence: 2},
			want:   []string{"e3", "e4"},
		},
		{
			name:   "timestamp tie broken by sequence",
			cursor: domain.Cursor{Timestamp: base.Add(2 * time.Hour), Sequence: 3},
			want:   []string{"e4"},
		},
		{
			name:  "limit truncates",
			limit: 2,
			want:  []string{"e1", "e2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := store.ListEventsSince(ctx, tt.cursor, tt.limit)
			if err != nil {
				t.Fatalf("ListEventsSince: %v", err)
			}
			if len(events) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(events), len(tt.want))
			}
			for i, id := range tt.want {
				if events[i].ID != id {
					t.Errorf("event %d = %s, want %s", i, events[i].ID, id)
				}
			}
		})
	}
}

func TestStore_UnsyncedLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	a := newEvent("a", time.Now())
	b := newEvent("b", time.Now())
	if err := store.AppendEvent(ctx, &a); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := store.AppendEvent(ctx, &b); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	unsynced, err := store.ListUnsyncedEvents(ctx)
	if err != nil || len(unsynced) != 2 {
		t.Fatalf("ListUnsyncedEvents = %d events, err %v, want 2", len(unsynced), err)
	}

	if err := store.MarkEventsSynced(ctx, []string{"a"}); err != nil {
		t.Fatalf("MarkEventsSynced: %v", err)
	}
	unsynced, _ = store.ListUnsyncedEvents(ctx)
	if len(unsynced) != 1 || unsynced[0].ID != "b" {
		t.Errorf("unsynced after marking a = %v, want just b", unsynced)
	}

	if err := store.MarkEventsSynced(ctx, []string{"missing"}); !errors.Is(err, eventstore.ErrNotFound) {
		t.Errorf("marking unknown event error = %v, want ErrNotFound", err)
	}
}

func TestStore_BucketCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	b := domain.Bucket{ID: "b1", Name: "Groceries", Priority: 2}
	if err := store.SaveBucket(ctx, &b); err != nil {
		t.Fatalf("SaveBucket: %v", err)
	}

	got, err := store.GetBucket(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	if got.Name != "Groceries" {
		t.Errorf("bucket name = %q", got.Name)
	}

	// Returned copies must not alias the stored record.
	got.Name = "mutated"
	again, _ := store.GetBucket(ctx, "b1")
	if again.Name != "Groceries" {
		t.Error("stored bucket mutated through a returned copy")
	}

	if err := store.DeleteBucket(ctx, "b1"); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	if _, err := store.GetBucket(ctx, "b1"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Errorf("get after delete error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteBucket(ctx, "b1"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_GetTransactionByExternalID(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	txn := domain.Transaction{ID: "t1", ExternalID: "plaid-abc"}
	if err := store.SaveTransaction(ctx, &txn); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}

	got, err := store.GetTransactionByExternalID(ctx, "plaid-abc")
	if err != nil {
		t.Fatalf("GetTransactionByExternalID: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("transaction = %+v", got)
	}

	if _, err := store.GetTransactionByExternalID(ctx, "unknown"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Errorf("unknown external ID error = %v, want ErrNotFound", err)
	}
}

func TestStore_SyncStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if _, err := store.GetSyncState(ctx, "https://remote"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("fresh endpoint error = %v, want ErrNotFound", err)
	}

	state := domain.SyncState{
		DeviceID:     "dev1",
		Endpoint:     "https://remote",
		Enabled:      true,
		LastSequence: 12,
	}
	if err := store.SaveSyncState(ctx, &state); err != nil {
		t.Fatalf("SaveSyncState: %v", err)
	}

	got, err := store.GetSyncState(ctx, "https://remote")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if got.LastSequence != 12 || !got.Enabled {
		t.Errorf("state = %+v", got)
	}
}
