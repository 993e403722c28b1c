package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCursor_Before(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Cursor
		want bool
	}{
		{
			name: "earlier timestamp",
			a:    Cursor{Timestamp: base, Sequence: 9},
			b:    Cursor{Timestamp: base.Add(time.Second), Sequence: 1},
			want: true,
		},
		{
			name: "later timestamp",
			a:    Cursor{Timestamp: base.Add(time.Second), Sequence: 1},
			b:    Cursor{Timestamp: base, Sequence: 9},
			want: false,
		},
		{
			name: "same timestamp lower sequence",
			a:    Cursor{Timestamp: base, Sequence: 1},
			b:    Cursor{Timestamp: base, Sequence: 2},
			want: true,
		},
		{
			name: "identical",
			a:    Cursor{Timestamp: base, Sequence: 1},
			b:    Cursor{Timestamp: base, Sequence: 1},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Before(tt.b); got != tt.want {
				t.Errorf("Before() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCursor_IsZero(t *testing.T) {
	if !(Cursor{}).IsZero() {
		t.Error("empty cursor should be zero")
	}
	if (Cursor{Sequence: 1}).IsZero() {
		t.Error("cursor with sequence should not be zero")
	}
	if (Cursor{Timestamp: time.Now()}).IsZero() {
		t.Error("cursor with timestamp should not be zero")
	}
}

func TestEvent_AllocationRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("42.50")
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	event, err := NewAllocationEvent(AllocationEvent{
		ID:         "a1",
		BucketID:   "groceries",
		Amount:     amount,
		SourceType: SourceManual,
	}, ts, "dev1")
	if err != nil {
		t.Fatalf("NewAllocationEvent: %v", err)
	}

	if event.ID != "a1" || event.Type != EventAllocation || event.DeviceID != "dev1" {
		t.Errorf("envelope = %+v", event)
	}

	alloc, err := event.Allocation()
	if err != nil {
		t.Fatalf("Allocation: %v", err)
	}
	if alloc.BucketID != "groceries" || !alloc.Amount.Equal(amount) || alloc.SourceType != SourceManual {
		t.Errorf("payload = %+v", alloc)
	}
}

func TestEvent_AllocationWrongType(t *testing.T) {
	e := Event{ID: "m1", Type: EventBucketMutated, Payload: []byte(`{}`)}
	if _, err := e.Allocation(); err == nil {
		t.Error("decoding a mutation event as allocation should fail")
	}
}

func TestSyncState_Advance(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	state := SyncState{Endpoint: "https://remote"}

	state.Advance(Cursor{Timestamp: base, Sequence: 5})
	if !state.LastSyncedAt.Equal(base) || state.LastSequence != 5 {
		t.Fatalf("state after first advance = %s/%d", state.LastSyncedAt, state.LastSequence)
	}

	// Positions behind the cursor are ignored.
	state.Advance(Cursor{Timestamp: base.Add(-time.Hour), Sequence: 99})
	if !state.LastSyncedAt.Equal(base) || state.LastSequence != 5 {
		t.Errorf("cursor moved backwards to %s/%d", state.LastSyncedAt, state.LastSequence)
	}

	state.Advance(Cursor{Timestamp: base, Sequence: 8})
	if state.LastSequence != 8 {
		t.Errorf("same-timestamp advance ignored: seq %d", state.LastSequence)
	}
}

func TestBucket_HasTarget(t *testing.T) {
	tests := []struct {
		name       string
		targetType TargetType
		want       bool
	}{
		{"monthly", TargetMonthly, true},
		{"by date", TargetByDate, true},
		{"none", TargetNone, false},
		{"unset", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Bucket{TargetType: tt.targetType}
			if got := b.HasTarget(); got != tt.want {
				t.Errorf("HasTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}
