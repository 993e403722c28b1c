package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies the kind of record in the append-only log.
type EventType string

const (
	// EventAllocation moves funds between a bucket and the unassigned pool.
	EventAllocation EventType = "allocation"
	// EventTransactionImported records a bank transaction entering the ledger.
	EventTransactionImported EventType = "transaction_imported"
	// EventBucketMutated records a bucket create/update/delete.
	EventBucketMutated EventType = "bucket_mutated"
	// EventRuleMutated records a funding-rule create/update/delete.
	EventRuleMutated EventType = "rule_mutated"
)

// SourceType identifies what created an allocation event.
type SourceType string

const (
	// SourceManual is a user-initiated allocation.
	SourceManual SourceType = "manual"
	// SourceRule is an allocation produced by the allocation engine.
	SourceRule SourceType = "rule"
	// SourceImport is an allocation created during transaction import.
	SourceImport SourceType = "import"
)

// Event is one immutable record in the per-user log. Corrections are made by
// appending an offsetting event, never by editing or deleting.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`

	// Sequence is strictly increasing per originating store and is the sole
	// disambiguator when two events share a timestamp. The server reassigns
	// it on push receipt; server-assigned values are authoritative.
	Sequence int64 `json:"sequence"`

	DeviceID string          `json:"deviceId,omitempty"`
	Payload  json.RawMessage `json:"payload"`

	// Synced marks locally originated events that have been accepted by the
	// remote store. It is local bookkeeping and is not part of the wire form.
	Synced bool `json:"-"`
}

// AllocationEvent is the payload of an EventAllocation record and the ledger's
// unit of truth for bucket "assigned" totals. A positive amount moves funds
// into the bucket (or pool when BucketID is empty), a negative amount out.
type AllocationEvent struct {
	ID       string          `json:"id"`
	BucketID string          `json:"bucketId,omitempty"`
	Amount   decimal.Decimal `json:"amount"`

	SourceType SourceType `json:"sourceType"`
	SourceID   string     `json:"sourceId,omitempty"`

	Sequence int64 `json:"sequence"`
}

// NewAllocationEvent wraps an allocation payload in a log record.
func NewAllocationEvent(alloc AllocationEvent, ts time.Time, deviceID string) (Event, error) {
	payload, err := json.Marshal(alloc)
	if err != nil {
		return Event{}, fmt.Errorf("NewAllocationEvent: marshal payload: %w", err)
	}
	return Event{
		ID:        alloc.ID,
		Type:      EventAllocation,
		Timestamp: ts,
		DeviceID:  deviceID,
		Payload:   payload,
	}, nil
}

// Allocation decodes the allocation payload of an EventAllocation record.
func (e Event) Allocation() (AllocationEvent, error) {
	if e.Type != EventAllocation {
		return AllocationEvent{}, fmt.Errorf("event %s is %s, not %s", e.ID, e.Type, EventAllocation)
	}
	var alloc AllocationEvent
	if err := json.Unmarshal(e.Payload, &alloc); err != nil {
		return AllocationEvent{}, fmt.Errorf("decode allocation payload of event %s: %w", e.ID, err)
	}
	return alloc, nil
}

// Cursor marks sync progress as a (timestamp, sequence) pair. Events are
// totally ordered by timestamp first, then sequence.
type Cursor struct {
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
}

// Before reports whether c sorts strictly before other.
func (c Cursor) Before(other Cursor) bool {
	if c.Timestamp.Equal(other.Timestamp) {
		return c.Sequence < other.Sequence
	}
	return c.Timestamp.Before(other.Timestamp)
}

// IsZero reports whether the cursor is unset (full history requested).
func (c Cursor) IsZero() bool {
	return c.Timestamp.IsZero() && c.Sequence == 0
}

// EventCursor returns the cursor position of an event.
func EventCursor(e Event) Cursor {
	return Cursor{Timestamp: e.Timestamp, Sequence: e.Sequence}
}
