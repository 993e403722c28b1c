package syncer

import (
	"context"

	"github.com/dvloznov/envelope-ledger/internal/domain"
)

// PullResponse is one page of remote events.
type PullResponse struct {
	Events []domain.Event `json:"events"`

	// HasMore is set when the page was full and more data is available.
	HasMore bool `json:"hasMore"`

	// NextCursor is the cursor of the last event in the page.
	NextCursor domain.Cursor `json:"nextCursor"`
}

// Remote is the other side of a sync cycle. Both calls are safe to retry
// wholesale: pushed events are deduplicated by ID on the server and a pull
// from the same cursor returns the same page.
type Remote interface {
	// Push sends locally originated events as one batch. The server assigns
	// authoritative sequence numbers on receipt.
	Push(ctx context.Context, events []domain.Event) error

	// Pull returns up to limit events strictly after the cursor, ascending
	// by (timestamp, sequence).
	Pull(ctx context.Context, since domain.Cursor, limit int) (*PullResponse, error)
}

// LocalStore is the slice of the event store the coordinator needs.
type LocalStore interface {
	ListUnsyncedEvents(ctx context.Context) ([]domain.Event, error)
	MarkEventsSynced(ctx context.Context, ids []string) error
	HasEvent(ctx context.Context, id string) (bool, error)
	InsertRemoteEvent(ctx context.Context, e domain.Event) error
	GetBucket(ctx context.Context, id string) (*domain.Bucket, error)
	SaveBucket(ctx context.Context, b *domain.Bucket) error
	DeleteBucket(ctx context.Context, id string) error
	SaveRule(ctx context.Context, r *domain.FundingRule) error
	DeleteRule(ctx context.Context, id string) error
	SaveSyncState(ctx context.Context, s *domain.SyncState) error
}
