// Package eventstore defines the append-only event log and the entity tables
// that hang off it. Implementations must be safe for use by a single writer
// with concurrent readers; the log itself is append-only and events are never
// edited or deleted.
package eventstore

import (
	"context"
	"errors"

	"github.com/dvloznov/envelope-ledger/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEvent is returned when appending an event whose ID already
// exists in the log.
var ErrDuplicateEvent = errors.New("duplicate event")

// Store is the durable, queryable backing for one device (or the server).
type Store interface {
	// AppendEvent appends a locally originated event. The store assigns the
	// next local sequence number, fills a zero timestamp with the current
	// time, and records the event as unsynced.
	AppendEvent(ctx context.Context, e *domain.Event) error

	// InsertRemoteEvent inserts an event pulled from the remote, preserving
	// its server-assigned sequence number and marking it synced. Returns
	// ErrDuplicateEvent if the ID already exists.
	InsertRemoteEvent(ctx context.Context, e domain.Event) error

	// HasEvent reports whether an event with the given ID exists.
	HasEvent(ctx context.Context, id string) (bool, error)

	// ListEvents returns the full log ascending by (timestamp, sequence).
	ListEvents(ctx context.Context) ([]domain.Event, error)

	// ListEventsSince returns up to limit events strictly after the cursor,
	// ascending by (timestamp, sequence).
	ListEventsSince(ctx context.Context, c domain.Cursor, limit int) ([]domain.Event, error)

	// ListUnsyncedEvents returns locally originated events not yet accepted
	// by the remote, ascending by (timestamp, sequence).
	ListUnsyncedEvents(ctx context.Context) ([]domain.Event, error)

	// MarkEventsSynced flags the given events as accepted by the remote.
	MarkEventsSynced(ctx context.Context, ids []string) error

	// Buckets.
	SaveBucket(ctx context.Context, b *domain.Bucket) error
	GetBucket(ctx context.Context, id string) (*domain.Bucket, error)
	ListBuckets(ctx context.Context) ([]domain.Bucket, error)
	DeleteBucket(ctx context.Context, id string) error

	// Funding rules. ListRules returns rules in creation order.
	SaveRule(ctx context.Context, r *domain.FundingRule) error
	GetRule(ctx context.Context, id string) (*domain.FundingRule, error)
	ListRules(ctx context.Context) ([]domain.FundingRule, error)
	DeleteRule(ctx context.Context, id string) error

	// Transactions and splits.
	SaveTransaction(ctx context.Context, t *domain.Transaction) error
	GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	SaveSplit(ctx context.Context, s *domain.TransactionSplit) error
	ListSplits(ctx context.Context) ([]domain.TransactionSplit, error)
	DeleteSplitsForTransaction(ctx context.Context, transactionID string) error

	// Merchant mappings. ListMerchantMappings returns creation order.
	SaveMerchantMapping(ctx context.Context, m *domain.MerchantMapping) error
	ListMerchantMappings(ctx context.Context) ([]domain.MerchantMapping, error)
	DeleteMerchantMapping(ctx context.Context, id string) error

	// Per-endpoint sync state.
	GetSyncState(ctx context.Context, endpoint string) (*domain.SyncState, error)
	SaveSyncState(ctx context.Context, s *domain.SyncState) error
}
