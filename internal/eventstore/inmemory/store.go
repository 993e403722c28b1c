// Package inmemory provides a map-backed Store. It is used by tests and as
// the server-side default; data is lost on restart - use the sqlite store for
// device-local durability.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
)

// Store is an in-memory implementation of eventstore.Store. It is safe for
// concurrent use.
type Store struct {
	mu sync.RWMutex

	events   map[string]*domain.Event
	buckets  map[string]*domain.Bucket
	rules    map[string]*domain.FundingRule
	txns     map[string]*domain.Transaction
	splits   map[string]*domain.TransactionSplit
	mappings map[string]*domain.MerchantMapping
	sync     map[string]*domain.SyncState

	nextSeq int64
	now     func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		events:   make(map[string]*domain.Event),
		buckets:  make(map[string]*domain.Bucket),
		rules:    make(map[string]*domain.FundingRule),
		txns:     make(map[string]*domain.Transaction),
		splits:   make(map[string]*domain.TransactionSplit),
		mappings: make(map[string]*domain.MerchantMapping),
		sync:     make(map[string]*domain.SyncState),
		nextSeq:  1,
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AppendEvent implements eventstore.Store.
func (s *Store) AppendEvent(ctx context.Context, e *domain.Event) error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.ID]; exists {
		return fmt.Errorf("append event %s: %w", e.ID, eventstore.ErrDuplicateEvent)
	}

	e.Sequence = s.nextSeq
	s.nextSeq++
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Synced = false

	eventCopy := *e
	s.events[e.ID] = &eventCopy
	return nil
}

// InsertRemoteEvent implements eventstore.Store.
func (s *Store) InsertRemoteEvent(ctx context.Context, e domain.Event) error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.ID]; exists {
		return fmt.Errorf("insert remote event %s: %w", e.ID, eventstore.ErrDuplicateEvent)
	}

	e.Synced = true
	// Keep the local sequence counter ahead of remote sequences so future
	// local appends never collide on (timestamp, sequence) ordering.
	if e.Sequence >= s.nextSeq {
		s.nextSeq = e.Sequence + 1
	}
	s.events[e.ID] = &e
	return nil
}

// HasEvent implements eventstore.Store.
func (s *Store) HasEvent(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.events[id]
	return exists, nil
}

// ListEvents implements eventstore.Store.
func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedEventsLocked(func(*domain.Event) bool { return true }, 0), nil
}

// ListEventsSince implements eventstore.Store.
func (s *Store) ListEventsSince(ctx context.Context, c domain.Cursor, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedEventsLocked(func(e *domain.Event) bool {
		return c.Before(domain.EventCursor(*e))
	}, limit), nil
}

// ListUnsyncedEvents implements eventstore.Store.
func (s *Store) ListUnsyncedEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedEventsLocked(func(e *domain.Event) bool { return !e.Synced }, 0), nil
}

// sortedEventsLocked copies matching events sorted ascending by
// (timestamp, sequence). Callers must hold at least a read lock.
func (s *Store) sortedEventsLocked(match func(*domain.Event) bool, limit int) []domain.Event {
	result := make([]domain.Event, 0)
	for _, e := range s.events {
		if match(e) {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return domain.EventCursor(result[i]).Before(domain.EventCursor(result[j]))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// MarkEventsSynced implements eventstore.Store.
func (s *Store) MarkEventsSynced(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		e, exists := s.events[id]
		if !exists {
			return fmt.Errorf("mark synced: event %s: %w", id, eventstore.ErrNotFound)
		}
		e.Synced = true
	}
	return nil
}

// SaveBucket implements eventstore.Store.
func (s *Store) SaveBucket(ctx context.Context, b *domain.Bucket) error {
	if b.ID == "" {
		return fmt.Errorf("bucket ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucketCopy := *b
	s.buckets[b.ID] = &bucketCopy
	return nil
}

// GetBucket implements eventstore.Store.
func (s *Store) GetBucket(ctx context.Context, id string) (*domain.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, exists := s.buckets[id]
	if !exists {
		return nil, fmt.Errorf("bucket %s: %w", id, eventstore.ErrNotFound)
	}
	bucketCopy := *b
	return &bucketCopy, nil
}

// ListBuckets implements eventstore.Store.
func (s *Store) ListBuckets(ctx context.Context) ([]domain.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		result = append(result, *b)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteBucket implements eventstore.Store. Events referencing the bucket are
// kept; dangling references project to the unassigned pool.
func (s *Store) DeleteBucket(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.buckets[id]; !exists {
		return fmt.Errorf("bucket %s: %w", id, eventstore.ErrNotFound)
	}
	delete(s.buckets, id)
	return nil
}

// SaveRule implements eventstore.Store.
func (s *Store) SaveRule(ctx context.Context, r *domain.FundingRule) error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ruleCopy := *r
	s.rules[r.ID] = &ruleCopy
	return nil
}

// GetRule implements eventstore.Store.
func (s *Store) GetRule(ctx context.Context, id string) (*domain.FundingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, eventstore.ErrNotFound)
	}
	ruleCopy := *r
	return &ruleCopy, nil
}

// ListRules implements eventstore.Store. Rules are returned in creation
// order so equal-priority rules evaluate stably between runs.
func (s *Store) ListRules(ctx context.Context) ([]domain.FundingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.FundingRule, 0, len(s.rules))
	for _, r := range s.rules {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteRule implements eventstore.Store.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, eventstore.ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

// SaveTransaction implements eventstore.Store.
func (s *Store) SaveTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	txnCopy := *t
	s.txns[t.ID] = &txnCopy
	return nil
}

// GetTransactionByExternalID implements eventstore.Store.
func (s *Store) GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	if externalID == "" {
		return nil, fmt.Errorf("external ID is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.txns {
		if t.ExternalID == externalID {
			txnCopy := *t
			return &txnCopy, nil
		}
	}
	return nil, fmt.Errorf("transaction with external ID %s: %w", externalID, eventstore.ErrNotFound)
}

// ListTransactions implements eventstore.Store.
func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Transaction, 0, len(s.txns))
	for _, t := range s.txns {
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date.Equal(result[j].Date) {
			return result[i].ID < result[j].ID
		}
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

// SaveSplit implements eventstore.Store.
func (s *Store) SaveSplit(ctx context.Context, split *domain.TransactionSplit) error {
	if split.ID == "" {
		return fmt.Errorf("split ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	splitCopy := *split
	s.splits[split.ID] = &splitCopy
	return nil
}

// ListSplits implements eventstore.Store.
func (s *Store) ListSplits(ctx context.Context) ([]domain.TransactionSplit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.TransactionSplit, 0, len(s.splits))
	for _, split := range s.splits {
		result = append(result, *split)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DeleteSplitsForTransaction implements eventstore.Store.
func (s *Store) DeleteSplitsForTransaction(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, split := range s.splits {
		if split.TransactionID == transactionID {
			delete(s.splits, id)
		}
	}
	return nil
}

// SaveMerchantMapping implements eventstore.Store.
func (s *Store) SaveMerchantMapping(ctx context.Context, m *domain.MerchantMapping) error {
	if m.ID == "" {
		return fmt.Errorf("mapping ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mappingCopy := *m
	s.mappings[m.ID] = &mappingCopy
	return nil
}

// ListMerchantMappings implements eventstore.Store.
func (s *Store) ListMerchantMappings(ctx context.Context) ([]domain.MerchantMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.MerchantMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteMerchantMapping implements eventstore.Store.
func (s *Store) DeleteMerchantMapping(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mappings[id]; !exists {
		return fmt.Errorf("mapping %s: %w", id, eventstore.ErrNotFound)
	}
	delete(s.mappings, id)
	return nil
}

// GetSyncState implements eventstore.Store.
func (s *Store) GetSyncState(ctx context.Context, endpoint string) (*domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, exists := s.sync[endpoint]
	if !exists {
		return nil, fmt.Errorf("sync state for %s: %w", endpoint, eventstore.ErrNotFound)
	}
	stateCopy := *state
	return &stateCopy, nil
}

// SaveSyncState implements eventstore.Store.
func (s *Store) SaveSyncState(ctx context.Context, state *domain.SyncState) error {
	if state.Endpoint == "" {
		return fmt.Errorf("sync endpoint is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stateCopy := *state
	s.sync[state.Endpoint] = &stateCopy
	return nil
}

// Ensure Store implements the eventstore.Store interface.
var _ eventstore.Store = (*Store)(nil)
