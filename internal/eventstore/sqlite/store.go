// Package sqlite provides the durable device-local Store on top of a single
// SQLite file, using the pure-Go driver so binaries stay cgo-free.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      TEXT PRIMARY KEY,
	type    TEXT NOT NULL,
	ts      INTEGER NOT NULL,
	seq     INTEGER NOT NULL,
	device  TEXT NOT NULL DEFAULT '',
	payload BLOB NOT NULL,
	synced  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_cursor ON events (ts, seq);
CREATE INDEX IF NOT EXISTS idx_events_synced ON events (synced);
CREATE TABLE IF NOT EXISTS buckets (
	id   TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS rules (
	id   TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL DEFAULT '',
	data        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_external ON transactions (external_id);
CREATE TABLE IF NOT EXISTS splits (
	id             TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	data           BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_splits_transaction ON splits (transaction_id);
CREATE TABLE IF NOT EXISTS merchant_mappings (
	id   TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_state (
	endpoint TEXT PRIMARY KEY,
	data     BLOB NOT NULL
);
`

// Store persists the event log and entity tables in one SQLite file.
type Store struct {
	db *sql.DB

	// Guards sequence assignment; the ledger is single-writer per device but
	// the HTTP server shares one store across request goroutines.
	mu sync.Mutex

	now func() time.Time
}

// NewStore opens (creating if needed) the SQLite file at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "envelope-ledger.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendEvent implements eventstore.Store.
func (s *Store) AppendEvent(ctx context.Context, e *domain.Event) error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&maxSeq); err != nil {
		return fmt.Errorf("append event: next sequence: %w", err)
	}
	e.Sequence = maxSeq.Int64 + 1
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Synced = false

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, ts, seq, device, payload, synced) VALUES (?, ?, ?, ?, ?, ?, 0)`,
		e.ID, string(e.Type), e.Timestamp.UnixNano(), e.Sequence, e.DeviceID, []byte(e.Payload))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("append event %s: %w", e.ID, eventstore.ErrDuplicateEvent)
		}
		return fmt.Errorf("append event %s: %w", e.ID, err)
	}
	return nil
}

// InsertRemoteEvent implements eventstore.Store.
func (s *Store) InsertRemoteEvent(ctx context.Context, e domain.Event) error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, ts, seq, device, payload, synced) VALUES (?, ?, ?, ?, ?, ?, 1)`,
		e.ID, string(e.Type), e.Timestamp.UnixNano(), e.Sequence, e.DeviceID, []byte(e.Payload))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert remote event %s: %w", e.ID, eventstore.ErrDuplicateEvent)
		}
		return fmt.Errorf("insert remote event %s: %w", e.ID, err)
	}
	return nil
}

// HasEvent implements eventstore.Store.
func (s *Store) HasEvent(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has event %s: %w", id, err)
	}
	return true, nil
}

// ListEvents implements eventstore.Store.
func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.queryEvents(ctx, `SELECT id, type, ts, seq, device, payload, synced FROM events ORDER BY ts, seq`)
}

// ListEventsSince implements eventstore.Store.
func (s *Store) ListEventsSince(ctx context.Context, c domain.Cursor, limit int) ([]domain.Event, error) {
	q := `SELECT id, type, ts, seq, device, payload, synced FROM events
		WHERE ts > ? OR (ts = ? AND seq > ?) ORDER BY ts, seq`
	args := []any{c.Timestamp.UnixNano(), c.Timestamp.UnixNano(), c.Sequence}
	if c.IsZero() {
		// Full history; the zero time's UnixNano is a large negative number,
		// which already matches everything, but keep the query explicit.
		q = `SELECT id, type, ts, seq, device, payload, synced FROM events ORDER BY ts, seq`
		args = nil
	}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, q, args...)
}

// ListUnsyncedEvents implements eventstore.Store.
func (s *Store) ListUnsyncedEvents(ctx context.Context) ([]domain.Event, error) {
	return s.queryEvents(ctx, `SELECT id, type, ts, seq, device, payload, synced FROM events WHERE synced = 0 ORDER BY ts, seq`)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			e      domain.Event
			typ    string
			tsNano int64
			synced int
		)
		if err := rows.Scan(&e.ID, &typ, &tsNano, &e.Sequence, &e.DeviceID, (*[]byte)(&e.Payload), &synced); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		e.Timestamp = time.Unix(0, tsNano).UTC()
		e.Synced = synced != 0
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// MarkEventsSynced implements eventstore.Store.
func (s *Store) MarkEventsSynced(ctx context.Context, ids []string) error {
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `UPDATE events SET synced = 1 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("mark synced %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark synced %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("mark synced: event %s: %w", id, eventstore.ErrNotFound)
		}
	}
	return nil
}

// SaveBucket implements eventstore.Store.
func (s *Store) SaveBucket(ctx context.Context, b *domain.Bucket) error {
	return s.saveJSON(ctx, "buckets", b.ID, b)
}

// GetBucket implements eventstore.Store.
func (s *Store) GetBucket(ctx context.Context, id string) (*domain.Bucket, error) {
	var b domain.Bucket
	if err := s.getJSON(ctx, "buckets", id, &b); err != nil {
		return nil, fmt.Errorf("bucket %s: %w", id, err)
	}
	return &b, nil
}

// ListBuckets implements eventstore.Store.
func (s *Store) ListBuckets(ctx context.Context) ([]domain.Bucket, error) {
	buckets, err := listJSON[domain.Bucket](ctx, s, "buckets")
	if err != nil {
		return nil, err
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].CreatedAt.Equal(buckets[j].CreatedAt) {
			return buckets[i].ID < buckets[j].ID
		}
		return buckets[i].CreatedAt.Before(buckets[j].CreatedAt)
	})
	return buckets, nil
}

// DeleteBucket implements eventstore.Store.
func (s *Store) DeleteBucket(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "buckets", id)
}

// SaveRule implements eventstore.Store.
func (s *Store) SaveRule(ctx context.Context, r *domain.FundingRule) error {
	return s.saveJSON(ctx, "rules", r.ID, r)
}

// GetRule implements eventstore.Store.
func (s *Store) GetRule(ctx context.Context, id string) (*domain.FundingRule, error) {
	var r domain.FundingRule
	if err := s.getJSON(ctx, "rules", id, &r); err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	return &r, nil
}

// ListRules implements eventstore.Store.
func (s *Store) ListRules(ctx context.Context) ([]domain.FundingRule, error) {
	rules, err := listJSON[domain.FundingRule](ctx, s, "rules")
	if err != nil {
		return nil, err
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// DeleteRule implements eventstore.Store.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "rules", id)
}

// SaveTransaction implements eventstore.Store.
func (s *Store) SaveTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transaction %s: %w", t.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, external_id, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET external_id = excluded.external_id, data = excluded.data`,
		t.ID, t.ExternalID, data)
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", t.ID, err)
	}
	return nil
}

// GetTransactionByExternalID implements eventstore.Store.
func (s *Store) GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	if externalID == "" {
		return nil, fmt.Errorf("external ID is required")
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM transactions WHERE external_id = ?`, externalID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction with external ID %s: %w", externalID, eventstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by external ID %s: %w", externalID, err)
	}
	var t domain.Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &t, nil
}

// ListTransactions implements eventstore.Store.
func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	txns, err := listJSON[domain.Transaction](ctx, s, "transactions")
	if err != nil {
		return nil, err
	}
	sort.Slice(txns, func(i, j int) bool {
		if txns[i].Date.Equal(txns[j].Date) {
			return txns[i].ID < txns[j].ID
		}
		return txns[i].Date.Before(txns[j].Date)
	})
	return txns, nil
}

// SaveSplit implements eventstore.Store.
func (s *Store) SaveSplit(ctx context.Context, split *domain.TransactionSplit) error {
	if split.ID == "" {
		return fmt.Errorf("split ID is required")
	}
	data, err := json.Marshal(split)
	if err != nil {
		return fmt.Errorf("marshal split %s: %w", split.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO splits (id, transaction_id, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET transaction_id = excluded.transaction_id, data = excluded.data`,
		split.ID, split.TransactionID, data)
	if err != nil {
		return fmt.Errorf("save split %s: %w", split.ID, err)
	}
	return nil
}

// ListSplits implements eventstore.Store.
func (s *Store) ListSplits(ctx context.Context) ([]domain.TransactionSplit, error) {
	splits, err := listJSON[domain.TransactionSplit](ctx, s, "splits")
	if err != nil {
		return nil, err
	}
	sort.Slice(splits, func(i, j int) bool { return splits[i].ID < splits[j].ID })
	return splits, nil
}

// DeleteSplitsForTransaction implements eventstore.Store.
func (s *Store) DeleteSplitsForTransaction(ctx context.Context, transactionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM splits WHERE transaction_id = ?`, transactionID); err != nil {
		return fmt.Errorf("delete splits for transaction %s: %w", transactionID, err)
	}
	return nil
}

// SaveMerchantMapping implements eventstore.Store.
func (s *Store) SaveMerchantMapping(ctx context.Context, m *domain.MerchantMapping) error {
	return s.saveJSON(ctx, "merchant_mappings", m.ID, m)
}

// ListMerchantMappings implements eventstore.Store.
func (s *Store) ListMerchantMappings(ctx context.Context) ([]domain.MerchantMapping, error) {
	mappings, err := listJSON[domain.MerchantMapping](ctx, s, "merchant_mappings")
	if err != nil {
		return nil, err
	}
	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].CreatedAt.Equal(mappings[j].CreatedAt) {
			return mappings[i].ID < mappings[j].ID
		}
		return mappings[i].CreatedAt.Before(mappings[j].CreatedAt)
	})
	return mappings, nil
}

// DeleteMerchantMapping implements eventstore.Store.
func (s *Store) DeleteMerchantMapping(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "merchant_mappings", id)
}

// GetSyncState implements eventstore.Store.
func (s *Store) GetSyncState(ctx context.Context, endpoint string) (*domain.SyncState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sync_state WHERE endpoint = ?`, endpoint).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync state for %s: %w", endpoint, eventstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state for %s: %w", endpoint, err)
	}
	var state domain.SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode sync state: %w", err)
	}
	return &state, nil
}

// SaveSyncState implements eventstore.Store.
func (s *Store) SaveSyncState(ctx context.Context, state *domain.SyncState) error {
	if state.Endpoint == "" {
		return fmt.Errorf("sync endpoint is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_state (endpoint, data) VALUES (?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET data = excluded.data`,
		state.Endpoint, data)
	if err != nil {
		return fmt.Errorf("save sync state for %s: %w", state.Endpoint, err)
	}
	return nil
}

func (s *Store) saveJSON(ctx context.Context, table, id string, v any) error {
	if id == "" {
		return fmt.Errorf("%s ID is required", table)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", table, id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		id, data)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", table, id, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, table, id string, v any) error {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return eventstore.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func listJSON[T any](ctx context.Context, s *Store, table string) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM `+table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]T, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return result, nil
}

func (s *Store) deleteRow(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, eventstore.ErrNotFound)
	}
	return nil
}

// isUniqueViolation matches the driver's primary-key conflict error without
// depending on its error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// Ensure Store implements the eventstore.Store interface.
var _ eventstore.Store = (*Store)(nil)
