// Package ledger derives bucket balances from the event log. Nothing in this
// package writes; every figure is a pure fold over a snapshot of allocation
// events, transactions and splits, so identical input always produces
// identical output regardless of call order.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/envelope-ledger/internal/domain"
)

// transferMarkers flag transactions that shuffle money between own accounts
// (or pay off a card) and must not be counted as income.
var transferMarkers = []string{
	"transfer",
	"payment",
	"pymt",
	"autopay",
	"credit card",
}

// Snapshot is the read-only input of a projection run.
type Snapshot struct {
	Buckets      []domain.Bucket
	Allocations  []domain.AllocationEvent
	Transactions []domain.Transaction
	Splits       []domain.TransactionSplit
}

// BucketBalance is one projected row, ready for reporting.
type BucketBalance struct {
	Bucket    domain.Bucket   `json:"bucket"`
	Assigned  decimal.Decimal `json:"assigned"`
	Activity  decimal.Decimal `json:"activity"`
	Available decimal.Decimal `json:"available"`
	Overspent bool            `json:"overspent"`
}

// Projector folds a snapshot into balances. Build one per snapshot; it holds
// no mutable state after construction.
type Projector struct {
	buckets  map[string]domain.Bucket
	assigned map[string]decimal.Decimal
	activity map[string]decimal.Decimal

	// pool accumulates allocation amounts that credit or debit the
	// unassigned pool directly, including orphaned bucket references.
	pool   decimal.Decimal
	income decimal.Decimal
}

// New folds the snapshot once and returns the projector.
func New(snap Snapshot) *Projector {
	p := &Projector{
		buckets:  make(map[string]domain.Bucket, len(snap.Buckets)),
		assigned: make(map[string]decimal.Decimal),
		activity: make(map[string]decimal.Decimal),
	}
	for _, b := range snap.Buckets {
		p.buckets[b.ID] = b
	}

	for _, alloc := range snap.Allocations {
		switch {
		case alloc.BucketID == "":
			// Direct pool adjustment.
			p.pool = p.pool.Add(alloc.Amount)
		default:
			if _, live := p.buckets[alloc.BucketID]; !live {
				// Orphaned reference: the bucket was deleted, so the amount
				// is neither assigned nor withheld from the pool. The funds
				// fall back to unassigned without rewriting history.
				continue
			}
			p.assigned[alloc.BucketID] = p.assigned[alloc.BucketID].Add(alloc.Amount)
			// Funds entering a bucket leave the pool and vice versa.
			p.pool = p.pool.Sub(alloc.Amount)
		}
	}

	for _, split := range snap.Splits {
		if _, live := p.buckets[split.BucketID]; live {
			p.activity[split.BucketID] = p.activity[split.BucketID].Add(split.Amount)
			continue
		}
		// Split on a deleted bucket: the spending still happened, so it
		// lands on the pool instead of vanishing from the ledger.
		p.pool = p.pool.Add(split.Amount)
	}

	for _, t := range snap.Transactions {
		if IsIncome(t) {
			p.income = p.income.Add(t.Amount)
		}
	}

	return p
}

// Assigned returns the sum of allocation amounts referencing the bucket.
func (p *Projector) Assigned(bucketID string) decimal.Decimal {
	return p.assigned[bucketID]
}

// Activity returns the sum of split amounts referencing the bucket.
func (p *Projector) Activity(bucketID string) decimal.Decimal {
	return p.activity[bucketID]
}

// Available returns assigned plus activity for the bucket.
func (p *Projector) Available(bucketID string) decimal.Decimal {
	return p.assigned[bucketID].Add(p.activity[bucketID])
}

// IsOverspent reports whether the bucket's available balance is negative and
// the bucket does not allow negative balances. Overspending never blocks a
// write; the ledger reflects reality and this is surfaced as a warning.
func (p *Projector) IsOverspent(bucketID string) bool {
	b, exists := p.buckets[bucketID]
	if !exists {
		return false
	}
	return p.Available(bucketID).IsNegative() && !b.AllowNegative
}

// UnassignedBalance returns income not yet allocated to any bucket:
// income-classified transactions minus the net of bucket-referencing
// allocation events, plus direct pool adjustments.
func (p *Projector) UnassignedBalance() decimal.Decimal {
	return p.income.Add(p.pool)
}

// BucketBalances returns one projected row per bucket, ordered by priority
// (lower first) then name.
func (p *Projector) BucketBalances() []BucketBalance {
	rows := make([]BucketBalance, 0, len(p.buckets))
	for id, b := range p.buckets {
		rows = append(rows, BucketBalance{
			Bucket:    b,
			Assigned:  p.Assigned(id),
			Activity:  p.Activity(id),
			Available: p.Available(id),
			Overspent: p.IsOverspent(id),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Bucket.Priority != rows[j].Bucket.Priority {
			return rows[i].Bucket.Priority < rows[j].Bucket.Priority
		}
		return rows[i].Bucket.Name < rows[j].Bucket.Name
	})
	return rows
}

// IsIncome reports whether a transaction counts toward the unassigned pool:
// posted, positive, and not transfer-like.
func IsIncome(t domain.Transaction) bool {
	if t.Pending || !t.Amount.IsPositive() {
		return false
	}
	return !isTransferLike(t)
}

func isTransferLike(t domain.Transaction) bool {
	haystacks := append([]string{t.Merchant}, t.Category...)
	for _, h := range haystacks {
		lowered := strings.ToLower(h)
		for _, marker := range transferMarkers {
			if strings.Contains(lowered, marker) {
				return true
			}
		}
	}
	return false
}

// SnapshotFromStore reads the current snapshot out of a store. Allocation
// events that fail to decode are returned as an error; the log is the source
// of truth and silently dropping a record would corrupt every balance.
func SnapshotFromStore(ctx context.Context, store Reader) (Snapshot, error) {
	var snap Snapshot

	buckets, err := store.ListBuckets(ctx)
	if err != nil {
		return snap, fmt.Errorf("snapshot: list buckets: %w", err)
	}
	snap.Buckets = buckets

	events, err := store.ListEvents(ctx)
	if err != nil {
		return snap, fmt.Errorf("snapshot: list events: %w", err)
	}
	for _, e := range events {
		if e.Type != domain.EventAllocation {
			continue
		}
		alloc, err := e.Allocation()
		if err != nil {
			return snap, fmt.Errorf("snapshot: %w", err)
		}
		snap.Allocations = append(snap.Allocations, alloc)
	}

	txns, err := store.ListTransactions(ctx)
	if err != nil {
		return snap, fmt.Errorf("snapshot: list transactions: %w", err)
	}
	snap.Transactions = txns

	splits, err := store.ListSplits(ctx)
	if err != nil {
		return snap, fmt.Errorf("snapshot: list splits: %w", err)
	}
	snap.Splits = splits

	return snap, nil
}

// Reader is the read-only slice of the event store the projector consumes.
type Reader interface {
	ListBuckets(ctx context.Context) ([]domain.Bucket, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	ListSplits(ctx context.Context) ([]domain.TransactionSplit, error)
}
