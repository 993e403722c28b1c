// Package bank consumes the bank-data aggregation collaborator and imports
// its raw transaction records into the ledger. The aggregator itself is not
// part of this system; only the fetch interface is.
package bank

import (
	"context"
	"time"

	"github.com/dvloznov/envelope-ledger/internal/domain"
)

// FetchResult is one page of raw transactions from the aggregator.
// Transactions are keyed by a stable external identifier so repeated fetches
// deduplicate cleanly.
type FetchResult struct {
	Transactions []domain.Transaction
	NextCursor   string
}

// Feed is the aggregation collaborator interface.
type Feed interface {
	FetchAccounts(ctx context.Context) ([]domain.Account, error)
	FetchTransactions(ctx context.Context, cursor string, start, end time.Time) (*FetchResult, error)
}
