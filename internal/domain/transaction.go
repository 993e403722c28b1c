package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one bank transaction as imported from the aggregation feed
// or entered manually. Negative amounts are debits. Rows are updated in place
// only for pending→posted transitions and re-fetch corrections, matched by
// ExternalID.
type Transaction struct {
	ID string `json:"id"`

	// ExternalID is the aggregator's stable identifier, used to dedup
	// repeated fetches. Empty for manual entries.
	ExternalID string `json:"external_id,omitempty"`

	AccountID string          `json:"account_id"`
	Merchant  string          `json:"merchant"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
	Category  []string        `json:"category,omitempty"`
	Pending   bool            `json:"pending"`
}

// TransactionSplit assigns part or all of a transaction's amount to a bucket.
// An empty BucketID leaves the portion unassigned. Splits for one transaction
// must sum to the transaction amount; they drive a bucket's activity total.
type TransactionSplit struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	BucketID      string          `json:"bucket_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// Account describes one account at the bank-data collaborator.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mask string `json:"mask,omitempty"`
	Type string `json:"type,omitempty"`
}
