package bank

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/envelope-ledger/internal/domain"
)

// CSVFeed reads transactions from a bank CSV export. It implements Feed so a
// downloaded statement can drive the same import path as a live aggregator.
//
// Expected columns: external_id, account_id, date, merchant, amount, pending.
// The header row is required. Dates are YYYY-MM-DD.
type CSVFeed struct {
	path string
}

// NewCSVFeed creates a feed over the given CSV file.
func NewCSVFeed(path string) *CSVFeed {
	return &CSVFeed{path: path}
}

// FetchAccounts returns the distinct account IDs seen in the file.
func (f *CSVFeed) FetchAccounts(ctx context.Context) ([]domain.Account, error) {
	txns, err := f.readAll()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var accounts []domain.Account
	for _, t := range txns {
		if t.AccountID == "" || seen[t.AccountID] {
			continue
		}
		seen[t.AccountID] = true
		accounts = append(accounts, domain.Account{ID: t.AccountID, Name: t.AccountID})
	}
	return accounts, nil
}

// FetchTransactions returns all rows within the date range in a single page.
func (f *CSVFeed) FetchTransactions(ctx context.Context, cursor string, start, end time.Time) (*FetchResult, error) {
	txns, err := f.readAll()
	if err != nil {
		return nil, err
	}

	result := &FetchResult{}
	for _, t := range txns {
		if !start.IsZero() && t.Date.Before(start) {
			continue
		}
		if !end.IsZero() && t.Date.After(end) {
			continue
		}
		result.Transactions = append(result.Transactions, t)
	}
	return result, nil
}

func (f *CSVFeed) readAll() ([]domain.Transaction, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("csv feed: open: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("csv feed: read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"external_id", "date", "merchant", "amount"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("csv feed: missing column %q", required)
		}
	}

	var txns []domain.Transaction
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv feed: read row: %w", err)
		}
		line++

		txn, err := parseRow(record, cols)
		if err != nil {
			return nil, fmt.Errorf("csv feed: line %d: %w", line, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func parseRow(record []string, cols map[string]int) (domain.Transaction, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	date, err := time.Parse("2006-01-02", field("date"))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("invalid date: %w", err)
	}
	amount, err := decimal.NewFromString(field("amount"))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("invalid amount: %w", err)
	}

	return domain.Transaction{
		ExternalID: field("external_id"),
		AccountID:  field("account_id"),
		Merchant:   field("merchant"),
		Amount:     amount,
		Date:       date,
		Pending:    strings.EqualFold(field("pending"), "true"),
	}, nil
}

var _ Feed = (*CSVFeed)(nil)
