package bank

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestCSVFeed_FetchTransactions(t *testing.T) {
	path := writeCSV(t, `external_id,account_id,date,merchant,amount,pending
ext-1,acct,2026-08-01,Supermarket,-42.10,false
ext-2,acct,2026-08-15,ACME Payroll,2500.00,false
ext-3,acct,2026-08-20,Coffee Shop,-4.50,true
`)
	feed := NewCSVFeed(path)

	result, err := feed.FetchTransactions(context.Background(), "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("FetchTransactions: %v", err)
	}
	if len(result.Transactions) != 3 {
		t.Fatalf("got %d transactions, want 3", len(result.Transactions))
	}
	if result.NextCursor != "" {
		t.Errorf("NextCursor = %q, want single page", result.NextCursor)
	}

	first := result.Transactions[0]
	if first.ExternalID != "ext-1" || first.Merchant != "Supermarket" || !first.Amount.Equal(dec("-42.10")) {
		t.Errorf("first row = %+v", first)
	}
	if !result.Transactions[2].Pending {
		t.Error("pending flag not parsed")
	}
}

func TestCSVFeed_DateRangeFilter(t *testing.T) {
	path := writeCSV(t, `external_id,account_id,date,merchant,amount,pending
ext-1,acct,2026-08-01,Early,-1,false
ext-2,acct,2026-08-15,Middle,-1,false
ext-3,acct,2026-08-30,Late,-1,false
`)
	feed := NewCSVFeed(path)

	start := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	result, err := feed.FetchTransactions(context.Background(), "", start, end)
	if err != nil {
		t.Fatalf("FetchTransactions: %v", err)
	}
	if len(result.Transactions) != 1 || result.Transactions[0].ExternalID != "ext-2" {
		t.Errorf("filtered rows = %+v, want just ext-2", result.Transactions)
	}
}

func TestCSVFeed_FetchAccounts(t *testing.T) {
	path := writeCSV(t, `external_id,account_id,date,merchant,amount,pending
ext-1,checking,2026-08-01,A,-1,false
ext-2,checking,2026-08-02,B,-1,false
ext-3,savings,2026-08-03,C,-1,false
`)
	feed := NewCSVFeed(path)

	accounts, err := feed.FetchAccounts(context.Background())
	if err != nil {
		t.Fatalf("FetchAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Errorf("got %d accounts, want the 2 distinct ones", len(accounts))
	}
}

func TestCSVFeed_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing column", "external_id,date,merchant\nx,2026-08-01,A\n"},
		{"bad date", "external_id,account_id,date,merchant,amount,pending\nx,a,yesterday,A,-1,false\n"},
		{"bad amount", "external_id,account_id,date,merchant,amount,pending\nx,a,2026-08-01,A,lots,false\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := NewCSVFeed(writeCSV(t, tt.content))
			if _, err := feed.FetchTransactions(context.Background(), "", time.Time{}, time.Time{}); err == nil {
				t.Error("malformed file accepted")
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		feed := NewCSVFeed(filepath.Join(t.TempDir(), "nope.csv"))
		if _, err := feed.FetchTransactions(context.Background(), "", time.Time{}, time.Time{}); err == nil {
			t.Error("missing file accepted")
		}
	})
}
