package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
	"github.com/dvloznov/envelope-ledger/internal/ledger"
	"github.com/dvloznov/envelope-ledger/internal/logger"
	"github.com/dvloznov/envelope-ledger/internal/rules"
)

// ImportStats summarizes one import run.
type ImportStats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Allocated int `json:"allocated"`
}

// Importer pulls transactions from a Feed into the local store, deduplicates
// them by external identifier, routes them to buckets via merchant mappings,
// and fires income-triggered funding rules.
type Importer struct {
	store    eventstore.Store
	engine   *rules.Engine
	deviceID string
}

// NewImporter creates an importer writing to the given store.
func NewImporter(store eventstore.Store, engine *rules.Engine, deviceID string) *Importer {
	return &Importer{store: store, engine: engine, deviceID: deviceID}
}

// Import fetches all pages in the date range and applies them. Per-item
// failures are logged and skipped; the run continues so one malformed record
// never loses the rest of the feed.
func (imp *Importer) Import(ctx context.Context, feed Feed, start, end time.Time) (*ImportStats, error) {
	log := logger.FromContext(ctx)
	stats := &ImportStats{}

	mappings, err := imp.store.ListMerchantMappings(ctx)
	if err != nil {
		return stats, fmt.Errorf("import: list merchant mappings: %w", err)
	}

	var cursor string
	for {
		page, err := feed.FetchTransactions(ctx, cursor, start, end)
		if err != nil {
			return stats, fmt.Errorf("import: fetch transactions: %w", err)
		}

		for _, raw := range page.Transactions {
			if err := imp.applyOne(ctx, raw, mappings, stats); err != nil {
				log.Warn().
					Err(err).
					Str("external_id", raw.ExternalID).
					Str("merchant", raw.Merchant).
					Msg("Skipping transaction")
				stats.Skipped++
			}
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("allocated", stats.Allocated).
		Msg("Import completed")
	return stats, nil
}

// applyOne inserts or updates a single fetched transaction. New income
// transactions fire the income-detected rules afterwards.
func (imp *Importer) applyOne(ctx context.Context, raw domain.Transaction, mappings []domain.MerchantMapping, stats *ImportStats) error {
	if raw.ExternalID != "" {
		existing, err := imp.store.GetTransactionByExternalID(ctx, raw.ExternalID)
		switch {
		case err == nil:
			// Re-fetch of a known transaction: update in place for
			// pending→posted transitions and corrections, keeping our ID.
			raw.ID = existing.ID
			if existing.Pending == raw.Pending && existing.Amount.Equal(raw.Amount) && existing.Merchant == raw.Merchant {
				stats.Skipped++
				return nil
			}
			if err := imp.store.SaveTransaction(ctx, &raw); err != nil {
				return fmt.Errorf("update transaction: %w", err)
			}
			stats.Updated++
			// A paycheck that arrived pending becomes income only once it
			// posts, so the income rules fire on that transition.
			if existing.Pending && ledger.IsIncome(raw) {
				imp.fireIncomeRules(ctx, raw, stats)
			}
			return nil
		case !errors.Is(err, eventstore.ErrNotFound):
			return fmt.Errorf("dedup lookup: %w", err)
		}
	}

	if raw.ID == "" {
		raw.ID = uuid.New().String()
	}
	if err := imp.store.SaveTransaction(ctx, &raw); err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	if err := imp.recordImportEvent(ctx, raw); err != nil {
		return err
	}
	stats.Created++

	if bucketID := matchMapping(raw.Merchant, mappings); bucketID != "" {
		split := domain.TransactionSplit{
			ID:            uuid.New().String(),
			TransactionID: raw.ID,
			BucketID:      bucketID,
			Amount:        raw.Amount,
		}
		if err := imp.store.SaveSplit(ctx, &split); err != nil {
			return fmt.Errorf("save split: %w", err)
		}
	}

	if ledger.IsIncome(raw) {
		imp.fireIncomeRules(ctx, raw, stats)
	}
	return nil
}

// fireIncomeRules runs the income-detected rules for a transaction. A rule
// failure is logged and swallowed; it must not undo the import.
func (imp *Importer) fireIncomeRules(ctx context.Context, txn domain.Transaction, stats *ImportStats) {
	if err := imp.runIncomeRules(ctx, txn, stats); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("transaction_id", txn.ID).Msg("Income rules failed")
	}
}

// runIncomeRules evaluates on_income_detected rules against the freshly
// imported income, funded from the current unassigned balance, and applies
// the proposals.
func (imp *Importer) runIncomeRules(ctx context.Context, txn domain.Transaction, stats *ImportStats) error {
	snap, err := ledger.SnapshotFromStore(ctx, imp.store)
	if err != nil {
		return err
	}
	proj := ledger.New(snap)

	ruleSet, err := imp.store.ListRules(ctx)
	if err != nil {
		return err
	}
	buckets := make(map[string]domain.Bucket, len(snap.Buckets))
	for _, b := range snap.Buckets {
		buckets[b.ID] = b
	}

	funds := proj.UnassignedBalance()
	if !funds.IsPositive() {
		return nil
	}

	proposals := imp.engine.Evaluate(ruleSet, buckets, proj.Available, rules.Trigger{
		Type:        domain.TriggerIncomeDetected,
		Transaction: &txn,
		Date:        txn.Date,
	}, funds)
	if len(proposals) == 0 {
		return nil
	}

	applied, err := imp.engine.Apply(ctx, imp.store, proposals, imp.deviceID)
	stats.Allocated += len(applied)
	return err
}

func (imp *Importer) recordImportEvent(ctx context.Context, txn domain.Transaction) error {
	payload, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("marshal import event: %w", err)
	}
	event := domain.Event{
		ID:       uuid.New().String(),
		Type:     domain.EventTransactionImported,
		DeviceID: imp.deviceID,
		Payload:  payload,
	}
	if err := imp.store.AppendEvent(ctx, &event); err != nil {
		return fmt.Errorf("append import event: %w", err)
	}
	return nil
}

// matchMapping returns the bucket of the first mapping whose pattern the
// merchant contains, case-insensitively. Mappings are checked in creation
// order so older mappings win, matching how they were set up.
func matchMapping(merchant string, mappings []domain.MerchantMapping) string {
	lowered := strings.ToLower(merchant)
	for _, m := range mappings {
		if m.Pattern != "" && strings.Contains(lowered, strings.ToLower(m.Pattern)) {
			return m.BucketID
		}
	}
	return ""
}

// ManualTransaction records a hand-entered transaction (no external ID) and
// returns it. Amount sign follows the feed convention: negative is a debit.
func (imp *Importer) ManualTransaction(ctx context.Context, accountID, merchant string, amount decimal.Decimal, date time.Time) (*domain.Transaction, error) {
	txn := domain.Transaction{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Merchant:  merchant,
		Amount:    amount,
		Date:      date,
	}
	if err := imp.store.SaveTransaction(ctx, &txn); err != nil {
		return nil, fmt.Errorf("manual transaction: %w", err)
	}
	if err := imp.recordImportEvent(ctx, txn); err != nil {
		return nil, err
	}
	return &txn, nil
}
