// Package rules is the allocation engine: a deterministic, priority-ordered
// evaluation of funding rules against a shared pool of available funds.
// Evaluate produces proposals only; Apply commits accepted proposals to the
// event log as rule-sourced allocation events.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/envelope-ledger/internal/domain"
)

// Trigger is the explicit input of an evaluation run. Day-of-month and
// weekday conditions read Date, never the wall clock, so two evaluations of
// the same trigger are byte-identical.
type Trigger struct {
	Type domain.TriggerType

	// Transaction carries the concrete income transaction for
	// on_income_detected triggers; nil otherwise.
	Transaction *domain.Transaction

	// Date is the evaluation date for schedule conditions.
	Date time.Time
}

// Proposal is one not-yet-committed candidate allocation.
type Proposal struct {
	RuleID   string          `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	BucketID string          `json:"bucket_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// BalanceFunc returns the current available balance of a bucket, normally
// ledger.Projector.Available.
type BalanceFunc func(bucketID string) decimal.Decimal

// Appender is the write-side slice of the event store Apply needs.
type Appender interface {
	AppendEvent(ctx context.Context, e *domain.Event) error
}

// Engine evaluates funding rules. It holds no state between runs.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates an engine logging through the given logger.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log}
}

// Evaluate runs the full pipeline: select enabled rules matching the trigger,
// order them by priority (stable, so equal priorities keep creation order),
// filter by conditions, and execute actions against a single remaining-funds
// counter seeded from funds. Rules consume from the shared pool in priority
// order and never overdraw it.
//
// A rule referencing a deleted bucket is skipped per action, never fatal.
func (e *Engine) Evaluate(ruleSet []domain.FundingRule, buckets map[string]domain.Bucket, available BalanceFunc, trig Trigger, funds decimal.Decimal) []Proposal {
	matched := make([]domain.FundingRule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.Enabled && r.Trigger == trig.Type {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	proposals := make([]Proposal, 0)
	remaining := funds

	for _, r := range matched {
		if !conditionsHold(r.Conditions, trig) {
			continue
		}
		if !remaining.IsPositive() {
			break
		}

		for _, action := range r.Actions {
			amount, ok := e.executeAction(action, buckets, available, remaining, r)
			if !ok || !amount.IsPositive() {
				continue
			}
			proposals = append(proposals, Proposal{
				RuleID:   r.ID,
				RuleName: r.Name,
				BucketID: action.BucketID,
				Amount:   amount,
			})
			remaining = remaining.Sub(amount)
			if !remaining.IsPositive() {
				break
			}
		}
	}

	return proposals
}

// executeAction computes one action's proposed amount against the current
// remaining funds. The second return value is false when the action cannot
// apply (deleted bucket, no target).
func (e *Engine) executeAction(action domain.RuleAction, buckets map[string]domain.Bucket, available BalanceFunc, remaining decimal.Decimal, r domain.FundingRule) (decimal.Decimal, bool) {
	bucket, exists := buckets[action.BucketID]
	if !exists {
		e.log.Warn().
			Str("rule_id", r.ID).
			Str("rule_name", r.Name).
			Str("bucket_id", action.BucketID).
			Str("action", string(action.Type)).
			Msg("Skipping action: bucket no longer exists")
		return decimal.Zero, false
	}

	switch action.Type {
	case domain.ActionAllocateFixed:
		return decimal.Min(action.Amount, remaining), true

	case domain.ActionAllocatePercent:
		// Percentages are sequential: computed against the current remaining,
		// not the amount the run started with.
		return remaining.Mul(action.Percent).Div(decimal.NewFromInt(100)).Round(2), true

	case domain.ActionFillToTarget:
		if !bucket.HasTarget() {
			return decimal.Zero, false
		}
		needed := bucket.TargetAmount.Sub(available(action.BucketID))
		if needed.IsNegative() {
			needed = decimal.Zero
		}
		return decimal.Min(needed, remaining), true

	default:
		e.log.Warn().
			Str("rule_id", r.ID).
			Str("action", string(action.Type)).
			Msg("Skipping action: unknown action type")
		return decimal.Zero, false
	}
}

// conditionsHold evaluates the rule's condition set against the trigger.
// Every present condition must hold; absent conditions are vacuously true.
func conditionsHold(c domain.RuleConditions, trig Trigger) bool {
	if c.AccountID != "" {
		if trig.Transaction == nil || trig.Transaction.AccountID != c.AccountID {
			return false
		}
	}
	if c.MinAmount != nil {
		if trig.Transaction == nil || trig.Transaction.Amount.LessThan(*c.MinAmount) {
			return false
		}
	}
	if c.MerchantContains != "" {
		if trig.Transaction == nil {
			return false
		}
		merchant := strings.ToLower(trig.Transaction.Merchant)
		if !strings.Contains(merchant, strings.ToLower(c.MerchantContains)) {
			return false
		}
	}
	if c.DayOfMonth != nil && trig.Date.Day() != *c.DayOfMonth {
		return false
	}
	if c.Weekday != nil && trig.Date.Weekday() != *c.Weekday {
		return false
	}
	return true
}

// Apply commits accepted proposals as rule-sourced allocation events. A
// proposal that fails to append is logged and skipped; the rest of the batch
// continues. The appended events are returned.
func (e *Engine) Apply(ctx context.Context, store Appender, proposals []Proposal, deviceID string) ([]domain.Event, error) {
	applied := make([]domain.Event, 0, len(proposals))
	var failed int

	for _, p := range proposals {
		alloc := domain.AllocationEvent{
			ID:         uuid.New().String(),
			BucketID:   p.BucketID,
			Amount:     p.Amount,
			SourceType: domain.SourceRule,
			SourceID:   p.RuleID,
		}
		event, err := domain.NewAllocationEvent(alloc, time.Time{}, deviceID)
		if err != nil {
			return applied, fmt.Errorf("apply proposals: %w", err)
		}
		if err := store.AppendEvent(ctx, &event); err != nil {
			e.log.Warn().
				Err(err).
				Str("rule_id", p.RuleID).
				Str("bucket_id", p.BucketID).
				Str("amount", p.Amount.String()).
				Msg("Failed to append allocation event")
			failed++
			continue
		}
		applied = append(applied, event)
	}

	e.log.Info().
		Int("applied", len(applied)).
		Int("failed", failed).
		Msg("Applied rule proposals")

	if failed > 0 {
		return applied, fmt.Errorf("apply proposals: %d of %d failed", failed, len(proposals))
	}
	return applied, nil
}
