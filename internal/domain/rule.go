package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriggerType identifies the condition that invokes rule evaluation.
type TriggerType string

const (
	// TriggerIncomeDetected fires when an income transaction is imported.
	TriggerIncomeDetected TriggerType = "on_income_detected"
	// TriggerScheduledDaily fires on the daily tick.
	TriggerScheduledDaily TriggerType = "scheduled_daily"
	// TriggerScheduledWeekly fires on the weekly tick.
	TriggerScheduledWeekly TriggerType = "scheduled_weekly"
	// TriggerScheduledMonthly fires on the monthly tick.
	TriggerScheduledMonthly TriggerType = "scheduled_monthly"
	// TriggerManualRun fires when the user runs rules by hand.
	TriggerManualRun TriggerType = "manual_run"
	// TriggerBalanceThreshold fires when the unassigned pool crosses a level.
	TriggerBalanceThreshold TriggerType = "balance_threshold"
)

// ActionType identifies one allocation action inside a rule.
type ActionType string

const (
	// ActionAllocateFixed moves a fixed amount into a bucket.
	ActionAllocateFixed ActionType = "allocate_fixed"
	// ActionAllocatePercent moves a percentage of the remaining funds.
	ActionAllocatePercent ActionType = "allocate_percent"
	// ActionFillToTarget tops a bucket up to its target amount.
	ActionFillToTarget ActionType = "fill_to_target"
)

// RuleAction is one step in a rule's ordered action list.
type RuleAction struct {
	Type     ActionType      `json:"type"`
	BucketID string          `json:"bucket_id"`
	Amount   decimal.Decimal `json:"amount,omitempty"`
	Percent  decimal.Decimal `json:"percent,omitempty"`
}

// RuleConditions is the optional condition set of a rule. All present
// conditions must hold; absent conditions are vacuously true.
type RuleConditions struct {
	AccountID        string           `json:"account_id,omitempty"`
	MinAmount        *decimal.Decimal `json:"min_amount,omitempty"`
	MerchantContains string           `json:"merchant_contains,omitempty"`
	DayOfMonth       *int             `json:"day_of_month,omitempty"`
	Weekday          *time.Weekday    `json:"weekday,omitempty"`
}

// FundingRule moves funds into buckets when its trigger fires. Rules are
// evaluated ascending by Priority; equal priorities keep creation order.
type FundingRule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	// Priority orders evaluation, lower first.
	Priority int `json:"priority"`

	Trigger    TriggerType    `json:"trigger"`
	Conditions RuleConditions `json:"conditions"`
	Actions    []RuleAction   `json:"actions"`

	CreatedAt time.Time `json:"created_at"`
}
