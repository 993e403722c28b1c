package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TargetType describes the kind of savings target attached to a bucket.
type TargetType string

const (
	// TargetNone means the bucket has no target.
	TargetNone TargetType = "none"
	// TargetMonthly means the bucket should receive TargetAmount every month.
	TargetMonthly TargetType = "monthly_target"
	// TargetByDate means the bucket should reach TargetAmount by TargetDate.
	TargetByDate TargetType = "by_date_goal"
)

// RolloverPolicy describes what happens to a bucket's balance at month end.
type RolloverPolicy string

const (
	// RolloverKeep carries the full balance into the next month.
	RolloverKeep RolloverPolicy = "rollover"
	// RolloverReset returns the balance to the unassigned pool monthly.
	RolloverReset RolloverPolicy = "reset_monthly"
	// RolloverCapped carries at most RolloverCap into the next month.
	RolloverCapped RolloverPolicy = "capped_rollover"
)

// Bucket is a virtual envelope. It is a mutable record of current
// configuration only; balances are never stored on it, they are derived by
// replaying allocation events and transaction splits.
type Bucket struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Display metadata.
	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`

	TargetType   TargetType      `json:"target_type"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	TargetDate   *time.Time      `json:"target_date,omitempty"`

	// Priority is the tie-break ordering used by reporting and by
	// fillToTarget sweeps; valid range is 1-10, lower is more important.
	Priority int `json:"priority"`

	Rollover    RolloverPolicy  `json:"rollover"`
	RolloverCap decimal.Decimal `json:"rollover_cap"`

	// AllowNegative suppresses the overspent warning for this bucket.
	AllowNegative bool `json:"allow_negative"`

	CreatedAt time.Time `json:"created_at"`
}

// HasTarget reports whether fillToTarget actions can apply to this bucket.
func (b Bucket) HasTarget() bool {
	return b.TargetType != "" && b.TargetType != TargetNone
}

// MerchantMapping routes imported transactions whose merchant contains
// Pattern (case-insensitive) to a bucket via an auto-created split.
type MerchantMapping struct {
	ID        string    `json:"id"`
	Pattern   string    `json:"pattern"`
	BucketID  string    `json:"bucket_id"`
	CreatedAt time.Time `json:"created_at"`
}
