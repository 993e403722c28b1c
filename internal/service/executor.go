package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/gateway"
)

// Request shapes for gateway actions. Fields are decoded by a JSON
// round-trip so decimal amounts accept both numbers and strings.

type bucketRequest struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Icon          string                `json:"icon"`
	Color         string                `json:"color"`
	TargetType    domain.TargetType     `json:"target_type"`
	TargetAmount  decimal.Decimal       `json:"target_amount"`
	TargetDate    *time.Time            `json:"target_date"`
	Priority      int                   `json:"priority"`
	Rollover      domain.RolloverPolicy `json:"rollover"`
	RolloverCap   decimal.Decimal       `json:"rollover_cap"`
	AllowNegative bool                  `json:"allow_negative"`
}

func (r bucketRequest) bucket() domain.Bucket {
	return domain.Bucket{
		ID:            r.ID,
		Name:          r.Name,
		Icon:          r.Icon,
		Color:         r.Color,
		TargetType:    r.TargetType,
		TargetAmount:  r.TargetAmount,
		TargetDate:    r.TargetDate,
		Priority:      r.Priority,
		Rollover:      r.Rollover,
		RolloverCap:   r.RolloverCap,
		AllowNegative: r.AllowNegative,
	}
}

type allocateRequest struct {
	BucketID string          `json:"bucket_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type moveRequest struct {
	FromBucketID string          `json:"from_bucket_id"`
	ToBucketID   string          `json:"to_bucket_id"`
	Amount       decimal.Decimal `json:"amount"`
}

type ruleRequest struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Enabled    *bool                 `json:"enabled"`
	Priority   int                   `json:"priority"`
	Trigger    domain.TriggerType    `json:"trigger"`
	Conditions domain.RuleConditions `json:"conditions"`
	Actions    []domain.RuleAction   `json:"actions"`
}

func (r ruleRequest) rule() domain.FundingRule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return domain.FundingRule{
		ID:         r.ID,
		Name:       r.Name,
		Enabled:    enabled,
		Priority:   r.Priority,
		Trigger:    r.Trigger,
		Conditions: r.Conditions,
		Actions:    r.Actions,
	}
}

type mappingRequest struct {
	Pattern  string `json:"pattern"`
	BucketID string `json:"bucket_id"`
}

// Execute implements gateway.Executor: one switch over the allow-listed
// vocabulary, dispatching to the same typed methods first-party code calls.
func (s *Service) Execute(ctx context.Context, action gateway.Action) error {
	switch action.Type {
	case gateway.TypeCreateBucket:
		var req bucketRequest
		if err := decodeFields(action.Fields, &req); err != nil {
			return err
		}
		_, err := s.CreateBucket(ctx, req.bucket())
		return err

	case gateway.TypeUpdateBucket:
		var req bucketRequest
		if err := decodeFields(action.Fields, &req); err != nil {
			return err
		}
		if req.ID == "" {
			return fmt.Errorf("update_bucket: id is required")
		}
		return s.UpdateBucket(ctx, req.bucket())

	case gateway.TypeDeleteBucket:
		var req bucketRequest
		if err := decodeFields(action.Fields, &req); err != nil {
			return err
		}
		if req.ID == "" {
			return fmt.Errorf("delete_bucket: id is required")
		}
		return s.DeleteBucket(ctx, req.ID)

	case gateway.TypeAllocate:
		var req allocateRequest
		if err := decodeFields(action.Fields, &req); err != nil {
			return err
		}
		_, warning, err := s.Allocate(ctx, req.BucketID, req.Amount, domain.SourceManual, "")
		if warning != "" {
			s.log.Warn().Str("bucket_id", req.BucketID).Msg(warning)
		}
		return err

	case gateway.TypeMove:
		var req moveRequest
		if err := decodeFields(action.Fields, &req); err != nil {
			return err
		}
		_, warning, err := s.Move(ctx, req.FromBucketID, req.ToBucketID, req.Amount)
		if warning != "" {
			s.log.Warn().Str("bucket_id", req.FromBucketID).Msg(warning)
		}
		return err

	case gateway.TypeCreateRule:
		var req ruleRequest
		if err := decodeFields(action.Fields, &req); err != nil {
			return err
		}
		_, err := s.CreateRule(ctx, req.rule())
		return err

	case gateway.TypeUpdateRule:
		var req ruleRequest
		if err := decodeFields(action.Fields, &req); err != nil {
			return err
		}
		if req.ID == "" {
			return fmt.Errorf("update_rule: id is required")
		}
		return s.UpdateRule(ctx, req.rule())

	case gateway.TypeCreateMerchantMapping:
		var req mappingRequest
		if err := decodeFields(action.Fields, &req); err != nil {
			return err
		}
		_, err := s.CreateMerchantMapping(ctx, domain.MerchantMapping{Pattern: req.Pattern, BucketID: req.BucketID})
		return err

	default:
		// The gateway's allow-list should make this unreachable.
		return fmt.Errorf("unsupported action type %q", action.Type)
	}
}

func decodeFields(fields map[string]any, v any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode action fields: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode action fields: %w", err)
	}
	return nil
}

// Ensure Service implements the gateway.Executor interface.
var _ gateway.Executor = (*Service)(nil)
