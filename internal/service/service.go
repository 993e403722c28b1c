// Package service is the single application path for all ledger mutations.
// User commands, HTTP handlers and assistant-proposed actions all end up
// here; the gateway funnels into Execute, first-party code calls the typed
// methods directly. Both roads run the same validation.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
	"github.com/dvloznov/envelope-ledger/internal/ledger"
)

// Service applies ledger mutations to one device's store. Entity mutations
// are recorded twice on purpose: the current-state row for fast reads and an
// append-only log event for sync and audit.
type Service struct {
	store    eventstore.Store
	deviceID string
	log      zerolog.Logger
}

// New creates a service writing to the given store.
func New(store eventstore.Store, deviceID string, log zerolog.Logger) *Service {
	return &Service{store: store, deviceID: deviceID, log: log}
}

// CreateBucket validates and persists a new bucket.
func (s *Service) CreateBucket(ctx context.Context, b domain.Bucket) (*domain.Bucket, error) {
	if b.Name == "" {
		return nil, fmt.Errorf("create bucket: name is required")
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Priority < 1 || b.Priority > 10 {
		b.Priority = 5
	}
	if b.TargetType == "" {
		b.TargetType = domain.TargetNone
	}
	if b.Rollover == "" {
		b.Rollover = domain.RolloverKeep
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	if err := s.store.SaveBucket(ctx, &b); err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	s.recordBucketMutation(ctx, domain.OpCreate, b)

	s.log.Info().Str("bucket_id", b.ID).Str("name", b.Name).Msg("Created bucket")
	return &b, nil
}

// UpdateBucket persists changes to an existing bucket.
func (s *Service) UpdateBucket(ctx context.Context, b domain.Bucket) error {
	existing, err := s.store.GetBucket(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("update bucket: %w", err)
	}
	b.CreatedAt = existing.CreatedAt
	if b.Priority < 1 || b.Priority > 10 {
		b.Priority = existing.Priority
	}

	if err := s.store.SaveBucket(ctx, &b); err != nil {
		return fmt.Errorf("update bucket: %w", err)
	}
	s.recordBucketMutation(ctx, domain.OpUpdate, b)
	return nil
}

// DeleteBucket removes the bucket row. Its allocation events stay in the log
// with their reference intact; the projector resolves the dangling reference
// to the unassigned pool, so conservation holds and history is not rewritten.
func (s *Service) DeleteBucket(ctx context.Context, id string) error {
	if err := s.store.DeleteBucket(ctx, id); err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	s.recordBucketMutation(ctx, domain.OpDelete, domain.Bucket{ID: id})

	s.log.Info().Str("bucket_id", id).Msg("Deleted bucket, orphaning its history to unassigned")
	return nil
}

// Allocate appends a manual or import-sourced allocation event moving funds
// between the pool and a bucket. A resulting negative balance on a bucket
// without allow_negative is returned as a warning, never an error: the
// ledger always reflects reality, even an overdrawn one.
func (s *Service) Allocate(ctx context.Context, bucketID string, amount decimal.Decimal, source domain.SourceType, sourceID string) (*domain.Event, string, error) {
	if amount.IsZero() {
		return nil, "", fmt.Errorf("allocate: amount must be non-zero")
	}
	if bucketID != "" {
		if _, err := s.store.GetBucket(ctx, bucketID); err != nil {
			return nil, "", fmt.Errorf("allocate: %w", err)
		}
	}
	if source == "" {
		source = domain.SourceManual
	}

	alloc := domain.AllocationEvent{
		ID:         uuid.New().String(),
		BucketID:   bucketID,
		Amount:     amount,
		SourceType: source,
		SourceID:   sourceID,
	}
	event, err := domain.NewAllocationEvent(alloc, time.Time{}, s.deviceID)
	if err != nil {
		return nil, "", fmt.Errorf("allocate: %w", err)
	}
	if err := s.store.AppendEvent(ctx, &event); err != nil {
		return nil, "", fmt.Errorf("allocate: %w", err)
	}

	warning := s.overspendWarning(ctx, bucketID)
	return &event, warning, nil
}

// Move shifts funds from one bucket to another (or the pool, when either
// side is empty) as offsetting allocation events sharing a source ID, so the
// pair is traceable and conservation holds by construction.
func (s *Service) Move(ctx context.Context, fromBucketID, toBucketID string, amount decimal.Decimal) ([]domain.Event, string, error) {
	if !amount.IsPositive() {
		return nil, "", fmt.Errorf("move: amount must be positive")
	}
	if fromBucketID == toBucketID {
		return nil, "", fmt.Errorf("move: source and destination are the same")
	}

	moveID := "move:" + uuid.New().String()
	events := make([]domain.Event, 0, 2)

	if fromBucketID != "" {
		out, _, err := s.Allocate(ctx, fromBucketID, amount.Neg(), domain.SourceManual, moveID)
		if err != nil {
			return nil, "", fmt.Errorf("move out of %s: %w", fromBucketID, err)
		}
		events = append(events, *out)
	}
	if toBucketID != "" {
		in, _, err := s.Allocate(ctx, toBucketID, amount, domain.SourceManual, moveID)
		if err != nil {
			return events, "", fmt.Errorf("move into %s: %w", toBucketID, err)
		}
		events = append(events, *in)
	}

	warning := s.overspendWarning(ctx, fromBucketID)
	return events, warning, nil
}

// CreateRule validates and persists a new funding rule.
func (s *Service) CreateRule(ctx context.Context, r domain.FundingRule) (*domain.FundingRule, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("create rule: name is required")
	}
	if r.Trigger == "" {
		return nil, fmt.Errorf("create rule: trigger is required")
	}
	if len(r.Actions) == 0 {
		return nil, fmt.Errorf("create rule: at least one action is required")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	if err := s.store.SaveRule(ctx, &r); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	s.recordRuleMutation(ctx, domain.OpCreate, r)
	return &r, nil
}

// UpdateRule persists changes to an existing rule.
func (s *Service) UpdateRule(ctx context.Context, r domain.FundingRule) error {
	existing, err := s.store.GetRule(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	r.CreatedAt = existing.CreatedAt

	if err := s.store.SaveRule(ctx, &r); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	s.recordRuleMutation(ctx, domain.OpUpdate, r)
	return nil
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.recordRuleMutation(ctx, domain.OpDelete, domain.FundingRule{ID: id})
	return nil
}

// CreateMerchantMapping persists a merchant-to-bucket routing pattern.
func (s *Service) CreateMerchantMapping(ctx context.Context, m domain.MerchantMapping) (*domain.MerchantMapping, error) {
	if m.Pattern == "" {
		return nil, fmt.Errorf("create merchant mapping: pattern is required")
	}
	if m.BucketID == "" {
		return nil, fmt.Errorf("create merchant mapping: bucket_id is required")
	}
	if _, err := s.store.GetBucket(ctx, m.BucketID); err != nil {
		return nil, fmt.Errorf("create merchant mapping: %w", err)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	if err := s.store.SaveMerchantMapping(ctx, &m); err != nil {
		return nil, fmt.Errorf("create merchant mapping: %w", err)
	}
	return &m, nil
}

// Projector builds a projector over the store's current snapshot.
func (s *Service) Projector(ctx context.Context) (*ledger.Projector, error) {
	snap, err := ledger.SnapshotFromStore(ctx, s.store)
	if err != nil {
		return nil, err
	}
	return ledger.New(snap), nil
}

// overspendWarning projects the bucket after a write and reports an
// invariant violation as text. Projection failures are swallowed here - the
// write already succeeded and a warning must not fail it.
func (s *Service) overspendWarning(ctx context.Context, bucketID string) string {
	if bucketID == "" {
		return ""
	}
	proj, err := s.Projector(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to project after allocation")
		return ""
	}
	if proj.IsOverspent(bucketID) {
		return fmt.Sprintf("bucket %s is overspent (available %s)", bucketID, proj.Available(bucketID).String())
	}
	return ""
}

// recordBucketMutation appends the mutation to the log. The row write has
// already succeeded; a failed log append is reported but not propagated.
func (s *Service) recordBucketMutation(ctx context.Context, op domain.MutationOp, b domain.Bucket) {
	event, err := domain.NewBucketMutationEvent(uuid.New().String(), domain.BucketMutation{Op: op, Bucket: b}, time.Time{}, s.deviceID)
	if err == nil {
		err = s.store.AppendEvent(ctx, &event)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("bucket_id", b.ID).Msg("Failed to record bucket mutation event")
	}
}

func (s *Service) recordRuleMutation(ctx context.Context, op domain.MutationOp, r domain.FundingRule) {
	event, err := domain.NewRuleMutationEvent(uuid.New().String(), domain.RuleMutation{Op: op, Rule: r}, time.Time{}, s.deviceID)
	if err == nil {
		err = s.store.AppendEvent(ctx, &event)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("rule_id", r.ID).Msg("Failed to record rule mutation event")
	}
}
