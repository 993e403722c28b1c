package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
	"github.com/dvloznov/envelope-ledger/internal/eventstore/inmemory"
	"github.com/dvloznov/envelope-ledger/internal/gateway"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newService() (*Service, *inmemory.Store) {
	store := inmemory.NewStore()
	return New(store, "test-device", zerolog.Nop()), store
}

func TestService_CreateBucket(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	created, err := svc.CreateBucket(ctx, domain.Bucket{Name: "Groceries"})
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if created.ID == "" {
		t.Error("no ID assigned")
	}
	if created.Priority != 5 {
		t.Errorf("default priority = %d, want 5", created.Priority)
	}
	if created.TargetType != domain.TargetNone {
		t.Errorf("default target type = %s, want none", created.TargetType)
	}
	if created.Rollover != domain.RolloverKeep {
		t.Errorf("default rollover = %s, want rollover", created.Rollover)
	}

	// The row write is mirrored into the log for sync.
	events, _ := store.ListEvents(ctx)
	if len(events) != 1 || events[0].Type != domain.EventBucketMutated {
		t.Fatalf("log = %v, want one bucket_mutated event", events)
	}
	m, err := events[0].BucketMutation()
	if err != nil {
		t.Fatalf("decode mutation: %v", err)
	}
	if m.Op != domain.OpCreate || m.Bucket.Name != "Groceries" {
		t.Errorf("mutation = %+v", m)
	}
}

func TestService_CreateBucketValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	if _, err := svc.CreateBucket(ctx, domain.Bucket{}); err == nil {
		t.Error("nameless bucket accepted")
	}

	created, err := svc.CreateBucket(ctx, domain.Bucket{Name: "X", Priority: 42})
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if created.Priority != 5 {
		t.Errorf("out-of-range priority clamped to %d, want 5", created.Priority)
	}
}

func TestService_Allocate(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	b, err := svc.CreateBucket(ctx, domain.Bucket{Name: "Rent"})
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	event, warning, err := svc.Allocate(ctx, b.ID, dec("300"), domain.SourceManual, "")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if warning != "" {
		t.Errorf("unexpected warning %q", warning)
	}
	alloc, err := event.Allocation()
	if err != nil {
		t.Fatalf("decode allocation: %v", err)
	}
	if alloc.BucketID != b.ID || !alloc.Amount.Equal(dec("300")) {
		t.Errorf("allocation = %+v", alloc)
	}
	if event.Sequence == 0 {
		t.Error("no sequence assigned on append")
	}

	if exists, _ := store.HasEvent(ctx, event.ID); !exists {
		t.Error("allocation event not in the log")
	}
}

func TestService_AllocateValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	if _, _, err := svc.Allocate(ctx, "", dec("0"), domain.SourceManual, ""); err == nil {
		t.Error("zero amount accepted")
	}
	if _, _, err := svc.Allocate(ctx, "ghost", dec("10"), domain.SourceManual, ""); !errors.Is(err, eventstore.ErrNotFound) {
		t.Errorf("allocation to unknown bucket error = %v, want ErrNotFound", err)
	}
}

func TestService_AllocateOverspendWarns(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	b, err := svc.CreateBucket(ctx, domain.Bucket{Name: "Dining"})
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	// Pulling funds out below zero warns but succeeds.
	_, warning, err := svc.Allocate(ctx, b.ID, dec("-25"), domain.SourceManual, "")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if warning == "" {
		t.Error("no overspend warning for a negative balance")
	}

	proj, err := svc.Projector(ctx)
	if err != nil {
		t.Fatalf("Projector: %v", err)
	}
	if !proj.Available(b.ID).Equal(dec("-25")) {
		t.Errorf("available = %s, want -25 recorded despite the warning", proj.Available(b.ID))
	}
}

func TestService_Move(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	from, _ := svc.CreateBucket(ctx, domain.Bucket{Name: "From"})
	to, _ := svc.CreateBucket(ctx, domain.Bucket{Name: "To"})
	if _, _, err := svc.Allocate(ctx, from.ID, dec("100"), domain.SourceManual, ""); err != nil {
		t.Fatalf("seed allocation: %v", err)
	}

	events, _, err := svc.Move(ctx, from.ID, to.ID, dec("40"))
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("move produced %d events, want the offsetting pair", len(events))
	}

	outAlloc, _ := events[0].Allocation()
	inAlloc, _ := events[1].Allocation()
	if !outAlloc.Amount.Equal(dec("-40")) || !inAlloc.Amount.Equal(dec("40")) {
		t.Errorf("amounts = %s, %s, want -40, 40", outAlloc.Amount, inAlloc.Amount)
	}
	if outAlloc.SourceID == "" || outAlloc.SourceID != inAlloc.SourceID {
		t.Errorf("pair not linked: %q vs %q", outAlloc.SourceID, inAlloc.SourceID)
	}

	proj, _ := svc.Projector(ctx)
	if !proj.Available(from.ID).Equal(dec("60")) || !proj.Available(to.ID).Equal(dec("40")) {
		t.Errorf("balances after move = %s, %s, want 60, 40", proj.Available(from.ID), proj.Available(to.ID))
	}
}

func TestService_MoveFromPool(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	to, _ := svc.CreateBucket(ctx, domain.Bucket{Name: "To"})

	events, _, err := svc.Move(ctx, "", to.ID, dec("40"))
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("pool move produced %d events, want 1", len(events))
	}
	if _, _, err := svc.Move(ctx, "", "", dec("40")); err == nil {
		t.Error("pool-to-pool move accepted")
	}
}

func TestService_DeleteBucketOrphansHistory(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	b, _ := svc.CreateBucket(ctx, domain.Bucket{Name: "Doomed"})
	if _, _, err := svc.Allocate(ctx, b.ID, dec("75"), domain.SourceManual, ""); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if err := svc.DeleteBucket(ctx, b.ID); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}

	proj, err := svc.Projector(ctx)
	if err != nil {
		t.Fatalf("Projector: %v", err)
	}
	// The allocation event survives and its funds fall back to the pool.
	if !proj.UnassignedBalance().Equal(dec("75")) {
		t.Errorf("unassigned after delete = %s, want 75", proj.UnassignedBalance())
	}
	if !proj.Assigned(b.ID).IsZero() {
		t.Errorf("deleted bucket still has %s assigned", proj.Assigned(b.ID))
	}
}

func TestService_RuleValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	valid := domain.FundingRule{
		Name:    "Payday split",
		Trigger: domain.TriggerIncomeDetected,
		Actions: []domain.RuleAction{{Type: domain.ActionAllocateFixed, BucketID: "b", Amount: dec("100")}},
	}

	tests := []struct {
		name    string
		mutate  func(r *domain.FundingRule)
		wantErr bool
	}{
		{"valid", func(r *domain.FundingRule) {}, false},
		{"missing name", func(r *domain.FundingRule) { r.Name = "" }, true},
		{"missing trigger", func(r *domain.FundingRule) { r.Trigger = "" }, true},
		{"no actions", func(r *domain.FundingRule) { r.Actions = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			_, err := svc.CreateRule(ctx, r)
			if (err != nil) != tt.wantErr {
				t.Errorf("CreateRule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_ExecuteGatewayActions(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	// Create a bucket through the gateway vocabulary, amount as a JSON string.
	err := svc.Execute(ctx, gateway.Action{
		Type: gateway.TypeCreateBucket,
		Fields: map[string]any{
			"id":       "gw-bucket",
			"name":     "Gateway Bucket",
			"priority": 2,
		},
	})
	if err != nil {
		t.Fatalf("Execute create_bucket: %v", err)
	}
	if _, err := store.GetBucket(ctx, "gw-bucket"); err != nil {
		t.Fatalf("bucket not created: %v", err)
	}

	err = svc.Execute(ctx, gateway.Action{
		Type: gateway.TypeAllocate,
		Fields: map[string]any{
			"bucket_id": "gw-bucket",
			"amount":    "12.50",
		},
	})
	if err != nil {
		t.Fatalf("Execute allocate: %v", err)
	}

	proj, _ := svc.Projector(ctx)
	if !proj.Available("gw-bucket").Equal(dec("12.50")) {
		t.Errorf("available = %s, want 12.50", proj.Available("gw-bucket"))
	}
}

func TestService_ExecuteRequiresIDs(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	tests := []struct {
		name   string
		action gateway.Action
	}{
		{"update bucket without id", gateway.Action{Type: gateway.TypeUpdateBucket, Fields: map[string]any{"name": "x"}}},
		{"delete bucket without id", gateway.Action{Type: gateway.TypeDeleteBucket, Fields: map[string]any{}}},
		{"update rule without id", gateway.Action{Type: gateway.TypeUpdateRule, Fields: map[string]any{"name": "x"}}},
		{"unknown type", gateway.Action{Type: "explode"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Execute(ctx, tt.action); err == nil {
				t.Error("Execute accepted an invalid action")
			}
		})
	}
}

func TestService_CreateMerchantMappingRequiresLiveBucket(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	if _, err := svc.CreateMerchantMapping(ctx, domain.MerchantMapping{Pattern: "acme", BucketID: "ghost"}); err == nil {
		t.Error("mapping to unknown bucket accepted")
	}

	b, _ := svc.CreateBucket(ctx, domain.Bucket{Name: "Groceries"})
	m, err := svc.CreateMerchantMapping(ctx, domain.MerchantMapping{Pattern: "market", BucketID: b.ID})
	if err != nil {
		t.Fatalf("CreateMerchantMapping: %v", err)
	}
	if m.ID == "" {
		t.Error("no ID assigned")
	}
}
