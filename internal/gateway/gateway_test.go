package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// mockExecutor records executed actions and can fail per type.
type mockExecutor struct {
	executed []Action
	failFor  map[string]bool
}

func (m *mockExecutor) Execute(ctx context.Context, action Action) error {
	if m.failFor[action.Type] {
		return errors.New("executor refused")
	}
	m.executed = append(m.executed, action)
	return nil
}

var _ Executor = (*mockExecutor)(nil)

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"create_bucket", "create_bucket"},
		{"CreateBudget", "create_budget"},
		{"createBudget", "create_budget"},
		{"create-budget", "create_budget"},
		{"Create Budget", "create_budget"},
		{"  allocate  ", "allocate"},
		{"HTTPServer", "http_server"},
		{"moveMoney", "move_money"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := toSnakeCase(tt.input); got != tt.want {
				t.Errorf("toSnakeCase(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		raw          []map[string]any
		wantTypes    []string
		wantWarnings int
	}{
		{
			name:      "canonical type passes through",
			raw:       []map[string]any{{"type": "allocate", "bucket_id": "a", "amount": 50}},
			wantTypes: []string{TypeAllocate},
		},
		{
			name:      "alias resolves",
			raw:       []map[string]any{{"type": "create_budget", "name": "Groceries"}},
			wantTypes: []string{TypeCreateBucket},
		},
		{
			name:      "camel case alias resolves",
			raw:       []map[string]any{{"type": "CreateBudget", "name": "Groceries"}},
			wantTypes: []string{TypeCreateBucket},
		},
		{
			name:         "unknown type dropped with warning",
			raw:          []map[string]any{{"type": "frobnicate", "x": 1}},
			wantTypes:    []string{},
			wantWarnings: 1,
		},
		{
			name:         "missing type dropped with warning",
			raw:          []map[string]any{{"name": "no type here"}},
			wantTypes:    []string{},
			wantWarnings: 1,
		},
		{
			name: "mixed batch keeps the valid actions",
			raw: []map[string]any{
				{"type": "assign", "bucket_id": "a", "amount": 10},
				{"type": "explode"},
				{"type": "move_money", "from_bucket_id": "a", "to_bucket_id": "b", "amount": 5},
			},
			wantTypes:    []string{TypeAllocate, TypeMove},
			wantWarnings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions, warnings := Normalize(tt.raw)

			if len(actions) != len(tt.wantTypes) {
				t.Fatalf("got %d actions, want %d", len(actions), len(tt.wantTypes))
			}
			for i, want := range tt.wantTypes {
				if actions[i].Type != want {
					t.Errorf("action %d type = %q, want %q", i, actions[i].Type, want)
				}
			}
			if len(warnings) != tt.wantWarnings {
				t.Errorf("got %d warnings %v, want %d", len(warnings), warnings, tt.wantWarnings)
			}
		})
	}
}

func TestNormalize_FieldKeysSnakeCased(t *testing.T) {
	actions, _ := Normalize([]map[string]any{
		{"type": "allocate", "bucketId": "a", "Amount": 50},
	})

	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	if _, ok := actions[0].Fields["bucket_id"]; !ok {
		t.Errorf("bucketId not normalized to bucket_id: %v", actions[0].Fields)
	}
	if _, ok := actions[0].Fields["amount"]; !ok {
		t.Errorf("Amount not normalized to amount: %v", actions[0].Fields)
	}
	if _, ok := actions[0].Fields["type"]; ok {
		t.Error("type leaked into fields")
	}
}

func TestNormalize_DestructiveFlagged(t *testing.T) {
	actions, _ := Normalize([]map[string]any{
		{"type": "delete_bucket", "id": "a"},
		{"type": "delete_bucket", "id": "b", "confirmed": true},
		{"type": "allocate", "bucket_id": "c", "amount": 1},
	})

	if len(actions) != 3 {
		t.Fatalf("got %d actions, want 3", len(actions))
	}
	if !actions[0].RequiresConfirmation || actions[0].Confirmed {
		t.Errorf("unconfirmed delete = %+v, want requires-confirmation and not confirmed", actions[0])
	}
	if !actions[1].RequiresConfirmation || !actions[1].Confirmed {
		t.Errorf("confirmed delete = %+v, want requires-confirmation and confirmed", actions[1])
	}
	if actions[2].RequiresConfirmation {
		t.Error("allocate flagged as destructive")
	}
}

func TestGateway_Process(t *testing.T) {
	exec := &mockExecutor{}
	gw := New(exec, zerolog.Nop())

	result, err := gw.Process(context.Background(), []map[string]any{
		{"type": "create_bucket", "name": "Groceries"},
		{"type": "frobnicate"},
		{"type": "allocate", "bucket_id": "a", "amount": 50},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(exec.executed) != 2 {
		t.Errorf("executed %d actions, want 2", len(exec.executed))
	}
	if result.Summary != "2 of 2 actions executed" {
		t.Errorf("summary = %q", result.Summary)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("warnings = %v, want the one dropped action", result.Warnings)
	}
}

func TestGateway_ProcessSkipsUnconfirmedDestructive(t *testing.T) {
	exec := &mockExecutor{}
	gw := New(exec, zerolog.Nop())

	result, err := gw.Process(context.Background(), []map[string]any{
		{"type": "delete_bucket", "id": "a"},
		{"type": "delete_bucket", "id": "b", "confirmed": true},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(exec.executed) != 1 {
		t.Fatalf("executed %d actions, want only the confirmed delete", len(exec.executed))
	}
	if id := exec.executed[0].Fields["id"]; id != "b" {
		t.Errorf("executed delete targets %v, want b", id)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "confirmation") {
			found = true
		}
	}
	if !found {
		t.Errorf("no confirmation warning in %v", result.Warnings)
	}
}

func TestGateway_ProcessContinuesPastExecutorFailure(t *testing.T) {
	exec := &mockExecutor{failFor: map[string]bool{TypeCreateBucket: true}}
	gw := New(exec, zerolog.Nop())

	result, err := gw.Process(context.Background(), []map[string]any{
		{"type": "create_bucket", "name": "doomed"},
		{"type": "allocate", "bucket_id": "a", "amount": 50},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(exec.executed) != 1 || exec.executed[0].Type != TypeAllocate {
		t.Errorf("executed = %+v, want just the allocate", exec.executed)
	}
	if result.Summary != "1 of 2 actions executed" {
		t.Errorf("summary = %q", result.Summary)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("warnings = %v, want the failure", result.Warnings)
	}
}

func TestGateway_ProcessWithoutExecutor(t *testing.T) {
	gw := New(nil, zerolog.Nop())
	if _, err := gw.Process(context.Background(), nil); err == nil {
		t.Fatal("Process without executor should fail")
	}
}
