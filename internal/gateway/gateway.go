// Package gateway validates externally proposed action objects - assistant
// output or structured user commands - and funnels them into the one shared
// application path. There is no separate code path for assistant-originated
// actions: everything that survives normalization goes through the same
// Executor used by first-party code.
package gateway

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// The fixed action vocabulary. Anything outside it is dropped with a
// warning, never a hard failure of the whole batch.
const (
	TypeCreateBucket          = "create_bucket"
	TypeUpdateBucket          = "update_bucket"
	TypeDeleteBucket          = "delete_bucket"
	TypeAllocate              = "allocate"
	TypeMove                  = "move"
	TypeCreateRule            = "create_rule"
	TypeUpdateRule            = "update_rule"
	TypeCreateMerchantMapping = "create_merchant_mapping"
)

var allowedTypes = map[string]bool{
	TypeCreateBucket:          true,
	TypeUpdateBucket:          true,
	TypeDeleteBucket:          true,
	TypeAllocate:              true,
	TypeMove:                  true,
	TypeCreateRule:            true,
	TypeUpdateRule:            true,
	TypeCreateMerchantMapping: true,
}

// aliases maps common variants emitted by assistants and older clients onto
// the canonical vocabulary. Keys are matched after case normalization.
var aliases = map[string]string{
	"create_budget":        TypeCreateBucket,
	"new_bucket":           TypeCreateBucket,
	"add_bucket":           TypeCreateBucket,
	"create_envelope":      TypeCreateBucket,
	"edit_bucket":          TypeUpdateBucket,
	"update_budget":        TypeUpdateBucket,
	"remove_bucket":        TypeDeleteBucket,
	"delete_budget":        TypeDeleteBucket,
	"assign":               TypeAllocate,
	"add_money":            TypeAllocate,
	"allocate_funds":       TypeAllocate,
	"move_money":           TypeMove,
	"transfer":             TypeMove,
	"create_funding_rule":  TypeCreateRule,
	"add_rule":             TypeCreateRule,
	"update_funding_rule":  TypeUpdateRule,
	"edit_rule":            TypeUpdateRule,
	"map_merchant":         TypeCreateMerchantMapping,
	"add_merchant_mapping": TypeCreateMerchantMapping,
}

// destructiveTypes require an explicit confirmation flag before execution.
// The gateway only flags the requirement; surfacing and collecting the
// confirmation is the caller's responsibility.
var destructiveTypes = map[string]bool{
	TypeDeleteBucket: true,
}

// Action is a normalized, allow-listed action ready for execution.
type Action struct {
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`

	// RequiresConfirmation marks destructive actions. Execution is skipped
	// unless the caller sets Confirmed.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
	Confirmed            bool `json:"confirmed,omitempty"`
}

// Result is the gateway's response for one batch.
type Result struct {
	Actions  []Action `json:"actions"`
	Summary  string   `json:"summary"`
	Warnings []string `json:"warnings,omitempty"`
}

// Executor applies one normalized action. service.Service is the production
// implementation; it is the same path first-party code uses.
type Executor interface {
	Execute(ctx context.Context, action Action) error
}

// Gateway normalizes and applies externally proposed actions.
type Gateway struct {
	exec Executor
	log  zerolog.Logger
}

// New creates a gateway in front of the given executor.
func New(exec Executor, log zerolog.Logger) *Gateway {
	return &Gateway{exec: exec, log: log}
}

// Normalize resolves each raw action's type through the casing normalizer
// and alias table, drops out-of-vocabulary actions with a warning, and flags
// destructive actions. It does not execute anything.
func Normalize(raw []map[string]any) ([]Action, []string) {
	actions := make([]Action, 0, len(raw))
	warnings := make([]string, 0)

	for i, obj := range raw {
		typeField, ok := obj["type"].(string)
		if !ok || typeField == "" {
			warnings = append(warnings, fmt.Sprintf("action %d: missing type field, dropped", i))
			continue
		}

		normalized := toSnakeCase(typeField)
		if canonical, found := aliases[normalized]; found {
			normalized = canonical
		}
		if !allowedTypes[normalized] {
			warnings = append(warnings, fmt.Sprintf("action %d: type %q is not supported, dropped", i, typeField))
			continue
		}

		fields := make(map[string]any, len(obj))
		for k, v := range obj {
			if k == "type" {
				continue
			}
			fields[toSnakeCase(k)] = v
		}

		confirmed, _ := fields["confirmed"].(bool)
		actions = append(actions, Action{
			Type:                 normalized,
			Fields:               fields,
			RequiresConfirmation: destructiveTypes[normalized],
			Confirmed:            confirmed,
		})
	}

	return actions, warnings
}

// Process normalizes and executes a batch. Per-action failures are reported
// as warnings and the batch continues; the batch itself only errors when the
// executor is missing.
func (g *Gateway) Process(ctx context.Context, raw []map[string]any) (*Result, error) {
	if g.exec == nil {
		return nil, fmt.Errorf("gateway: no executor configured")
	}

	actions, warnings := Normalize(raw)
	executed := 0

	for _, action := range actions {
		if action.RequiresConfirmation && !action.Confirmed {
			warnings = append(warnings, fmt.Sprintf("%s requires confirmation and was not executed", action.Type))
			g.log.Warn().Str("type", action.Type).Msg("Destructive action skipped pending confirmation")
			continue
		}
		if err := g.exec.Execute(ctx, action); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s failed: %v", action.Type, err))
			g.log.Warn().Err(err).Str("type", action.Type).Msg("Action execution failed")
			continue
		}
		executed++
	}

	return &Result{
		Actions:  actions,
		Summary:  fmt.Sprintf("%d of %d actions executed", executed, len(actions)),
		Warnings: warnings,
	}, nil
}
