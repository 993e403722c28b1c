// Package assistant consumes the natural-language collaborator: it turns a
// user command plus ledger context into proposed action objects. Output is
// strictly advisory - everything returned here goes through the action
// gateway's normalization and allow-list exactly like user-typed commands.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/ledger"
)

// DefaultModelName is the Gemini model used for action proposals.
const DefaultModelName = "gemini-2.0-flash"

// Context is the ledger snapshot the assistant sees alongside the command.
type Context struct {
	UnassignedBalance  string                 `json:"unassigned_balance"`
	Buckets            []ledger.BucketBalance `json:"buckets"`
	RecentTransactions []domain.Transaction   `json:"recent_transactions"`
}

// Proposal is the assistant's reply: raw action objects for the gateway plus
// a human-readable summary.
type Proposal struct {
	Actions  []map[string]any `json:"actions"`
	Summary  string           `json:"summary"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Service is the collaborator interface, mockable in tests.
type Service interface {
	ProposeActions(ctx context.Context, command string, ledgerCtx Context) (*Proposal, error)
}

// GeminiService implements Service against the Gemini API. It assumes
// Application Default Credentials or GEMINI_API_KEY are configured.
type GeminiService struct {
	model string
}

// NewGeminiService creates a Gemini-backed assistant. An empty model name
// selects DefaultModelName.
func NewGeminiService(model string) *GeminiService {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiService{model: model}
}

// ProposeActions implements Service.
func (g *GeminiService) ProposeActions(ctx context.Context, command string, ledgerCtx Context) (*Proposal, error) {
	prompt, err := buildActionPrompt(command, ledgerCtx)
	if err != nil {
		return nil, fmt.Errorf("proposeActions: build prompt: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("proposeActions: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("proposeActions: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("proposeActions: empty response from model")
	}

	clean := cleanModelJSON(rawText)

	var proposal Proposal
	if err := json.Unmarshal([]byte(clean), &proposal); err != nil {
		return nil, fmt.Errorf("proposeActions: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}
	return &proposal, nil
}

// cleanModelJSON strips Markdown fences and surrounding prose the model may
// emit despite instructions, keeping the outermost JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

// Ensure GeminiService implements the Service interface.
var _ Service = (*GeminiService)(nil)
