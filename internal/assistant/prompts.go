package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// buildActionPrompt constructs the instruction block and the serialized
// ledger context sent to the model.
func buildActionPrompt(command string, ledgerCtx Context) (string, error) {
	ctxJSON, err := json.MarshalIndent(ledgerCtx, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal ledger context: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a budgeting assistant for an envelope-based personal budget.\n")
	b.WriteString("Translate the user's command into a JSON object of proposed actions.\n\n")

	b.WriteString("Allowed action types (use EXACTLY these snake_case values):\n")
	b.WriteString("  - create_bucket {name, target_type?, target_amount?, priority?}\n")
	b.WriteString("  - update_bucket {id, ...changed fields}\n")
	b.WriteString("  - delete_bucket {id}\n")
	b.WriteString("  - allocate {bucket_id, amount}\n")
	b.WriteString("  - move {from_bucket_id, to_bucket_id, amount}\n")
	b.WriteString("  - create_rule {name, trigger, priority?, actions: [...]}\n")
	b.WriteString("  - update_rule {id, ...changed fields}\n")
	b.WriteString("  - create_merchant_mapping {pattern, bucket_id}\n\n")

	b.WriteString("RULES:\n")
	b.WriteString("1. Reference buckets by their \"id\" from the context, never by name.\n")
	b.WriteString("2. Amounts are decimal strings, e.g. \"125.50\". Never exceed the unassigned balance when allocating.\n")
	b.WriteString("3. If the command is ambiguous, return an empty actions list and explain in \"summary\".\n")
	b.WriteString("4. Never propose actions outside the list above.\n\n")

	b.WriteString("Return ONLY valid raw JSON of the shape ")
	b.WriteString(`{"actions": [...], "summary": "...", "warnings": [...]}.` + "\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Do NOT use ```json or any Markdown.\n\n")

	b.WriteString("Current ledger context:\n")
	b.Write(ctxJSON)
	b.WriteString("\n\nUser command: ")
	b.WriteString(command)
	b.WriteString("\n")

	return b.String(), nil
}
