package gateway

import (
	"strings"
	"unicode"
)

// toSnakeCase lowercases camelCase and PascalCase identifiers with
// underscores at word boundaries, leaving existing snake_case untouched:
// "CreateBudget" and "createBudget" both become "create_budget".
func toSnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)

	runes := []rune(strings.TrimSpace(s))
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' || r == ' ' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}

	// Collapse runs introduced by mixed separators.
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}
