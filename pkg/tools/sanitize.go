package tools

import (
	"encoding/json"
	"fmt"

	"github.com/pmflow/pmflow/pkg/budget"
)

// maxArrayElements caps JSON array results before truncation markers kick in.
const maxArrayElements = 20

// charsPerToken is the rough character-to-token ratio used to size the
// head/tail split before the exact token check.
const charsPerToken = 4

// truncationMarker separates the head and tail of split text output.
const truncationMarker = "\n...[output truncated]...\n"

// Sanitize enforces the tool-output budget before a result enters a
// conversation. JSON results keep their outer structure: arrays longer than
// 20 elements are capped with a {"_truncated": true, "original_count": N}
// marker. Oversized plain text keeps the first 70% and last 30% of the
// character budget around a truncation marker. The returned string never
// exceeds the token budget by more than 5%.
func Sanitize(content string, budgetTokens int, counter *budget.Counter) string {
	if budgetTokens <= 0 || content == "" {
		return content
	}
	if counter.CountText(content) <= budgetTokens {
		return content
	}

	if truncated, ok := truncateJSON(content); ok {
		if counter.CountText(truncated) <= budgetTokens*105/100 {
			return truncated
		}
		content = truncated
	}

	charBudget := budgetTokens * charsPerToken
	for attempt := 0; attempt < 4; attempt++ {
		candidate := splitHeadTail(content, charBudget)
		tokens := counter.CountText(candidate)
		if tokens <= budgetTokens*105/100 {
			return candidate
		}
		// Shrink proportionally and retry; tokenization density varies.
		charBudget = charBudget * budgetTokens / tokens
	}
	return counter.Truncate(content, budgetTokens)
}

// truncateJSON caps arrays inside a JSON result while preserving the outer
// structure. Returns false when the content is not JSON.
func truncateJSON(content string) (string, bool) {
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return "", false
	}
	capped := capArrays(doc)
	out, err := json.Marshal(capped)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// capArrays walks a decoded JSON value, capping every array at
// maxArrayElements and recording the original count.
func capArrays(v any) any {
	switch val := v.(type) {
	case []any:
		items := val
		truncated := false
		original := len(items)
		if original > maxArrayElements {
			items = items[:maxArrayElements]
			truncated = true
		}
		out := make([]any, 0, len(items)+1)
		for _, item := range items {
			out = append(out, capArrays(item))
		}
		if truncated {
			out = append(out, map[string]any{"_truncated": true, "original_count": original})
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = capArrays(item)
		}
		return out
	default:
		return v
	}
}

// splitHeadTail keeps the first 70% and last 30% of the character budget.
func splitHeadTail(content string, charBudget int) string {
	runes := []rune(content)
	if len(runes) <= charBudget {
		return content
	}
	headLen := charBudget * 7 / 10
	tailLen := charBudget - headLen
	if headLen <= 0 || tailLen <= 0 {
		return string(runes[:charBudget])
	}
	head := string(runes[:headLen])
	tail := string(runes[len(runes)-tailLen:])
	return fmt.Sprintf("%s%s%s", head, truncationMarker, tail)
}
