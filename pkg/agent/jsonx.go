package agent

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// extractJSON strips markdown fences and surrounding prose from LLM output,
// returning the outermost JSON object or array.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if idx := strings.Index(trimmed, "```json"); idx >= 0 {
		trimmed = trimmed[idx+len("```json"):]
	} else if idx := strings.Index(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[idx+3:]
	}
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	trimmed = strings.TrimSpace(trimmed)

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return trimmed
	}
	open := trimmed[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	if end := strings.LastIndexByte(trimmed, close); end > start {
		return trimmed[start : end+1]
	}
	return trimmed[start:]
}

// unmarshalLenient decodes LLM-produced JSON, repairing common defects
// (trailing commas, single quotes, unquoted keys) before giving up.
func unmarshalLenient(content string, v any) error {
	raw := extractJSON(content)
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), v)
}
