package mcp

import (
	"strings"

	"github.com/google/uuid"
)

// normalizeProjectID splits a combined "<provider-uuid>:<project-key>"
// project_id argument into the forms PM tools accept: the bare key stays in
// project_id, and the provider UUID rides alongside as provider_id. Plain
// values pass through untouched.
func normalizeProjectID(args map[string]any) map[string]any {
	raw, ok := args["project_id"].(string)
	if !ok {
		return args
	}
	providerID, projectKey, ok := splitProviderID(raw)
	if !ok {
		return args
	}
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out["project_id"] = projectKey
	out["provider_id"] = providerID
	return out
}

// splitProviderID parses "<uuid>:<key>". Both halves must be present and
// the left half must be a UUID; anything else is treated as a plain ID.
func splitProviderID(combined string) (providerID, projectKey string, ok bool) {
	idx := strings.IndexByte(combined, ':')
	if idx <= 0 || idx == len(combined)-1 {
		return "", "", false
	}
	left, right := combined[:idx], combined[idx+1:]
	if _, err := uuid.Parse(left); err != nil {
		return "", "", false
	}
	return left, right, true
}

// isProviderMismatch detects the PM backend's provider-mismatch error in a
// tool result, which signals stale provider credentials.
func isProviderMismatch(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "provider mismatch") ||
		strings.Contains(lower, "provider not found") ||
		strings.Contains(lower, "unknown provider")
}
