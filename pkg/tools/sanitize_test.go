package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/pmflow/pkg/budget"
)

func TestSanitizePassthrough(t *testing.T) {
	counter := budget.NewCounter()
	short := `{"status":"ok"}`
	assert.Equal(t, short, Sanitize(short, 5000, counter))
}

func TestSanitizeJSONArrayCap(t *testing.T) {
	counter := budget.NewCounter()

	items := make([]map[string]any, 100)
	for i := range items {
		items[i] = map[string]any{"key": fmt.Sprintf("ISSUE-%d", i), "summary": strings.Repeat("detail ", 60)}
	}
	raw, err := json.Marshal(items)
	require.NoError(t, err)

	out := Sanitize(string(raw), 5000, counter)

	var decoded []any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), "output must stay valid JSON")
	// 20 kept elements plus the truncation marker.
	require.Len(t, decoded, maxArrayElements+1)

	marker, ok := decoded[maxArrayElements].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, marker["_truncated"])
	assert.Equal(t, float64(100), marker["original_count"])
}

func TestSanitizeNestedArrayCap(t *testing.T) {
	counter := budget.NewCounter()

	inner := make([]string, 50)
	for i := range inner {
		inner[i] = strings.Repeat("x", 500)
	}
	raw, err := json.Marshal(map[string]any{"issues": inner, "total": 50})
	require.NoError(t, err)

	out := Sanitize(string(raw), 5000, counter)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	issues, ok := decoded["issues"].([]any)
	require.True(t, ok)
	assert.Len(t, issues, maxArrayElements+1)
}

func TestSanitizeTextHeadTailSplit(t *testing.T) {
	counter := budget.NewCounter()

	text := "HEAD-MARKER " + strings.Repeat("filler words here ", 8000) + " TAIL-MARKER"
	out := Sanitize(text, 5000, counter)

	assert.Contains(t, out, "HEAD-MARKER")
	assert.Contains(t, out, "TAIL-MARKER")
	assert.Contains(t, out, truncationMarker)
}

func TestSanitizeBudgetCeiling(t *testing.T) {
	counter := budget.NewCounter()
	budgetTokens := 5000

	inputs := []string{
		strings.Repeat("lorem ipsum dolor sit amet ", 20000),
		strings.Repeat("x", 400000),
		func() string {
			items := make([]string, 10)
			for i := range items {
				items[i] = strings.Repeat("y", 30000)
			}
			raw, _ := json.Marshal(items)
			return string(raw)
		}(),
	}

	for i, input := range inputs {
		out := Sanitize(input, budgetTokens, counter)
		assert.LessOrEqual(t, counter.CountText(out), budgetTokens*105/100,
			"input %d exceeded budget+5%%", i)
	}
}

func TestSanitizeZeroBudget(t *testing.T) {
	counter := budget.NewCounter()
	text := strings.Repeat("a", 1000)
	assert.Equal(t, text, Sanitize(text, 0, counter))
}
