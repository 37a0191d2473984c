package budget

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/pmflow/pmflow/pkg/models"
)

// tokensPerMessage approximates the chat-format framing overhead the
// provider adds around each message (role tags, separators).
const tokensPerMessage = 4

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func getEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// Counter counts tokens with cl100k_base, falling back to a character
// heuristic when the encoding cannot be initialized (offline BPE fetch).
type Counter struct{}

// NewCounter returns a token counter. Construction never fails; the
// fallback path activates lazily on first count.
func NewCounter() *Counter { return &Counter{} }

// CountText returns the token count of a single string.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	if enc := getEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// CountMessages returns the token count of a message slice including
// per-message framing overhead and tool-call arguments.
func (c *Counter) CountMessages(msgs []models.Message) int {
	total := 0
	for i := range msgs {
		total += tokensPerMessage
		total += c.CountText(msgs[i].Content)
		total += c.CountText(msgs[i].Reasoning)
		for _, tc := range msgs[i].ToolCalls {
			total += c.CountText(tc.Name)
			for k, v := range tc.Arguments {
				total += c.CountText(k)
				if s, ok := v.(string); ok {
					total += c.CountText(s)
				} else {
					total += 4
				}
			}
		}
	}
	return total
}

// Truncate shortens text to approximately maxTokens, appending an ellipsis
// marker when content was removed.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if enc := getEncoding(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * charsPerToken
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}

// charsPerToken is the heuristic ratio used when tiktoken is unavailable.
const charsPerToken = 4

// estimateTokens returns max(runes/4, word count), never zero for
// non-empty input.
func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / charsPerToken
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
