// Package llm adapts an OpenAI-compatible chat-completion endpoint to the
// agent.LLMClient contract: streaming deltas, accumulated tool calls, retry
// with backoff on transient provider failures, and a chunk idle timeout.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"

	"github.com/pmflow/pmflow/pkg/agent"
	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/models"
)

const (
	retryInitialInterval = 200 * time.Millisecond
	retryMultiplier      = 2
	maxAttempts          = 3
)

// ChatStreamer captures the subset of the go-openai client the adapter
// uses. Tests substitute a scripted implementation.
type ChatStreamer interface {
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Client implements agent.LLMClient over the OpenAI chat-completions API.
// One Client serves all requests; a weighted semaphore bounds in-flight
// calls across the process.
type Client struct {
	api         ChatStreamer
	sem         *semaphore.Weighted
	idleTimeout time.Duration
	logger      *slog.Logger
}

// NewClient builds the adapter from configuration. BaseURL switches the
// endpoint to any OpenAI-compatible server.
func NewClient(cfg *config.LLMConfig, defaults *config.Defaults, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultLLMMaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:         openai.NewClientWithConfig(clientCfg),
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		idleTimeout: defaults.LLMChunkIdleTimeout,
		logger:      logger,
	}, nil
}

// Generate starts one streaming chat completion. The returned channel closes
// when the stream finishes; provider failures arrive as ErrorChunk values.
func (c *Client) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	req, err := buildRequest(input)
	if err != nil {
		c.sem.Release(1)
		return nil, err
	}

	out := make(chan agent.Chunk, 32)
	go func() {
		defer close(out)
		defer c.sem.Release(1)
		c.run(ctx, input, req, out)
	}()
	return out, nil
}

// Close releases client resources. The underlying HTTP client needs no
// explicit shutdown.
func (c *Client) Close() error { return nil }

// run executes the call with the retry policy: transient failures (429,
// 5xx, idle timeout) retry with exponential backoff and full jitter; the
// stream is restarted from scratch on each attempt since partial output
// cannot be resumed.
func (c *Client) run(ctx context.Context, input *agent.GenerateInput, req openai.ChatCompletionRequest, out chan<- agent.Chunk) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.Multiplier = retryMultiplier
	policy.RandomizationFactor = 1

	var lastErr *agent.ErrorChunk
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		errChunk := c.streamOnce(ctx, input, req, out)
		if errChunk == nil {
			return
		}
		lastErr = errChunk
		if !errChunk.Retryable || attempt == maxAttempts {
			break
		}
		wait := policy.NextBackOff()
		c.logger.Warn("LLM call failed, retrying",
			"node", input.Node, "thread_id", input.ThreadID, "attempt", attempt,
			"wait", wait, "error", errChunk.Message)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			out <- &agent.ErrorChunk{Message: ctx.Err().Error(), Code: "cancelled"}
			return
		}
	}
	out <- lastErr
}

// streamOnce performs a single streaming attempt. Returns nil on success,
// or the error chunk describing the failure.
func (c *Client) streamOnce(ctx context.Context, input *agent.GenerateInput, req openai.ChatCompletionRequest, out chan<- agent.Chunk) *agent.ErrorChunk {
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return classifyError(err)
	}
	defer stream.Close()

	type recvResult struct {
		resp openai.ChatCompletionStreamResponse
		err  error
	}
	recvCh := make(chan recvResult)
	go func() {
		defer close(recvCh)
		for {
			resp, err := stream.Recv()
			select {
			case recvCh <- recvResult{resp: resp, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	acc := newToolCallAccumulator()
	idle := time.NewTimer(c.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return &agent.ErrorChunk{Message: ctx.Err().Error(), Code: "cancelled"}

		case <-idle.C:
			c.logger.Warn("LLM stream idle timeout",
				"node", input.Node, "thread_id", input.ThreadID, "timeout", c.idleTimeout)
			return &agent.ErrorChunk{
				Message:   fmt.Sprintf("no chunk received for %s", c.idleTimeout),
				Code:      "idle_timeout",
				Retryable: true,
			}

		case res, ok := <-recvCh:
			if !ok {
				return &agent.ErrorChunk{Message: "stream closed unexpectedly", Code: "stream_closed", Retryable: true}
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					acc.flush(out)
					return nil
				}
				return classifyError(res.err)
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.idleTimeout)

			if res.resp.Usage != nil {
				out <- &agent.UsageChunk{
					InputTokens:  res.resp.Usage.PromptTokens,
					OutputTokens: res.resp.Usage.CompletionTokens,
					TotalTokens:  res.resp.Usage.TotalTokens,
				}
			}
			for _, choice := range res.resp.Choices {
				if choice.Delta.Content != "" {
					out <- &agent.TextChunk{Content: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					acc.add(tc)
				}
				if choice.FinishReason != "" {
					acc.flush(out)
					out <- &agent.FinishChunk{Reason: mapFinishReason(choice.FinishReason)}
				}
			}
		}
	}
}

// buildRequest converts the generic input into a provider request.
func buildRequest(input *agent.GenerateInput) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(input.Messages))
	for _, m := range input.Messages {
		converted, err := convertMessage(m)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		messages = append(messages, converted)
	}

	req := openai.ChatCompletionRequest{
		Model:         input.Model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	for _, def := range input.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(def.ParametersSchema),
			},
		})
	}
	return req, nil
}

func convertMessage(m models.Message) (openai.ChatCompletionMessage, error) {
	msg := openai.ChatCompletionMessage{
		Role:    string(m.Role),
		Content: m.Content,
	}
	if m.Role == models.RoleTool {
		msg.ToolCallID = m.ToolCallID
	}
	for _, tc := range m.ToolCalls {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			return openai.ChatCompletionMessage{}, fmt.Errorf("marshal tool call %s arguments: %w", tc.Name, err)
		}
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: string(args),
			},
		})
	}
	return msg, nil
}

func mapFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool_calls"
	case openai.FinishReasonLength:
		return "length"
	default:
		return "stop"
	}
}

// classifyError maps provider errors onto the retryable/fatal split:
// 429 and 5xx retry, everything else is fatal.
func classifyError(err error) *agent.ErrorChunk {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		retryable := apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
		return &agent.ErrorChunk{
			Message:   apiErr.Message,
			Code:      fmt.Sprintf("http_%d", apiErr.HTTPStatusCode),
			Retryable: retryable,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &agent.ErrorChunk{Message: err.Error(), Code: "cancelled"}
	}
	// Network-level failures are worth one more attempt.
	return &agent.ErrorChunk{Message: err.Error(), Code: "network", Retryable: true}
}
