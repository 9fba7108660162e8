// Package llm implements the OpenAI-backed vision clients that steer a run:
// the Critic, which plans the next browser action from a screenshot of the
// live page, and the Assistant, which disambiguates click targets the Critic
// could not pin to a single DOM element.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Default models for the two roles. Both must accept image input.
const (
	DefaultCriticModel    = "gpt-5"
	DefaultAssistantModel = "gpt-5-nano"
)

const (
	defaultMaxRetries  = 3
	defaultRetryDelay  = time.Second
	defaultHTTPTimeout = 60 * time.Second

	// historyWindow caps the complete_history entries sent upstream.
	historyWindow = 20

	// MaxCandidates caps the hittables forwarded to the Assistant.
	MaxCandidates = 12
)

// newClient builds a go-openai client with the bounded transport timeout.
// An empty baseURL keeps the production endpoint.
func newClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	return openai.NewClientWithConfig(cfg)
}

// visionMessages frames one system and one user message, the user content
// carrying the JSON payload as a text part and the screenshot as a PNG
// data URL.
func visionMessages(system, payload, screenshot string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: payload,
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    EnsureDataURL(screenshot),
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		},
	}
}

// completeWithRetry issues a chat completion, retrying transient failures
// with linear backoff (0s, delay, 2*delay, ...).
func completeWithRetry(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest, maxRetries int, retryDelay time.Duration) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return resp, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		resp, lastErr = client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			return resp, nil
		}
		if !isRetryableError(lastErr) {
			return resp, lastErr
		}
	}

	return resp, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryableError classifies rate limits, upstream 5xx replies, and
// timeouts as transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return true
	}
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return true
	}
	return false
}

// httpStatusCode digs the upstream HTTP status out of a go-openai error
// chain, or 0 when the failure never reached the API.
func httpStatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// StripFences removes a surrounding markdown code fence from a model reply.
// Replies without a fence pass through trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")

	// Drop the info string ("json") on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "" || strings.EqualFold(first, "json") {
			s = s[i+1:]
		}
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// lastN returns the trailing n entries of list.
func lastN(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}
