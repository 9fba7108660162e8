package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// Critic plans the next browser action from a screenshot and the run state.
// One Critic serves one resolved API key; construction is cheap enough to
// do per request.
type Critic struct {
	client     *openai.Client
	model      string
	baseURL    string
	metrics    *observability.Metrics
	maxRetries int
	retryDelay time.Duration
}

// CriticOption configures a Critic at construction time.
type CriticOption func(*Critic)

// WithCriticModel overrides the default Critic model.
func WithCriticModel(model string) CriticOption {
	return func(c *Critic) {
		if model != "" {
			c.model = model
		}
	}
}

// WithCriticBaseURL points the client at an alternate API endpoint.
func WithCriticBaseURL(url string) CriticOption {
	return func(c *Critic) {
		c.baseURL = url
	}
}

// WithCriticMetrics wires request counters.
func WithCriticMetrics(m *observability.Metrics) CriticOption {
	return func(c *Critic) {
		c.metrics = m
	}
}

// WithCriticRetryPolicy overrides the attempt count and backoff base delay.
func WithCriticRetryPolicy(maxRetries int, delay time.Duration) CriticOption {
	return func(c *Critic) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		c.retryDelay = delay
	}
}

// NewCritic builds a Critic client for one resolved API key.
func NewCritic(apiKey string, opts ...CriticOption) *Critic {
	c := &Critic{
		model:      DefaultCriticModel,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = newClient(apiKey, c.baseURL)
	return c
}

// Model reports the configured model name.
func (c *Critic) Model() string { return c.model }

// CriticResult carries the raw reply and, when it parsed, the decision.
type CriticResult struct {
	// Raw is the fence-stripped reply body, kept for journaling.
	Raw string `json:"raw"`

	// Decision is nil when the reply was not valid JSON; the loop treats
	// that as a resend.
	Decision *models.Decision `json:"decision,omitempty"`

	// Model is the model that produced the reply.
	Model string `json:"model"`
}

// Step asks the Critic for the next action of the iteration loop.
func (c *Critic) Step(ctx context.Context, payload CriticPayload, screenshot string) (*CriticResult, error) {
	return c.decide(ctx, "critic", criticSystemPrompt, payload, screenshot)
}

// Bootstrap asks the URL Bootstrap Critic whether the current page is a
// workable starting point. The plan window stays off the wire.
func (c *Critic) Bootstrap(ctx context.Context, payload CriticPayload, screenshot string) (*CriticResult, error) {
	payload.PlanWindow = nil
	return c.decide(ctx, "bootstrap", bootstrapSystemPrompt, payload, screenshot)
}

func (c *Critic) decide(ctx context.Context, role, system string, payload CriticPayload, screenshot string) (*CriticResult, error) {
	body, err := json.Marshal(payload.normalized())
	if err != nil {
		return nil, fmt.Errorf("encode critic payload: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: visionMessages(system, string(body), screenshot),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := completeWithRetry(ctx, c.client, req, c.maxRetries, c.retryDelay)
	if err != nil {
		c.record(role, "error", start)
		if status := httpStatusCode(err); status > 0 {
			return nil, models.WrapError(models.CodeCriticHTTP(status), err)
		}
		return nil, fmt.Errorf("critic request: %w", err)
	}
	c.record(role, "ok", start)

	res := &CriticResult{Model: c.model}
	if len(resp.Choices) == 0 {
		return res, nil
	}
	res.Raw = StripFences(resp.Choices[0].Message.Content)
	if res.Raw == "" {
		return res, nil
	}
	if d, perr := models.ParseDecision([]byte(res.Raw)); perr == nil {
		res.Decision = d
	}
	return res, nil
}

func (c *Critic) record(role, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordLLMRequest(role, c.model, status, time.Since(start).Seconds())
}
