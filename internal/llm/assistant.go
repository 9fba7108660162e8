package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

const (
	defaultPollInterval = 800 * time.Millisecond
	defaultPollTimeout  = 30 * time.Second
)

// Modes reported in AssistantResult.Mode.
const (
	AssistantModeChat = "chat"
	AssistantModeAPI  = "assistant"
)

// Assistant disambiguates click targets. Without an assistant id it frames
// the call like the Critic over chat completions; with one it runs the
// hosted assistant against an uploaded screenshot.
type Assistant struct {
	client       *openai.Client
	model        string
	assistantID  string
	baseURL      string
	metrics      *observability.Metrics
	maxRetries   int
	retryDelay   time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// AssistantOption configures an Assistant at construction time.
type AssistantOption func(*Assistant)

// WithAssistantModel overrides the default chat-mode model.
func WithAssistantModel(model string) AssistantOption {
	return func(a *Assistant) {
		if model != "" {
			a.model = model
		}
	}
}

// WithAssistantID selects the hosted-assistant mode.
func WithAssistantID(id string) AssistantOption {
	return func(a *Assistant) {
		a.assistantID = id
	}
}

// WithAssistantBaseURL points the client at an alternate API endpoint.
func WithAssistantBaseURL(url string) AssistantOption {
	return func(a *Assistant) {
		a.baseURL = url
	}
}

// WithAssistantMetrics wires request counters.
func WithAssistantMetrics(m *observability.Metrics) AssistantOption {
	return func(a *Assistant) {
		a.metrics = m
	}
}

// WithAssistantRetryPolicy overrides the chat-mode attempt count and
// backoff base delay.
func WithAssistantRetryPolicy(maxRetries int, delay time.Duration) AssistantOption {
	return func(a *Assistant) {
		if maxRetries > 0 {
			a.maxRetries = maxRetries
		}
		a.retryDelay = delay
	}
}

// WithAssistantPolling overrides the run poll cadence and deadline.
func WithAssistantPolling(interval, timeout time.Duration) AssistantOption {
	return func(a *Assistant) {
		if interval > 0 {
			a.pollInterval = interval
		}
		if timeout > 0 {
			a.pollTimeout = timeout
		}
	}
}

// NewAssistant builds an Assistant client for one resolved API key.
func NewAssistant(apiKey string, opts ...AssistantOption) *Assistant {
	a := &Assistant{
		model:        DefaultAssistantModel,
		maxRetries:   defaultMaxRetries,
		retryDelay:   defaultRetryDelay,
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.client = newClient(apiKey, a.baseURL)
	return a
}

// AssistantResult carries the disambiguator's reply.
type AssistantResult struct {
	// Raw is the fence-stripped reply body, kept for journaling.
	Raw string `json:"raw"`

	// Parsed is nil when the reply was not valid JSON.
	Parsed *models.AssistantDecision `json:"parsed,omitempty"`

	// Model is the chat model or the assistant id that replied.
	Model string `json:"model"`

	// Mode is "chat" or "assistant".
	Mode string `json:"mode"`
}

// Suggest asks the Action Disambiguator to choose among the candidates.
// Candidates past the cap are dropped before transmission.
func (a *Assistant) Suggest(ctx context.Context, req AssistantRequest, screenshot string) (*AssistantResult, error) {
	if len(req.Candidates) > MaxCandidates {
		req.Candidates = req.Candidates[:MaxCandidates]
	}
	if req.Candidates == nil {
		req.Candidates = []models.Hittable{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode assistant payload: %w", err)
	}

	if a.assistantID != "" {
		return a.suggestHosted(ctx, string(body), screenshot)
	}
	return a.suggestChat(ctx, string(body), screenshot)
}

func (a *Assistant) suggestChat(ctx context.Context, payload, screenshot string) (*AssistantResult, error) {
	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: visionMessages(assistantSystemPrompt, payload, screenshot),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := completeWithRetry(ctx, a.client, req, a.maxRetries, a.retryDelay)
	if err != nil {
		a.record(a.model, "error", start)
		return nil, fmt.Errorf("assistant request: %w", err)
	}
	a.record(a.model, "ok", start)

	res := &AssistantResult{Model: a.model, Mode: AssistantModeChat}
	if len(resp.Choices) > 0 {
		res.Raw = StripFences(resp.Choices[0].Message.Content)
	}
	res.Parsed = parseAssistantReply(res.Raw)
	return res, nil
}

// suggestHosted runs the uploaded-screenshot flow: file, thread, message,
// run, poll, read.
func (a *Assistant) suggestHosted(ctx context.Context, payload, screenshot string) (*AssistantResult, error) {
	png, err := base64.StdEncoding.DecodeString(StripDataURL(screenshot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	start := time.Now()
	res, err := a.runHosted(ctx, payload, png)
	if err != nil {
		a.record(a.assistantID, "error", start)
		return nil, err
	}
	a.record(a.assistantID, "ok", start)
	return res, nil
}

func (a *Assistant) runHosted(ctx context.Context, payload string, png []byte) (*AssistantResult, error) {
	file, err := a.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    "screenshot.png",
		Bytes:   png,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return nil, fmt.Errorf("upload screenshot: %w", err)
	}

	thread, err := a.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	// go-openai models assistant message content as a plain string, so the
	// screenshot rides as a file attachment next to the JSON payload.
	_, err = a.client.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: payload,
		Attachments: []openai.ThreadAttachment{{
			FileID: file.ID,
			Tools: []openai.ThreadAttachmentTool{
				{Type: string(openai.AssistantToolTypeCodeInterpreter)},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}

	run, err := a.client.CreateRun(ctx, thread.ID, openai.RunRequest{
		AssistantID: a.assistantID,
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	run, err = a.awaitRun(ctx, thread.ID, run)
	if err != nil {
		return nil, err
	}

	raw, err := a.extractReply(ctx, thread.ID, run.ID)
	if err != nil {
		return nil, err
	}

	res := &AssistantResult{
		Raw:   StripFences(raw),
		Model: a.assistantID,
		Mode:  AssistantModeAPI,
	}
	res.Parsed = parseAssistantReply(res.Raw)
	return res, nil
}

// awaitRun polls until the run reaches a terminal status or the deadline
// passes.
func (a *Assistant) awaitRun(ctx context.Context, threadID string, run openai.Run) (openai.Run, error) {
	deadline := time.Now().Add(a.pollTimeout)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		switch run.Status {
		case openai.RunStatusCompleted:
			return run, nil
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired:
			if run.LastError != nil {
				return run, fmt.Errorf("assistant run %s finished %s: %s", run.ID, run.Status, run.LastError.Message)
			}
			return run, fmt.Errorf("assistant run %s finished %s", run.ID, run.Status)
		}

		if time.Now().After(deadline) {
			return run, models.WrapError(models.CodeAssistantTimeout,
				fmt.Errorf("run %s still %s after %s", run.ID, run.Status, a.pollTimeout))
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}

		var err error
		run, err = a.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return run, fmt.Errorf("poll run: %w", err)
		}
	}
}

// extractReply pulls the text parts of the newest assistant message.
func (a *Assistant) extractReply(ctx context.Context, threadID, runID string) (string, error) {
	limit := 20
	order := "desc"
	list, err := a.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	for _, msg := range list.Messages {
		if msg.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		var parts []string
		for _, content := range msg.Content {
			if content.Text == nil {
				continue
			}
			if content.Type == "text" || content.Type == "output_text" {
				parts = append(parts, content.Text.Value)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}
	return "", fmt.Errorf("assistant run %s produced no text reply", runID)
}

// parseAssistantReply decodes the disambiguator reply, tolerating non-JSON
// noise (nil on failure).
func parseAssistantReply(raw string) *models.AssistantDecision {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var d models.AssistantDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil
	}
	return &d
}

func (a *Assistant) record(model, status string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordLLMRequest("assistant", model, status, time.Since(start).Seconds())
}
