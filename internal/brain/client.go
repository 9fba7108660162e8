package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// clientTimeout bounds a single brain round trip. Critic calls can sit on
// the model for a while, so this stays generous; callers add their own
// context deadlines.
const clientTimeout = 120 * time.Second

// Client calls a brain service over HTTP. The control loop uses the same
// client whether the brain runs in-process or across the network.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient returns a client for the brain at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: clientTimeout},
	}
}

// BaseURL reports the brain endpoint this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// WaitReady polls /healthz until the brain answers or the timeout elapses.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
		if err != nil {
			return fmt.Errorf("build health request: %w", err)
		}
		resp, err := c.httpc.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("brain not ready: %w", err)
			}
			return fmt.Errorf("brain not ready: status %d", resp.StatusCode)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Bootstrap asks the URL Bootstrap Critic to judge the starting page.
func (c *Client) Bootstrap(ctx context.Context, req CriticRequest) (*CriticReply, error) {
	return c.critic(ctx, "/v1/brain/bootstrap", req)
}

// Critic asks for the next action of the iteration loop.
func (c *Client) Critic(ctx context.Context, req CriticRequest) (*CriticReply, error) {
	return c.critic(ctx, "/v1/brain/critic", req)
}

func (c *Client) critic(ctx context.Context, path string, req CriticRequest) (*CriticReply, error) {
	req.Mode = ModeBrowser
	var reply CriticReply
	if err := c.post(ctx, path, req, &reply); err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, replyError(reply.Error)
	}
	return &reply, nil
}

// Assistant asks the Action Disambiguator to pick among candidates.
func (c *Client) Assistant(ctx context.Context, req AssistantRequest) (*AssistantReply, error) {
	req.Mode = ModeBrowser
	var reply AssistantReply
	if err := c.post(ctx, "/v1/brain/assistant", req, &reply); err != nil {
		return nil, err
	}
	if !reply.OK || reply.Assistant == nil {
		return nil, replyError(reply.Error)
	}
	return &reply, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode brain request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build brain request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("brain request: %w", err)
	}
	defer resp.Body.Close()

	// Error statuses still carry {ok:false, error}; decode before judging.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("brain response status %d: %w", resp.StatusCode, err)
	}
	return nil
}

func replyError(code string) error {
	if code == "" {
		code = models.CodeBrainError
	}
	return models.NewError(code)
}
