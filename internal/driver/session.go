package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// Session is the typed command surface over one agent. It pins the
// per-command-class timeouts so callers never pass raw durations.
type Session struct {
	agent *Agent

	// ScreenshotTimeout defaults to 20s; AGENT_SCREENSHOT_TIMEOUT_MS
	// overrides it at construction time.
	ScreenshotTimeout time.Duration
}

// NewSession wraps an agent picked from the pool.
func NewSession(agent *Agent) *Session {
	return &Session{agent: agent, ScreenshotTimeout: ScreenshotTimeout}
}

// Agent exposes the underlying worker, for registry operations.
func (s *Session) Agent() *Agent { return s.agent }

// Ping round-trips a heartbeat and reports the worker-side clock in ms.
func (s *Session) Ping(ctx context.Context) (int64, error) {
	raw, err := s.agent.Command(ctx, CmdPing, nil, DefaultCommandTimeout)
	if err != nil {
		return 0, err
	}
	var out struct {
		Pong int64 `json:"pong"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode ping result: %w", err)
	}
	return out.Pong, nil
}

// Init focuses the worker's current page.
func (s *Session) Init(ctx context.Context) error {
	_, err := s.agent.Command(ctx, CmdInit, nil, DefaultCommandTimeout)
	return err
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	payload := NavigatePayload{URL: url, Options: NavigateOptions{WaitUntil: "load"}}
	_, err := s.agent.Command(ctx, CmdNavigate, payload, DefaultCommandTimeout)
	return err
}

// GoBack walks the session history one entry back.
func (s *Session) GoBack(ctx context.Context) error {
	_, err := s.agent.Command(ctx, CmdGoBack, nil, DefaultCommandTimeout)
	return err
}

// URL reports the current page URL.
func (s *Session) URL(ctx context.Context) (string, error) {
	raw, err := s.agent.Command(ctx, CmdURL, nil, DefaultCommandTimeout)
	if err != nil {
		return "", err
	}
	return decodeString(raw, "url")
}

// Screenshot captures the viewport as base64 PNG, no data-URL prefix.
func (s *Session) Screenshot(ctx context.Context) (string, error) {
	raw, err := s.agent.Command(ctx, CmdScreenshot, ScreenshotPayload{}, s.ScreenshotTimeout)
	if err != nil {
		return "", err
	}
	b64, err := decodeString(raw, "screenshot")
	if err != nil {
		return "", err
	}
	if b64 == "" {
		return "", models.NewError(models.CodeScreenshotFailed)
	}
	return b64, nil
}

// Viewport reads the CSS viewport size and device pixel ratio.
func (s *Session) Viewport(ctx context.Context) (models.Viewport, error) {
	raw, err := s.agent.Command(ctx, CmdViewport, nil, DefaultCommandTimeout)
	if err != nil {
		return models.Viewport{}, err
	}
	var vp models.Viewport
	if err := json.Unmarshal(raw, &vp); err != nil {
		return models.Viewport{}, fmt.Errorf("decode viewport result: %w", err)
	}
	return vp, nil
}

// SetViewport resizes the emulated viewport.
func (s *Session) SetViewport(ctx context.Context, size models.Viewport) error {
	_, err := s.agent.Command(ctx, CmdSetViewport, SetViewportPayload{Size: size}, DefaultCommandTimeout)
	return err
}

// ClickViewport clicks at CSS-viewport coordinates.
func (s *Session) ClickViewport(ctx context.Context, vx, vy float64) error {
	payload := ClickViewportPayload{VX: vx, VY: vy, Button: "left", ClickCount: 1}
	_, err := s.agent.Command(ctx, CmdClickViewport, payload, ClickTimeout)
	return err
}

// MouseMove moves the pointer without pressing.
func (s *Session) MouseMove(ctx context.Context, vx, vy float64) error {
	_, err := s.agent.Command(ctx, CmdMouseMove, MousePayload{VX: vx, VY: vy}, ClickTimeout)
	return err
}

// MouseClick presses and releases at the pointer location.
func (s *Session) MouseClick(ctx context.Context, vx, vy float64) error {
	payload := MousePayload{VX: vx, VY: vy, Button: "left"}
	_, err := s.agent.Command(ctx, CmdMouseClick, payload, ClickTimeout)
	return err
}

// KeyPress sends one named key, e.g. "Enter".
func (s *Session) KeyPress(ctx context.Context, key string) error {
	_, err := s.agent.Command(ctx, CmdKeyPress, KeyPressPayload{Key: key}, ClickTimeout)
	return err
}

// TypeText types into the focused element with a per-keystroke delay.
func (s *Session) TypeText(ctx context.Context, text string, delay time.Duration) error {
	payload := TypeTextPayload{Text: text, Delay: int(delay.Milliseconds())}
	_, err := s.agent.Command(ctx, CmdTypeText, payload, DefaultCommandTimeout)
	return err
}

// PressEnter submits the focused element.
func (s *Session) PressEnter(ctx context.Context) error {
	_, err := s.agent.Command(ctx, CmdPressEnter, nil, ClickTimeout)
	return err
}

// ClearActiveInput empties the focused input and fires input/change events.
func (s *Session) ClearActiveInput(ctx context.Context, token string) error {
	_, err := s.agent.Command(ctx, CmdClearActiveInput, ClearInputPayload{Token: token}, ClickTimeout)
	return err
}

// ScrollUniversal scrolls the page scrolling element plus nested containers.
// amount <= 0 lets the worker derive the delta from the viewport height.
func (s *Session) ScrollUniversal(ctx context.Context, direction string, amount int) error {
	payload := ScrollUniversalPayload{Direction: direction, Amount: amount}
	_, err := s.agent.Command(ctx, CmdScrollUniversal, payload, DefaultCommandTimeout)
	return err
}

// ScrollViewport scrolls the page scrolling element by a raw delta.
func (s *Session) ScrollViewport(ctx context.Context, dx, dy float64) error {
	_, err := s.agent.Command(ctx, CmdScrollViewport, ScrollViewportPayload{DX: dx, DY: dy}, DefaultCommandTimeout)
	return err
}

// Hittables snapshots the clickable elements currently in the viewport.
func (s *Session) Hittables(ctx context.Context, opts HittablesOptions) ([]models.Hittable, error) {
	raw, err := s.agent.Command(ctx, CmdGetHittablesViewport, opts, DefaultCommandTimeout)
	if err != nil {
		return nil, err
	}
	var elements []models.Hittable
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, fmt.Errorf("decode hittables result: %w", err)
	}
	return elements, nil
}

// Evaluate runs a JS expression in the page and returns its JSON value.
func (s *Session) Evaluate(ctx context.Context, expression string, arg any) (json.RawMessage, error) {
	return s.agent.Command(ctx, CmdEvaluate, EvaluatePayload{Expression: expression, Arg: arg}, DefaultCommandTimeout)
}

// WaitForLoadState blocks until the page reaches the given lifecycle state.
func (s *Session) WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error {
	payload := WaitLoadStatePayload{State: state, TimeoutMS: int(timeout.Milliseconds())}
	_, err := s.agent.Command(ctx, CmdWaitForLoadState, payload, DefaultCommandTimeout)
	return err
}

// WaitForTimeout sleeps on the worker side.
func (s *Session) WaitForTimeout(ctx context.Context, d time.Duration) error {
	_, err := s.agent.Command(ctx, CmdWaitForTimeout, WaitTimeoutPayload{MS: int(d.Milliseconds())}, d+DefaultCommandTimeout)
	return err
}

// WaitForFunction polls expression until truthy.
func (s *Session) WaitForFunction(ctx context.Context, expression string, timeout time.Duration) error {
	payload := WaitFunctionPayload{Expression: expression, TimeoutMS: int(timeout.Milliseconds())}
	_, err := s.agent.Command(ctx, CmdWaitForFunction, payload, timeout+DefaultCommandTimeout)
	return err
}

// WaitForAnimationFrame waits one rAF tick, settling layout after scrolls.
func (s *Session) WaitForAnimationFrame(ctx context.Context) error {
	_, err := s.agent.Command(ctx, CmdWaitForAnimationFrame, nil, DefaultCommandTimeout)
	return err
}

// AddInitScript registers a script evaluated on every new document.
func (s *Session) AddInitScript(ctx context.Context, script string) error {
	_, err := s.agent.Command(ctx, CmdAddInitScript, AddInitScriptPayload{Script: script}, DefaultCommandTimeout)
	return err
}

// decodeString accepts either a bare JSON string result or {"<field>": "..."}.
func decodeString(raw json.RawMessage, field string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("decode %s result: %w", field, err)
	}
	if inner, ok := obj[field]; ok {
		if err := json.Unmarshal(inner, &s); err != nil {
			return "", fmt.Errorf("decode %s result: %w", field, err)
		}
		return s, nil
	}
	return "", fmt.Errorf("decode %s result: missing field", field)
}
