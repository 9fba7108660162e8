package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/driver"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

const commandRunTimeout = 60 * time.Second

// EngineConfig configures the local Chrome owned by the worker.
type EngineConfig struct {
	// Headless runs Chrome without a window.
	Headless bool

	// KeepBrowser leaves Chrome running when the worker shuts down.
	KeepBrowser bool

	// ProfileDir is the persistent user-data directory.
	ProfileDir string

	// ChromePath overrides the Chrome binary discovery.
	ChromePath string

	// DebugURL attaches to an already-running Chrome via CDP instead of
	// launching one.
	DebugURL string

	// BootURL, when set, is loaded once at startup.
	BootURL string
}

// Engine executes worker commands against a single Chrome tab.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	// runMu serializes page interactions; the tab is a single shared
	// resource even when command frames arrive concurrently.
	runMu sync.Mutex
}

// NewEngine builds an engine; Chrome starts lazily on the first command or
// explicitly via Start.
func NewEngine(cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Start launches the browser and loads the boot URL when one is configured.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.ensureTab(); err != nil {
		return err
	}
	if e.cfg.BootURL != "" {
		if err := e.run(ctx, commandRunTimeout, chromedp.Navigate(e.cfg.BootURL)); err != nil {
			return fmt.Errorf("navigate boot url: %w", err)
		}
	}
	return nil
}

// Stop tears Chrome down unless KeepBrowser is set.
func (e *Engine) Stop() {
	if e.cfg.KeepBrowser {
		e.logger.Info("leaving browser running", "profile_dir", e.cfg.ProfileDir)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tabCancel != nil {
		e.tabCancel()
		e.tabCtx, e.tabCancel = nil, nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCtx, e.allocCancel = nil, nil
	}
}

// ensureAllocator starts or reuses the Chrome process. Caller holds e.mu.
func (e *Engine) ensureAllocator() {
	if e.allocCtx != nil && e.allocCtx.Err() == nil {
		return
	}
	if e.allocCancel != nil {
		e.allocCancel()
	}

	base := context.Background()
	if e.cfg.DebugURL != "" {
		e.allocCtx, e.allocCancel = chromedp.NewRemoteAllocator(base, e.cfg.DebugURL)
		return
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.cfg.Headless),
		chromedp.Flag("disable-gpu", e.cfg.Headless),
	)
	if e.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(e.cfg.ChromePath))
	}
	if dir := strings.TrimSpace(e.cfg.ProfileDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			opts = append(opts, chromedp.UserDataDir(dir))
		}
	}
	e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(base, opts...)
}

// ensureTab returns the live tab context, launching Chrome when needed. A
// failed launch is retried exactly once after wiping the profile's stale
// singleton lock files.
func (e *Engine) ensureTab() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tabCtx != nil && e.tabCtx.Err() == nil {
		return e.tabCtx, nil
	}

	tab, cancel, err := e.newTab()
	if err != nil {
		e.logger.Warn("browser launch failed, wiping profile locks and retrying", "error", err)
		e.wipeSingletonLocks()
		tab, cancel, err = e.newTab()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
	}

	e.tabCtx, e.tabCancel = tab, cancel
	return tab, nil
}

// newTab opens a fresh tab on a healthy allocator. Caller holds e.mu.
func (e *Engine) newTab() (context.Context, context.CancelFunc, error) {
	e.ensureAllocator()
	ctx, cancel := chromedp.NewContext(e.allocCtx)
	if err := chromedp.Run(ctx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		if e.allocCancel != nil {
			e.allocCancel()
			e.allocCtx, e.allocCancel = nil, nil
		}
		return nil, nil, err
	}
	return ctx, cancel, nil
}

func (e *Engine) wipeSingletonLocks() {
	dir := strings.TrimSpace(e.cfg.ProfileDir)
	if dir == "" {
		return
	}
	for _, name := range []string{"SingletonLock", "SingletonSocket", "SingletonCookie"} {
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			e.logger.Info("removed stale profile lock", "file", name)
		}
	}
}

// run executes chromedp actions on the tab, bounded by timeout and the
// caller's context.
func (e *Engine) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tab, err := e.ensureTab()
	if err != nil {
		return err
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if timeout <= 0 {
		timeout = commandRunTimeout
	}
	runCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-runCtx.Done():
			}
		}()
	}
	return chromedp.Run(runCtx, actions...)
}

// Execute dispatches one command frame. Results must be JSON-encodable; the
// client wraps them into RESPONSE frames.
func (e *Engine) Execute(ctx context.Context, command string, payload json.RawMessage) (any, error) {
	switch command {
	case driver.CmdPing:
		return map[string]int64{"pong": time.Now().UnixMilli()}, nil

	case driver.CmdInit:
		return nil, e.run(ctx, commandRunTimeout, chromedp.ActionFunc(func(c context.Context) error {
			return page.BringToFront().Do(c)
		}))

	case driver.CmdNavigate:
		var p driver.NavigatePayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.URL == "" {
			return nil, fmt.Errorf("navigate: url required")
		}
		return nil, e.run(ctx, commandRunTimeout, chromedp.Navigate(p.URL))

	case driver.CmdGoBack:
		return nil, e.run(ctx, commandRunTimeout, chromedp.NavigateBack())

	case driver.CmdURL:
		var url string
		if err := e.run(ctx, commandRunTimeout, chromedp.Location(&url)); err != nil {
			return nil, err
		}
		return url, nil

	case driver.CmdScreenshot:
		var buf []byte
		if err := e.run(ctx, commandRunTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
			return nil, err
		}
		if len(buf) == 0 {
			return nil, models.NewError(models.CodeScreenshotFailed)
		}
		return base64.StdEncoding.EncodeToString(buf), nil

	case driver.CmdViewport:
		var vp models.Viewport
		if err := e.run(ctx, commandRunTimeout, chromedp.Evaluate(readViewport, &vp)); err != nil {
			return nil, err
		}
		return vp, nil

	case driver.CmdSetViewport:
		var p driver.SetViewportPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return nil, e.run(ctx, commandRunTimeout,
			chromedp.EmulateViewport(int64(p.Size.Width), int64(p.Size.Height)))

	case driver.CmdClickViewport:
		var p driver.ClickViewportPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		clicks := p.ClickCount
		if clicks <= 0 {
			clicks = 1
		}
		return nil, e.run(ctx, commandRunTimeout,
			chromedp.MouseClickXY(p.VX, p.VY,
				chromedp.ButtonType(parseMouseButton(p.Button)),
				chromedp.ClickCount(clicks)))

	case driver.CmdMouseMove:
		var p driver.MousePayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return nil, e.run(ctx, commandRunTimeout,
			chromedp.MouseEvent(input.MouseMoved, p.VX, p.VY))

	case driver.CmdMouseClick:
		var p driver.MousePayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return nil, e.run(ctx, commandRunTimeout,
			chromedp.MouseClickXY(p.VX, p.VY, chromedp.ButtonType(parseMouseButton(p.Button))))

	case driver.CmdKeyPress:
		var p driver.KeyPressPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Key == "" {
			return nil, fmt.Errorf("key_press: key required")
		}
		return nil, e.run(ctx, commandRunTimeout, chromedp.KeyEvent(normalizeKey(p.Key)))

	case driver.CmdTypeText:
		var p driver.TypeTextPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return nil, e.typeText(ctx, p.Text, time.Duration(p.Delay)*time.Millisecond)

	case driver.CmdPressEnter:
		return nil, e.run(ctx, commandRunTimeout, chromedp.KeyEvent(kb.Enter))

	case driver.CmdClearActiveInput:
		var cleared bool
		if err := e.run(ctx, commandRunTimeout, chromedp.Evaluate(clearActiveInput+"()", &cleared)); err != nil {
			return nil, err
		}
		return map[string]bool{"cleared": cleared}, nil

	case driver.CmdScrollUniversal:
		var moved int
		if err := e.run(ctx, commandRunTimeout,
			chromedp.Evaluate(callExpr(universalScroll, payload), &moved)); err != nil {
			return nil, err
		}
		return map[string]int{"scrolled": moved}, nil

	case driver.CmdScrollViewport:
		var p driver.ScrollViewportPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		expr := fmt.Sprintf("(document.scrollingElement || document.documentElement).scrollBy(%v, %v)", p.DX, p.DY)
		return nil, e.run(ctx, commandRunTimeout, chromedp.Evaluate(expr, nil))

	case driver.CmdGetHittablesViewport:
		var elements json.RawMessage
		if err := e.run(ctx, commandRunTimeout,
			chromedp.Evaluate(callExpr(hittablesCollector, payload), &elements)); err != nil {
			return nil, err
		}
		return elements, nil

	case driver.CmdEvaluate:
		var p driver.EvaluatePayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Expression == "" {
			return nil, fmt.Errorf("evaluate: expression required")
		}
		return e.evaluate(ctx, p)

	case driver.CmdWaitForLoadState:
		var p driver.WaitLoadStatePayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return nil, e.waitForLoadState(ctx, p)

	case driver.CmdWaitForTimeout:
		var p driver.WaitTimeoutPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		d := time.Duration(p.MS) * time.Millisecond
		return nil, e.run(ctx, d+commandRunTimeout, chromedp.Sleep(d))

	case driver.CmdWaitForFunction:
		var p driver.WaitFunctionPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Expression == "" {
			return nil, fmt.Errorf("wait_for_function: expression required")
		}
		timeout := time.Duration(p.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		var satisfied bool
		return nil, e.run(ctx, timeout+commandRunTimeout,
			chromedp.Poll(p.Expression, &satisfied, chromedp.WithPollingTimeout(timeout)))

	case driver.CmdWaitForAnimationFrame:
		var done bool
		return nil, e.run(ctx, commandRunTimeout,
			chromedp.Evaluate(awaitAnimationFrame, &done, awaitPromise))

	case driver.CmdAddInitScript:
		var p driver.AddInitScriptPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Script == "" {
			return nil, fmt.Errorf("add_init_script: script required")
		}
		return nil, e.run(ctx, commandRunTimeout, chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(p.Script).Do(c)
			return err
		}))

	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

// typeText sends one key event per rune with the requested inter-key delay.
func (e *Engine) typeText(ctx context.Context, text string, delay time.Duration) error {
	for _, r := range text {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := e.run(ctx, commandRunTimeout, chromedp.KeyEvent(string(r))); err != nil {
			return err
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	return nil
}

// evaluate runs the expression, exposing the optional argument as `arg` and
// awaiting promises.
func (e *Engine) evaluate(ctx context.Context, p driver.EvaluatePayload) (any, error) {
	expr := p.Expression
	if p.Arg != nil {
		argJSON, err := json.Marshal(p.Arg)
		if err != nil {
			return nil, fmt.Errorf("evaluate: encode arg: %w", err)
		}
		expr = "(function(arg) { return (" + p.Expression + "); })(" + string(argJSON) + ")"
	}
	var result json.RawMessage
	if err := e.run(ctx, commandRunTimeout, chromedp.Evaluate(expr, &result, awaitPromise)); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) waitForLoadState(ctx context.Context, p driver.WaitLoadStatePayload) error {
	predicate := `document.readyState === 'complete'`
	if p.State == "domcontentloaded" {
		predicate = `document.readyState === 'interactive' || document.readyState === 'complete'`
	}
	timeout := time.Duration(p.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var ready bool
	return e.run(ctx, timeout+commandRunTimeout,
		chromedp.Poll(predicate, &ready, chromedp.WithPollingTimeout(timeout)))
}

func awaitPromise(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// callExpr turns a JS function literal plus a JSON payload into a call
// expression. An empty payload calls with no argument.
func callExpr(fn string, payload json.RawMessage) string {
	if len(payload) == 0 || string(payload) == "null" {
		return fn + "()"
	}
	return fn + "(" + string(payload) + ")"
}

func decodePayload(payload json.RawMessage, target any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func parseMouseButton(name string) input.MouseButton {
	switch strings.ToLower(name) {
	case "right":
		return input.Right
	case "middle":
		return input.Middle
	default:
		return input.Left
	}
}

// normalizeKey maps common key names onto the CDP key runes.
func normalizeKey(key string) string {
	switch strings.ToLower(key) {
	case "enter", "return":
		return kb.Enter
	case "tab":
		return kb.Tab
	case "escape", "esc":
		return kb.Escape
	case "backspace":
		return kb.Backspace
	case "delete":
		return kb.Delete
	case "arrowup", "up":
		return kb.ArrowUp
	case "arrowdown", "down":
		return kb.ArrowDown
	case "arrowleft", "left":
		return kb.ArrowLeft
	case "arrowright", "right":
		return kb.ArrowRight
	case "home":
		return kb.Home
	case "end":
		return kb.End
	case "pageup":
		return kb.PageUp
	case "pagedown":
		return kb.PageDown
	default:
		return key
	}
}
