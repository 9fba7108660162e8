package loop

import (
	"context"
	"encoding/base64"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/brain"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/journal"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/resolver"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

const (
	// bootstrapAttempts bounds the URL Bootstrap Critic retries.
	bootstrapAttempts = 5

	// navigateSettle is the post-navigation stabilization wait.
	navigateSettle = 800 * time.Millisecond

	// Resend waits a short random delay before re-entering the step.
	resendDelayMin = 250 * time.Millisecond
	resendJitterMS = 150

	// Scroll delta is sign * max(scrollMinDelta, 0.8 * viewport height).
	scrollMinDelta = 200
	scrollFactor   = 0.8
	maxScrollPages = 3
)

// runState is the per-run mutable state threaded through the phases.
type runState struct {
	id           string
	basePrompt   string
	initial      []string
	override     string
	overrideStep int
	effective    string
	sessionID    string
	history      []string
	maxSteps     int
	iterations   int
}

// adopt folds a critic reply into the run: session id adoption and history
// merge. Returns the newly appended milestones.
func (s *runState) adopt(reply *brain.CriticReply) []string {
	if reply.SessionID != "" {
		s.sessionID = reply.SessionID
	}
	before := len(s.history)
	s.history = models.MergeHistory(s.history, reply.CompleteHistory)
	return s.history[before:]
}

// setOverride replaces the override-context slot, reporting whether the
// effective prompt changed.
func (s *runState) setOverride(text string, step int) bool {
	if s.override == text {
		return false
	}
	s.override = text
	s.overrideStep = step
	s.refreshPrompt()
	return true
}

func (s *runState) refreshPrompt() {
	contexts := append([]string(nil), s.initial...)
	if s.override != "" {
		contexts = append(contexts, s.override)
	}
	if len(contexts) == 0 {
		s.effective = s.basePrompt
		return
	}
	s.effective = s.basePrompt + "\n\nContext:\n" + strings.Join(contexts, "\n---\n")
}

// execution binds one run's collaborators so the phase methods stay
// readable.
type execution struct {
	r       *Runner
	state   *runState
	d       Driver
	res     *resolver.Resolver
	jnl     *journal.Journal
	req     RunRequest
	bootURL string
}

func (e *execution) run(ctx context.Context) (models.RunStatus, error) {
	if e.bootURL != "" {
		if status, err := e.bootNavigate(ctx); err != nil {
			return status, err
		}
	}
	if err := e.bootstrap(ctx); err != nil {
		return statusFor(err), err
	}
	return e.iterate(ctx)
}

func (e *execution) bootNavigate(ctx context.Context) (models.RunStatus, error) {
	for {
		err := func() error {
			stepCtx, finish := e.r.sup.StepContext(ctx)
			defer finish()
			return e.r.sup.InterpretCause(stepCtx, e.navigate(stepCtx, e.bootURL))
		}()
		if err == nil {
			e.jnl.Workflow("boot_navigate", map[string]any{"url": e.bootURL})
			return "", nil
		}
		switch models.ErrorCode(err) {
		case models.CodePauseInterrupt:
			if perr := e.pauseAndWait(ctx, 0); perr != nil {
				return statusFor(perr), perr
			}
			continue
		case models.CodeRunAborted:
			return models.RunStatusAborted, err
		}
		return models.RunStatusError, err
	}
}

// bootstrap asks the URL Bootstrap Critic whether to keep the current page
// or navigate first. A nil return always means: proceed to iteration.
func (e *execution) bootstrap(ctx context.Context) error {
	for attempt := 1; attempt <= bootstrapAttempts; {
		done, err := e.bootstrapAttempt(ctx, attempt)
		if err != nil {
			switch models.ErrorCode(err) {
			case models.CodePauseInterrupt:
				if perr := e.pauseAndWait(ctx, 0); perr != nil {
					return perr
				}
				continue // replay the same attempt
			case models.CodeRunAborted, models.CodeScreenshotFailed:
				return err
			}
			if attempt == bootstrapAttempts {
				return err
			}
			e.jnl.Logf("[nerovaagent] bootstrap attempt %d failed: %v", attempt, err)
			attempt++
			continue
		}
		if done {
			return nil
		}
		attempt++
	}
	// Five indecisive attempts: keep the current page and iterate anyway.
	e.jnl.Workflow("bootstrap_exhausted", map[string]any{"attempts": bootstrapAttempts})
	return nil
}

func (e *execution) bootstrapAttempt(ctx context.Context, attempt int) (done bool, err error) {
	stepCtx, finish := e.r.sup.StepContext(ctx)
	defer finish()
	defer func() { err = e.r.sup.InterpretCause(stepCtx, err) }()
	if e.r.tracer != nil {
		var span trace.Span
		stepCtx, span = e.r.tracer.TraceBootstrap(stepCtx, e.state.id, attempt)
		defer span.End()
	}

	if err := e.r.sup.Barrier(stepCtx, "bootstrap"); err != nil {
		return false, err
	}
	shot, err := e.d.Screenshot(stepCtx)
	if err != nil {
		return false, err
	}
	e.savePNG(attempt, "bootstrap", shot)
	currentURL := e.currentURL(stepCtx)

	if err := e.r.sup.Barrier(stepCtx, "bootstrap_critic"); err != nil {
		return false, err
	}
	reply, err := e.r.brain.Bootstrap(stepCtx, brain.CriticRequest{
		Prompt:     e.state.effective,
		Screenshot: shot,
		SessionID:  e.state.sessionID,
		CriticKey:  e.req.CriticKey,
		Model:      e.req.Model,
		CurrentURL: currentURL,
	})
	if err != nil {
		return false, err
	}

	added := e.state.adopt(reply)
	e.saveJSON(attempt, "bootstrap-output", reply)
	e.logHistoryDelta(added)

	decision := reply.Decision
	if decision == nil {
		// Absent decision: retry, distinct from the iteration resend path.
		e.jnl.Workflow("bootstrap_empty_decision", map[string]any{"attempt": attempt})
		return false, nil
	}

	switch decision.Action {
	case models.ActionNavigate:
		url := strings.TrimSpace(decision.URL)
		if url == "" {
			e.jnl.Workflow("bootstrap_navigate_missing_url", map[string]any{"attempt": attempt})
			return false, nil
		}
		if err := e.navigate(stepCtx, url); err != nil {
			return false, err
		}
		e.jnl.Workflow("bootstrap_navigated", map[string]any{"url": url})
		return true, nil
	case models.ActionProceed:
		e.jnl.Workflow("bootstrap_proceed", map[string]any{"attempt": attempt})
		return true, nil
	case models.ActionResend:
		e.jnl.Workflow("bootstrap_resend", map[string]any{"attempt": attempt})
		return false, nil
	default:
		// The bootstrap critic may only navigate, proceed, or resend.
		e.jnl.Workflow("bootstrap_unexpected_action", map[string]any{"attempt": attempt, "action": decision.Action})
		return false, nil
	}
}

func (e *execution) iterate(ctx context.Context) (models.RunStatus, error) {
	step := 1
	for step <= e.state.maxSteps {
		status, err := e.runStep(ctx, step)
		if status == models.RunStatusHalt {
			e.state.iterations = step
			return models.RunStatusHalt, err
		}
		if err != nil {
			switch models.ErrorCode(err) {
			case models.CodePauseInterrupt:
				if perr := e.pauseAndWait(ctx, step); perr != nil {
					return statusFor(perr), perr
				}
				continue // replay the same step number
			case models.CodeRunAborted:
				return models.RunStatusAborted, err
			case models.CodeAwaitAssistance:
				e.jnl.Workflow("await_assistance", map[string]any{"step": step})
				e.jnl.Logf("[nerovaagent] awaiting assistance at step %d", step)
				if !e.r.park {
					e.state.iterations = step
					return models.RunStatusAwaitAssistance, err
				}
				if perr := e.parkAndWait(ctx); perr != nil {
					return statusFor(perr), perr
				}
				e.jnl.Logf("[nerovaagent] assistance received; replaying step %d", step)
				continue
			}
			e.state.iterations = step
			return models.RunStatusError, err
		}
		switch status {
		case models.RunStatusStop:
			e.state.iterations = step
			return models.RunStatusStop, nil
		case models.RunStatusResend:
			e.resendDelay(ctx)
			continue // same step index, not consumed
		default:
			e.state.iterations = step
			step++
		}
	}
	e.jnl.Logf("[nerovaagent] run completed after %d iterations", e.state.maxSteps)
	return models.RunStatusHalt, models.NewError(models.CodeMaxStepsReached)
}

func (e *execution) runStep(ctx context.Context, step int) (status models.RunStatus, err error) {
	stepCtx, finish := e.r.sup.StepContext(ctx)
	defer finish()
	defer func() { err = e.r.sup.InterpretCause(stepCtx, err) }()
	if e.r.tracer != nil {
		var span trace.Span
		stepCtx, span = e.r.tracer.TraceStep(stepCtx, e.state.id, step)
		defer span.End()
	}

	if err := e.r.sup.Barrier(stepCtx, "step"); err != nil {
		return "", err
	}

	if text, ok := e.r.sup.NextContext(); ok {
		if e.state.setOverride(text, step) {
			e.logContextUpdate(step, "operator")
		}
	}

	shot, err := e.d.Screenshot(stepCtx)
	if err != nil {
		return "", err
	}
	e.savePNG(step, "critic", shot)

	vp, err := e.d.Viewport(stepCtx)
	if err != nil {
		return "", err
	}
	currentURL := e.currentURL(stepCtx)

	e.saveJSON(step, "critic-input", map[string]any{
		"prompt":      e.state.effective,
		"sessionId":   e.state.sessionID,
		"currentUrl":  currentURL,
		"contextText": e.state.override,
	})

	if err := e.r.sup.Barrier(stepCtx, "critic"); err != nil {
		return "", err
	}
	reply, err := e.r.brain.Critic(stepCtx, brain.CriticRequest{
		Prompt:      e.state.effective,
		Screenshot:  shot,
		SessionID:   e.state.sessionID,
		CriticKey:   e.req.CriticKey,
		Model:       e.req.Model,
		CurrentURL:  currentURL,
		ContextText: e.state.override,
		ContextStep: e.state.overrideStep,
	})
	if err != nil {
		return "", err
	}
	if err := e.r.sup.Barrier(stepCtx, "critic_done"); err != nil {
		return "", err
	}

	added := e.state.adopt(reply)
	e.saveJSON(step, "critic-output", reply)
	e.logHistoryDelta(added)

	decision := reply.Decision
	if decision == nil {
		// Null decision: transient page state; retry without consuming a step.
		e.jnl.Workflow("critic_empty_decision", map[string]any{"step": step})
		return models.RunStatusResend, nil
	}
	e.applyContextDecision(decision, step)

	return e.dispatch(stepCtx, step, decision, shot, vp)
}

func (e *execution) dispatch(ctx context.Context, step int, decision *models.Decision, shot string, vp models.Viewport) (models.RunStatus, error) {
	e.jnl.Workflow("dispatch", map[string]any{
		"step":       step,
		"action":     decision.Action,
		"confidence": decision.Confidence,
	})

	switch decision.Action {
	case models.ActionStop:
		e.jnl.Logf("[nerovaagent] critic requested stop: %s", decision.Reason)
		return models.RunStatusStop, nil

	case models.ActionResend:
		return models.RunStatusResend, nil

	case models.ActionNavigate:
		url := strings.TrimSpace(decision.URL)
		if url == "" {
			e.jnl.Workflow("navigate_missing_url", map[string]any{"step": step})
			return models.RunStatusHalt, models.NewError("navigate_url_missing")
		}
		if err := e.navigate(ctx, url); err != nil {
			return "", err
		}
		return models.RunStatusContinue, nil

	case models.ActionBack:
		if err := e.r.sup.Barrier(ctx, "back"); err != nil {
			return "", err
		}
		if err := e.d.GoBack(ctx); err != nil {
			return "", err
		}
		return models.RunStatusContinue, nil

	case models.ActionScroll:
		return e.doScroll(ctx, step, decision, vp)

	case models.ActionClickByTextRole, models.ActionAccept:
		return e.doClick(ctx, step, decision, shot, vp)

	default:
		e.jnl.Workflow("unsupported_action", map[string]any{"step": step, "action": decision.Action})
		return models.RunStatusHalt, models.NewError(models.CodeUnsupportedAction(decision.Action))
	}
}

func (e *execution) doScroll(ctx context.Context, step int, decision *models.Decision, vp models.Viewport) (models.RunStatus, error) {
	spec := decision.Scroll
	if spec == nil {
		e.jnl.Workflow("scroll_missing_spec", map[string]any{"step": step})
		return models.RunStatusHalt, models.NewError(models.CodeUnsupportedAction(decision.Action))
	}
	direction := spec.Direction
	if direction == "" {
		direction = "down"
	}

	delta := int(math.Max(scrollMinDelta, math.Round(scrollFactor*vp.Height)))
	pages := spec.Pages
	if pages < 1 {
		pages = 1
	}
	if pages > maxScrollPages {
		pages = maxScrollPages
	}
	if spec.Amount > 0 {
		delta = int(math.Round(spec.Amount))
		pages = 1
	}

	for i := 0; i < pages; i++ {
		if err := e.r.sup.Barrier(ctx, "scroll"); err != nil {
			return "", err
		}
		if err := e.d.ScrollUniversal(ctx, direction, delta); err != nil {
			return "", err
		}
	}
	return models.RunStatusContinue, nil
}

func (e *execution) doClick(ctx context.Context, step int, decision *models.Decision, shot string, vp models.Viewport) (models.RunStatus, error) {
	if decision.Target == nil {
		e.jnl.Workflow("click_missing_target", map[string]any{"step": step})
		return models.RunStatusHalt, models.NewError(models.CodeUnsupportedAction(decision.Action))
	}

	resolution, err := e.res.Resolve(ctx, resolver.Request{
		Step:       step,
		Goal:       e.state.effective,
		Target:     decision.Target,
		Screenshot: shot,
		DPR:        vp.DevicePixelRatio,
	})
	if err != nil {
		return "", err
	}

	if err := e.r.sup.Barrier(ctx, "click"); err != nil {
		return "", err
	}
	if err := e.res.ExecuteClick(ctx, resolution, decision.Target); err != nil {
		return "", err
	}
	e.jnl.Logf("[nerovaagent] clicked %q at (%.0f, %.0f) via %s",
		targetName(decision.Target), resolution.X, resolution.Y, resolution.Source)
	return models.RunStatusContinue, nil
}

// navigate loads url and gives the page a beat to settle.
func (e *execution) navigate(ctx context.Context, url string) error {
	if err := e.r.sup.Barrier(ctx, "navigate"); err != nil {
		return err
	}
	if err := e.d.Navigate(ctx, url); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(navigateSettle):
	}
	return e.r.sup.Barrier(ctx, "navigate_settled")
}

// applyContextDecision routes the Critic's new_context/keep fields into the
// override slot: new_context replaces, keep preserves, neither clears.
func (e *execution) applyContextDecision(decision *models.Decision, step int) {
	if text := strings.TrimSpace(decision.NewContext); text != "" {
		if e.state.setOverride(text, step) {
			e.logContextUpdate(step, "critic")
		}
		return
	}
	if decision.Keep {
		return
	}
	if e.state.setOverride("", step) {
		e.logContextUpdate(step, "cleared")
	}
}

func (e *execution) pauseAndWait(ctx context.Context, step int) error {
	e.jnl.Workflow("pause", map[string]any{"step": step, "generation": e.r.sup.Generation()})
	e.jnl.Logf("[nerovaagent] run paused; awaiting context")
	if e.r.metrics != nil {
		e.r.metrics.PausedRuns.Inc()
		defer e.r.metrics.PausedRuns.Dec()
	}
	if err := e.r.sup.AwaitResume(ctx); err != nil {
		return err
	}
	e.jnl.Workflow("resume", map[string]any{"step": step})
	e.jnl.Logf("[nerovaagent] run resumed")
	return nil
}

func (e *execution) parkAndWait(ctx context.Context) error {
	if e.r.metrics != nil {
		e.r.metrics.PausedRuns.Inc()
		defer e.r.metrics.PausedRuns.Dec()
	}
	return e.r.sup.Park(ctx)
}

func (e *execution) resendDelay(ctx context.Context) {
	delay := resendDelayMin + time.Duration(rand.Intn(resendJitterMS+1))*time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (e *execution) currentURL(ctx context.Context) string {
	url, err := e.d.URL(ctx)
	if err != nil {
		e.r.logger.Debug("read current url failed", "error", err)
		return ""
	}
	return url
}

func (e *execution) logHistoryDelta(added []string) {
	if len(added) == 0 || e.r.sup.Paused() {
		return
	}
	for _, item := range added {
		e.jnl.Logf("[nerovaagent] progress: %s", item)
		e.r.logger.Info("milestone", "item", item)
	}
}

func (e *execution) logContextUpdate(step int, source string) {
	e.jnl.Workflow("context_override_update", map[string]any{
		"step":    step,
		"source":  source,
		"context": e.state.override,
	})
}

func (e *execution) savePNG(step int, name, b64 string) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return
	}
	if err := e.jnl.SavePNG(step, name, data); err != nil {
		e.r.logger.Warn("save screenshot failed", "step", step, "error", err)
	}
}

func (e *execution) saveJSON(step int, name string, v any) {
	if err := e.jnl.SaveJSON(step, name, v); err != nil {
		e.r.logger.Warn("journal write failed", "artifact", name, "error", err)
	}
}

func targetName(t *models.Target) string {
	if len(t.Hints.TextExact) > 0 {
		return t.Hints.TextExact[0]
	}
	if len(t.Hints.TextContains) > 0 {
		return t.Hints.TextContains[0]
	}
	if len(t.Hints.Text) > 0 {
		return t.Hints.Text[0]
	}
	if t.Role != "" {
		return t.Role
	}
	return "element"
}
