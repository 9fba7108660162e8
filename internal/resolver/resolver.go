// Package resolver turns a Critic click decision into a concrete viewport
// click. It runs an escalation pipeline over the worker's hittable
// snapshot: dedupe, radius filter, hittable preference, role filter, exact
// text match, then an Assistant round trip over at most twelve candidates.
// A decision that survives none of those stages resolves to
// await_assistance and the run halts.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/brain"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/driver"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/journal"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/llm"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// typeKeystrokeDelay paces character-by-character typing so page scripts
// see distinct key events.
const typeKeystrokeDelay = 120 * time.Millisecond

// Driver is the slice of browser commands the resolver issues.
type Driver interface {
	Hittables(ctx context.Context, opts driver.HittablesOptions) ([]models.Hittable, error)
	ClickViewport(ctx context.Context, vx, vy float64) error
	ClearActiveInput(ctx context.Context, token string) error
	TypeText(ctx context.Context, text string, delay time.Duration) error
	PressEnter(ctx context.Context) error
}

// AssistantClient asks the Action Disambiguator to choose a candidate.
// *brain.Client satisfies it.
type AssistantClient interface {
	Assistant(ctx context.Context, req brain.AssistantRequest) (*brain.AssistantReply, error)
}

// Config carries the resolver's collaborators. Driver is required; a nil
// Assistant downgrades the fallback stages to await_assistance.
type Config struct {
	Driver    Driver
	Assistant AssistantClient
	Journal   *journal.Journal
	Logger    *slog.Logger
	Metrics   *observability.Metrics

	// Assistant credentials forwarded on every disambiguation call.
	AssistantKey  string
	AssistantID   string
	PollTimeoutMS int

	// Barrier, when set, is consulted before the Assistant round trip and
	// between keystrokes. A non-nil return abandons the operation.
	Barrier func(ctx context.Context, stage string) error
}

// Resolver resolves Critic click decisions against live page state.
type Resolver struct {
	cfg Config
}

// New returns a Resolver over cfg.
func New(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{cfg: cfg}
}

// Request is one click decision to resolve. Screenshot is the raster the
// Critic looked at, forwarded to the Assistant untouched. DPR converts the
// Critic's raster coordinates to CSS pixels; zero means 1.
type Request struct {
	Step       int
	Goal       string
	Target     *models.Target
	Screenshot string
	DPR        float64
}

// Resolution is a resolved click point in CSS viewport pixels.
type Resolution struct {
	X      float64
	Y      float64
	Source string // "exact" or "assistant"

	// Element is the chosen candidate, nil when the Assistant picked a
	// bare coordinate.
	Element *models.Hittable

	// Reason explains the selection for the journal.
	Reason string
}

// Resolve maps the target onto the current page. Errors carry
// await_assistance when no stage produced a confident choice, or
// assistant_error (or a more specific upstream code) when the fallback
// itself failed.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	target := req.Target
	if target == nil {
		return nil, errors.New("click decision has no target")
	}

	dpr := req.DPR
	if dpr <= 0 {
		dpr = 1
	}
	var center []float64
	if len(target.Center) == 2 {
		center = []float64{target.Center[0] / dpr, target.Center[1] / dpr}
	}
	radius := DefaultClickRadius
	if target.Radius > 0 {
		radius = target.Radius / dpr
	}

	snapshot, err := r.cfg.Driver.Hittables(ctx, driver.HittablesOptions{})
	if err != nil {
		return nil, fmt.Errorf("collect hittables: %w", err)
	}
	deduped := Dedupe(snapshot)
	r.saveJSON(req.Step, "step3-hittables", map[string]any{
		"snapshot": len(snapshot),
		"elements": deduped,
	})

	pool := FilterByRadius(deduped, center, radius)

	preferred := hittableSubset(pool)
	hittablePreferred := len(preferred) > 0
	if !hittablePreferred {
		preferred = pool
	}

	roles := roleUnion(target)
	if len(roles) > 0 {
		if narrowed := filterByRole(preferred, roles); len(narrowed) > 0 {
			preferred = narrowed
		}
	}

	r.saveJSON(req.Step, "step3-radius", map[string]any{
		"center":             center,
		"radius":             radius,
		"hittable_preferred": hittablePreferred,
		"roles":              roles,
		"candidates":         preferred,
	})

	if el := matchExact(preferred, target.Hints.TextExact, center); el != nil {
		x, y := el.CenterXY()
		r.record("exact")
		r.saveJSON(req.Step, "click-selection", map[string]any{
			"source":  "exact",
			"element": el,
		})
		return &Resolution{X: x, Y: y, Source: "exact", Element: el, Reason: "exact text match: " + el.Name}, nil
	}

	candidates := capCandidates(preferred, llm.MaxCandidates)

	var firstErr error = models.NewError(models.CodeAwaitAssistance)
	if len(candidates) > 0 {
		res, err := r.askAssistant(ctx, req, candidates)
		if err == nil {
			r.record("assistant")
			return res, nil
		}
		firstErr = err
	}

	// Last resort: no strictly hittable candidate survived and the
	// Assistant stayed undecided, so retry over the first twelve deduped
	// elements. Identical candidate sets skip the second call.
	if hittablePreferred || !models.HasCode(firstErr, models.CodeAwaitAssistance) {
		r.record(outcomeFor(firstErr))
		return nil, firstErr
	}
	widened := capCandidates(deduped, llm.MaxCandidates)
	if len(widened) == 0 || sameCandidates(widened, candidates) {
		r.record(outcomeFor(firstErr))
		return nil, firstErr
	}
	res, err := r.askAssistant(ctx, req, widened)
	if err != nil {
		r.record(outcomeFor(err))
		return nil, err
	}
	r.record("assistant")
	return res, nil
}

func (r *Resolver) askAssistant(ctx context.Context, req Request, candidates []models.Hittable) (*Resolution, error) {
	if r.cfg.Barrier != nil {
		if err := r.cfg.Barrier(ctx, "assistant"); err != nil {
			return nil, err
		}
	}
	if r.cfg.Assistant == nil {
		return nil, models.NewError(models.CodeAwaitAssistance)
	}

	r.saveJSON(req.Step, "assistant-request", map[string]any{
		"prompt":     req.Goal,
		"target":     req.Target,
		"candidates": candidates,
	})

	reply, err := r.cfg.Assistant.Assistant(ctx, brain.AssistantRequest{
		Prompt:        req.Goal,
		Target:        req.Target,
		Elements:      candidates,
		Screenshot:    req.Screenshot,
		AssistantKey:  r.cfg.AssistantKey,
		AssistantID:   r.cfg.AssistantID,
		PollTimeoutMS: r.cfg.PollTimeoutMS,
	})
	if err != nil {
		r.cfg.Logger.Warn("assistant call failed", "step", req.Step, "error", err)
		if models.ErrorCode(err) != "" {
			return nil, err
		}
		return nil, models.WrapError(models.CodeAssistantError, err)
	}

	if reply == nil || reply.Assistant == nil {
		return nil, models.NewError(models.CodeAssistantError)
	}

	verdict := reply.Assistant
	r.saveJSON(req.Step, "assistant-response", map[string]any{
		"raw":    verdict.Raw,
		"parsed": verdict.Parsed,
		"model":  verdict.Model,
	})

	decision := verdict.Parsed
	if !decision.Clickable() {
		return nil, models.NewError(models.CodeAwaitAssistance)
	}

	res := &Resolution{
		X:      decision.Center[0],
		Y:      decision.Center[1],
		Source: "assistant",
		Reason: decision.Reason,
	}
	if decision.CandidateID != "" {
		res.Element = findCandidate(candidates, decision.CandidateID)
	}
	r.saveJSON(req.Step, "click-selection", map[string]any{
		"source":   "assistant",
		"decision": decision,
		"element":  res.Element,
	})
	return res, nil
}

// ExecuteClick performs the resolved click and the target's post-click
// effects: clear, character-by-character typing, and submit.
func (r *Resolver) ExecuteClick(ctx context.Context, res *Resolution, target *models.Target) error {
	if err := r.cfg.Driver.ClickViewport(ctx, res.X, res.Y); err != nil {
		return fmt.Errorf("click at (%.0f, %.0f): %w", res.X, res.Y, err)
	}
	if target == nil {
		return nil
	}
	if target.Clear {
		if err := r.cfg.Driver.ClearActiveInput(ctx, ""); err != nil {
			return fmt.Errorf("clear input: %w", err)
		}
	}
	if target.Content != "" {
		if err := r.typeContent(ctx, target.Content); err != nil {
			return err
		}
	}
	if target.Submit {
		if err := r.cfg.Driver.PressEnter(ctx); err != nil {
			return fmt.Errorf("press enter: %w", err)
		}
	}
	return nil
}

// typeContent sends the text one character at a time with a pause check
// between keystrokes, so a pause request lands mid-word rather than after
// the whole field is filled.
func (r *Resolver) typeContent(ctx context.Context, content string) error {
	for i, ch := range content {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(typeKeystrokeDelay):
			}
			if r.cfg.Barrier != nil {
				if err := r.cfg.Barrier(ctx, "typing"); err != nil {
					return err
				}
			}
		}
		if err := r.cfg.Driver.TypeText(ctx, string(ch), 0); err != nil {
			return fmt.Errorf("type character %d: %w", i, err)
		}
	}
	return nil
}

func (r *Resolver) saveJSON(step int, name string, v any) {
	if r.cfg.Journal == nil {
		return
	}
	if err := r.cfg.Journal.SaveJSON(step, name, v); err != nil {
		r.cfg.Logger.Warn("journal write failed", "artifact", name, "error", err)
	}
}

func (r *Resolver) record(outcome string) {
	if r.cfg.Metrics == nil {
		return
	}
	r.cfg.Metrics.RecordResolution(outcome)
}

func outcomeFor(err error) string {
	switch models.ErrorCode(err) {
	case models.CodeAwaitAssistance:
		return "await_assistance"
	case models.CodePauseInterrupt, models.CodeRunAborted:
		return "interrupted"
	default:
		return "assistant_error"
	}
}
