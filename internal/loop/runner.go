package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/brain"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/config"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/driver"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/journal"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/resolver"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// BrainClient is the brain surface the loop consumes. *brain.Client
// implements it, whether the brain runs in-process or remote.
type BrainClient interface {
	Bootstrap(ctx context.Context, req brain.CriticRequest) (*brain.CriticReply, error)
	Critic(ctx context.Context, req brain.CriticRequest) (*brain.CriticReply, error)
	Assistant(ctx context.Context, req brain.AssistantRequest) (*brain.AssistantReply, error)
}

// Driver is the browser command surface one run drives. *driver.Session
// implements it.
type Driver interface {
	resolver.Driver
	Screenshot(ctx context.Context) (string, error)
	Viewport(ctx context.Context) (models.Viewport, error)
	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	ScrollUniversal(ctx context.Context, direction string, amount int) error
}

// RunRequest describes one goal run.
type RunRequest struct {
	// RunID pre-assigns the run identifier so callers can report it before
	// the run finishes. Empty generates one.
	RunID string

	// Prompt is the immutable base goal. Required.
	Prompt string

	// ContextNotes are initial context blocks appended to the prompt.
	ContextNotes []string

	// BootURL is navigated to before bootstrap. Empty falls back to the
	// configured boot URL, and blank skips the initial navigation.
	BootURL string

	// MaxSteps bounds hard iterations. Zero uses the configured default.
	MaxSteps int

	// AgentID pins the run to one worker; empty picks any idle worker.
	AgentID string

	// Per-run credential and model overrides. Empty values defer to the
	// brain's configuration.
	CriticKey    string
	AssistantKey string
	AssistantID  string
	Model        string
}

// Runner executes goal runs against a brain endpoint and an agent pool.
type Runner struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	brain   BrainClient
	pool    *driver.Pool
	index   *journal.Index
	tracer  *observability.Tracer
	sup     *Supervisor
	park    bool

	newSession func(preferred string) (Driver, func(), error) // For testing.
	nowFunc    func() time.Time                               // For testing.
}

// Option customizes a Runner.
type Option func(*Runner)

// WithPool attaches the agent pool runs acquire workers from.
func WithPool(pool *driver.Pool) Option {
	return func(r *Runner) { r.pool = pool }
}

// WithIndex records run summaries in the journal index.
func WithIndex(index *journal.Index) Option {
	return func(r *Runner) { r.index = index }
}

// WithTracer emits run and step spans through the given tracer.
func WithTracer(tracer *observability.Tracer) Option {
	return func(r *Runner) { r.tracer = tracer }
}

// WithSupervisor installs a shared supervisor, so a control surface created
// before the runner can drive its runs.
func WithSupervisor(sup *Supervisor) Option {
	return func(r *Runner) {
		if sup != nil {
			r.sup = sup
		}
	}
}

// WithParkOnAssistance parks undecided runs at the supervisor instead of
// finishing them with await_assistance. Set it when a control surface is
// attached and an operator can supply context.
func WithParkOnAssistance(park bool) Option {
	return func(r *Runner) { r.park = park }
}

// NewRunner wires a run executor.
func NewRunner(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, brainClient BrainClient, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		brain:   brainClient,
		sup:     NewSupervisor(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Supervisor exposes the pause/abort control surface of the active run.
func (r *Runner) Supervisor() *Supervisor { return r.sup }

// Run executes the full lifecycle of one goal run and always produces a
// summary when the run started; pre-init failures return an error instead.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*models.RunSummary, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, models.NewError(models.CodePromptRequired)
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = r.cfg.Agent.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = 10
	}
	bootURL := req.BootURL
	if bootURL == "" {
		bootURL = r.cfg.Agent.BootURL
	}

	r.sup.Reset()

	started := r.nowFunc()
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	state := &runState{
		id:         runID,
		basePrompt: prompt,
		initial:    trimContexts(req.ContextNotes),
		maxSteps:   maxSteps,
	}
	state.refreshPrompt()

	var summary *models.RunSummary
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.TraceRun(ctx, state.id)
		defer span.End()
		defer func() {
			if summary != nil {
				r.tracer.SetAttributes(span,
					"run.status", string(summary.Status),
					"run.iterations", summary.Iterations)
			}
		}()
	}

	jnl, err := journal.New(r.cfg.RunsDir(), started)
	if err != nil {
		return nil, fmt.Errorf("create run journal: %w", err)
	}
	defer jnl.Close()

	summary = &models.RunSummary{
		RunID:       state.id,
		Goal:        prompt,
		Status:      models.RunStatusInProgress,
		ArtifactDir: jnl.Dir(),
		StartedAt:   started,
	}

	if err := jnl.WriteMeta(journal.Meta{
		RunID:     state.id,
		Goal:      prompt,
		MaxSteps:  maxSteps,
		BootURL:   bootURL,
		Headless:  r.cfg.Agent.Headless,
		StartedAt: started,
	}); err != nil {
		r.logger.Warn("write run meta failed", "runId", state.id, "error", err)
	}
	r.insertIndex(*summary)

	startEvent := map[string]any{"runId": state.id, "maxSteps": maxSteps, "bootUrl": bootURL}
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		startEvent["traceId"] = traceID
	}
	jnl.Workflow("run_start", startEvent)
	jnl.Logf("[nerovaagent] run %s starting", state.id)
	r.logger.Info("run starting", "runId", state.id, "maxSteps", maxSteps)

	sess, release, err := r.acquire(state.id, req.AgentID)
	if err != nil {
		return r.finish(jnl, summary, state, models.RunStatusError, err), nil
	}
	defer release()

	exec := &execution{r: r, state: state, d: sess, jnl: jnl, req: req, bootURL: bootURL}
	exec.res = r.newResolver(sess, jnl, req)
	status, runErr := exec.run(ctx)
	return r.finish(jnl, summary, state, status, runErr), nil
}

func (r *Runner) acquire(runID, preferred string) (Driver, func(), error) {
	if r.newSession != nil {
		return r.newSession(preferred)
	}
	if r.pool == nil {
		return nil, nil, models.NewError(models.CodeAgentUnavailable)
	}
	agent, err := r.pool.PickAgent(preferred)
	if err != nil {
		return nil, nil, err
	}
	r.pool.AssignRun(agent, runID)
	sess := driver.NewSession(agent)
	if t := r.cfg.Agent.ScreenshotTimeout; t > 0 {
		sess.ScreenshotTimeout = t
	}
	return sess, func() { r.pool.ReleaseRun(agent) }, nil
}

func (r *Runner) newResolver(d Driver, jnl *journal.Journal, req RunRequest) *resolver.Resolver {
	assistantID := req.AssistantID
	if assistantID == "" {
		assistantID = r.cfg.Assistant.AssistantID
	}
	return resolver.New(resolver.Config{
		Driver:        d,
		Assistant:     r.brain,
		Journal:       jnl,
		Logger:        r.logger,
		Metrics:       r.metrics,
		AssistantKey:  req.AssistantKey,
		AssistantID:   assistantID,
		PollTimeoutMS: int(r.cfg.Assistant.PollTimeout.Milliseconds()),
		Barrier:       r.sup.Barrier,
	})
}

func (r *Runner) finish(jnl *journal.Journal, summary *models.RunSummary, state *runState, status models.RunStatus, runErr error) *models.RunSummary {
	summary.Status = status
	summary.Iterations = state.iterations
	summary.CompleteHistory = state.history
	summary.SessionID = state.sessionID
	summary.FinishedAt = r.nowFunc()
	if runErr != nil {
		if code := models.ErrorCode(runErr); code != "" {
			summary.Error = code
		} else {
			summary.Error = runErr.Error()
		}
	}

	if err := jnl.WriteSummary(*summary); err != nil {
		r.logger.Warn("write summary failed", "runId", summary.RunID, "error", err)
	}
	jnl.Workflow("run_finish", map[string]any{
		"status":     string(status),
		"iterations": state.iterations,
		"error":      summary.Error,
	})
	jnl.Logf("[nerovaagent] run finished with status %s", status)
	r.logger.Info("run finished",
		"runId", summary.RunID,
		"status", string(status),
		"iterations", state.iterations,
		"error", summary.Error)

	if r.metrics != nil {
		r.metrics.RunFinished(string(status), state.iterations)
		if summary.Error != "" {
			r.metrics.RecordError("loop", summary.Error)
		}
	}
	r.finishIndex(*summary)
	return summary
}

func (r *Runner) insertIndex(summary models.RunSummary) {
	if r.index == nil {
		return
	}
	if err := r.index.Insert(context.Background(), summary); err != nil {
		r.logger.Warn("index insert failed", "runId", summary.RunID, "error", err)
	}
}

func (r *Runner) finishIndex(summary models.RunSummary) {
	if r.index == nil {
		return
	}
	if err := r.index.Finish(context.Background(), summary); err != nil {
		r.logger.Warn("index update failed", "runId", summary.RunID, "error", err)
	}
}

func trimContexts(notes []string) []string {
	out := make([]string, 0, len(notes))
	for _, note := range notes {
		if note = strings.TrimSpace(note); note != "" {
			out = append(out, note)
		}
	}
	return out
}

func statusFor(err error) models.RunStatus {
	if models.HasCode(err, models.CodeRunAborted) || errors.Is(err, context.Canceled) {
		return models.RunStatusAborted
	}
	return models.RunStatusError
}
