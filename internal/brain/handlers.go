package brain

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/llm"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// ModeBrowser is the only mode the brain serves.
const ModeBrowser = "browser"

// CriticRequest is the body of /v1/brain/bootstrap and /v1/brain/critic.
// The loop sends the page state fields so the brain can assemble the
// critic payload; external callers may leave them blank.
type CriticRequest struct {
	Mode       string `json:"mode"`
	Prompt     string `json:"prompt"`
	Screenshot string `json:"screenshot"`
	SessionID  string `json:"sessionId,omitempty"`
	CriticKey  string `json:"criticKey,omitempty"`
	Model      string `json:"model,omitempty"`

	CurrentURL  string   `json:"currentUrl,omitempty"`
	ContextText string   `json:"contextText,omitempty"`
	ContextStep int      `json:"contextStep,omitempty"`
	PlannedStep string   `json:"plannedStep,omitempty"`
	NextSteps   []string `json:"nextSteps,omitempty"`
}

// CriticInfo carries the raw critic output and the model that produced it.
type CriticInfo struct {
	Raw   string `json:"raw"`
	Model string `json:"model"`
}

// CriticReply is the response of /v1/brain/bootstrap and /v1/brain/critic.
type CriticReply struct {
	OK              bool             `json:"ok"`
	Error           string           `json:"error,omitempty"`
	Mode            string           `json:"mode,omitempty"`
	SessionID       string           `json:"sessionId,omitempty"`
	Decision        *models.Decision `json:"decision,omitempty"`
	Critic          *CriticInfo      `json:"critic,omitempty"`
	CompleteHistory []string         `json:"completeHistory,omitempty"`
}

// AssistantRequest is the body of /v1/brain/assistant.
type AssistantRequest struct {
	Mode          string            `json:"mode"`
	Prompt        string            `json:"prompt"`
	Target        *models.Target    `json:"target,omitempty"`
	Elements      []models.Hittable `json:"elements"`
	Screenshot    string            `json:"screenshot"`
	AssistantKey  string            `json:"assistantKey,omitempty"`
	AssistantID   string            `json:"assistantId,omitempty"`
	Model         string            `json:"model,omitempty"`
	PollTimeoutMS int               `json:"pollTimeoutMs,omitempty"`
}

// AssistantVerdict is the assistant block of a successful reply. Request
// echoes the capped payload that actually went to the model.
type AssistantVerdict struct {
	OK      bool                      `json:"ok"`
	Raw     string                    `json:"raw"`
	Parsed  *models.AssistantDecision `json:"parsed,omitempty"`
	Request llm.AssistantRequest      `json:"request"`
	Model   string                    `json:"model"`
}

// AssistantReply is the response of /v1/brain/assistant.
type AssistantReply struct {
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	Mode      string            `json:"mode,omitempty"`
	Assistant *AssistantVerdict `json:"assistant,omitempty"`
}

// ControlRequest is the body of /v1/run/context.
type ControlRequest struct {
	Text string `json:"text"`
}

// ControlReply acknowledges a run-control request.
type ControlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StartRunRequest is the body of /v1/run/start.
type StartRunRequest struct {
	Prompt       string   `json:"prompt"`
	ContextNotes []string `json:"contextNotes,omitempty"`
	BootURL      string   `json:"bootUrl,omitempty"`
	MaxSteps     int      `json:"maxSteps,omitempty"`
	AgentID      string   `json:"agentId,omitempty"`
	CriticKey    string   `json:"criticKey,omitempty"`
	AssistantKey string   `json:"assistantKey,omitempty"`
	AssistantID  string   `json:"assistantId,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// StartRunReply acknowledges an accepted run. The run executes in the
// background; runId is how callers follow it.
type StartRunReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	RunID string `json:"runId,omitempty"`
}

// RunStatusInfo describes the run the launcher is currently executing.
type RunStatusInfo struct {
	RunID     string    `json:"runId"`
	Goal      string    `json:"goal"`
	StartedAt time.Time `json:"startedAt"`
	Paused    bool      `json:"paused"`
}

// RunStatusReply is the response of /v1/run/status.
type RunStatusReply struct {
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
	Active bool           `json:"active"`
	Run    *RunStatusInfo `json:"run,omitempty"`
}

// AgentsReply lists the connected browser drivers.
type AgentsReply struct {
	OK     bool               `json:"ok"`
	Agents []models.AgentInfo `json:"agents"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// modeError returns the rejection code for mode, or "" when it is served.
func modeError(mode string) string {
	if mode != ModeBrowser {
		return models.CodeUnsupportedMode(mode)
	}
	return ""
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	s.handleCriticCall(w, r, true)
}

func (s *Server) handleCritic(w http.ResponseWriter, r *http.Request) {
	s.handleCriticCall(w, r, false)
}

func (s *Server) handleCriticCall(w http.ResponseWriter, r *http.Request, bootstrap bool) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, CriticReply{Error: "method_not_allowed"})
		return
	}
	var req CriticRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CriticReply{Error: "invalid_json"})
		return
	}
	if code := modeError(req.Mode); code != "" {
		writeJSON(w, http.StatusBadRequest, CriticReply{Error: code})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, CriticReply{Error: models.CodePromptRequired})
		return
	}
	if strings.TrimSpace(req.Screenshot) == "" {
		writeJSON(w, http.StatusBadRequest, CriticReply{Error: models.CodeScreenshotRequired})
		return
	}

	critic, err := s.newCritic(req.CriticKey, req.Model)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, CriticReply{Error: models.ErrorCode(err), Mode: req.Mode})
		return
	}

	sess := s.sessions.Ensure(req.SessionID)

	payload := llm.CriticPayload{
		Goal: llm.CriticGoal{OriginalPrompt: req.Prompt, NewContext: req.ContextText},
		Context: llm.CriticContext{
			CurrentURL:    req.CurrentURL,
			ContextActive: strings.TrimSpace(req.ContextText) != "",
			ContextStep:   req.ContextStep,
		},
		CompleteHistory: sess.CompleteHistory,
	}
	if !bootstrap && (req.PlannedStep != "" || len(req.NextSteps) > 0) {
		payload.PlanWindow = &llm.PlanWindow{PlannedStep: req.PlannedStep, NextSteps: req.NextSteps}
	}

	screenshot := llm.PrepareScreenshot(req.Screenshot)

	callCtx := r.Context()
	var span trace.Span
	if s.tracer != nil {
		callCtx, span = s.tracer.TraceLLMRequest(callCtx, "critic", s.effectiveModel(req.Model, s.cfg.Critic.Model))
	}
	var result *llm.CriticResult
	if bootstrap {
		result, err = critic.Bootstrap(callCtx, payload, screenshot)
	} else {
		result, err = critic.Step(callCtx, payload, screenshot)
	}
	if span != nil {
		s.tracer.RecordError(span, err)
		span.End()
	}
	if err != nil {
		code := models.ErrorCode(err)
		if code == "" {
			code = models.CodeCriticError
		}
		s.logger.Error("critic call failed", "bootstrap", bootstrap, "error", err)
		writeJSON(w, http.StatusBadGateway, CriticReply{Error: code, Mode: req.Mode, SessionID: sess.ID})
		return
	}

	var additions []string
	if result.Decision != nil {
		additions = result.Decision.Complete
	}
	sess = s.sessions.Advance(sess.ID, req.CurrentURL, additions)

	writeJSON(w, http.StatusOK, CriticReply{
		OK:              true,
		Mode:            req.Mode,
		SessionID:       sess.ID,
		Decision:        result.Decision,
		Critic:          &CriticInfo{Raw: result.Raw, Model: result.Model},
		CompleteHistory: sess.CompleteHistory,
	})
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, AssistantReply{Error: "method_not_allowed"})
		return
	}
	var req AssistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, AssistantReply{Error: "invalid_json"})
		return
	}
	if code := modeError(req.Mode); code != "" {
		writeJSON(w, http.StatusBadRequest, AssistantReply{Error: code})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, AssistantReply{Error: models.CodePromptRequired})
		return
	}
	if strings.TrimSpace(req.Screenshot) == "" {
		writeJSON(w, http.StatusBadRequest, AssistantReply{Error: models.CodeScreenshotRequired})
		return
	}

	assistant, err := s.newAssistant(req)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, AssistantReply{Error: models.ErrorCode(err), Mode: req.Mode})
		return
	}

	// Cap here too so the reply echoes the request the model saw.
	payload := llm.AssistantRequest{Goal: req.Prompt, Target: req.Target, Candidates: req.Elements}
	if len(payload.Candidates) > llm.MaxCandidates {
		payload.Candidates = payload.Candidates[:llm.MaxCandidates]
	}
	if payload.Candidates == nil {
		payload.Candidates = []models.Hittable{}
	}

	callCtx := r.Context()
	var span trace.Span
	if s.tracer != nil {
		callCtx, span = s.tracer.TraceLLMRequest(callCtx, "assistant", s.effectiveModel(req.Model, s.cfg.Assistant.Model))
	}
	result, err := assistant.Suggest(callCtx, payload, llm.PrepareScreenshot(req.Screenshot))
	if span != nil {
		s.tracer.RecordError(span, err)
		span.End()
	}
	if err != nil {
		code := models.ErrorCode(err)
		if code == "" {
			code = models.CodeAssistantError
		}
		s.logger.Error("assistant call failed", "error", err)
		writeJSON(w, http.StatusBadGateway, AssistantReply{Error: code, Mode: req.Mode})
		return
	}

	writeJSON(w, http.StatusOK, AssistantReply{
		OK:   true,
		Mode: req.Mode,
		Assistant: &AssistantVerdict{
			OK:      true,
			Raw:     result.Raw,
			Parsed:  result.Parsed,
			Request: payload,
			Model:   result.Model,
		},
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, func(rc RunControl) { rc.RequestPause() })
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, func(rc RunControl) { rc.AbortRun() })
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ControlReply{Error: "method_not_allowed"})
		return
	}
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ControlReply{Error: "invalid_json"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, ControlReply{Error: "context_text_required"})
		return
	}
	if s.control == nil {
		writeJSON(w, http.StatusServiceUnavailable, ControlReply{Error: models.CodeRunControlMissing})
		return
	}
	s.control.SupplyContext(req.Text)
	writeJSON(w, http.StatusOK, ControlReply{OK: true})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request, apply func(RunControl)) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ControlReply{Error: "method_not_allowed"})
		return
	}
	if s.control == nil {
		writeJSON(w, http.StatusServiceUnavailable, ControlReply{Error: models.CodeRunControlMissing})
		return
	}
	apply(s.control)
	writeJSON(w, http.StatusOK, ControlReply{OK: true})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, StartRunReply{Error: "method_not_allowed"})
		return
	}
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, StartRunReply{Error: "invalid_json"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, StartRunReply{Error: models.CodePromptRequired})
		return
	}
	if s.launcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, StartRunReply{Error: models.CodeRunControlMissing})
		return
	}

	runID, err := s.launcher.StartRun(req)
	if err != nil {
		code := models.ErrorCode(err)
		status := http.StatusInternalServerError
		switch code {
		case models.CodeRunActive:
			status = http.StatusConflict
		case models.CodeAgentUnavailable:
			status = http.StatusServiceUnavailable
		case "":
			code = models.CodeBrainError
		}
		s.logger.Warn("run start rejected", "error", err)
		writeJSON(w, status, StartRunReply{Error: code})
		return
	}
	writeJSON(w, http.StatusAccepted, StartRunReply{OK: true, RunID: runID})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, RunStatusReply{Error: "method_not_allowed"})
		return
	}
	if s.launcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, RunStatusReply{Error: models.CodeRunControlMissing})
		return
	}
	info, active := s.launcher.RunStatus()
	reply := RunStatusReply{OK: true, Active: active}
	if active {
		reply.Run = &info
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, AgentsReply{})
		return
	}
	agents := []models.AgentInfo{}
	if s.pool != nil {
		if list := s.pool.Agents(); list != nil {
			agents = list
		}
	}
	writeJSON(w, http.StatusOK, AgentsReply{OK: true, Agents: agents})
}

func (s *Server) newCritic(key, model string) (*llm.Critic, error) {
	apiKey := strings.TrimSpace(key)
	if apiKey == "" {
		apiKey = s.cfg.Critic.APIKey
	}
	if apiKey == "" {
		return nil, models.NewError(models.CodeCriticKeyMissing)
	}
	opts := []llm.CriticOption{
		llm.WithCriticModel(s.cfg.Critic.Model),
		llm.WithCriticModel(model),
		llm.WithCriticMetrics(s.metrics),
	}
	if base := s.criticBaseURL(); base != "" {
		opts = append(opts, llm.WithCriticBaseURL(base))
	}
	return llm.NewCritic(apiKey, opts...), nil
}

func (s *Server) newAssistant(req AssistantRequest) (*llm.Assistant, error) {
	apiKey := strings.TrimSpace(req.AssistantKey)
	if apiKey == "" {
		apiKey = s.cfg.Assistant.APIKey
	}
	if apiKey == "" {
		return nil, models.NewError(models.CodeAssistantKeyMissing)
	}
	assistantID := strings.TrimSpace(req.AssistantID)
	if assistantID == "" {
		assistantID = s.cfg.Assistant.AssistantID
	}
	opts := []llm.AssistantOption{
		llm.WithAssistantModel(s.cfg.Assistant.Model),
		llm.WithAssistantModel(req.Model),
		llm.WithAssistantMetrics(s.metrics),
	}
	if assistantID != "" {
		opts = append(opts, llm.WithAssistantID(assistantID))
	}
	if base := s.assistantBaseURL(); base != "" {
		opts = append(opts, llm.WithAssistantBaseURL(base))
	}
	timeout := s.cfg.Assistant.PollTimeout
	if req.PollTimeoutMS > 0 {
		timeout = time.Duration(req.PollTimeoutMS) * time.Millisecond
	}
	if timeout > 0 {
		opts = append(opts, llm.WithAssistantPolling(0, timeout))
	}
	return llm.NewAssistant(apiKey, opts...), nil
}

// effectiveModel mirrors the override order the llm constructors apply.
func (s *Server) effectiveModel(requested, configured string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return configured
}

func (s *Server) criticBaseURL() string {
	if s.llmBaseURL != "" {
		return s.llmBaseURL
	}
	return s.cfg.Critic.BaseURL
}

func (s *Server) assistantBaseURL() string {
	if s.llmBaseURL != "" {
		return s.llmBaseURL
	}
	return s.cfg.Assistant.BaseURL
}
