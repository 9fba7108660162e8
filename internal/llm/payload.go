package llm

import "github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"

// CriticPayload is the JSON state object sent to the Critic alongside the
// screenshot. The loop journals it verbatim as the step's critic input.
type CriticPayload struct {
	Goal            CriticGoal    `json:"goal"`
	Context         CriticContext `json:"context"`
	PlanWindow      *PlanWindow   `json:"plan_window,omitempty"`
	CompleteHistory []string      `json:"complete_history"`
}

// CriticGoal carries the immutable user prompt and any live operator
// context.
type CriticGoal struct {
	OriginalPrompt string `json:"original_prompt"`
	NewContext     string `json:"new_context"`
}

// CriticContext describes where the run currently stands.
type CriticContext struct {
	CurrentURL    string `json:"current_url"`
	ContextActive bool   `json:"context_active"`
	ContextStep   int    `json:"context_step"`
}

// PlanWindow echoes the Critic's own previous plan back to it. Bootstrap
// calls omit the window entirely.
type PlanWindow struct {
	PlannedStep string   `json:"planned_step"`
	NextSteps   []string `json:"next_steps"`
}

// normalized clamps history to the transmission window and keeps the JSON
// arrays non-null on the wire.
func (p CriticPayload) normalized() CriticPayload {
	p.CompleteHistory = lastN(p.CompleteHistory, historyWindow)
	if p.CompleteHistory == nil {
		p.CompleteHistory = []string{}
	}
	if p.PlanWindow != nil && p.PlanWindow.NextSteps == nil {
		pw := *p.PlanWindow
		pw.NextSteps = []string{}
		p.PlanWindow = &pw
	}
	return p
}

// AssistantRequest is the JSON object sent to the Action Disambiguator.
// Candidates are capped at 12 before transmission; the resolver journals
// the capped request as the step's assistant input.
type AssistantRequest struct {
	Goal       string            `json:"goal"`
	Target     *models.Target    `json:"target,omitempty"`
	Candidates []models.Hittable `json:"candidates"`
}
