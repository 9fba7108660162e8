package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Critic action verbs. Unknown verbs are preserved verbatim and routed to
// halt by the loop.
const (
	ActionAccept          = "accept"
	ActionClickByTextRole = "click_by_text_role"
	ActionScroll          = "scroll"
	ActionBack            = "back"
	ActionNavigate        = "navigate"
	ActionResend          = "resend"
	ActionStop            = "stop"

	// Bootstrap-only verb: keep the current page and enter the iteration loop.
	ActionProceed = "proceed"
)

// Decision is the parsed JSON object returned by the Critic. Parsing is
// permissive: conditional fields are validated by the consumer of the
// action variant, and Raw retains the original bytes for journaling.
type Decision struct {
	// Action is the verb the loop dispatches on.
	Action string `json:"action"`

	// Reason is the Critic's short justification.
	Reason string `json:"reason"`

	// Confidence is the Critic's self-reported 0..1 score.
	Confidence float64 `json:"confidence"`

	// Continue reports whether the Critic expects further steps.
	Continue bool `json:"continue"`

	// Complete lists milestone strings folded into the run history.
	// The wire value may be a JSON array or a single string.
	Complete StringList `json:"complete"`

	// Target is required for accept/click_by_text_role.
	Target *Target `json:"target,omitempty"`

	// Scroll is required for scroll.
	Scroll *ScrollSpec `json:"scroll,omitempty"`

	// URL is required for navigate.
	URL string `json:"url,omitempty"`

	// NewContext replaces the mid-run override context when non-empty.
	NewContext string `json:"new_context,omitempty"`

	// Keep preserves the current override context when NewContext is empty.
	Keep bool `json:"keep,omitempty"`

	// Raw is the undecoded decision body, kept for journaling unknown
	// actions and fields. Never serialized back out.
	Raw json.RawMessage `json:"-"`
}

// ParseDecision decodes a Critic decision body, retaining the raw bytes.
func ParseDecision(data []byte) (*Decision, error) {
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	d.Raw = append(json.RawMessage(nil), data...)
	return &d, nil
}

// Target describes the click target proposed by the Critic.
type Target struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`

	// Center is the approximate [vx, vy] in CSS viewport pixels. The
	// Critic reads coordinates off the raster screenshot, so callers
	// divide by the device pixel ratio before use.
	Center []float64 `json:"center,omitempty"`

	// Hints carries the textual and role matchers for candidate filtering.
	Hints Hints `json:"hints"`

	// Content, when non-empty, is typed into the clicked element.
	Content string `json:"content,omitempty"`

	// Clear empties the focused input before typing.
	Clear bool `json:"clear,omitempty"`

	// Submit presses Enter after typing.
	Submit bool `json:"submit,omitempty"`

	// Role narrows candidates to a single ARIA role.
	Role string `json:"role,omitempty"`

	// Radius overrides the default 120px CSS radius filter (raster px,
	// divided by DPR like Center).
	Radius float64 `json:"radius,omitempty"`
}

// Hints are the Critic-provided matchers for a click target.
type Hints struct {
	TextExact    []string `json:"text_exact,omitempty"`
	TextContains []string `json:"text_contains,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Text         []string `json:"text,omitempty"`
}

// ScrollSpec describes a scroll action.
type ScrollSpec struct {
	// Direction is "up" or "down".
	Direction string `json:"direction"`

	// Pages scrolls 1..3 viewport-sized pages when set.
	Pages int `json:"pages,omitempty"`

	// Amount is an explicit pixel delta overriding Pages.
	Amount float64 `json:"amount,omitempty"`
}

// StringList decodes a JSON value that may be either an array of strings or
// a single bare string. The Critic emits both shapes for `complete`.
type StringList []string

// UnmarshalJSON implements the array-or-string contract.
func (s *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if strings.TrimSpace(single) == "" {
		*s = nil
		return nil
	}
	*s = StringList{single}
	return nil
}

// AssistantDecision is the parsed reply of the Action Disambiguator.
type AssistantDecision struct {
	// Action is one of click, accept, scroll, stop, unknown.
	Action string `json:"action"`

	// Reason is the Assistant's short justification.
	Reason string `json:"reason"`

	// Confidence is the Assistant's self-reported 0..1 score. Suggestions
	// below 0.6 are discarded by the resolver.
	Confidence float64 `json:"confidence"`

	// Center is the suggested [x, y] click point in CSS viewport pixels.
	Center []float64 `json:"center,omitempty"`

	// CandidateID names the submitted hittable the Assistant selected.
	CandidateID string `json:"candidate_id,omitempty"`
}

// Clickable reports whether the decision is a usable click suggestion:
// a click/accept verb, a 2-tuple center, and confidence at or above 0.6.
func (d *AssistantDecision) Clickable() bool {
	if d == nil {
		return false
	}
	if d.Action != "click" && d.Action != "accept" {
		return false
	}
	if len(d.Center) != 2 {
		return false
	}
	return d.Confidence >= 0.6
}
