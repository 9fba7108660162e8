package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

type capturedPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL struct {
		URL    string `json:"url"`
		Detail string `json:"detail"`
	} `json:"image_url"`
}

type capturedMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type capturedChat struct {
	Model          string `json:"model"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []capturedMessage `json:"messages"`
}

// chatServer records chat-completion requests and always replies with the
// given status and body.
func chatServer(t *testing.T, status int, body string) (*httptest.Server, func() []capturedChat) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedChat

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req capturedChat
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		mu.Lock()
		captured = append(captured, req)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))

	return srv, func() []capturedChat {
		mu.Lock()
		defer mu.Unlock()
		out := make([]capturedChat, len(captured))
		copy(out, captured)
		return out
	}
}

// chatReply builds a minimal successful chat-completion body.
func chatReply(content string) string {
	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-5",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

// userParts decodes the multi-content user message of a captured request.
func userParts(t *testing.T, req capturedChat) []capturedPart {
	t.Helper()
	if len(req.Messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(req.Messages))
	}
	var parts []capturedPart
	if err := json.Unmarshal(req.Messages[1].Content, &parts); err != nil {
		t.Fatalf("decode user content: %v", err)
	}
	return parts
}

func systemPromptOf(t *testing.T, req capturedChat) string {
	t.Helper()
	if len(req.Messages) == 0 {
		t.Fatal("request has no messages")
	}
	if req.Messages[0].Role != "system" {
		t.Fatalf("first message role = %q, want system", req.Messages[0].Role)
	}
	var system string
	if err := json.Unmarshal(req.Messages[0].Content, &system); err != nil {
		t.Fatalf("decode system content: %v", err)
	}
	return system
}

func TestCriticStep_ParsesFencedDecision(t *testing.T) {
	reply := "```json\n{\"action\":\"navigate\",\"url\":\"https://example.com/cart\",\"reason\":\"cart next\",\"confidence\":0.9,\"continue\":true}\n```"
	srv, captured := chatServer(t, http.StatusOK, chatReply(reply))
	defer srv.Close()

	critic := NewCritic("sk-test", WithCriticBaseURL(srv.URL+"/v1"))
	payload := CriticPayload{
		Goal:       CriticGoal{OriginalPrompt: "buy oat milk"},
		Context:    CriticContext{CurrentURL: "https://example.com"},
		PlanWindow: &PlanWindow{PlannedStep: "open the cart"},
	}

	res, err := critic.Step(context.Background(), payload, "aGVsbG8=")
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Decision == nil {
		t.Fatalf("decision not parsed from %q", res.Raw)
	}
	if res.Decision.Action != models.ActionNavigate {
		t.Errorf("action = %q, want navigate", res.Decision.Action)
	}
	if res.Decision.URL != "https://example.com/cart" {
		t.Errorf("url = %q", res.Decision.URL)
	}
	if strings.Contains(res.Raw, "```") {
		t.Errorf("raw still fenced: %q", res.Raw)
	}
	if res.Model != DefaultCriticModel {
		t.Errorf("model = %q, want %q", res.Model, DefaultCriticModel)
	}

	reqs := captured()
	if len(reqs) != 1 {
		t.Fatalf("request count = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Model != DefaultCriticModel {
		t.Errorf("wire model = %q, want %q", req.Model, DefaultCriticModel)
	}
	if req.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %q, want json_object", req.ResponseFormat.Type)
	}
	if system := systemPromptOf(t, req); !strings.Contains(system, "Critic") {
		t.Errorf("system prompt does not mention the Critic role: %.60q", system)
	}

	parts := userParts(t, req)
	if len(parts) != 2 {
		t.Fatalf("user parts = %d, want 2", len(parts))
	}
	if parts[0].Type != "text" {
		t.Errorf("first part type = %q, want text", parts[0].Type)
	}
	if !strings.Contains(parts[0].Text, `"original_prompt":"buy oat milk"`) {
		t.Errorf("payload missing prompt: %s", parts[0].Text)
	}
	if !strings.Contains(parts[0].Text, `"plan_window"`) {
		t.Errorf("step payload missing plan_window: %s", parts[0].Text)
	}
	if parts[1].Type != "image_url" {
		t.Errorf("second part type = %q, want image_url", parts[1].Type)
	}
	if parts[1].ImageURL.URL != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("image url = %q", parts[1].ImageURL.URL)
	}
}

func TestCriticBootstrap_OmitsPlanWindow(t *testing.T) {
	srv, captured := chatServer(t, http.StatusOK,
		chatReply(`{"action":"proceed","reason":"landing page fits","confidence":0.8}`))
	defer srv.Close()

	critic := NewCritic("sk-test", WithCriticBaseURL(srv.URL+"/v1"))
	payload := CriticPayload{
		Goal:       CriticGoal{OriginalPrompt: "find the pricing page"},
		Context:    CriticContext{CurrentURL: "https://example.com"},
		PlanWindow: &PlanWindow{PlannedStep: "should not leak"},
	}

	res, err := critic.Bootstrap(context.Background(), payload, "aGVsbG8=")
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if res.Decision == nil || res.Decision.Action != models.ActionProceed {
		t.Fatalf("decision = %+v, want proceed", res.Decision)
	}

	reqs := captured()
	if len(reqs) != 1 {
		t.Fatalf("request count = %d, want 1", len(reqs))
	}
	if system := systemPromptOf(t, reqs[0]); !strings.Contains(system, "URL Bootstrap") {
		t.Errorf("bootstrap call did not use the bootstrap prompt: %.60q", system)
	}
	parts := userParts(t, reqs[0])
	if strings.Contains(parts[0].Text, "plan_window") {
		t.Errorf("bootstrap payload leaked plan_window: %s", parts[0].Text)
	}
}

func TestCriticStep_TrimsHistoryToWindow(t *testing.T) {
	srv, captured := chatServer(t, http.StatusOK, chatReply(`{"action":"stop","reason":"done"}`))
	defer srv.Close()

	critic := NewCritic("sk-test", WithCriticBaseURL(srv.URL+"/v1"))
	payload := CriticPayload{Goal: CriticGoal{OriginalPrompt: "long run"}}
	for i := 0; i < 25; i++ {
		payload.CompleteHistory = append(payload.CompleteHistory, fmt.Sprintf("milestone %02d", i))
	}

	if _, err := critic.Step(context.Background(), payload, "aGVsbG8="); err != nil {
		t.Fatalf("Step: %v", err)
	}

	parts := userParts(t, captured()[0])
	var sent struct {
		CompleteHistory []string `json:"complete_history"`
	}
	if err := json.Unmarshal([]byte(parts[0].Text), &sent); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(sent.CompleteHistory) != historyWindow {
		t.Fatalf("history length = %d, want %d", len(sent.CompleteHistory), historyWindow)
	}
	if sent.CompleteHistory[0] != "milestone 05" {
		t.Errorf("history[0] = %q, want the oldest surviving entry", sent.CompleteHistory[0])
	}
	if sent.CompleteHistory[len(sent.CompleteHistory)-1] != "milestone 24" {
		t.Errorf("history tail = %q", sent.CompleteHistory[len(sent.CompleteHistory)-1])
	}
}

func TestCriticStep_HTTPErrorCarriesStatusCode(t *testing.T) {
	srv, captured := chatServer(t, http.StatusInternalServerError,
		`{"error":{"message":"upstream exploded","type":"server_error"}}`)
	defer srv.Close()

	critic := NewCritic("sk-test",
		WithCriticBaseURL(srv.URL+"/v1"),
		WithCriticRetryPolicy(2, 0))

	_, err := critic.Step(context.Background(), CriticPayload{}, "aGVsbG8=")
	if err == nil {
		t.Fatal("expected error for 500 reply")
	}
	if want := models.CodeCriticHTTP(http.StatusInternalServerError); !models.HasCode(err, want) {
		t.Errorf("code = %q, want %q (err: %v)", models.ErrorCode(err), want, err)
	}
	if got := len(captured()); got != 2 {
		t.Errorf("attempts = %d, want 2 (500 is retried)", got)
	}
}

func TestCriticStep_AuthErrorNotRetried(t *testing.T) {
	srv, captured := chatServer(t, http.StatusUnauthorized,
		`{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	defer srv.Close()

	critic := NewCritic("sk-test",
		WithCriticBaseURL(srv.URL+"/v1"),
		WithCriticRetryPolicy(3, 0))

	_, err := critic.Step(context.Background(), CriticPayload{}, "aGVsbG8=")
	if err == nil {
		t.Fatal("expected error for 401 reply")
	}
	if want := models.CodeCriticHTTP(http.StatusUnauthorized); !models.HasCode(err, want) {
		t.Errorf("code = %q, want %q", models.ErrorCode(err), want)
	}
	if got := len(captured()); got != 1 {
		t.Errorf("attempts = %d, want 1 (401 is terminal)", got)
	}
}

func TestCriticStep_NonJSONReplyYieldsNoDecision(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, chatReply("the page is blank, try again"))
	defer srv.Close()

	critic := NewCritic("sk-test", WithCriticBaseURL(srv.URL+"/v1"))
	res, err := critic.Step(context.Background(), CriticPayload{}, "aGVsbG8=")
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Decision != nil {
		t.Errorf("decision = %+v, want nil for prose reply", res.Decision)
	}
	if res.Raw != "the page is blank, try again" {
		t.Errorf("raw = %q", res.Raw)
	}
}
