package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

func TestLoad_Defaults(t *testing.T) {
	clearAgentEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want 3001", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Agent.MaxSteps != 10 {
		t.Errorf("Agent.MaxSteps = %d, want 10", cfg.Agent.MaxSteps)
	}
	if cfg.Agent.ClickRadius != 120 {
		t.Errorf("Agent.ClickRadius = %v, want 120", cfg.Agent.ClickRadius)
	}
	if cfg.Agent.ScreenshotTimeout != 20*time.Second {
		t.Errorf("Agent.ScreenshotTimeout = %v, want 20s", cfg.Agent.ScreenshotTimeout)
	}
	if cfg.Critic.Model != "gpt-5" {
		t.Errorf("Critic.Model = %q, want gpt-5", cfg.Critic.Model)
	}
	if cfg.Assistant.Model != "gpt-5-nano" {
		t.Errorf("Assistant.Model = %q, want gpt-5-nano", cfg.Assistant.Model)
	}
	if cfg.Assistant.PollTimeout != 30*time.Second {
		t.Errorf("Assistant.PollTimeout = %v, want 30s", cfg.Assistant.PollTimeout)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearAgentEnv(t)

	path := writeConfig(t, "agent.yaml", `
server:
  port: 4100
agent:
  max_steps: 25
  headless: true
critic:
  model: gpt-5-mini
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Agent.MaxSteps != 25 {
		t.Errorf("Agent.MaxSteps = %d, want 25", cfg.Agent.MaxSteps)
	}
	if !cfg.Agent.Headless {
		t.Error("Agent.Headless = false, want true")
	}
	if cfg.Critic.Model != "gpt-5-mini" {
		t.Errorf("Critic.Model = %q, want gpt-5-mini", cfg.Critic.Model)
	}
}

func TestLoad_JSON5File(t *testing.T) {
	clearAgentEnv(t)

	path := writeConfig(t, "agent.json5", `
{
  // comments are allowed here
  server: { port: 4200 },
  agent: { click_radius: 90 },
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Agent.ClickRadius != 90 {
		t.Errorf("Agent.ClickRadius = %v, want 90", cfg.Agent.ClickRadius)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "agent.yaml", `
server:
  host: 0.0.0.0
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_ResolvesIncludes(t *testing.T) {
	clearAgentEnv(t)

	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("agent:\n  max_steps: 7\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	main := filepath.Join(dir, "agent.yaml")
	body := "$include: base.yaml\nserver:\n  port: 4300\n"
	if err := os.WriteFile(main, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.MaxSteps != 7 {
		t.Errorf("Agent.MaxSteps = %d, want 7 from include", cfg.Agent.MaxSteps)
	}
	if cfg.Server.Port != 4300 {
		t.Errorf("Server.Port = %d, want 4300", cfg.Server.Port)
	}
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(a)
	if err == nil {
		t.Fatal("expected include cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error = %v, want include cycle", err)
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "5005")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("NEROVA_MAX_STEPS", "15")
	t.Setenv("AGENT_CLICK_RADIUS", "80")
	t.Setenv("AGENT_SCREENSHOT_TIMEOUT_MS", "9000")
	t.Setenv("NEROVA_HEADLESS", "1")
	t.Setenv("CRITIC_MODEL", "gpt-5-pro")
	t.Setenv("ASSISTANT_ID2", "asst_123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5005 {
		t.Errorf("Server.Port = %d, want 5005", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Agent.MaxSteps != 15 {
		t.Errorf("Agent.MaxSteps = %d, want 15", cfg.Agent.MaxSteps)
	}
	if cfg.Agent.ClickRadius != 80 {
		t.Errorf("Agent.ClickRadius = %v, want 80", cfg.Agent.ClickRadius)
	}
	if cfg.Agent.ScreenshotTimeout != 9*time.Second {
		t.Errorf("Agent.ScreenshotTimeout = %v, want 9s", cfg.Agent.ScreenshotTimeout)
	}
	if !cfg.Agent.Headless {
		t.Error("Agent.Headless = false, want true with NEROVA_HEADLESS=1")
	}
	if cfg.Critic.Model != "gpt-5-pro" {
		t.Errorf("Critic.Model = %q, want gpt-5-pro", cfg.Critic.Model)
	}
	if cfg.Assistant.AssistantID != "asst_123" {
		t.Errorf("Assistant.AssistantID = %q, want asst_123", cfg.Assistant.AssistantID)
	}
}

func TestApplyEnv_HeadlessRequiresExactlyOne(t *testing.T) {
	clearAgentEnv(t)

	t.Setenv("NEROVA_HEADLESS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.Headless {
		t.Error("Agent.Headless = true, want false for NEROVA_HEADLESS=true")
	}
}

func TestApplyEnv_MaxStepsPrecedence(t *testing.T) {
	clearAgentEnv(t)

	t.Setenv("AGENT_MAX_STEPS", "12")
	t.Setenv("NEROVA_MAX_STEPS", "18")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.MaxSteps != 18 {
		t.Errorf("Agent.MaxSteps = %d, want NEROVA_MAX_STEPS to win (18)", cfg.Agent.MaxSteps)
	}
}

func TestResolveCriticKey(t *testing.T) {
	tests := []struct {
		name     string
		override string
		env      map[string]string
		want     string
		wantErr  bool
	}{
		{
			name:     "explicit override wins",
			override: "sk-explicit",
			env:      map[string]string{"CRITIC_OPENAI_KEY": "sk-critic"},
			want:     "sk-explicit",
		},
		{
			name: "critic env before shared",
			env:  map[string]string{"CRITIC_OPENAI_KEY": "sk-critic", "OPENAI_API_KEY": "sk-shared"},
			want: "sk-critic",
		},
		{
			name: "shared env fallback",
			env:  map[string]string{"OPENAI_API_KEY": "sk-shared"},
			want: "sk-shared",
		},
		{
			name: "legacy fallback last",
			env:  map[string]string{"NEROVA_AGENT_CRITIC_KEY": "sk-legacy"},
			want: "sk-legacy",
		},
		{
			name:    "missing everywhere",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, name := range []string{"CRITIC_OPENAI_KEY", "OPENAI_API_KEY", "NEROVA_AGENT_CRITIC_KEY"} {
				t.Setenv(name, tt.env[name])
			}
			cfg := &Config{}
			got, err := cfg.ResolveCriticKey(tt.override)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if models.ErrorCode(err) != models.CodeCriticKeyMissing {
					t.Errorf("error code = %q, want %q", models.ErrorCode(err), models.CodeCriticKeyMissing)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveCriticKey() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveCriticKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveAssistantKey_Chain(t *testing.T) {
	for _, name := range []string{"RETRIEVER_OPENAI_KEY", "NANO_OPENAI_KEY", "NEROVA_AGENT_ASSISTANT_KEY", "OPENAI_API_KEY"} {
		t.Setenv(name, "")
	}
	t.Setenv("NANO_OPENAI_KEY", "sk-nano")
	t.Setenv("OPENAI_API_KEY", "sk-shared")

	cfg := &Config{}
	got, err := cfg.ResolveAssistantKey("")
	if err != nil {
		t.Fatalf("ResolveAssistantKey() error = %v", err)
	}
	if got != "sk-nano" {
		t.Errorf("ResolveAssistantKey() = %q, want sk-nano before shared key", got)
	}
}

func clearAgentEnv(t *testing.T) {
	t.Helper()
	names := []string{
		"PORT", "HOST", "LOG_DIR", "NEROVA_BRAIN_URL", "NEROVA_MAX_STEPS",
		"NEROVA_HEADLESS", "NEROVA_KEEP_BROWSER", "NEROVA_BOOT_URL",
		"AGENT_CLICK_RADIUS", "AGENT_MAX_STEPS", "AGENT_SCREENSHOT_TIMEOUT_MS",
		"CRITIC_MODEL", "ASSISTANT_MODEL", "ASSISTANT_ID2",
	}
	for _, name := range names {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
