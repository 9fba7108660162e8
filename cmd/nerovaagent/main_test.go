package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/brain"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/config"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/driver"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/loop"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBuildRootCmd_HasCommands(t *testing.T) {
	root := buildRootCmd()

	names := map[string]bool{}
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "run", "worker", "runs", "pause", "resume", "abort", "version"} {
		if !names[want] {
			t.Errorf("root command missing %q", want)
		}
	}

	runs, _, err := root.Find([]string{"runs", "list"})
	if err != nil || runs.Name() != "list" {
		t.Errorf("runs list not wired: %v", err)
	}
	if show, _, err := root.Find([]string{"runs", "show"}); err != nil || show.Name() != "show" {
		t.Errorf("runs show not wired: %v", err)
	}
}

func TestVersionCmd_PrintsBuildInfo(t *testing.T) {
	cmd := buildVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute version: %v", err)
	}
	if !strings.Contains(buf.String(), "nerovaagent") {
		t.Errorf("version output = %q", buf.String())
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("NEROVAAGENT_CONFIG", "")
	if got := resolveConfigPath("explicit.yaml"); got != "explicit.yaml" {
		t.Errorf("explicit path = %q", got)
	}
	if got := resolveConfigPath(" "); got != "" {
		t.Errorf("blank path = %q, want empty", got)
	}

	t.Setenv("NEROVAAGENT_CONFIG", "/etc/nerovaagent/agent.yaml")
	if got := resolveConfigPath(""); got != "/etc/nerovaagent/agent.yaml" {
		t.Errorf("env fallback = %q", got)
	}
	if got := resolveConfigPath("flag.yaml"); got != "flag.yaml" {
		t.Errorf("flag should win over env, got %q", got)
	}
}

func TestAgentSocketURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://localhost:3001", "ws://localhost:3001/v1/agent/ws"},
		{"http://localhost:3001/", "ws://localhost:3001/v1/agent/ws"},
		{"https://brain.example.com", "wss://brain.example.com/v1/agent/ws"},
		{"ws://10.0.0.5:3001/v1/agent/ws", "ws://10.0.0.5:3001/v1/agent/ws"},
		{"wss://brain.example.com/custom/ws", "wss://brain.example.com/custom/ws"},
	}
	for _, tc := range cases {
		got, err := agentSocketURL(tc.in)
		if err != nil {
			t.Errorf("agentSocketURL(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("agentSocketURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"ftp://host:21", "localhost:3001", "://nope"} {
		if _, err := agentSocketURL(bad); err == nil {
			t.Errorf("agentSocketURL(%q) accepted, want error", bad)
		}
	}
}

func TestLoopbackAddr(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.0.0.0:3001", "127.0.0.1:3001"},
		{"[::]:8080", "127.0.0.1:8080"},
		{"192.168.1.5:3001", "192.168.1.5:3001"},
		{"localhost:3001", "localhost:3001"},
		{"not-an-addr", "not-an-addr"},
	}
	for _, tc := range cases {
		if got := loopbackAddr(tc.in); got != tc.want {
			t.Errorf("loopbackAddr(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 60); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	long := strings.Repeat("x", 80)
	got := truncate(long, 60)
	if len([]rune(got)) != 60 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate(long) = %q (len %d)", got, len([]rune(got)))
	}
}

func TestPostControl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/run/pause":
			fmt.Fprint(w, `{"ok":true}`)
		case "/v1/run/context":
			var req brain.ControlRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text != "steer left" {
				t.Errorf("context request = %+v, err %v", req, err)
			}
			fmt.Fprint(w, `{"ok":true}`)
		case "/v1/run/abort":
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"ok":false,"error":"run_control_missing"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	if err := postControl(context.Background(), srv.URL, "/v1/run/pause", nil); err != nil {
		t.Errorf("pause: %v", err)
	}
	// Trailing slash on the server URL must not double up.
	if err := postControl(context.Background(), srv.URL+"/", "/v1/run/context", brain.ControlRequest{Text: "steer left"}); err != nil {
		t.Errorf("context: %v", err)
	}
	err := postControl(context.Background(), srv.URL, "/v1/run/abort", nil)
	if err == nil || !strings.Contains(err.Error(), "run_control_missing") {
		t.Errorf("abort error = %v, want the server's code", err)
	}
}

func TestFindSummaryOnDisk(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "2026-01-02T03-04-05Z")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	summary := models.RunSummary{RunID: "run-9", Goal: "buy socks", Status: models.RunStatusStop}
	data, err := json.Marshal(summary)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok := findSummaryOnDisk(root, "run-9")
	if !ok {
		t.Fatal("summary not found")
	}
	if got.Goal != "buy socks" || got.Status != models.RunStatusStop {
		t.Errorf("summary = %+v", got)
	}

	if _, ok := findSummaryOnDisk(root, "missing"); ok {
		t.Error("found a summary for an unknown run")
	}
}

func newTestLauncher(t *testing.T, pool *driver.Pool) *runLauncher {
	t.Helper()
	cfg := &config.Config{}
	cfg.Journal.Dir = t.TempDir()
	runner := loop.NewRunner(cfg, testLogger(), nil, nil)
	return newRunLauncher(context.Background(), runner, pool, testLogger())
}

func TestRunLauncher_StartsAndClears(t *testing.T) {
	launcher := newTestLauncher(t, nil)

	runID, err := launcher.StartRun(brain.StartRunRequest{Prompt: "test goal"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if runID == "" {
		t.Fatal("StartRun returned no id")
	}

	// With no pool the run finishes immediately with agent_unavailable and
	// the launcher goes idle again.
	waitFor(t, "launcher idle", func() bool {
		_, active := launcher.RunStatus()
		return !active
	})
}

func TestRunLauncher_RejectsConcurrentRuns(t *testing.T) {
	launcher := newTestLauncher(t, nil)

	launcher.mu.Lock()
	launcher.active = &brain.RunStatusInfo{RunID: "busy", Goal: "first goal", StartedAt: time.Now()}
	launcher.mu.Unlock()

	if _, err := launcher.StartRun(brain.StartRunRequest{Prompt: "second goal"}); !models.HasCode(err, models.CodeRunActive) {
		t.Errorf("StartRun error = %v, want %s", err, models.CodeRunActive)
	}

	info, active := launcher.RunStatus()
	if !active || info.RunID != "busy" {
		t.Errorf("RunStatus = %+v active=%t", info, active)
	}
}

func TestRunLauncher_RequiresAgent(t *testing.T) {
	launcher := newTestLauncher(t, driver.NewPool(testLogger(), nil))

	if _, err := launcher.StartRun(brain.StartRunRequest{Prompt: "goal"}); !models.HasCode(err, models.CodeAgentUnavailable) {
		t.Errorf("StartRun error = %v, want %s", err, models.CodeAgentUnavailable)
	}
}
