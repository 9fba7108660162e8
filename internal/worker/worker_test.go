package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/driver"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubExecutor) Execute(_ context.Context, command string, _ json.RawMessage) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, command)
	s.mu.Unlock()

	switch command {
	case driver.CmdURL:
		return "https://example.com/search", nil
	case driver.CmdScreenshot:
		return nil, errors.New("no display attached")
	case driver.CmdViewport:
		return models.Viewport{Width: 1280, Height: 800, DevicePixelRatio: 2}, nil
	}
	return nil, nil
}

func (s *stubExecutor) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
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

func startWorker(t *testing.T, pool *driver.Pool, exec Executor) (*Client, context.CancelFunc) {
	t.Helper()
	srv := httptest.NewServer(pool)
	t.Cleanup(srv.Close)

	cfg := Config{
		ServerURL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		AgentID:           "worker-test",
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectDelay:    50 * time.Millisecond,
	}
	client := NewClient(cfg, exec, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = client.Run(ctx) }()
	t.Cleanup(cancel)

	waitFor(t, "worker registration", func() bool {
		agents := pool.Agents()
		return len(agents) == 1 && agents[0].Status == models.AgentIdle
	})
	return client, cancel
}

func TestClient_HandshakeAndExecute(t *testing.T) {
	pool := driver.NewPool(testLogger(), nil)
	exec := &stubExecutor{}
	client, _ := startWorker(t, pool, exec)

	if got := client.AgentID(); got != "worker-test" {
		t.Errorf("assigned agent id = %q, want worker-test", got)
	}

	agent, err := pool.PickAgent("worker-test")
	if err != nil {
		t.Fatalf("PickAgent: %v", err)
	}
	sess := driver.NewSession(agent)

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	url, err := sess.URL(ctx)
	if err != nil {
		t.Fatalf("URL command: %v", err)
	}
	if url != "https://example.com/search" {
		t.Errorf("url = %q, want https://example.com/search", url)
	}

	vp, err := sess.Viewport(ctx)
	if err != nil {
		t.Fatalf("VIEWPORT command: %v", err)
	}
	if vp.Width != 1280 || vp.DevicePixelRatio != 2 {
		t.Errorf("viewport = %+v, want 1280x800@2", vp)
	}

	found := false
	for _, cmd := range exec.commands() {
		if cmd == driver.CmdURL {
			found = true
		}
	}
	if !found {
		t.Errorf("executor never saw %s, calls = %v", driver.CmdURL, exec.commands())
	}
}

func TestClient_ExecutorErrorBecomesCommandError(t *testing.T) {
	pool := driver.NewPool(testLogger(), nil)
	client, _ := startWorker(t, pool, &stubExecutor{})
	_ = client

	agent, err := pool.PickAgent("")
	if err != nil {
		t.Fatalf("PickAgent: %v", err)
	}
	sess := driver.NewSession(agent)

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	_, err = sess.Screenshot(ctx)
	if err == nil {
		t.Fatal("expected screenshot error from executor")
	}
	if !strings.Contains(err.Error(), "no display attached") {
		t.Errorf("error = %q, want the executor message", err)
	}
}

func TestClient_DisconnectRemovesAgent(t *testing.T) {
	pool := driver.NewPool(testLogger(), nil)
	_, cancel := startWorker(t, pool, &stubExecutor{})

	cancel()

	waitFor(t, "agent removal after shutdown", func() bool {
		return len(pool.Agents()) == 0
	})
}

func TestClient_ReconnectsAfterConnectionDrop(t *testing.T) {
	pool := driver.NewPool(testLogger(), nil)
	srv := httptest.NewServer(pool)
	defer srv.Close()

	cfg := Config{
		ServerURL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		AgentID:           "worker-rc",
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectDelay:    50 * time.Millisecond,
	}
	client := NewClient(cfg, &stubExecutor{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	waitFor(t, "initial registration", func() bool {
		return len(pool.Agents()) == 1
	})

	srv.CloseClientConnections()

	waitFor(t, "re-registration after drop", func() bool {
		agents := pool.Agents()
		return len(agents) == 1 && agents[0].Status == models.AgentIdle
	})
}
