package driver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type commandOutcome struct {
	result json.RawMessage
	err    error
}

func startCommand(a *Agent, name string, timeout time.Duration) chan commandOutcome {
	out := make(chan commandOutcome, 1)
	go func() {
		result, err := a.Command(context.Background(), name, nil, timeout)
		out <- commandOutcome{result: result, err: err}
	}()
	return out
}

func readSentFrame(t *testing.T, a *Agent) Frame {
	t.Helper()
	select {
	case data := <-a.send:
		frame, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent")
		return Frame{}
	}
}

func TestAgentCommand_ResolvesOnResponse(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())

	out := startCommand(a, CmdURL, time.Second)

	sent := readSentFrame(t, a)
	if sent.Type != FrameCommand {
		t.Fatalf("sent frame type = %q, want %q", sent.Type, FrameCommand)
	}
	if sent.Command != CmdURL {
		t.Errorf("sent command = %q, want %q", sent.Command, CmdURL)
	}
	if sent.ID == "" {
		t.Error("sent frame has empty correlation id")
	}

	a.handleFrame(Frame{
		Type:   FrameResponse,
		ID:     sent.ID,
		OK:     boolPtr(true),
		Result: json.RawMessage(`"https://example.com/cart"`),
	})

	res := <-out
	if res.err != nil {
		t.Fatalf("Command returned error: %v", res.err)
	}
	var url string
	if err := json.Unmarshal(res.result, &url); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if url != "https://example.com/cart" {
		t.Errorf("result = %q, want %q", url, "https://example.com/cart")
	}
}

func TestAgentCommand_ErrorResponse(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())

	out := startCommand(a, CmdNavigate, time.Second)
	sent := readSentFrame(t, a)

	a.handleFrame(Frame{
		Type:  FrameResponse,
		ID:    sent.ID,
		OK:    boolPtr(false),
		Error: "navigation failed",
	})

	res := <-out
	if res.err == nil {
		t.Fatal("expected error for ok=false response")
	}
	if !strings.Contains(res.err.Error(), "navigation failed") {
		t.Errorf("error = %q, want it to carry the worker message", res.err)
	}
}

func TestAgentCommand_Timeout(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())

	_, err := a.Command(context.Background(), CmdScreenshot, nil, 30*time.Millisecond)
	if !models.HasCode(err, models.CodeAgentCommandTimeout) {
		t.Fatalf("error = %v, want code %s", err, models.CodeAgentCommandTimeout)
	}

	a.mu.Lock()
	pending := len(a.waiters)
	a.mu.Unlock()
	if pending != 0 {
		t.Errorf("waiters left after timeout = %d, want 0", pending)
	}
}

func TestAgentCommand_DisconnectRejectsWaiters(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())

	out := startCommand(a, CmdScreenshot, 10*time.Second)
	readSentFrame(t, a)

	a.close()

	res := <-out
	if !models.HasCode(res.err, models.CodeAgentDisconnected) {
		t.Fatalf("error = %v, want code %s", res.err, models.CodeAgentDisconnected)
	}
}

func TestAgentCommand_ClosedSocket(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())
	a.close()

	_, err := a.Command(context.Background(), CmdPing, nil, time.Second)
	if !models.HasCode(err, models.CodeAgentSocketNotOpen) {
		t.Fatalf("error = %v, want code %s", err, models.CodeAgentSocketNotOpen)
	}
}

func TestAgentCommand_ContextCancelled(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan commandOutcome, 1)
	go func() {
		result, err := a.Command(ctx, CmdScreenshot, nil, 10*time.Second)
		out <- commandOutcome{result: result, err: err}
	}()
	readSentFrame(t, a)
	cancel()

	res := <-out
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", res.err)
	}
}

func TestAgentHandleFrame_PingEnqueuesPong(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())

	a.handleFrame(Frame{Type: FramePing})

	reply := readSentFrame(t, a)
	if reply.Type != FramePong {
		t.Errorf("reply type = %q, want %q", reply.Type, FramePong)
	}
}

func TestAgentHandleFrame_HandshakeAckSetsIdle(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())
	if got := a.Status(); got != models.AgentConnecting {
		t.Fatalf("initial status = %q, want %q", got, models.AgentConnecting)
	}

	a.handleFrame(Frame{Type: FrameHandshakeAck})

	if got := a.Status(); got != models.AgentIdle {
		t.Errorf("status after ack = %q, want %q", got, models.AgentIdle)
	}
}

func TestAgentHandleFrame_StatusUpdate(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())

	a.handleFrame(Frame{Type: FrameStatus, Status: string(models.AgentBusy)})

	if got := a.Status(); got != models.AgentBusy {
		t.Errorf("status = %q, want %q", got, models.AgentBusy)
	}
}

func TestAgentHandleFrame_TouchesLastSeen(t *testing.T) {
	a := newAgent("a1", nil, nil, testLogger())
	a.mu.Lock()
	a.lastSeen = time.Now().Add(-time.Hour)
	a.mu.Unlock()

	a.handleFrame(Frame{Type: FramePong})

	if time.Since(a.lastSeenAt()) > time.Minute {
		t.Error("lastSeen not refreshed by inbound frame")
	}
}
