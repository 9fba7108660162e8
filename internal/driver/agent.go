package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// Command timeouts. Callers override per command class.
const (
	DefaultCommandTimeout = 15 * time.Second
	ScreenshotTimeout     = 20 * time.Second
	ClickTimeout          = 5 * time.Second
)

const (
	sendBuffer     = 64
	writeWait      = 10 * time.Second
	maxFrameBytes  = 32 << 20 // screenshots travel as base64 PNG
	staleThreshold = 60 * time.Second
)

type commandResult struct {
	result json.RawMessage
	err    error
}

// Agent is one connected browser worker. The pool mutates registry state;
// callers hold a pointer and issue commands concurrently.
type Agent struct {
	id     string
	pool   *Pool
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	waiters  map[string]chan commandResult
	status   models.AgentStatus
	lastSeen time.Time
	runID    string
	closed   bool
}

func newAgent(id string, pool *Pool, conn *websocket.Conn, logger *slog.Logger) *Agent {
	return &Agent{
		id:       id,
		pool:     pool,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		logger:   logger.With("agent_id", id),
		waiters:  make(map[string]chan commandResult),
		status:   models.AgentConnecting,
		lastSeen: time.Now(),
	}
}

// ID returns the pool-assigned agent identifier.
func (a *Agent) ID() string { return a.id }

// Status returns the current registry state.
func (a *Agent) Status() models.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Info snapshots the agent for the operability surface.
func (a *Agent) Info() models.AgentInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.AgentInfo{
		ID:         a.id,
		Status:     a.status,
		LastSeen:   a.lastSeen.UTC().Format(time.RFC3339),
		CurrentRun: a.runID,
	}
}

func (a *Agent) setStatus(status models.AgentStatus) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}

func (a *Agent) touch() {
	a.mu.Lock()
	a.lastSeen = time.Now()
	a.mu.Unlock()
}

func (a *Agent) lastSeenAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeen
}

// Command sends one COMMAND frame and waits for the correlated RESPONSE.
// A fresh UUID correlates request and response; the waiter is resolved by
// the read loop, rejected on timeout, context cancellation, or disconnect.
func (a *Agent) Command(ctx context.Context, name string, payload any, timeout time.Duration) (_ json.RawMessage, err error) {
	if tr := a.commandTracer(); tr != nil {
		var span trace.Span
		ctx, span = tr.TraceCommand(ctx, a.id, name)
		defer func() {
			tr.RecordError(span, err)
			span.End()
		}()
	}

	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", name, err)
		}
		raw = data
	}

	id := uuid.NewString()
	frame, err := EncodeFrame(Frame{Type: FrameCommand, ID: id, Command: name, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", name, err)
	}

	ch := make(chan commandResult, 1)
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, models.NewError(models.CodeAgentSocketNotOpen)
	}
	a.waiters[id] = ch
	a.mu.Unlock()

	select {
	case a.send <- frame:
	case <-a.done:
		a.removeWaiter(id)
		return nil, models.NewError(models.CodeAgentSocketNotOpen)
	default:
		a.removeWaiter(id)
		return nil, models.WrapError(models.CodeAgentSocketNotOpen, fmt.Errorf("send queue full for %s", name))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	start := time.Now()
	select {
	case res := <-ch:
		if res.err != nil {
			a.recordCommand(name, "error", start)
			return nil, res.err
		}
		a.recordCommand(name, "ok", start)
		return res.result, nil
	case <-timer.C:
		a.removeWaiter(id)
		a.recordCommand(name, "timeout", start)
		return nil, models.WrapError(models.CodeAgentCommandTimeout, fmt.Errorf("%s after %s", name, timeout))
	case <-ctx.Done():
		a.removeWaiter(id)
		a.recordCommand(name, "cancelled", start)
		return nil, ctx.Err()
	}
}

func (a *Agent) recordCommand(name, status string, start time.Time) {
	if a.pool == nil || a.pool.metrics == nil {
		return
	}
	a.pool.metrics.RecordCommand(name, status, time.Since(start).Seconds())
}

func (a *Agent) commandTracer() *observability.Tracer {
	if a.pool == nil {
		return nil
	}
	return a.pool.tracer
}

func (a *Agent) removeWaiter(id string) {
	a.mu.Lock()
	delete(a.waiters, id)
	a.mu.Unlock()
}

// handleFrame processes one worker frame. Exposed to the read loop and to
// unit tests.
func (a *Agent) handleFrame(frame Frame) {
	a.touch()

	switch frame.Type {
	case FrameResponse:
		a.resolve(frame)
	case FramePing:
		a.enqueue(Frame{Type: FramePong})
	case FramePong:
		// Heartbeat reply; lastSeen already updated.
	case FrameHandshakeAck:
		a.setStatus(models.AgentIdle)
		a.logger.Info("agent registered")
	case FrameStatus:
		if frame.Status != "" {
			a.setStatus(models.AgentStatus(frame.Status))
		}
	case FrameLog:
		a.logger.Debug("worker log", "message", frame.Message)
	case FrameEvent:
		a.logger.Debug("worker event", "payload", string(frame.Payload))
	default:
		a.logger.Debug("unexpected frame from worker", "type", frame.Type)
	}
}

func (a *Agent) resolve(frame Frame) {
	a.mu.Lock()
	ch, ok := a.waiters[frame.ID]
	if ok {
		delete(a.waiters, frame.ID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	if frame.OK != nil && !*frame.OK {
		msg := frame.Error
		if msg == "" {
			msg = "command failed"
		}
		ch <- commandResult{err: fmt.Errorf("%s", msg)}
		return
	}
	ch <- commandResult{result: frame.Result}
}

// enqueue queues a frame for the write loop, dropping it if the socket is
// saturated. Control frames are small; dropping beats blocking the reader.
func (a *Agent) enqueue(frame Frame) {
	data, err := EncodeFrame(frame)
	if err != nil {
		return
	}
	select {
	case a.send <- data:
	case <-a.done:
	default:
	}
}

// close rejects every pending waiter with agent_disconnected and tears the
// socket down. Idempotent.
func (a *Agent) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	waiters := a.waiters
	a.waiters = make(map[string]chan commandResult)
	a.mu.Unlock()

	for _, ch := range waiters {
		ch <- commandResult{err: models.NewError(models.CodeAgentDisconnected)}
	}
	close(a.done)
	if a.conn != nil {
		a.conn.Close()
	}
}

func (a *Agent) writeLoop() {
	for {
		select {
		case <-a.done:
			return
		case data := <-a.send:
			a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (a *Agent) readLoop() {
	defer a.pool.detach(a)

	a.conn.SetReadLimit(maxFrameBytes)
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			a.logger.Warn("undecodable frame from worker", "error", err)
			continue
		}
		a.handleFrame(frame)
	}
}
