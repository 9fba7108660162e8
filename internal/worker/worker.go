// Package worker runs the browser side of the agent protocol: it dials the
// driver, handshakes, heartbeats, and executes command frames against a
// local Chrome through the Engine.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/backoff"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/driver"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

const (
	defaultHeartbeat = 10 * time.Second
	defaultReconnect = 5 * time.Second
	handshakeTimeout = 15 * time.Second
	frameWriteWait   = 10 * time.Second
	outBuffer        = 64
)

// Executor executes one command frame and returns a JSON-encodable result.
type Executor interface {
	Execute(ctx context.Context, command string, payload json.RawMessage) (any, error)
}

// Config configures the worker client.
type Config struct {
	// ServerURL is the driver's WebSocket endpoint,
	// e.g. ws://localhost:3001/v1/agent/ws.
	ServerURL string

	// AgentID is the requested identity; the driver may assign another.
	AgentID string

	// HeartbeatInterval defaults to 10s.
	HeartbeatInterval time.Duration

	// ReconnectDelay seeds the redial backoff; defaults to 5s. The delay
	// doubles per consecutive failure up to 30s and resets once the driver
	// accepts a handshake.
	ReconnectDelay time.Duration
}

// Client maintains the connection to the driver and dispatches commands.
type Client struct {
	cfg    Config
	engine Executor
	logger *slog.Logger

	mu      sync.Mutex
	agentID string
}

// NewClient builds a worker client around an executor.
func NewClient(cfg Config, engine Executor, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnect
	}
	return &Client{cfg: cfg, engine: engine, logger: logger}
}

// AgentID reports the driver-assigned identity of the current connection.
func (c *Client) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

func (c *Client) setAgentID(id string) {
	c.mu.Lock()
	c.agentID = id
	c.mu.Unlock()
}

// Run connects and serves until ctx is cancelled, reconnecting after
// transport failures with jittered exponential delays.
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.Reconnect(c.cfg.ReconnectDelay)
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.logger.Info("connecting to driver", "url", c.cfg.ServerURL)
		welcomed, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if welcomed {
			failures = 0
		}
		failures++

		delay := policy.Delay(failures)
		c.logger.Warn("driver connection lost", "error", err,
			"retry_in", delay.Round(time.Millisecond))
		if err := backoff.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// runOnce performs one full connection lifecycle: dial, handshake, serve.
// The boolean reports whether the driver accepted the handshake.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.ServerURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial driver: %w", err)
	}
	defer conn.Close()

	if err := writeFrame(conn, driver.Frame{Type: driver.FrameHandshake, AgentID: c.cfg.AgentID}); err != nil {
		return false, fmt.Errorf("send handshake: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	welcome, err := readFrame(conn)
	if err != nil {
		return false, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type != driver.FrameWelcome {
		return false, fmt.Errorf("expected %s frame, got %s", driver.FrameWelcome, welcome.Type)
	}
	conn.SetReadDeadline(time.Time{})

	c.setAgentID(welcome.AgentID)
	c.logger.Info("registered with driver", "agent_id", welcome.AgentID)

	out := make(chan driver.Frame, outBuffer)
	done := make(chan struct{})
	defer close(done)

	go c.writePump(conn, out, done)
	go c.heartbeatLoop(out, done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c.send(out, done, driver.Frame{Type: driver.FrameHandshakeAck, AgentID: welcome.AgentID})
	c.send(out, done, driver.Frame{Type: driver.FrameStatus, Status: string(models.AgentIdle)})

	for {
		frame, err := readFrame(conn)
		if err != nil {
			return true, err
		}
		c.handleFrame(ctx, frame, out, done)
	}
}

func (c *Client) handleFrame(ctx context.Context, frame driver.Frame, out chan driver.Frame, done chan struct{}) {
	switch frame.Type {
	case driver.FrameCommand:
		go c.execute(ctx, frame, out, done)
	case driver.FramePong:
		// Heartbeat acknowledged.
	case driver.FrameWelcome:
		// Duplicate welcome; identity already adopted.
	default:
		c.logger.Debug("unexpected frame from driver", "type", frame.Type)
	}
}

// execute runs one command and sends the correlated RESPONSE.
func (c *Client) execute(ctx context.Context, frame driver.Frame, out chan driver.Frame, done chan struct{}) {
	start := time.Now()
	result, err := c.engine.Execute(ctx, frame.Command, frame.Payload)

	reply := driver.Frame{Type: driver.FrameResponse, ID: frame.ID}
	if err != nil {
		c.logger.Warn("command failed", "command", frame.Command, "error", err,
			"elapsed", time.Since(start).Round(time.Millisecond))
		ok := false
		reply.OK = &ok
		reply.Error = err.Error()
		c.send(out, done, reply)
		return
	}

	ok := true
	reply.OK = &ok
	if result != nil {
		if raw, isRaw := result.(json.RawMessage); isRaw {
			reply.Result = raw
		} else {
			data, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				ok = false
				reply.OK = &ok
				reply.Error = fmt.Sprintf("encode result: %v", marshalErr)
				c.send(out, done, reply)
				return
			}
			reply.Result = data
		}
	}
	c.logger.Debug("command completed", "command", frame.Command,
		"elapsed", time.Since(start).Round(time.Millisecond))
	c.send(out, done, reply)
}

func (c *Client) send(out chan driver.Frame, done chan struct{}, frame driver.Frame) {
	select {
	case out <- frame:
	case <-done:
	}
}

// writePump is the single connection writer.
func (c *Client) writePump(conn *websocket.Conn, out chan driver.Frame, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame := <-out:
			if err := writeFrame(conn, frame); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) heartbeatLoop(out chan driver.Frame, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.send(out, done, driver.Frame{Type: driver.FramePing})
		}
	}
}

func writeFrame(conn *websocket.Conn, frame driver.Frame) error {
	data, err := driver.EncodeFrame(frame)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(frameWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func readFrame(conn *websocket.Conn) (driver.Frame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return driver.Frame{}, err
	}
	return driver.DecodeFrame(data)
}
