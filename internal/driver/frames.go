// Package driver exposes a uniform command interface over one or more
// concurrently connected browser workers: WebSocket transport, agent
// selection, command correlation, and heartbeat pruning.
package driver

import "encoding/json"

// Frame types exchanged with workers. One JSON object per WebSocket message.
const (
	FrameCommand      = "COMMAND"
	FrameResponse     = "RESPONSE"
	FrameHandshake    = "HANDSHAKE"
	FrameHandshakeAck = "HANDSHAKE_ACK"
	FrameWelcome      = "WELCOME"
	FramePing         = "PING"
	FramePong         = "PONG"
	FrameEvent        = "EVENT"
	FrameLog          = "LOG"
	FrameStatus       = "STATUS"
)

// Command names in the worker contract.
const (
	CmdPing                  = "PING"
	CmdInit                  = "INIT"
	CmdNavigate              = "NAVIGATE"
	CmdGoBack                = "GO_BACK"
	CmdURL                   = "URL"
	CmdScreenshot            = "SCREENSHOT"
	CmdViewport              = "VIEWPORT"
	CmdSetViewport           = "SET_VIEWPORT"
	CmdClickViewport         = "CLICK_VIEWPORT"
	CmdMouseMove             = "MOUSE_MOVE"
	CmdMouseClick            = "MOUSE_CLICK"
	CmdKeyPress              = "KEY_PRESS"
	CmdTypeText              = "TYPE_TEXT"
	CmdPressEnter            = "PRESS_ENTER"
	CmdClearActiveInput      = "CLEAR_ACTIVE_INPUT"
	CmdScrollUniversal       = "SCROLL_UNIVERSAL"
	CmdScrollViewport        = "SCROLL_VIEWPORT"
	CmdGetHittablesViewport  = "GET_HITTABLES_VIEWPORT"
	CmdEvaluate              = "EVALUATE"
	CmdWaitForLoadState      = "WAIT_FOR_LOAD_STATE"
	CmdWaitForTimeout        = "WAIT_FOR_TIMEOUT"
	CmdWaitForFunction       = "WAIT_FOR_FUNCTION"
	CmdWaitForAnimationFrame = "WAIT_FOR_ANIMATION_FRAME"
	CmdAddInitScript         = "ADD_INIT_SCRIPT"
)

// Frame is the wire envelope. Driver→worker frames are COMMAND, WELCOME,
// PONG; worker→driver frames are HANDSHAKE, HANDSHAKE_ACK, PING, RESPONSE,
// EVENT, LOG, STATUS.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Handshake fields.
	AgentID string `json:"agentId,omitempty"`

	// Response fields.
	OK     *bool           `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// Status and log fields.
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// EncodeFrame marshals a frame for the socket.
func EncodeFrame(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}

// DecodeFrame parses one wire message.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	err := json.Unmarshal(data, &frame)
	return frame, err
}

func boolPtr(v bool) *bool { return &v }
