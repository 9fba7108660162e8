package driver

import "github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"

// Command payloads shared by the driver and the browser worker. Field names
// are the wire contract.

// NavigateOptions mirror the worker's page.goto options.
type NavigateOptions struct {
	WaitUntil string `json:"waitUntil,omitempty"`
}

// NavigatePayload is the NAVIGATE command body.
type NavigatePayload struct {
	URL     string          `json:"url"`
	Options NavigateOptions `json:"options"`
}

// ScreenshotPayload is the SCREENSHOT command body.
type ScreenshotPayload struct {
	FullPage bool `json:"fullPage,omitempty"`
}

// SetViewportPayload is the SET_VIEWPORT command body.
type SetViewportPayload struct {
	Size models.Viewport `json:"size"`
}

// ClickViewportPayload is the CLICK_VIEWPORT command body. Coordinates are
// CSS viewport pixels.
type ClickViewportPayload struct {
	VX         float64 `json:"vx"`
	VY         float64 `json:"vy"`
	Button     string  `json:"button,omitempty"`
	ClickCount int     `json:"clickCount,omitempty"`
}

// MousePayload is the MOUSE_MOVE and MOUSE_CLICK command body.
type MousePayload struct {
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Button string  `json:"button,omitempty"`
}

// KeyPressPayload is the KEY_PRESS command body.
type KeyPressPayload struct {
	Key string `json:"key"`
}

// TypeTextPayload is the TYPE_TEXT command body. Delay is per-keystroke ms.
type TypeTextPayload struct {
	Text  string `json:"text"`
	Delay int    `json:"delay,omitempty"`
}

// ClearInputPayload is the CLEAR_ACTIVE_INPUT command body.
type ClearInputPayload struct {
	Token string `json:"token,omitempty"`
}

// ScrollUniversalPayload is the SCROLL_UNIVERSAL command body. Amount <= 0
// lets the worker derive the delta from the viewport height.
type ScrollUniversalPayload struct {
	Direction string `json:"direction"`
	Amount    int    `json:"amount,omitempty"`
}

// ScrollViewportPayload is the SCROLL_VIEWPORT command body.
type ScrollViewportPayload struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// HittablesOptions bound the GET_HITTABLES_VIEWPORT snapshot.
type HittablesOptions struct {
	Max     int `json:"max,omitempty"`
	MinSize int `json:"minSize,omitempty"`
}

// EvaluatePayload is the EVALUATE command body.
type EvaluatePayload struct {
	Expression string `json:"expression"`
	Arg        any    `json:"arg,omitempty"`
}

// WaitLoadStatePayload is the WAIT_FOR_LOAD_STATE command body.
type WaitLoadStatePayload struct {
	State     string `json:"state,omitempty"`
	TimeoutMS int    `json:"timeout,omitempty"`
}

// WaitTimeoutPayload is the WAIT_FOR_TIMEOUT command body.
type WaitTimeoutPayload struct {
	MS int `json:"ms"`
}

// WaitFunctionPayload is the WAIT_FOR_FUNCTION command body.
type WaitFunctionPayload struct {
	Expression string `json:"expression"`
	TimeoutMS  int    `json:"timeout,omitempty"`
}

// AddInitScriptPayload is the ADD_INIT_SCRIPT command body.
type AddInitScriptPayload struct {
	Script string `json:"script"`
}
