package models

// Hit states reported by the viewport collector.
const (
	// HitStateHittable means elementFromPoint at the element center
	// resolves to the element itself or a descendant.
	HitStateHittable = "hittable"

	// HitStateOccluded means another element covers the center point.
	HitStateOccluded = "occluded"

	// HitStateOffscreen means the element lies outside the current
	// viewport but inside the page.
	HitStateOffscreen = "offscreen_page"
)

// Hittable is a DOM-extracted click candidate as serialized by the browser
// worker's viewport collector. Coordinates are integral CSS viewport pixels.
type Hittable struct {
	// ID is stable within one snapshot: a role-prefixed ordinal such as
	// "button-3" or "link-12".
	ID string `json:"id"`

	// Name is the collapsed accessible text, value, or placeholder,
	// capped at 400 characters.
	Name string `json:"name"`

	// Role is the ARIA role, falling back to a tag-derived role.
	Role string `json:"role"`

	// Enabled is false for disabled form controls.
	Enabled bool `json:"enabled"`

	// HitState is one of the HitState* values.
	HitState string `json:"hit_state"`

	// Center is the [x, y] of the element's in-viewport center.
	Center []float64 `json:"center"`

	// Rect is [left, top, width, height].
	Rect []float64 `json:"rect"`

	// Selector is the preferred locator: #id, [data-testid=…],
	// [aria-label=…], then a short nth-of-type chain.
	Selector string `json:"selector,omitempty"`

	// Href is populated for anchors.
	Href string `json:"href,omitempty"`

	// ClassName is the raw class attribute, useful for journaling.
	ClassName string `json:"className,omitempty"`
}

// CenterXY returns the center coordinates, or (0, 0) when absent.
func (h Hittable) CenterXY() (float64, float64) {
	if len(h.Center) < 2 {
		return 0, 0
	}
	return h.Center[0], h.Center[1]
}

// Viewport is the worker-reported viewport geometry.
type Viewport struct {
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

// AgentStatus is the registry state of a connected browser worker.
type AgentStatus string

const (
	// AgentConnecting is the state between socket accept and HANDSHAKE_ACK.
	AgentConnecting AgentStatus = "connecting"

	// AgentIdle means the worker is registered and free.
	AgentIdle AgentStatus = "idle"

	// AgentBusy means the worker is assigned to a run.
	AgentBusy AgentStatus = "busy"
)

// AgentInfo is the externally visible description of a pool agent.
type AgentInfo struct {
	ID         string      `json:"id"`
	Status     AgentStatus `json:"status"`
	LastSeen   string      `json:"lastSeen"`
	CurrentRun string      `json:"currentRun,omitempty"`
}
