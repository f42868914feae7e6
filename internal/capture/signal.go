// internal/capture/signal.go
package capture

import "time"

// Signal kinds delivered by the page instrumentation. Lifecycle signals
// (page_load, dom_ready, navigation) carry a fresh document snapshot;
// interaction signals reference the current one.
const (
	SignalPageLoad   = "page_load"
	SignalDOMReady   = "dom_ready"
	SignalNavigation = "navigation"
	SignalClick      = "click"
	SignalKeydown    = "keydown"
	SignalInput      = "input"
	SignalSubmit     = "submit"
	SignalScroll     = "scroll"
	SignalVisibility = "visibility"
	SignalUnload     = "unload"
)

// Signal is one raw observation from a page context.
type Signal struct {
	Kind       string    `json:"kind"`
	TabID      int       `json:"tab_id"`
	URL        string    `json:"url"`
	Referrer   string    `json:"referrer,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitzero"`

	// Interaction fields.
	Target string `json:"target,omitempty"` // CSS path of the event target
	Key    string `json:"key,omitempty"`
	Shift  bool   `json:"shift,omitempty"`
	Value  string `json:"value,omitempty"` // current text of the focused input
	X      int    `json:"x,omitempty"`
	Y      int    `json:"y,omitempty"`

	// Scroll fields.
	ScrollTop      int `json:"scroll_top,omitempty"`
	ScrollHeight   int `json:"scroll_height,omitempty"`
	ViewportHeight int `json:"viewport_height,omitempty"`

	// Visibility.
	Visible bool `json:"visible,omitempty"`

	// Document HTML for lifecycle signals.
	HTML string `json:"html,omitempty"`
}
