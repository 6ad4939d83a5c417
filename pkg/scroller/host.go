// pkg/scroller/host.go
package scroller

// Rect is an element's bounding box relative to the viewport, matching the
// shape of a DOMRect returned by getBoundingClientRect.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Top returns the top edge, accounting for negative heights.
func (r Rect) Top() float64 {
	if r.Height < 0 {
		return r.Y + r.Height
	}
	return r.Y
}

// Bottom returns the bottom edge, accounting for negative heights.
func (r Rect) Bottom() float64 {
	if r.Height < 0 {
		return r.Y
	}
	return r.Y + r.Height
}

// Left returns the left edge, accounting for negative widths.
func (r Rect) Left() float64 {
	if r.Width < 0 {
		return r.X + r.Width
	}
	return r.X
}

// Right returns the right edge, accounting for negative widths.
func (r Rect) Right() float64 {
	if r.Width < 0 {
		return r.X
	}
	return r.X + r.Width
}

// Entry is one element's change notification inside an intersection batch.
type Entry[E comparable] struct {
	Target         E
	Bounds         Rect
	IsIntersecting bool
}

// Observer is a live intersection subscription created by a Host.
type Observer[E comparable] interface {
	// Observe adds el to the subscription. Observing an element twice is a no-op.
	Observe(el E) error
	// Disconnect stops all observation. It is safe to call more than once.
	Disconnect()
}

// Host is the environment an engine runs in: a scrolling context that can
// report geometry and deliver intersection and scroll notifications.
//
// A Host must deliver every intersection batch and scroll notification from
// a single execution context, one at a time.
type Host[E comparable] interface {
	// ScrollY returns the current vertical scroll offset.
	ScrollY() float64
	// ViewportHeight returns the height of the visible area.
	ViewportHeight() float64
	// Bounds returns the current viewport-relative bounds of el.
	Bounds(el E) Rect
	// Observe creates an intersection subscription against band. Batches of
	// changed entries are passed to callback in the order the host produces them.
	Observe(band TriggerBand, callback func(entries []Entry[E])) (Observer[E], error)
	// OnScroll registers fn for scroll-position changes and returns a function
	// that cancels the registration.
	OnScroll(fn func()) (cancel func())
}
