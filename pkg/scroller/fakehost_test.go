package scroller_test

import (
	"errors"
	"slices"

	"github.com/xkilldash9x/scroller/pkg/scroller"
)

// el is a test element; pointers give each element a distinct identity.
type el struct{ Name string }

// fakeHost is a scriptable scroller.Host. Tests push batches and scroll
// events by hand.
type fakeHost struct {
	scrollY   float64
	height    float64
	bounds    map[*el]scroller.Rect
	listeners map[int]func()
	nextID    int

	observers  []*fakeObserver
	observeErr error
	failOn     *el
	// beforeSubscribe runs inside OnScroll before the listener is added.
	beforeSubscribe func()
}

func newFakeHost(height float64) *fakeHost {
	return &fakeHost{
		height:    height,
		bounds:    make(map[*el]scroller.Rect),
		listeners: make(map[int]func()),
	}
}

func (h *fakeHost) ScrollY() float64          { return h.scrollY }
func (h *fakeHost) ViewportHeight() float64   { return h.height }
func (h *fakeHost) Bounds(e *el) scroller.Rect { return h.bounds[e] }

func (h *fakeHost) Observe(band scroller.TriggerBand, cb func([]scroller.Entry[*el])) (scroller.Observer[*el], error) {
	if h.observeErr != nil {
		return nil, h.observeErr
	}
	o := &fakeObserver{host: h, band: band, cb: cb}
	h.observers = append(h.observers, o)
	return o, nil
}

func (h *fakeHost) OnScroll(fn func()) func() {
	if h.beforeSubscribe != nil {
		h.beforeSubscribe()
	}
	h.nextID++
	id := h.nextID
	h.listeners[id] = fn
	return func() { delete(h.listeners, id) }
}

// scroll moves to y and fires scroll listeners in registration order.
func (h *fakeHost) scroll(y float64) {
	h.scrollY = y
	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if fn, ok := h.listeners[id]; ok {
			fn()
		}
	}
}

// deliver sends one batch through every live observer.
func (h *fakeHost) deliver(entries ...scroller.Entry[*el]) {
	for _, o := range slices.Clone(h.observers) {
		if !o.disconnected {
			o.cb(entries)
		}
	}
}

type fakeObserver struct {
	host         *fakeHost
	band         scroller.TriggerBand
	cb           func([]scroller.Entry[*el])
	observed     []*el
	disconnected bool
}

var errObserve = errors.New("observe failed")

func (o *fakeObserver) Observe(e *el) error {
	if o.host.failOn == e {
		return errObserve
	}
	o.observed = append(o.observed, e)
	return nil
}

func (o *fakeObserver) Disconnect() { o.disconnected = true }

func enter(e *el, b scroller.Rect) scroller.Entry[*el] {
	return scroller.Entry[*el]{Target: e, Bounds: b, IsIntersecting: true}
}

func exit(e *el, b scroller.Rect) scroller.Entry[*el] {
	return scroller.Entry[*el]{Target: e, Bounds: b, IsIntersecting: false}
}

// capture is a comparable handler that records events.
type capture struct {
	events []scroller.Event[*el]
}

func (c *capture) Handle(ev scroller.Event[*el]) { c.events = append(c.events, ev) }

func (c *capture) types() []scroller.EventType {
	out := make([]scroller.EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}
