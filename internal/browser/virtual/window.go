// internal/browser/virtual/window.go
package virtual

import (
	"math"
	"slices"
	"sync"

	"github.com/xkilldash9x/scroller/pkg/scroller"
	"go.uber.org/zap"
)

// DefaultWidth is the viewport width used when none is given.
const DefaultWidth = 1280.0

// Window is a simulated viewport over a Document. It implements
// scroller.Host[*Node]. All notifications are delivered synchronously on the
// goroutine that calls ScrollTo or Tick.
type Window struct {
	doc    *Document
	width  float64
	height float64
	logger *zap.Logger

	mu        sync.Mutex
	scrollY   float64
	listeners []scrollListener
	nextID    uint64
	observers []*observer
}

type scrollListener struct {
	id uint64
	fn func()
}

// NewWindow creates a viewport of the given height at scroll offset 0.
func NewWindow(doc *Document, viewportHeight float64, logger *zap.Logger) *Window {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Window{
		doc:    doc,
		width:  DefaultWidth,
		height: viewportHeight,
		logger: logger.Named("virtual_window"),
	}
}

// Document returns the document shown in the window.
func (w *Window) Document() *Document { return w.doc }

// ScrollY implements scroller.Host.
func (w *Window) ScrollY() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scrollY
}

// ViewportHeight implements scroller.Host.
func (w *Window) ViewportHeight() float64 { return w.height }

// Bounds implements scroller.Host. Unknown nodes report an empty rect.
func (w *Window) Bounds(n *Node) scroller.Rect {
	if !w.doc.owns(n) {
		return scroller.Rect{}
	}
	return scroller.Rect{
		X:      0,
		Y:      n.top - w.ScrollY(),
		Width:  w.width,
		Height: n.height,
	}
}

// MaxScroll returns the largest reachable scroll offset.
func (w *Window) MaxScroll() float64 {
	return math.Max(0, w.doc.Height()-w.height)
}

// ScrollTo moves the viewport to y, clamped to the scrollable range. Scroll
// listeners run first if the offset changed, then intersections are updated.
func (w *Window) ScrollTo(y float64) {
	y = math.Max(0, math.Min(y, w.MaxScroll()))

	w.mu.Lock()
	changed := y != w.scrollY
	w.scrollY = y
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()

	if changed {
		w.logger.Debug("Scrolled.", zap.Float64("scroll_y", y))
		for _, l := range listeners {
			l.fn()
		}
	}
	w.Tick()
}

// ScrollBy scrolls relative to the current offset.
func (w *Window) ScrollBy(dy float64) {
	w.ScrollTo(w.ScrollY() + dy)
}

// ScrollToTopOf puts the trigger line just inside the top of n.
func (w *Window) ScrollToTopOf(n *Node) {
	w.ScrollTo(n.Top() + 10 - w.height/2)
}

// ScrollAbove puts the trigger line just above n.
func (w *Window) ScrollAbove(n *Node) {
	w.ScrollTo(n.Top() - 1 - w.height/2)
}

// ScrollBelow puts the trigger line just below n.
func (w *Window) ScrollBelow(n *Node) {
	w.ScrollTo(n.Bottom() + 1 - w.height/2)
}

// OnScroll implements scroller.Host.
func (w *Window) OnScroll(fn func()) (cancel func()) {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.listeners = append(w.listeners, scrollListener{id: id, fn: fn})
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.listeners = slices.DeleteFunc(w.listeners, func(l scrollListener) bool { return l.id == id })
	}
}

// ScrollListeners returns the number of registered scroll listeners.
func (w *Window) ScrollListeners() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners)
}

// Observe implements scroller.Host.
func (w *Window) Observe(band scroller.TriggerBand, callback func([]scroller.Entry[*Node])) (scroller.Observer[*Node], error) {
	obs := &observer{
		win:      w,
		band:     band,
		callback: callback,
		state:    make(map[*Node]bool),
	}
	w.mu.Lock()
	w.observers = append(w.observers, obs)
	w.mu.Unlock()
	return obs, nil
}

// Tick runs one intersection pass without scrolling. Each observer
// delivers at most one batch, holding the targets whose state changed in
// observation order. Newly observed targets always report once.
func (w *Window) Tick() {
	w.mu.Lock()
	observers := slices.Clone(w.observers)
	w.mu.Unlock()

	for _, obs := range observers {
		if batch := obs.collect(); len(batch) > 0 {
			obs.callback(batch)
		}
	}
}

type observer struct {
	win      *Window
	band     scroller.TriggerBand
	callback func([]scroller.Entry[*Node])

	mu       sync.Mutex
	targets  []*Node
	state    map[*Node]bool
	reported map[*Node]bool
	done     bool
}

func (o *observer) Observe(n *Node) error {
	if !o.win.doc.owns(n) {
		return ErrUnknownElement
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done || slices.Contains(o.targets, n) {
		return nil
	}
	o.targets = append(o.targets, n)
	return nil
}

func (o *observer) Disconnect() {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.done = true
	o.targets = nil
	o.mu.Unlock()

	w := o.win
	w.mu.Lock()
	w.observers = slices.DeleteFunc(w.observers, func(x *observer) bool { return x == o })
	w.mu.Unlock()
}

func (o *observer) collect() []scroller.Entry[*Node] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return nil
	}
	if o.reported == nil {
		o.reported = make(map[*Node]bool)
	}

	var batch []scroller.Entry[*Node]
	for _, n := range o.targets {
		bounds := o.win.Bounds(n)
		now := o.band.Contains(bounds, o.win.height)
		if o.reported[n] && o.state[n] == now {
			continue
		}
		o.reported[n] = true
		o.state[n] = now
		batch = append(batch, scroller.Entry[*Node]{Target: n, Bounds: bounds, IsIntersecting: now})
	}
	return batch
}
