// pkg/scroller/progress.go
package scroller

import (
	"math"
	"sync"
	"sync/atomic"
)

// Progress returns how far the trigger line at viewportHeight*offset has
// travelled through the vertical extent of bounds, clamped to [0,1].
// Zero-height bounds and non-finite inputs yield 0.
func Progress(bounds Rect, viewportHeight, offset float64) float64 {
	top, bottom := bounds.Top(), bounds.Bottom()
	span := bottom - top
	if span == 0 {
		return 0
	}
	p := (viewportHeight*offset - top) / span
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(1, p))
}

// progressSample is one computed progress value.
type progressSample struct {
	bounds   Rect
	progress float64
}

// progressTracker streams progress samples for one element while active.
type progressTracker[E comparable] struct {
	host    Host[E]
	element E
	offset  float64
	emit    func(progressSample)

	stopped atomic.Bool
	mu      sync.Mutex
	cancel  func()
}

func newProgressTracker[E comparable](host Host[E], element E, offset float64, emit func(progressSample)) *progressTracker[E] {
	return &progressTracker[E]{
		host:    host,
		element: element,
		offset:  offset,
		emit:    emit,
	}
}

// start emits a sample from initial and then one per host scroll
// notification using freshly read bounds. A tracker stopped before or
// while subscribing drops the subscription at once.
func (t *progressTracker[E]) start(initial Rect) {
	cancel := t.host.OnScroll(t.onScroll)
	t.mu.Lock()
	if t.stopped.Load() {
		t.mu.Unlock()
		cancel()
		return
	}
	t.cancel = cancel
	t.mu.Unlock()
	t.sample(initial)
}

func (t *progressTracker[E]) onScroll() {
	if t.stopped.Load() {
		return
	}
	t.sample(t.host.Bounds(t.element))
}

func (t *progressTracker[E]) sample(bounds Rect) {
	if t.stopped.Load() {
		return
	}
	t.emit(progressSample{
		bounds:   bounds,
		progress: Progress(bounds, t.host.ViewportHeight(), t.offset),
	})
}

// stop cancels the scroll subscription. Later calls do nothing.
func (t *progressTracker[E]) stop() {
	t.mu.Lock()
	t.stopped.Store(true)
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
