// pkg/scroller/band.go
package scroller

import (
	"math"
	"strconv"
)

// DefaultOffset places the trigger line in the middle of the viewport.
const DefaultOffset = 0.5

// TriggerBand is the slice of the viewport where an element counts as active,
// expressed as inward insets in percent of the viewport height. Both values
// are negative for offsets inside (0,1) and always sum to -100.
type TriggerBand struct {
	TopMargin    float64
	BottomMargin float64
}

// NewTriggerBand derives the band for offset. A NaN offset is treated as
// DefaultOffset. Values outside (0,1) are not clamped.
func NewTriggerBand(offset float64) TriggerBand {
	if math.IsNaN(offset) {
		offset = DefaultOffset
	}
	return TriggerBand{
		TopMargin:    -100 * (1 - offset),
		BottomMargin: -100 * offset,
	}
}

// RootMargin renders the band as an IntersectionObserver rootMargin value.
func (b TriggerBand) RootMargin() string {
	return formatPercent(b.TopMargin) + " 0px " + formatPercent(b.BottomMargin)
}

// Edges returns the band's top and bottom edges in viewport pixels for a
// viewport of the given height. With a well-formed offset both edges
// coincide and the band degenerates to the trigger line.
func (b TriggerBand) Edges(viewportHeight float64) (top, bottom float64) {
	top = -b.TopMargin / 100 * viewportHeight
	bottom = viewportHeight + b.BottomMargin/100*viewportHeight
	return top, bottom
}

// Contains reports whether r intersects the band of a viewport of the given
// height. The test is edge-inclusive, so an element touching the trigger
// line counts as intersecting.
func (b TriggerBand) Contains(r Rect, viewportHeight float64) bool {
	top, bottom := b.Edges(viewportHeight)
	return r.Top() <= bottom && r.Bottom() >= top
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
