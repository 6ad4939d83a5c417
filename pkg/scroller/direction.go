// pkg/scroller/direction.go
package scroller

// ScrollReader reports the current vertical scroll offset.
type ScrollReader interface {
	ScrollY() float64
}

// DirectionTracker classifies vertical scroll direction between calls.
// It is not safe for concurrent use.
type DirectionTracker struct {
	reader   ScrollReader
	previous float64
}

// NewDirectionTracker starts with a previous offset of 0.
func NewDirectionTracker(reader ScrollReader) *DirectionTracker {
	return &DirectionTracker{reader: reader}
}

// Classify reports whether the offset grew since the last call and records
// the current offset. An unchanged offset counts as not scrolling down.
func (d *DirectionTracker) Classify() bool {
	current := d.reader.ScrollY()
	down := current > d.previous
	d.previous = current
	return down
}

// Previous returns the offset recorded by the last Classify.
func (d *DirectionTracker) Previous() float64 {
	return d.previous
}
