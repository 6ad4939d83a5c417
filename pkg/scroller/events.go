// pkg/scroller/events.go
package scroller

// EventType names an event emitted by a Scroller. The set is closed; every
// value a Scroller emits is one of the constants below.
type EventType string

const (
	EventInit EventType = "init"

	// Plain variant.
	EventEnter    EventType = "enter"
	EventExit     EventType = "exit"
	EventProgress EventType = "progress"

	// Namespaced variant.
	EventSceneEnter        EventType = "scene:enter"
	EventSceneExit         EventType = "scene:exit"
	EventSceneProgress     EventType = "scene:progress"
	EventContainerEnter    EventType = "container:enter"
	EventContainerExit     EventType = "container:exit"
	EventContainerProgress EventType = "container:progress"
)

// Variant selects which family of event types a Scroller emits.
type Variant int

const (
	// VariantNamespaced emits scene:* and container:* events.
	VariantNamespaced Variant = iota
	// VariantPlain emits enter, exit and progress for scenes and container alike.
	VariantPlain
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case VariantNamespaced:
		return "namespaced"
	case VariantPlain:
		return "plain"
	default:
		return "unknown"
	}
}

// ParseVariant maps a configuration string to a Variant. Unknown values
// fall back to VariantNamespaced and report ok=false.
func ParseVariant(s string) (v Variant, ok bool) {
	switch s {
	case "", "namespaced":
		return VariantNamespaced, true
	case "plain":
		return VariantPlain, true
	default:
		return VariantNamespaced, false
	}
}

// Kind distinguishes scenes from the optional container.
type Kind int

const (
	KindScene Kind = iota
	KindContainer
)

// String returns the event prefix for the kind.
func (k Kind) String() string {
	if k == KindContainer {
		return "container"
	}
	return "scene"
}

// transitionTypes is the set of event types used for one kind of element.
type transitionTypes struct {
	enter    EventType
	exit     EventType
	progress EventType
}

var eventTable = map[Variant]map[Kind]transitionTypes{
	VariantNamespaced: {
		KindScene:     {enter: EventSceneEnter, exit: EventSceneExit, progress: EventSceneProgress},
		KindContainer: {enter: EventContainerEnter, exit: EventContainerExit, progress: EventContainerProgress},
	},
	VariantPlain: {
		KindScene:     {enter: EventEnter, exit: EventExit, progress: EventProgress},
		KindContainer: {enter: EventEnter, exit: EventExit, progress: EventProgress},
	},
}

func typesFor(v Variant, k Kind) transitionTypes {
	return eventTable[v][k]
}

// Event is the payload delivered to handlers.
type Event[E comparable] struct {
	Type EventType
	// Kind reports whether Element is a scene or the container.
	Kind Kind
	// Bounds are the element's viewport-relative bounds when the event fired.
	Bounds Rect
	// Index is the scene's registration index, or NotAScene for the container.
	Index int
	// IsScrollingDown is the direction verdict of the batch that produced a
	// transition. It is false on progress events.
	IsScrollingDown bool
	Element         E
	// Progress is set on progress events only; HasProgress tells them apart
	// from a genuine zero.
	Progress    float64
	HasProgress bool
}

// Handler receives events from a Scroller.
type Handler[E comparable] interface {
	Handle(ev Event[E])
}

// HandlerFunc adapts a function to Handler. Function values cannot be
// compared, so they are never deduplicated and Off cannot remove them; use
// the function returned by On instead.
type HandlerFunc[E comparable] func(ev Event[E])

// Handle calls f(ev).
func (f HandlerFunc[E]) Handle(ev Event[E]) { f(ev) }
