// pkg/scroller/scroller.go
package scroller

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/xkilldash9x/scroller/internal/bus"
	"go.uber.org/zap"
)

// Config describes a Scroller. It is copied and normalized by New; later
// changes to the caller's value have no effect.
type Config[E comparable] struct {
	// Scenes are the observed elements, indexed by position.
	Scenes []E
	// Container is an optional element observed alongside the scenes. The
	// zero value of E means no container.
	Container E
	// Offset positions the trigger band, as a fraction of viewport height.
	// 0 and NaN select DefaultOffset. Values outside (0,1) are used as given.
	Offset float64
	// Nudge is added to Offset when building the trigger band only.
	Nudge float64
	// Progress enables progress events while an element is inside the band.
	Progress bool
	// Variant selects the event naming scheme.
	Variant Variant
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Scroller watches scenes cross the trigger band of a Host and emits
// enter, exit and progress events to registered handlers.
type Scroller[E comparable] struct {
	id       string
	logger   *zap.Logger
	host     Host[E]
	offset   float64
	band     TriggerBand
	progress bool
	variant  Variant

	registry  *Registry[E]
	direction *DirectionTracker
	events    *bus.Bus[EventType, Event[E]]

	mu        sync.Mutex
	inside    map[E]bool
	trackers  map[E]*progressTracker[E]
	observers []Observer[E]
	closed    bool
}

// New builds a Scroller for host. Nothing is observed until Init.
func New[E comparable](host Host[E], cfg Config[E]) *Scroller[E] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.Named("scroller").With(zap.String("scroller_id", id))

	offset := cfg.Offset
	if offset == 0 || math.IsNaN(offset) {
		logger.Debug("Offset unset; using the default.", zap.Float64("configured", cfg.Offset), zap.Float64("offset", DefaultOffset))
		offset = DefaultOffset
	} else if offset < 0 || offset > 1 {
		logger.Warn("Offset outside (0,1); using it unmodified.", zap.Float64("offset", offset))
	}

	if cfg.Variant != VariantNamespaced && cfg.Variant != VariantPlain {
		logger.Warn("Unknown variant; using namespaced events.", zap.Int("variant", int(cfg.Variant)))
		cfg.Variant = VariantNamespaced
	}

	s := &Scroller[E]{
		id:        id,
		logger:    logger,
		host:      host,
		offset:    offset,
		band:      NewTriggerBand(offset + cfg.Nudge),
		progress:  cfg.Progress,
		variant:   cfg.Variant,
		registry:  NewRegistry(cfg.Scenes, cfg.Container),
		direction: NewDirectionTracker(host),
		events:    bus.New[EventType, Event[E]](),
		inside:    make(map[E]bool),
		trackers:  make(map[E]*progressTracker[E]),
	}
	return s
}

// ID returns the instance identifier used in logs and recordings.
func (s *Scroller[E]) ID() string { return s.id }

// Band returns the trigger band derived from the configuration.
func (s *Scroller[E]) Band() TriggerBand { return s.band }

// Offset returns the normalized offset used for progress.
func (s *Scroller[E]) Offset() float64 { return s.offset }

// Variant returns the configured event naming scheme.
func (s *Scroller[E]) Variant() Variant { return s.variant }

// IndexOf returns the registration index of el, or NotAScene.
func (s *Scroller[E]) IndexOf(el E) int { return s.registry.IndexOf(el) }

// EventTypes lists every event type this Scroller can emit.
func (s *Scroller[E]) EventTypes() []EventType {
	types := []EventType{EventInit}
	seen := map[EventType]bool{EventInit: true}
	for _, k := range []Kind{KindScene, KindContainer} {
		t := typesFor(s.variant, k)
		candidates := []EventType{t.enter, t.exit}
		if s.progress {
			candidates = append(candidates, t.progress)
		}
		for _, c := range candidates {
			if !seen[c] {
				seen[c] = true
				types = append(types, c)
			}
		}
	}
	return types
}

// On registers h for eventType and returns a function that removes it.
// Registering the same comparable handler twice for one type is a no-op.
func (s *Scroller[E]) On(eventType EventType, h Handler[E]) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}
	return s.events.On(eventType, handlerAdapter[E]{h})
}

// OnFunc registers fn for eventType. Every call is a separate registration.
func (s *Scroller[E]) OnFunc(eventType EventType, fn func(Event[E])) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return s.On(eventType, HandlerFunc[E](fn))
}

// Off removes h from eventType. It does nothing if h is not registered or
// cannot be compared.
func (s *Scroller[E]) Off(eventType EventType, h Handler[E]) {
	if h == nil {
		return
	}
	s.events.Off(eventType, handlerAdapter[E]{h})
}

// Init starts observing every scene, then the container, and emits init.
// Calling Init again creates a second, independent observer.
func (s *Scroller[E]) Init() error {
	obs, err := s.host.Observe(s.band, s.handleBatch)
	if err != nil {
		return fmt.Errorf("failed to create intersection observer: %w", err)
	}

	for _, el := range s.registry.Observed() {
		if err := obs.Observe(el); err != nil {
			obs.Disconnect()
			return fmt.Errorf("failed to observe element (index %d): %w", s.registry.IndexOf(el), err)
		}
	}

	s.mu.Lock()
	s.observers = append(s.observers, obs)
	s.closed = false
	s.mu.Unlock()

	s.logger.Debug("Observation started.",
		zap.Int("scenes", s.registry.Len()),
		zap.Bool("container", s.registry.hasContainer),
		zap.String("root_margin", s.band.RootMargin()),
		zap.Bool("progress", s.progress),
		zap.Stringer("variant", s.variant),
	)

	s.events.Emit(EventInit, Event[E]{Type: EventInit, Index: NotAScene})
	return nil
}

// Close disconnects all observers and stops progress tracking. Handlers stay
// registered. Close is safe to call more than once and from a handler.
func (s *Scroller[E]) Close() {
	s.mu.Lock()
	observers := s.observers
	trackers := s.trackers
	s.observers = nil
	s.trackers = make(map[E]*progressTracker[E])
	s.inside = make(map[E]bool)
	s.closed = true
	s.mu.Unlock()

	for _, obs := range observers {
		obs.Disconnect()
	}
	for _, t := range trackers {
		t.stop()
	}
}

// handleBatch processes one intersection batch from the host.
func (s *Scroller[E]) handleBatch(entries []Entry[E]) {
	if len(entries) == 0 {
		return
	}
	down := s.direction.Classify()

	for _, entry := range entries {
		ev, ok := s.transition(entry, down)
		if !ok {
			continue
		}
		s.events.Emit(ev.Type, ev)
	}
}

// transition applies the state change for entry and returns the event to
// emit. Entries that do not change the element's state produce no event.
func (s *Scroller[E]) transition(entry Entry[E], down bool) (Event[E], bool) {
	el := entry.Target
	kind := s.registry.Kind(el)
	types := typesFor(s.variant, kind)

	ev := Event[E]{
		Kind:            kind,
		Bounds:          entry.Bounds,
		Index:           s.registry.IndexOf(el),
		IsScrollingDown: down,
		Element:         el,
	}

	s.mu.Lock()
	if s.closed || s.inside[el] == entry.IsIntersecting {
		s.mu.Unlock()
		return ev, false
	}

	var stale, fresh *progressTracker[E]
	if entry.IsIntersecting {
		s.inside[el] = true
		ev.Type = types.enter
		if s.progress {
			stale = s.trackers[el]
			fresh = newProgressTracker(s.host, el, s.offset, s.progressEmitter(el, kind, types.progress))
			s.trackers[el] = fresh
		}
	} else {
		delete(s.inside, el)
		ev.Type = types.exit
		stale = s.trackers[el]
		delete(s.trackers, el)
	}
	s.mu.Unlock()

	if stale != nil {
		stale.stop()
	}
	if fresh != nil {
		fresh.start(entry.Bounds)
	}
	return ev, true
}

func (s *Scroller[E]) progressEmitter(el E, kind Kind, eventType EventType) func(progressSample) {
	index := s.registry.IndexOf(el)
	return func(sample progressSample) {
		s.events.Emit(eventType, Event[E]{
			Type:        eventType,
			Kind:        kind,
			Bounds:      sample.bounds,
			Index:       index,
			Element:     el,
			Progress:    sample.progress,
			HasProgress: true,
		})
	}
}

// handlerAdapter bridges scroller handlers onto the generic bus while
// keeping the wrapped handler's identity for deduplication.
type handlerAdapter[E comparable] struct {
	h Handler[E]
}

func (a handlerAdapter[E]) Handle(ev Event[E]) { a.h.Handle(ev) }
