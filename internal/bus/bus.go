// internal/bus/bus.go
package bus

import (
	"reflect"
	"slices"
	"sync"
)

// Handler receives payloads emitted on a Bus.
type Handler[P any] interface {
	Handle(payload P)
}

// HandlerFunc adapts a plain function to the Handler interface.
// Function values are not comparable in Go, so every registration of a
// HandlerFunc is independent and must be removed through the function
// returned by On.
type HandlerFunc[P any] func(payload P)

// Handle calls f(payload).
func (f HandlerFunc[P]) Handle(payload P) { f(payload) }

type subscription[P any] struct {
	id      uint64
	handler Handler[P]
}

// Bus is a synchronous publish/subscribe registry keyed by event type.
// Delivery happens on the goroutine that calls Emit, in registration order,
// against a snapshot of the handlers registered when Emit was called.
type Bus[K comparable, P any] struct {
	mu       sync.RWMutex
	handlers map[K][]subscription[P]
	nextID   uint64
}

// New creates an empty Bus.
func New[K comparable, P any]() *Bus[K, P] {
	return &Bus[K, P]{
		handlers: make(map[K][]subscription[P]),
	}
}

// On registers handler for eventType and returns a function that removes it.
// Registering a comparable handler that is already present for eventType is
// a no-op; the returned function still removes the existing registration.
// The returned function is safe to call more than once.
func (b *Bus[K, P]) On(eventType K, handler Handler[P]) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.handlers[eventType] {
		if sameHandler(sub.handler, handler) {
			return b.remover(eventType, sub.id)
		}
	}

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription[P]{id: id, handler: handler})
	return b.remover(eventType, id)
}

// Off removes handler from eventType. Removing a handler that is not
// registered, or one that cannot be compared, does nothing.
func (b *Bus[K, P]) Off(eventType K, handler Handler[P]) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.handlers[eventType] {
		if sameHandler(sub.handler, handler) {
			b.removeLocked(eventType, sub.id)
			return
		}
	}
}

// Emit delivers payload to every handler registered for eventType.
// A panicking handler aborts the remaining deliveries of this call.
func (b *Bus[K, P]) Emit(eventType K, payload P) {
	b.mu.RLock()
	subs := b.handlers[eventType]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return
	}
	// Copy so handlers can register or unregister without affecting this dispatch.
	snapshot := make([]subscription[P], len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		sub.handler.Handle(payload)
	}
}

// Len reports how many handlers are registered for eventType.
func (b *Bus[K, P]) Len(eventType K) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Clear drops every registration.
func (b *Bus[K, P]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[K][]subscription[P])
}

func (b *Bus[K, P]) remover(eventType K, id uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.removeLocked(eventType, id)
		})
	}
}

func (b *Bus[K, P]) removeLocked(eventType K, id uint64) {
	subs := b.handlers[eventType]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		subs = slices.Delete(subs, i, i+1)
		if len(subs) == 0 {
			delete(b.handlers, eventType)
		} else {
			b.handlers[eventType] = subs
		}
		return
	}
}

// sameHandler reports whether a and b are the same comparable handler.
// Handlers backed by funcs, maps or slices never compare equal.
func sameHandler[P any](a, b Handler[P]) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Interface() == vb.Interface()
}
