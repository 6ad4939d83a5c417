// pkg/scroller/registry.go
package scroller

// NotAScene is the index reported for the container and for any element
// that was never registered.
const NotAScene = -1

// Registry is the fixed, ordered set of observed elements.
type Registry[E comparable] struct {
	scenes       []E
	index        map[E]int
	container    E
	hasContainer bool
}

// NewRegistry assigns each scene its position in scenes. If an element
// appears more than once it keeps its first index. A zero container means
// there is none; a container that is also listed as a scene is treated as
// the container only.
func NewRegistry[E comparable](scenes []E, container E) *Registry[E] {
	var zero E
	r := &Registry[E]{
		index:        make(map[E]int, len(scenes)),
		container:    container,
		hasContainer: container != zero,
	}
	for i, el := range scenes {
		if el == zero {
			continue
		}
		if r.hasContainer && el == container {
			continue
		}
		if _, seen := r.index[el]; seen {
			continue
		}
		r.index[el] = i
		r.scenes = append(r.scenes, el)
	}
	return r
}

// IndexOf returns el's registration index, or NotAScene.
func (r *Registry[E]) IndexOf(el E) int {
	if i, ok := r.index[el]; ok {
		return i
	}
	return NotAScene
}

// IsContainer reports whether el is the registered container.
func (r *Registry[E]) IsContainer(el E) bool {
	return r.hasContainer && el == r.container
}

// Kind classifies el as scene or container.
func (r *Registry[E]) Kind(el E) Kind {
	if r.IsContainer(el) {
		return KindContainer
	}
	return KindScene
}

// Container returns the container and whether one was registered.
func (r *Registry[E]) Container() (E, bool) {
	return r.container, r.hasContainer
}

// Len returns the number of distinct scenes.
func (r *Registry[E]) Len() int {
	return len(r.scenes)
}

// Observed returns elements in observation order: scenes as registered,
// then the container.
func (r *Registry[E]) Observed() []E {
	out := make([]E, 0, len(r.scenes)+1)
	out = append(out, r.scenes...)
	if r.hasContainer {
		out = append(out, r.container)
	}
	return out
}
