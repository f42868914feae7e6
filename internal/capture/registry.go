// internal/capture/registry.go
package capture

import "sync"

// handlerFunc processes one signal against the page it arrived on.
type handlerFunc func(page *pageState, sig Signal)

// handle identifies one attached listener so it can be detached later.
type handle struct {
	kind     string
	platform bool // platform-specific listeners are re-attached on re-detection
	fn       handlerFunc
}

// registry tracks attached signal listeners. Stop detaches everything it
// ever attached, so repeated start/stop cycles cannot leak handlers.
type registry struct {
	mu       sync.RWMutex
	handlers []*handle
}

func newRegistry() *registry {
	return &registry{}
}

// attach registers fn for the given signal kind and returns its handle.
func (r *registry) attach(kind string, platform bool, fn handlerFunc) *handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &handle{kind: kind, platform: platform, fn: fn}
	r.handlers = append(r.handlers, h)
	return h
}

// dispatch invokes every handler attached for the signal's kind, in
// attachment order.
func (r *registry) dispatch(page *pageState, sig Signal) {
	r.mu.RLock()
	matched := make([]*handle, 0, len(r.handlers))
	for _, h := range r.handlers {
		if h.kind == sig.Kind {
			matched = append(matched, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range matched {
		h.fn(page, sig)
	}
}

// detachPlatform removes platform-specific handlers, keeping generic ones.
func (r *registry) detachPlatform() {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.handlers[:0]
	for _, h := range r.handlers {
		if !h.platform {
			kept = append(kept, h)
		}
	}
	r.handlers = kept
}

// detachAll removes every handler.
func (r *registry) detachAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = nil
}

// count returns the number of attached handlers.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
