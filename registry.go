// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"sort"
	"sync"
)

// Handler serves calls to a bound function. The returned string is a JSON value
// used to resolve the scripted promise; an empty string sends no resolution.
// Argument validation and error reporting are the handler's own business: errors
// must be encoded into the returned JSON.
type Handler interface {
	Invoke(b *Bridge, env *CallEnvelope) string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(b *Bridge, env *CallEnvelope) string

// Invoke calls f(b, env).
func (f HandlerFunc) Invoke(b *Bridge, env *CallEnvelope) string {
	return f(b, env)
}

// Releaser is implemented by handlers and console handlers that own resources.
// Release is called exactly once, when the bridge no longer references them.
type Releaser interface {
	Release()
}

// boundFunction is a registry entry.
type boundFunction struct {
	name    string
	handler Handler
	release func()

	inflight int  // Dispatches currently running this entry (guarded by registry.mu)
	removed  bool // Unbound, replaced or torn down (guarded by registry.mu)
	once     sync.Once
}

func newBoundFunction(name string, handler Handler, release func()) *boundFunction {
	if release == nil {
		if r, ok := handler.(Releaser); ok {
			release = r.Release
		}
	}
	return &boundFunction{name: name, handler: handler, release: release}
}

// releaseNow runs the release capability at most once.
func (f *boundFunction) releaseNow() {
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// registry maps function names to bound functions. Entries removed while a
// dispatch is running them are released when that dispatch finishes.
type registry struct {
	mu        sync.Mutex
	closed    bool
	functions map[string]*boundFunction
}

func newRegistry() *registry {
	return &registry{functions: make(map[string]*boundFunction)}
}

// bind inserts fn, replacing any entry with the same name. It reports false when
// the registry is closed, in which case fn is released immediately.
func (r *registry) bind(fn *boundFunction) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		fn.releaseNow()
		return false
	}
	prev := r.functions[fn.name]
	r.functions[fn.name] = fn
	releasable := r.detachLocked(prev)
	r.mu.Unlock()

	if releasable {
		prev.releaseNow()
	}
	return true
}

// unbind removes the named entry and reports whether it existed.
func (r *registry) unbind(name string) bool {
	r.mu.Lock()
	fn, ok := r.functions[name]
	if ok {
		delete(r.functions, name)
	}
	releasable := r.detachLocked(fn)
	r.mu.Unlock()

	if releasable {
		fn.releaseNow()
	}
	return ok
}

// acquire looks up the named entry and marks it in flight.
func (r *registry) acquire(name string) (*boundFunction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	fn, ok := r.functions[name]
	if !ok {
		return nil, false
	}
	fn.inflight++
	return fn, true
}

// done ends a dispatch started by acquire.
func (r *registry) done(fn *boundFunction) {
	r.mu.Lock()
	fn.inflight--
	releasable := fn.removed && fn.inflight == 0
	r.mu.Unlock()

	if releasable {
		fn.releaseNow()
	}
}

// close removes every entry and refuses later binds and lookups.
func (r *registry) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var releasable []*boundFunction
	for name, fn := range r.functions {
		delete(r.functions, name)
		if r.detachLocked(fn) {
			releasable = append(releasable, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range releasable {
		fn.releaseNow()
	}
}

// detachLocked marks fn removed and reports whether it can be released now.
func (r *registry) detachLocked(fn *boundFunction) bool {
	if fn == nil {
		return false
	}
	fn.removed = true
	return fn.inflight == 0
}

// names returns the bound names in lexical order.
func (r *registry) names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.functions)
}
