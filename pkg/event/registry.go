package event

import (
	"errors"
	"reflect"
	"sort"
	"sync"
)

// ErrUnsupportedHandler is returned by Registry.Add when handler is none of
// Handler, Listener, or string.
var ErrUnsupportedHandler = errors.New("event: handler must be a Handler func, a Listener, or a string class identifier")

// entry is one (handler, priority, insertionOrder) triple.
type entry struct {
	handler  any // Handler | Listener | string
	priority int
	order    uint64
}

// Registry stores listeners keyed by event name and returns them ordered
// for dispatch: highest priority first, ties broken by insertion order.
// Mutations never invalidate a snapshot already returned by Get: callers
// always receive a fresh copy, so a listener is free to Add/Remove during
// its own invocation (reentrant dispatch).
type Registry struct {
	mu      sync.Mutex
	entries map[string][]entry
	counter uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string][]entry{}}
}

// Add appends handler for event at priority. No deduplication: adding the
// same handler twice makes it fire twice.
func (r *Registry) Add(event string, handler any, priority int) error {
	switch handler.(type) {
	case Handler, func(any) error, Listener, string:
	default:
		return ErrUnsupportedHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	e := entry{handler: normalize(handler), priority: priority, order: r.counter}
	r.entries[event] = append(r.entries[event], e)
	sortEntries(r.entries[event])
	return nil
}

// normalize turns a bare func(any) error into the named Handler type so
// later type switches only have one function case to handle.
func normalize(handler any) any {
	if fn, ok := handler.(func(any) error); ok {
		return Handler(fn)
	}
	return handler
}

// Remove deletes the first entry matching handler's identity from event.
// If handler is nil, every entry for event is removed. Removing the last
// listener for an event deletes the event entry entirely, so Has(event)
// reflects "has at least one listener". A no-op if absent.
func (r *Registry) Remove(event string, handler any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handler == nil {
		delete(r.entries, event)
		return
	}

	list := r.entries[event]
	for i, e := range list {
		if sameIdentity(e.handler, handler) {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(r.entries, event)
			} else {
				r.entries[event] = list
			}
			return
		}
	}
}

// Has reports whether event has at least one registered listener.
func (r *Registry) Has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[event]) > 0
}

// Count returns the number of listeners registered for event.
func (r *Registry) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[event])
}

// Events returns the set of event names that currently have listeners.
func (r *Registry) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

// Get returns a snapshot of the ordered listener handles for event.
func (r *Registry) Get(event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.entries[event]
	out := make([]any, len(list))
	for i, e := range list {
		out[i] = e.handler
	}
	return out
}

// Metadata pairs a listener handle with its registered priority.
type Metadata struct {
	Handler  any
	Priority int
}

// GetWithMetadata returns a snapshot of event's listeners along with their
// registered priority, in dispatch order.
func (r *Registry) GetWithMetadata(event string) []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.entries[event]
	out := make([]Metadata, len(list))
	for i, e := range list {
		out[i] = Metadata{Handler: e.handler, Priority: e.priority}
	}
	return out
}

// Clear removes listeners. With no event names, every event is cleared.
func (r *Registry) Clear(events ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(events) == 0 {
		r.entries = map[string][]entry{}
		return
	}
	for _, name := range events {
		delete(r.entries, name)
	}
}

// sortEntries orders by (-priority, insertionOrder): higher priority
// first, ties broken by earlier registration.
func sortEntries(list []entry) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].order < list[j].order
	})
}

// sameIdentity implements the removal identity rules: closures and typed
// instances compare by reference, class identifiers by string equality.
func sameIdentity(stored, target any) bool {
	switch s := stored.(type) {
	case Handler:
		t, ok := target.(Handler)
		if !ok {
			if fn, ok2 := target.(func(any) error); ok2 {
				t = Handler(fn)
			} else {
				return false
			}
		}
		return reflect.ValueOf(s).Pointer() == reflect.ValueOf(t).Pointer()
	case string:
		t, ok := target.(string)
		return ok && s == t
	default:
		// Typed Listener instance: reference/value identity via ==.
		// A non-comparable instance (e.g. one holding a slice or map
		// field) simply never matches, which degrades to "Remove is a
		// no-op" rather than panicking.
		return safeEqual(stored, target)
	}
}

func safeEqual(a, b any) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}
