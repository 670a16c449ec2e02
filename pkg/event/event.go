// Package event provides an in-process publish/subscribe dispatcher with a
// swappable async driver.
//
// Listeners are registered against a named event and fire in priority
// order (highest first, ties broken by registration order):
//
//	d := event.NewSync()
//	d.Register("user.created", event.Closure(func(payload any) error {
//	    log.Println("welcome email queued for", payload)
//	    return nil
//	}), 10)
//	d.TriggerSync("user.created", map[string]any{"id": 1})
//
// Install an async driver (for example the queue-backed bridge in
// pkg/queue) to have Trigger hand events off to a background worker
// instead of running listeners on the caller's goroutine:
//
//	d := event.New(event.NewDirectResolver())
//	d.SetAsyncDriver(bridge)
//	d.Trigger("user.created", payload) // enqueued, not run inline
package event

import (
	"fmt"
	"sync"
	"time"
)

// Handler is the shape accepted by Register for a plain function listener.
type Handler func(payload any) error

// Closure adapts a plain func(any) error into a Handler accepted by
// Register. Kept as a named conversion (rather than passing a bare func
// literal straight through) purely for readability at call sites; two
// registrations of the same closure value still fire twice, matching the
// registry's no-deduplication rule.
func Closure(fn func(payload any) error) Handler { return fn }

// Listener is a typed listener instance. Implementations may additionally
// declare SubscribedEvents() []string to self-register (see Subscriber).
type Listener interface {
	Handle(payload any) error
}

// Subscriber is a Listener that knows which events it wants to hear about.
// RegisterSubscriber uses this to wire it up to every declared event.
type Subscriber interface {
	Listener
	SubscribedEvents() []string
}

// Options controls per-publication behaviour.
type Options struct {
	// StopOnError, when true, lets the first listener error abort the
	// remaining listeners and propagate out of Publish/Trigger. When
	// false (the default), a listener error is logged and dispatch
	// continues to the next listener.
	StopOnError bool

	// Queue, Priority, and Delay are consulted only by queue-backed async
	// drivers (see pkg/queue's QueueEventDriver); SyncDriver and NullDriver
	// ignore them. A zero value means "use the driver's own default".
	Queue    string
	Priority *int
	Delay    *time.Duration
}

// Driver is anything that can publish an event. SyncDriver and NullDriver
// satisfy it, as does the queue-backed bridge in pkg/queue.
type Driver interface {
	Publish(event string, payload any, opts Options) error
	IsAvailable() bool
}

// Dispatcher is the top-level façade: it owns the always-present sync
// driver and an optional async driver, and decides which one handles a
// given Trigger call.
type Dispatcher struct {
	mu           sync.RWMutex
	sync         *SyncDriver
	async        Driver
	asyncEnabled bool
}

// New builds a Dispatcher with no async driver installed; Trigger behaves
// like TriggerSync until SetAsyncDriver is called.
func New(resolver Resolver) *Dispatcher {
	return &Dispatcher{
		sync:         NewSyncDriver(resolver),
		asyncEnabled: true,
	}
}

// NewSync builds a sync-only Dispatcher. Equivalent to New with a resolver
// that never needs to materialize class identifiers.
func NewSync() *Dispatcher {
	return New(NewDirectResolver())
}

// NewTest builds a Dispatcher wired to a recording NullDriver as its async
// slot, so call sites under test can assert "event X was published"
// without registered listeners actually running. Use TriggerSync directly
// to exercise listener behaviour.
func NewTest() *Dispatcher {
	d := New(NewDirectResolver())
	d.SetAsyncDriver(NewNullDriver(true))
	return d
}

// SetAsyncDriver installs (or replaces) the async driver.
func (d *Dispatcher) SetAsyncDriver(driver Driver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.async = driver
}

// AsyncDriver returns the currently installed async driver, or nil.
func (d *Dispatcher) AsyncDriver() Driver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.async
}

// SetAsyncEnabled toggles whether Trigger may use the async driver at all.
func (d *Dispatcher) SetAsyncEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.asyncEnabled = enabled
}

// Register adds handler for event at priority (higher fires first).
// handler may be a Handler/func(any) error, a Listener instance, or a
// string class identifier resolved on every dispatch via the Dispatcher's
// resolver.
func (d *Dispatcher) Register(event string, handler any, priority int) error {
	return d.sync.registry.Add(event, handler, priority)
}

// RegisterSubscriber wires a Subscriber up to every event it declares.
func (d *Dispatcher) RegisterSubscriber(sub Subscriber, priority int) error {
	for _, name := range sub.SubscribedEvents() {
		if err := d.sync.registry.Add(name, sub, priority); err != nil {
			return err
		}
	}
	return nil
}

// Forget removes handler from event. If handler is nil, every listener for
// event is removed.
func (d *Dispatcher) Forget(event string, handler any) {
	d.sync.registry.Remove(event, handler)
}

// HasListeners reports whether event has at least one registered listener.
func (d *Dispatcher) HasListeners(event string) bool {
	return d.sync.registry.Has(event)
}

// GetListeners returns the ordered listener handles for event.
func (d *Dispatcher) GetListeners(event string) []any {
	return d.sync.registry.Get(event)
}

// Trigger publishes event through the async driver when one is installed,
// enabled, and available; otherwise it falls back to synchronous dispatch.
func (d *Dispatcher) Trigger(event string, payload any, opts ...Options) error {
	o := resolveOptions(opts)

	d.mu.RLock()
	async := d.async
	enabled := d.asyncEnabled
	d.mu.RUnlock()

	if enabled && async != nil && async.IsAvailable() {
		return async.Publish(event, payload, o)
	}
	return d.sync.Publish(event, payload, o)
}

// TriggerSync always dispatches through the sync driver, bypassing any
// async driver regardless of configuration.
func (d *Dispatcher) TriggerSync(event string, payload any, opts ...Options) error {
	return d.sync.Publish(event, payload, resolveOptions(opts))
}

// SyncDriverOf exposes the underlying synchronous driver, e.g. to register
// listeners directly against it or use it standalone in tests.
func (d *Dispatcher) SyncDriverOf() *SyncDriver { return d.sync }

// SetObserver installs a tap that sees every synchronous publication (both
// TriggerSync calls and async-driver replays that come back through the
// sync driver). Pass nil to clear it.
func (d *Dispatcher) SetObserver(fn Observer) { d.sync.SetObserver(fn) }

func resolveOptions(opts []Options) Options {
	if len(opts) == 0 {
		return Options{}
	}
	return opts[0]
}

// listenerFault wraps a single listener's error with enough context to log
// meaningfully without losing the original error for errors.Is/As.
type listenerFault struct {
	event string
	err   error
}

func (e *listenerFault) Error() string {
	return fmt.Sprintf("event %q: listener failed: %v", e.event, e.err)
}

func (e *listenerFault) Unwrap() error { return e.err }
