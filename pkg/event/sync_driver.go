package event

import (
	"fmt"
)

// SyncDriver fetches the ordered listeners for an event and invokes each
// one in turn on the caller's goroutine. It is always available and holds
// its own registry, so it can be used standalone in tests without a full
// Dispatcher.
type SyncDriver struct {
	registry *Registry
	resolver Resolver
	observer Observer
}

// Observer is a tap on the driver: it sees every publication before the
// listeners run, regardless of whether any listener is registered. Used by
// live monitoring surfaces (e.g. the WebSocket event relay); it must not
// block.
type Observer func(event string, payload any)

// NewSyncDriver builds a SyncDriver backed by a fresh Registry.
func NewSyncDriver(resolver Resolver) *SyncDriver {
	if resolver == nil {
		resolver = NewDirectResolver()
	}
	return &SyncDriver{registry: NewRegistry(), resolver: resolver}
}

// IsAvailable always reports true: the sync driver never degrades.
func (d *SyncDriver) IsAvailable() bool { return true }

// AddListener registers handler for event at priority.
func (d *SyncDriver) AddListener(event string, handler any, priority int) error {
	return d.registry.Add(event, handler, priority)
}

// RemoveListener removes handler (or every listener, if nil) from event.
func (d *SyncDriver) RemoveListener(event string, handler any) {
	d.registry.Remove(event, handler)
}

// HasListeners reports whether event has at least one listener.
func (d *SyncDriver) HasListeners(event string) bool { return d.registry.Has(event) }

// GetListeners returns the ordered listener handles for event.
func (d *SyncDriver) GetListeners(event string) []any { return d.registry.Get(event) }

// SetObserver installs (or clears, with nil) the driver's publication tap.
func (d *SyncDriver) SetObserver(fn Observer) { d.observer = fn }

// Registry exposes the driver's backing Registry for the inspection and
// bulk operations (Count, Events, GetWithMetadata, Clear) that have no
// per-call wrapper here.
func (d *SyncDriver) Registry() *Registry { return d.registry }

// Publish invokes every listener registered for event, in priority order,
// against a snapshot captured before iteration begins (so a listener that
// unregisters itself or another mid-dispatch does not affect the current
// call — only the next one). With opts.StopOnError false (the default) a
// listener's error is swallowed and dispatch continues; with it true, the
// first error aborts dispatch and propagates to the caller.
func (d *SyncDriver) Publish(event string, payload any, opts Options) error {
	if d.observer != nil {
		d.observer(event, payload)
	}

	listeners := d.registry.Get(event)

	for _, handler := range listeners {
		err := d.invoke(handler, payload)
		if err == nil {
			continue
		}

		fault := &listenerFault{event: event, err: err}
		if opts.StopOnError {
			return fault
		}
		logListenerFault(event, err)
	}
	return nil
}

// invoke dispatches payload to a single listener handle, recovering from
// any panic and reporting it the same way a returned error would be.
func (d *SyncDriver) invoke(handler any, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()

	switch h := handler.(type) {
	case Handler:
		return h(payload)
	case Listener:
		return h.Handle(payload)
	case string:
		resolved, resolveErr := d.resolver.Resolve(h)
		if resolveErr != nil {
			// ResolutionFault: a class that cannot be materialized is
			// skipped silently, never retried, never surfaced.
			return nil
		}
		switch r := resolved.(type) {
		case Listener:
			return r.Handle(payload)
		case Handler:
			return r(payload)
		case func(any) error:
			return r(payload)
		default:
			return nil // not an acceptable handler shape: skip silently
		}
	default:
		return nil
	}
}

var logListenerFault = func(event string, err error) {
	if faultLogger != nil {
		faultLogger(event, err)
	}
}

// FaultLogger receives every swallowed listener error.
type FaultLogger func(event string, err error)

var faultLogger FaultLogger

// SetFaultLogger installs the sink used to report swallowed listener
// errors (continue-on-error mode). Pass nil to go back to discarding them.
func SetFaultLogger(fn FaultLogger) { faultLogger = fn }
