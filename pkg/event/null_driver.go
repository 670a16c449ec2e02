package event

import "sync"

// Publication is one recorded call to NullDriver.Publish.
type Publication struct {
	Event   string
	Payload any
	Options Options
}

// NullDriver discards publications (silent mode) or records them for
// inspection (recording mode). It exists for test harnessing: install it
// as a Dispatcher's async driver to assert "event X was published"
// without a real transport or without listeners actually running.
type NullDriver struct {
	mu        sync.Mutex
	recording bool
	published []Publication
}

// NewNullDriver returns a NullDriver. When recording is false, every
// publication is discarded; when true, each is appended to an internal
// ordered list inspectable via GetPublicationsOf / Count / WasPublished.
func NewNullDriver(recording bool) *NullDriver {
	return &NullDriver{recording: recording}
}

// IsAvailable always reports true.
func (d *NullDriver) IsAvailable() bool { return true }

// Publish records (or discards) the call; it never errors.
func (d *NullDriver) Publish(event string, payload any, opts Options) error {
	if !d.recording {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.published = append(d.published, Publication{Event: event, Payload: payload, Options: opts})
	return nil
}

// Count returns the number of recorded publications.
func (d *NullDriver) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.published)
}

// WasPublished reports whether event was published at least once.
func (d *NullDriver) WasPublished(event string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.published {
		if p.Event == event {
			return true
		}
	}
	return false
}

// GetPublicationsOf returns every recorded publication of event, in order.
func (d *NullDriver) GetPublicationsOf(event string) []Publication {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Publication
	for _, p := range d.published {
		if p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

// Clear discards all recorded publications.
func (d *NullDriver) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.published = nil
}
