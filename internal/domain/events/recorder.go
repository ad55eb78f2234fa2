package events

import "sync"

// Recorder keeps published events in memory. Used by tests across packages.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records e
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Instance returns recorded instance events for id in order
func (r *Recorder) Instance(id string) []InstanceEvent {
	var out []InstanceEvent
	for _, e := range r.Events() {
		if ie, ok := e.(InstanceEvent); ok && ie.InstanceID == id {
			out = append(out, ie)
		}
	}
	return out
}

// Session returns recorded session events for id in order
func (r *Recorder) Session(id string) []SessionEvent {
	var out []SessionEvent
	for _, e := range r.Events() {
		if se, ok := e.(SessionEvent); ok && se.SessionID == id {
			out = append(out, se)
		}
	}
	return out
}
