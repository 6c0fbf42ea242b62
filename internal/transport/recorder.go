package transport

import (
	"encoding/json"
	"sync"
)

// Recorded is one event captured by a Recorder
type Recorded struct {
	Name    string
	Payload any
}

// Recorder is an in-memory Emitter
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	closed bool
	done   chan struct{}
}

var _ Emitter = (*Recorder)(nil)

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{done: make(chan struct{})}
}

func (r *Recorder) Emit(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events = append(r.events, Recorded{Name: event, Payload: payload})
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}

// Done is closed when the recorder is closed
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Closed reports whether Close was called
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Events returns a copy of the captured events
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Names returns the captured event names in order
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

// Decode unmarshals the payload of event i into v through JSON,
// the same way a remote client would see it
func (r *Recorder) Decode(i int, v any) error {
	r.mu.Lock()
	payload := r.events[i].Payload
	r.mu.Unlock()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
