// Package transport streams named progress events to a client over
// Server-Sent Events and reads them back.
package transport

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Emitter is the server-to-client half of a progress stream.
// Emit never blocks and never fails; Close may be called any number of times.
type Emitter interface {
	Emit(event string, payload any)
	Close()
}

// ErrStreamingUnsupported is returned when the response writer cannot flush
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Channel is an SSE Emitter backed by an http.ResponseWriter.
// Events are queued without bound and written in order by a single goroutine.
type Channel struct {
	w       io.Writer
	flusher http.Flusher

	mu        sync.Mutex
	cond      *sync.Cond
	queue     [][]byte
	closed    bool
	abandoned bool

	done chan struct{}
}

var _ Emitter = (*Channel)(nil)

// Open prepares w for event streaming and starts the writer goroutine
func Open(w http.ResponseWriter) (*Channel, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &Channel{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.writeLoop()
	return c, nil
}

// Emit queues an event. It is a no-op once the channel is closed.
func (c *Channel) Emit(event string, payload any) {
	frame, err := Frame(event, payload)
	if err != nil {
		slog.Error("Failed to encode event", "event", event, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue = append(c.queue, frame)
	c.cond.Signal()
}

// Close stops accepting events. Queued events are still written.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cond.Broadcast()
}

// Abandon drops queued events and waits for the writer to exit.
// Used when the client has gone away.
func (c *Channel) Abandon() {
	c.mu.Lock()
	c.closed = true
	c.abandoned = true
	c.queue = nil
	c.cond.Broadcast()
	c.mu.Unlock()
	<-c.done
}

// Done is closed once the writer has drained the queue and exited
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) writeLoop() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.abandoned || len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		frame := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if _, err := c.w.Write(frame); err != nil {
			slog.Debug("Event stream write failed", "error", err)
			c.mu.Lock()
			c.closed = true
			c.abandoned = true
			c.queue = nil
			c.mu.Unlock()
			return
		}
		c.flusher.Flush()
	}
}
