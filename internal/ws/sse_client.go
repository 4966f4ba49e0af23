package ws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	event   string
	seq     uint64
	closed  bool
	done    chan struct{}
	last    time.Time
}

// NewSSEClient builds an SSE client that labels every frame with event.
func NewSSEClient(writer io.Writer, flusher http.Flusher, event string, logger *slog.Logger) *SSEClient {
	return &SSEClient{
		writer:  writer,
		flusher: flusher,
		log:     logger,
		event:   event,
		done:    make(chan struct{}),
		last:    time.Now().UTC(),
	}
}

// Send emits one event frame.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.seq++
	if _, err := fmt.Fprintf(c.writer, "id: %d\nevent: %s\ndata: %s\n\n", c.seq, c.event, payload); err != nil {
		c.closeLocked()
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.closeLocked()
		c.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed and releases Serve.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Serve blocks, sending heartbeats every interval, until ctx ends or the
// stream is closed.
func (c *SSEClient) Serve(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
