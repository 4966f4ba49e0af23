package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
	readLimit  = 512
)

var (
	// ErrSlowClient is returned by Send when the client's queue is full.
	ErrSlowClient = errors.New("ws: client send queue full")
	// ErrClientClosed is returned by Send after Close.
	ErrClientClosed = errors.New("ws: client closed")
)

// Client is a websocket subscriber. Payloads are queued by Send and written
// by a dedicated goroutine, so a slow peer never blocks the hub.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	send      chan []byte
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewClient wraps conn and starts its write pump.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return newClient(conn, logger, sendBuffer, pingPeriod)
}

func newClient(conn *websocket.Conn, logger *slog.Logger, buffer int, pingEvery time.Duration) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		conn:    conn,
		log:     logger,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.writePump(pingEvery)
	return c
}

// Send queues payload without blocking.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.log.Warn("websocket client too slow, dropping", "queued", len(c.send))
		return ErrSlowClient
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection. It does not wait.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) writePump(pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.stopped)
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("websocket ping failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

// Drain reads and discards client frames until the peer disconnects or
// stops answering pings.
func (c *Client) Drain() {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
