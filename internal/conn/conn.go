// Package conn manages the live websocket session of a conversation.
package conn

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/coder/websocket"
)

// State is the lifecycle of one connection handle. A closed handle is
// terminal; reconnecting means dialing a new one.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotReady reports a send attempted while the connection is not open.
var ErrNotReady = errors.New("conn: connection not open")

// Conn is a client-side websocket handle. Inbound text frames are
// delivered in arrival order on a single events channel, read by one
// goroutine only; the channel is closed exactly once when the transport
// terminates, so no events are delivered past that point.
type Conn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	state  State
	events chan []byte
	cancel context.CancelFunc
}

// Dial starts the handshake against endpoint and returns immediately in
// the connecting state. The handle moves to open once the handshake
// completes, or straight to closed if it fails.
func Dial(ctx context.Context, endpoint string) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		state:  StateConnecting,
		events: make(chan []byte, 64),
		cancel: cancel,
	}
	go c.run(ctx, endpoint)
	return c
}

func (c *Conn) run(ctx context.Context, endpoint string) {
	defer close(c.events)

	ws, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		if ctx.Err() == nil {
			log.Printf("websocket dial failed: %v", err)
		}
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Close raced the handshake.
		c.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "closed during handshake")
		return
	}
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()

	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.state = StateClosed
			c.ws = nil
			c.mu.Unlock()

			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				ctx.Err() == nil {
				log.Printf("websocket read failed: %v", err)
			}
			return
		}

		// Only text frames carry events.
		if msgType != websocket.MessageText {
			continue
		}

		select {
		case c.events <- data:
		case <-ctx.Done():
			c.mu.Lock()
			c.state = StateClosed
			c.ws = nil
			c.mu.Unlock()
			ws.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}

// Events returns the inbound frame queue. It is closed when the
// connection terminates for any reason.
func (c *Conn) Events() <-chan []byte {
	return c.events
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send transmits one text frame. It fails with ErrNotReady unless the
// connection is open.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	ws, state := c.ws, c.state
	c.mu.Unlock()

	if state != StateOpen || ws == nil {
		return ErrNotReady
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// Close initiates graceful termination. The handle is closed afterwards
// regardless of the websocket close handshake outcome.
func (c *Conn) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	alreadyClosed := c.state == StateClosed
	c.state = StateClosed
	c.mu.Unlock()

	c.cancel()

	if alreadyClosed || ws == nil {
		return nil
	}
	return ws.Close(websocket.StatusNormalClosure, "client closed")
}
