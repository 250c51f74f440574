package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/auth"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/wire"
)

// Client is one websocket connection. Connections are anonymous at
// accept time; every frame carries its own token.
type Client struct {
	conn        *websocket.Conn
	hub         *Hub
	tokenSecret string
	send        chan []byte
}

// NewClient returns a new instance of Client.
func NewClient(conn *websocket.Conn, hub *Hub, tokenSecret string) *Client {
	return &Client{
		conn:        conn,
		hub:         hub,
		tokenSecret: tokenSecret,
		send:        make(chan []byte, 64),
	}
}

// ReadPump reads the incoming data from the websocket stream.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister <- c
		c.conn.CloseNow()
	}()

	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				log.Printf("%v", err)
			}
			return
		}

		// The app only supports text frames.
		if msgType != websocket.MessageText {
			continue
		}

		var frame wire.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("failed to process frame from client: %v", err)
			c.writeError(ctx, "invalid frame")
			continue
		}

		if frame.Token == "" {
			c.writeError(ctx, "token required")
			continue
		}

		username, err := auth.ValidateToken(frame.Token, c.tokenSecret)
		if err != nil {
			log.Printf("rejecting frame with bad token: %v", err)
			c.writeError(ctx, "invalid token")
			return
		}

		switch frame.Event {
		case wire.EventTyping:
			select {
			case c.hub.TypingMsg <- username:
			case <-ctx.Done():
				return
			}

		case wire.EventMessage:
			if strings.TrimSpace(frame.Content) == "" {
				c.writeError(ctx, "empty message")
				continue
			}
			select {
			case c.hub.ClientMsg <- InboundMessage{Username: username, Content: frame.Content}:
			case <-ctx.Done():
				return
			}

		default:
			log.Printf("dropping frame with unknown event %q", frame.Event)
		}
	}
}

// WritePump writes hub frames to the outgoing websocket stream.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case frame, ok := <-c.send:
			// The hub closed the channel; stop writing.
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				log.Printf("failed to write frame: %v", err)
				return
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}

func (c *Client) writeError(ctx context.Context, detail string) {
	payload, err := json.Marshal(map[string]string{"error": detail})
	if err != nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		log.Printf("failed to write error frame: %v", err)
	}
}
