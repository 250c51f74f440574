// Package server implements the chat backend: the websocket hub, the
// per-connection pumps and the HTTP handlers.
package server

import (
	"context"
	"log"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/wire"
)

type sanitizer interface {
	Sanitize(s string) string
	SanitizeBytes(p []byte) []byte
}

// MessageStore persists validated inbound messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, username, content string) (model.ChatMessage, error)
}

// PublishFunc hands a stored message to the broker. When nil, the hub
// loops stored messages back in-process instead.
type PublishFunc func(ctx context.Context, msg model.ChatMessage) error

// InboundMessage is a token-validated message from one client.
type InboundMessage struct {
	Username string
	Content  string
}

type Registration struct {
	Client *Client
	Done   chan struct{}
}

// Hub owns the set of connected clients and all fan-out.
type Hub struct {
	store      MessageStore
	publish    PublishFunc
	clients    map[*Client]struct{}
	Register   chan Registration
	Unregister chan *Client
	ClientMsg  chan InboundMessage
	TypingMsg  chan string
	BrokerMsg  chan model.ChatMessage
	sanitizer  sanitizer
}

// NewHub returns a new instance of Hub.
func NewHub(store MessageStore, publish PublishFunc) *Hub {
	return &Hub{
		store:      store,
		publish:    publish,
		clients:    make(map[*Client]struct{}),
		Register:   make(chan Registration),
		Unregister: make(chan *Client),
		ClientMsg:  make(chan InboundMessage, 1024),
		TypingMsg:  make(chan string, 1024),
		BrokerMsg:  make(chan model.ChatMessage, 1024),
		sanitizer:  bluemonday.StrictPolicy(),
	}
}

// Run manages incoming and outgoing hub traffic.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case reg := <-h.Register:
			h.clients[reg.Client] = struct{}{}
			close(reg.Done)

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case in := <-h.ClientMsg:
			// Sanitize incoming messages to prevent XSS on web clients.
			content := h.sanitizer.Sanitize(in.Content)
			if strings.TrimSpace(content) == "" {
				continue
			}

			stored, err := h.store.SaveMessage(ctx, in.Username, content)
			if err != nil {
				log.Printf("failed to store message: %v", err)
				continue
			}

			// The echo carries the server-assigned id and timestamp.
			if h.publish != nil {
				if err := h.publish(ctx, stored); err != nil {
					log.Printf("failed to publish message: %v", err)
				}
				continue
			}
			h.broadcastMessage(stored)

		case username := <-h.TypingMsg:
			// Typing notices are ephemeral: broadcast, never stored.
			frame, err := wire.EncodeTypingEvent(username)
			if err != nil {
				log.Printf("failed to encode typing event: %v", err)
				continue
			}
			h.broadcast(frame)

		case msg := <-h.BrokerMsg:
			h.broadcastMessage(msg)

		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		}
	}
}

func (h *Hub) broadcastMessage(msg model.ChatMessage) {
	frame, err := wire.EncodeMessageEvent(msg)
	if err != nil {
		log.Printf("failed to encode message event: %v", err)
		return
	}
	h.broadcast(frame)
}

// Everyone gets every frame, the sender included; clients decide what
// to suppress locally.
func (h *Hub) broadcast(frame []byte) {
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			log.Println("skipping frame - channel full or client slow")
		}
	}
}
