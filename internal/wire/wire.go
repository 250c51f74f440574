// Package wire implements the frame schema of the live connection and
// the decoding of inbound frames into typed domain events.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
)

// Frame discriminants. Any other value is a decode error.
const (
	EventMessage = "message"
	EventTyping  = "typing"
)

// ErrUnknownEvent reports a frame whose discriminant is not recognized.
// Callers are expected to drop the frame and keep reading.
var ErrUnknownEvent = errors.New("wire: unknown event")

// ClientFrame is the client-to-server wire shape. Every frame carries
// the session token; the server authenticates each frame on its own.
type ClientFrame struct {
	Event   string `json:"event"`
	Token   string `json:"token"`
	Content string `json:"content,omitempty"`
}

// Event is a decoded inbound frame.
type Event interface {
	event()
}

// MessageEvent carries one chat message broadcast by the server.
type MessageEvent struct {
	Message model.ChatMessage
}

// TypingEvent signals that a user is composing a message.
type TypingEvent struct {
	Username string
}

func (MessageEvent) event() {}
func (TypingEvent) event()  {}

// Decode parses one inbound frame into a typed event. A failure here
// must never tear down the connection; the caller logs and moves on.
func Decode(data []byte) (Event, error) {
	var f struct {
		Event     string    `json:"event"`
		ID        uuid.UUID `json:"id"`
		Username  string    `json:"username"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}

	switch f.Event {
	case EventMessage:
		if f.Username == "" {
			return nil, errors.New("wire: message frame without username")
		}
		return MessageEvent{Message: model.ChatMessage{
			ID:        f.ID,
			Username:  f.Username,
			Content:   f.Content,
			Timestamp: f.Timestamp,
		}}, nil

	case EventTyping:
		if f.Username == "" {
			return nil, errors.New("wire: typing frame without username")
		}
		return TypingEvent{Username: f.Username}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// EncodeSend builds the outbound frame for sending a chat message.
func EncodeSend(token, content string) ([]byte, error) {
	return json.Marshal(ClientFrame{
		Event:   EventMessage,
		Token:   token,
		Content: content,
	})
}

// EncodeTypingSignal builds the outbound frame for a typing notice.
func EncodeTypingSignal(token string) ([]byte, error) {
	return json.Marshal(ClientFrame{
		Event: EventTyping,
		Token: token,
	})
}

// EncodeMessageEvent builds the server-to-client echo of a stored message.
func EncodeMessageEvent(msg model.ChatMessage) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		model.ChatMessage
	}{Event: EventMessage, ChatMessage: msg})
}

// EncodeTypingEvent builds the server-to-client typing broadcast.
func EncodeTypingEvent(username string) ([]byte, error) {
	return json.Marshal(struct {
		Event    string `json:"event"`
		Username string `json:"username"`
	}{Event: EventTyping, Username: username})
}
