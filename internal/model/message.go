// Package model defines data structure.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is a single message in the conversation, used for both
// the history endpoint and websocket payloads. Identity is ID; two
// messages with the same ID are the same logical message.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
