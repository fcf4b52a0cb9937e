package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is immutable once created.
type Message struct {
	ID        string    `json:"_id"` // ULID
	ChatID    uuid.UUID `json:"chat"`
	SenderID  uuid.UUID `json:"senderId"`
	Sender    *User     `json:"sender,omitempty"`
	Body      string    `json:"text,omitempty"`
	ImageURL  string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
