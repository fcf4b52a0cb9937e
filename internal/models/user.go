package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account.
type User struct {
	ID           uuid.UUID `json:"_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsVerified   bool      `json:"isVerified"`
	VerifyToken  string    `json:"-"`
	AvatarURL    string    `json:"profilePicture"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public returns a copy safe to embed in API responses for other users.
func (u User) Public() User {
	u.PasswordHash = ""
	u.VerifyToken = ""
	return u
}
