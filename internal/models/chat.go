package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat is a direct or group conversation. MemberIDs is the authoritative
// member list; Members is populated only on read paths that join user rows.
type Chat struct {
	ID          uuid.UUID   `json:"_id"`
	Name        string      `json:"chatName"`
	IsGroup     bool        `json:"isGroupChat"`
	GroupAdmin  *uuid.UUID  `json:"groupAdmin,omitempty"`
	AvatarURL   string      `json:"groupProfilePic,omitempty"`
	MemberIDs   []uuid.UUID `json:"-"`
	Members     []User      `json:"members,omitempty"`
	LastMessage *Message    `json:"lastMessage,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// HasMember reports whether the given user is currently a member.
func (c *Chat) HasMember(userID uuid.UUID) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
