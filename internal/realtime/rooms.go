package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// ActiveRoomIndex maps a live connection to the single chat it currently
// has open. Joining a new room overwrites the previous mapping; a
// connection never watches more than one room. Keyed by connection rather
// than user, so it locks independently of the PresenceTable.
type ActiveRoomIndex struct {
	mu   sync.Mutex
	open map[string]uuid.UUID
}

func NewActiveRoomIndex() *ActiveRoomIndex {
	return &ActiveRoomIndex{open: make(map[string]uuid.UUID)}
}

// SetActiveRoom records the chat a connection has open, replacing any
// previous room.
func (a *ActiveRoomIndex) SetActiveRoom(connID string, chatID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open[connID] = chatID
}

// ActiveRoom returns the chat the connection currently has open, if any.
func (a *ActiveRoomIndex) ActiveRoom(connID string) (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	chatID, ok := a.open[connID]
	return chatID, ok
}

// ClearConnection removes the connection's entry on disconnect. No-op for
// connections that never joined a room.
func (a *ActiveRoomIndex) ClearConnection(connID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.open, connID)
}
