package realtime

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// PresenceTable is the process-wide registry of which connection belongs to
// which user. At most one live connection is recorded per user; a user
// reconnecting overwrites their previous entry (last-connected-wins). The
// reverse index makes remove-by-connection O(1).
type PresenceTable struct {
	mu     sync.Mutex
	byUser map[uuid.UUID]string
	byConn map[string]uuid.UUID
}

func NewPresenceTable() *PresenceTable {
	return &PresenceTable{
		byUser: make(map[uuid.UUID]string),
		byConn: make(map[string]uuid.UUID),
	}
}

// SetConnection records the user's live connection, replacing any previous
// one. Idempotent upsert.
func (p *PresenceTable) SetConnection(user uuid.UUID, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.byUser[user]; ok && old != connID {
		delete(p.byConn, old)
	}
	p.byUser[user] = connID
	p.byConn[connID] = user
}

// LookupConnection returns the user's live connection, if any.
func (p *PresenceTable) LookupConnection(user uuid.UUID) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	connID, ok := p.byUser[user]
	return connID, ok
}

// RemoveConnection removes the entry whose recorded connection equals
// connID and reports which user it belonged to. Removing a connection that
// is not present (already replaced by a reconnect, or never identified) is
// a no-op.
func (p *PresenceTable) RemoveConnection(connID string) (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.byConn[connID]
	if !ok {
		return uuid.Nil, false
	}
	delete(p.byConn, connID)
	if p.byUser[user] == connID {
		delete(p.byUser, user)
	}
	return user, true
}

// ListUsers returns the users currently present, sorted for stable roster
// broadcasts.
func (p *PresenceTable) ListUsers() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := make([]uuid.UUID, 0, len(p.byUser))
	for u := range p.byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
	return users
}
