package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/krazio-01/whisperwave/internal/metrics"
	"github.com/krazio-01/whisperwave/internal/models"
)

// MessageDeliverer is implemented by the delivery dispatcher; the hub hands
// it inbound sendMessage events.
type MessageDeliverer interface {
	Deliver(ctx context.Context, in NewMessage) (*models.Message, error)
}

// Hub is the connection lifecycle manager. It owns the connection registry
// and reacts to connect, setup, joinChat and disconnect by mutating the
// PresenceTable and ActiveRoomIndex and broadcasting roster changes.
//
// Per connection the state machine is: anonymous after the upgrade,
// identified after setup, optionally in a room after joinChat (re-enterable
// on every join), terminal on disconnect. A disconnect for a connection
// that never completed setup cleans up silently.
type Hub struct {
	presence *PresenceTable
	rooms    *ActiveRoomIndex
	logger   zerolog.Logger

	deliverer MessageDeliverer

	mu    sync.RWMutex
	conns map[string]*Client

	handlers map[string]func(*Client, json.RawMessage)
}

func NewHub(presence *PresenceTable, rooms *ActiveRoomIndex, logger zerolog.Logger) *Hub {
	h := &Hub{
		presence: presence,
		rooms:    rooms,
		logger:   logger,
		conns:    make(map[string]*Client),
	}
	// dispatch table: event name -> handler
	h.handlers = map[string]func(*Client, json.RawMessage){
		EventSetup:       h.handleSetup,
		EventJoinChat:    h.handleJoinChat,
		EventSendMessage: h.handleSendMessage,
	}
	return h
}

// SetDeliverer wires in the dispatcher after construction (the dispatcher
// needs the hub as its push sink).
func (h *Hub) SetDeliverer(d MessageDeliverer) {
	h.deliverer = d
}

// Register adds a freshly upgraded, still anonymous connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	metrics.OpenConnections.Inc()
}

// Unregister tears a connection down: registry, presence entry, active-room
// entry. If the connection was identified, the shrunken roster is broadcast.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, known := h.conns[c.ID]
	delete(h.conns, c.ID)
	h.mu.Unlock()
	if !known {
		return
	}
	metrics.OpenConnections.Dec()

	user, wasPresent := h.presence.RemoveConnection(c.ID)
	h.rooms.ClearConnection(c.ID)

	if wasPresent {
		h.logger.Debug().Stringer("user", user).Str("conn", c.ID).Msg("user went offline")
		h.BroadcastRoster()
	}
}

func (h *Hub) dispatch(c *Client, ev Event) {
	handler, ok := h.handlers[ev.Name]
	if !ok {
		h.logger.Debug().Str("event", ev.Name).Str("conn", c.ID).Msg("ignoring unknown event")
		return
	}
	handler(c, ev.Data)
}

// handleSetup binds a user identity to the connection and announces the
// updated roster to everyone.
func (h *Hub) handleSetup(c *Client, data json.RawMessage) {
	// the payload is either a bare userId string or {"userId": ...}
	var idStr string
	if err := json.Unmarshal(data, &idStr); err != nil {
		var p setupPayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.logger.Warn().Str("conn", c.ID).Msg("malformed setup payload")
			return
		}
		idStr = p.UserID
	}

	user, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn().Str("conn", c.ID).Str("userId", idStr).Msg("setup with invalid user id")
		return
	}

	c.setUser(user)
	h.presence.SetConnection(user, c.ID)
	c.enqueue(newEvent(EventConnected, nil).encode())
	h.BroadcastRoster()
}

// handleJoinChat switches the connection's active room. Repeated joins
// re-set the mapping, they never accumulate.
func (h *Hub) handleJoinChat(c *Client, data json.RawMessage) {
	var idStr string
	if err := json.Unmarshal(data, &idStr); err != nil {
		var p joinChatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.logger.Warn().Str("conn", c.ID).Msg("malformed joinChat payload")
			return
		}
		idStr = p.ChatID
	}

	chatID, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn().Str("conn", c.ID).Str("chatId", idStr).Msg("joinChat with invalid chat id")
		return
	}

	h.rooms.SetActiveRoom(c.ID, chatID)
}

// handleSendMessage routes an inbound socket message through the delivery
// dispatcher, the same path the HTTP API uses. Failures are reported back
// to the sending connection only.
func (h *Hub) handleSendMessage(c *Client, data json.RawMessage) {
	sender, identified := c.User()
	if !identified {
		c.enqueue(newEvent(EventMessageFailed, errorPayload{Error: "setup required before sending"}).encode())
		return
	}
	if h.deliverer == nil {
		return
	}

	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.enqueue(newEvent(EventMessageFailed, errorPayload{Error: "malformed message payload"}).encode())
		return
	}
	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		c.enqueue(newEvent(EventMessageFailed, errorPayload{Error: "invalid chat id"}).encode())
		return
	}

	_, err = h.deliverer.Deliver(context.Background(), NewMessage{
		ChatID:   chatID,
		SenderID: sender,
		Body:     p.Text,
		ImageURL: p.Image,
	})
	if err != nil {
		h.logger.Error().Err(err).Stringer("chat", chatID).Msg("socket message delivery failed")
		c.enqueue(newEvent(EventMessageFailed, errorPayload{Error: "message could not be delivered"}).encode())
	}
}

// BroadcastRoster pushes the current online-user list to every connection,
// identified or not.
func (h *Hub) BroadcastRoster() {
	users := h.presence.ListUsers()
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.String()
	}
	h.Broadcast(newEvent(EventOnlineUsers, ids))
	metrics.RosterBroadcasts.Inc()
}

// Broadcast enqueues an event to every connection; slow clients drop it.
func (h *Hub) Broadcast(ev Event) {
	data := ev.encode()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if !c.enqueue(data) {
			metrics.DroppedPushes.Inc()
		}
	}
}

// SendToConn pushes an event to a single connection. Reports whether the
// connection existed and accepted the frame.
func (h *Hub) SendToConn(connID string, ev Event) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !c.enqueue(ev.encode()) {
		metrics.DroppedPushes.Inc()
		return false
	}
	return true
}
