package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/krazio-01/whisperwave/internal/metrics"
	"github.com/krazio-01/whisperwave/internal/models"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrNotMember    = errors.New("sender is not a member of this chat")
	ErrEmptyMessage = errors.New("message has no text and no image")
)

const deliverTimeout = 5 * time.Second

// ChatStore is the slice of the data layer the dispatcher needs.
type ChatStore interface {
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	AppendMessage(ctx context.Context, msg *models.Message, unseenFor []uuid.UUID) error
}

// Sender pushes an event to a single live connection.
type Sender interface {
	SendToConn(connID string, ev Event) bool
}

// MessageCache keeps recent messages hot for fast chat-history reads.
type MessageCache interface {
	CacheMessage(ctx context.Context, msg *models.Message) error
}

// NewMessage is a message on its way into a chat, before it has an ID.
type NewMessage struct {
	ChatID   uuid.UUID
	SenderID uuid.UUID
	Body     string
	ImageURL string
}

// Dispatcher decides, per chat member, whether a new message is pushed to a
// live connection watching the chat or recorded as an unseen increment. Both
// the HTTP message endpoint and the websocket sendMessage event funnel
// through Deliver, so the decision logic exists exactly once.
type Dispatcher struct {
	store    ChatStore
	presence *PresenceTable
	rooms    *ActiveRoomIndex
	sender   Sender
	cache    MessageCache // optional
	logger   zerolog.Logger
}

func NewDispatcher(store ChatStore, presence *PresenceTable, rooms *ActiveRoomIndex, sender Sender, cache MessageCache, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		presence: presence,
		rooms:    rooms,
		sender:   sender,
		cache:    cache,
		logger:   logger,
	}
}

// Deliver persists the message and fans it out. For each member other than
// the sender: a live connection with this chat open gets a push, everyone
// else gets their unseen counter bumped. The sender's own connection always
// receives an echo so multi-entry-point sends render consistently.
func (d *Dispatcher) Deliver(ctx context.Context, in NewMessage) (*models.Message, error) {
	if in.Body == "" && in.ImageURL == "" {
		return nil, ErrEmptyMessage
	}

	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	chat, err := d.store.GetChat(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if !chat.HasMember(in.SenderID) {
		return nil, ErrNotMember
	}

	// Snapshot who has the chat open before the write. A member who opens
	// the chat between this read and the counter write ends up with a
	// nonzero count they immediately clear by fetching; never a lost
	// message.
	var pushConns []string
	var unseenFor []uuid.UUID
	for _, member := range chat.MemberIDs {
		if member == in.SenderID {
			continue
		}
		connID, online := d.presence.LookupConnection(member)
		if online {
			if room, ok := d.rooms.ActiveRoom(connID); ok && room == chat.ID {
				pushConns = append(pushConns, connID)
				continue
			}
		}
		unseenFor = append(unseenFor, member)
	}

	msg := &models.Message{
		ID:       ulid.Make().String(),
		ChatID:   chat.ID,
		SenderID: in.SenderID,
		Body:     in.Body,
		ImageURL: in.ImageURL,
	}

	start := time.Now()
	if err := d.store.AppendMessage(ctx, msg, unseenFor); err != nil {
		return nil, err
	}
	metrics.StoreLatency.WithLabelValues("append_message").Observe(time.Since(start).Seconds())

	if sender, err := d.store.GetUserByID(ctx, in.SenderID); err == nil && sender != nil {
		pub := sender.Public()
		msg.Sender = &pub
	}

	ev := newEvent(EventMessageReceived, msg)
	for _, connID := range pushConns {
		if d.sender.SendToConn(connID, ev) {
			metrics.DeliveryOutcomes.WithLabelValues("push").Inc()
		}
	}
	for range unseenFor {
		metrics.DeliveryOutcomes.WithLabelValues("unseen").Inc()
	}

	// echo to the sender's own live connection, if any
	if connID, ok := d.presence.LookupConnection(in.SenderID); ok {
		d.sender.SendToConn(connID, ev)
	}

	chatType := "direct"
	if chat.IsGroup {
		chatType = "group"
	}
	metrics.MessagesSent.WithLabelValues(chatType).Inc()

	if d.cache != nil {
		if err := d.cache.CacheMessage(ctx, msg); err != nil {
			d.logger.Warn().Err(err).Str("message", msg.ID).Msg("failed to cache message")
		}
	}

	return msg, nil
}
