package realtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/krazio-01/whisperwave/internal/models"
)

type fakeChatStore struct {
	chat      *models.Chat
	users     map[uuid.UUID]*models.User
	appended  *models.Message
	unseenFor []uuid.UUID
}

func (s *fakeChatStore) GetChat(_ context.Context, id uuid.UUID) (*models.Chat, error) {
	if s.chat != nil && s.chat.ID == id {
		return s.chat, nil
	}
	return nil, nil
}

func (s *fakeChatStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return s.users[id], nil
}

func (s *fakeChatStore) AppendMessage(_ context.Context, msg *models.Message, unseenFor []uuid.UUID) error {
	s.appended = msg
	s.unseenFor = unseenFor
	return nil
}

type fakeSender struct {
	sent map[string][]Event
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]Event)}
}

func (s *fakeSender) SendToConn(connID string, ev Event) bool {
	s.sent[connID] = append(s.sent[connID], ev)
	return true
}

func newTestDispatcher(store *fakeChatStore) (*Dispatcher, *PresenceTable, *ActiveRoomIndex, *fakeSender) {
	presence := NewPresenceTable()
	rooms := NewActiveRoomIndex()
	sender := newFakeSender()
	d := NewDispatcher(store, presence, rooms, sender, nil, zerolog.Nop())
	return d, presence, rooms, sender
}

func TestDeliverPushVersusIncrement(t *testing.T) {
	sender := uuid.New()
	watching := uuid.New()  // online, chat open
	elsewhere := uuid.New() // online, different chat open
	offline := uuid.New()

	chat := &models.Chat{
		ID:        uuid.New(),
		IsGroup:   true,
		MemberIDs: []uuid.UUID{sender, watching, elsewhere, offline},
	}
	store := &fakeChatStore{
		chat:  chat,
		users: map[uuid.UUID]*models.User{sender: {ID: sender, Username: "alice"}},
	}
	d, presence, rooms, sink := newTestDispatcher(store)

	presence.SetConnection(sender, "conn-sender")
	presence.SetConnection(watching, "conn-watching")
	presence.SetConnection(elsewhere, "conn-elsewhere")
	rooms.SetActiveRoom("conn-watching", chat.ID)
	rooms.SetActiveRoom("conn-elsewhere", uuid.New())

	msg, err := d.Deliver(context.Background(), NewMessage{
		ChatID:   chat.ID,
		SenderID: sender,
		Body:     "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" {
		t.Fatal("expected message to get an ID")
	}
	if msg.Sender == nil || msg.Sender.Username != "alice" {
		t.Fatal("expected sender profile to be populated")
	}

	// the member with the chat open gets a live push
	if got := sink.sent["conn-watching"]; len(got) != 1 || got[0].Name != EventMessageReceived {
		t.Fatalf("expected one messageReceived push for watching member, got %v", got)
	}
	// the sender gets an echo
	if got := sink.sent["conn-sender"]; len(got) != 1 {
		t.Fatalf("expected sender echo, got %v", got)
	}
	// the online-but-elsewhere member gets no push
	if got := sink.sent["conn-elsewhere"]; len(got) != 0 {
		t.Fatalf("expected no push for member in another chat, got %v", got)
	}

	// unseen increments cover exactly elsewhere and offline
	if len(store.unseenFor) != 2 {
		t.Fatalf("expected 2 unseen increments, got %d", len(store.unseenFor))
	}
	want := map[uuid.UUID]bool{elsewhere: true, offline: true}
	for _, id := range store.unseenFor {
		if !want[id] {
			t.Fatalf("unexpected unseen increment for %s", id)
		}
	}
}

func TestDeliverRejectsNonMember(t *testing.T) {
	chat := &models.Chat{ID: uuid.New(), MemberIDs: []uuid.UUID{uuid.New(), uuid.New()}}
	store := &fakeChatStore{chat: chat, users: map[uuid.UUID]*models.User{}}
	d, _, _, _ := newTestDispatcher(store)

	_, err := d.Deliver(context.Background(), NewMessage{
		ChatID:   chat.ID,
		SenderID: uuid.New(),
		Body:     "hi",
	})
	if err != ErrNotMember {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if store.appended != nil {
		t.Fatal("nothing should be persisted for a rejected sender")
	}
}

func TestDeliverUnknownChat(t *testing.T) {
	store := &fakeChatStore{users: map[uuid.UUID]*models.User{}}
	d, _, _, _ := newTestDispatcher(store)

	_, err := d.Deliver(context.Background(), NewMessage{
		ChatID:   uuid.New(),
		SenderID: uuid.New(),
		Body:     "hi",
	})
	if err != ErrChatNotFound {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestDeliverEmptyMessage(t *testing.T) {
	store := &fakeChatStore{}
	d, _, _, _ := newTestDispatcher(store)

	_, err := d.Deliver(context.Background(), NewMessage{ChatID: uuid.New(), SenderID: uuid.New()})
	if err != ErrEmptyMessage {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestDeliverAfterDisconnectIncrements(t *testing.T) {
	sender := uuid.New()
	other := uuid.New()
	chat := &models.Chat{ID: uuid.New(), MemberIDs: []uuid.UUID{sender, other}}
	store := &fakeChatStore{chat: chat, users: map[uuid.UUID]*models.User{}}
	d, presence, rooms, sink := newTestDispatcher(store)

	// other had the chat open, then dropped
	presence.SetConnection(other, "conn-other")
	rooms.SetActiveRoom("conn-other", chat.ID)
	presence.RemoveConnection("conn-other")
	rooms.ClearConnection("conn-other")

	if _, err := d.Deliver(context.Background(), NewMessage{
		ChatID:   chat.ID,
		SenderID: sender,
		Body:     "you there?",
	}); err != nil {
		t.Fatal(err)
	}

	if len(sink.sent["conn-other"]) != 0 {
		t.Fatal("disconnected member must not receive a push")
	}
	if len(store.unseenFor) != 1 || store.unseenFor[0] != other {
		t.Fatalf("expected unseen increment for the disconnected member, got %v", store.unseenFor)
	}
}
