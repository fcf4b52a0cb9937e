package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/krazio-01/whisperwave/internal/models"
)

func newTestHub() (*Hub, *PresenceTable, *ActiveRoomIndex) {
	presence := NewPresenceTable()
	rooms := NewActiveRoomIndex()
	return NewHub(presence, rooms, zerolog.Nop()), presence, rooms
}

// testClient builds a client without a websocket; frames land in send.
func testClient() *Client {
	return &Client{ID: uuid.NewString(), send: make(chan []byte, sendBuffer)}
}

func drain(c *Client) []Event {
	var events []Event
	for {
		select {
		case data := <-c.send:
			var ev Event
			if err := json.Unmarshal(data, &ev); err == nil {
				events = append(events, ev)
			}
		default:
			return events
		}
	}
}

func TestHubSetupIdentifiesAndBroadcasts(t *testing.T) {
	hub, presence, _ := newTestHub()
	c := testClient()
	hub.Register(c)

	user := uuid.New()
	payload, _ := json.Marshal(setupPayload{UserID: user.String()})
	hub.dispatch(c, Event{Name: EventSetup, Data: payload})

	if got, ok := c.User(); !ok || got != user {
		t.Fatalf("expected client bound to %s", user)
	}
	if conn, ok := presence.LookupConnection(user); !ok || conn != c.ID {
		t.Fatal("expected presence entry for the connection")
	}

	events := drain(c)
	var sawConnected, sawRoster bool
	for _, ev := range events {
		switch ev.Name {
		case EventConnected:
			sawConnected = true
		case EventOnlineUsers:
			sawRoster = true
			var ids []string
			if err := json.Unmarshal(ev.Data, &ids); err != nil {
				t.Fatal(err)
			}
			if len(ids) != 1 || ids[0] != user.String() {
				t.Fatalf("expected roster [%s], got %v", user, ids)
			}
		}
	}
	if !sawConnected || !sawRoster {
		t.Fatalf("expected connected ack and roster broadcast, got %v", events)
	}
}

func TestHubSetupAcceptsBareStringPayload(t *testing.T) {
	hub, presence, _ := newTestHub()
	c := testClient()
	hub.Register(c)

	user := uuid.New()
	payload, _ := json.Marshal(user.String())
	hub.dispatch(c, Event{Name: EventSetup, Data: payload})

	if _, ok := presence.LookupConnection(user); !ok {
		t.Fatal("expected presence entry from bare-string setup")
	}
}

func TestHubJoinChatSetsActiveRoom(t *testing.T) {
	hub, _, rooms := newTestHub()
	c := testClient()
	hub.Register(c)

	chatID := uuid.New()
	payload, _ := json.Marshal(joinChatPayload{ChatID: chatID.String()})
	hub.dispatch(c, Event{Name: EventJoinChat, Data: payload})

	if room, ok := rooms.ActiveRoom(c.ID); !ok || room != chatID {
		t.Fatalf("expected active room %s", chatID)
	}
}

func TestHubUnregisterCleansUp(t *testing.T) {
	hub, presence, rooms := newTestHub()
	c := testClient()
	other := testClient()
	hub.Register(c)
	hub.Register(other)

	user := uuid.New()
	payload, _ := json.Marshal(setupPayload{UserID: user.String()})
	hub.dispatch(c, Event{Name: EventSetup, Data: payload})
	roomPayload, _ := json.Marshal(joinChatPayload{ChatID: uuid.New().String()})
	hub.dispatch(c, Event{Name: EventJoinChat, Data: roomPayload})
	drain(other)

	hub.Unregister(c)

	if _, ok := presence.LookupConnection(user); ok {
		t.Fatal("presence entry should be gone after unregister")
	}
	if _, ok := rooms.ActiveRoom(c.ID); ok {
		t.Fatal("active room should be gone after unregister")
	}

	// the remaining connection sees an empty roster
	var sawEmptyRoster bool
	for _, ev := range drain(other) {
		if ev.Name == EventOnlineUsers {
			var ids []string
			_ = json.Unmarshal(ev.Data, &ids)
			if len(ids) == 0 {
				sawEmptyRoster = true
			}
		}
	}
	if !sawEmptyRoster {
		t.Fatal("expected empty roster broadcast after the only user left")
	}
}

func TestHubUnregisterBeforeSetupIsSilent(t *testing.T) {
	hub, _, _ := newTestHub()
	c := testClient()
	observer := testClient()
	hub.Register(c)
	hub.Register(observer)
	drain(observer)

	hub.Unregister(c)

	for _, ev := range drain(observer) {
		if ev.Name == EventOnlineUsers {
			t.Fatal("anonymous disconnect must not trigger a roster broadcast")
		}
	}

	// double unregister is a no-op
	hub.Unregister(c)
}

type stubDeliverer struct {
	got NewMessage
	err error
}

func (s *stubDeliverer) Deliver(_ context.Context, in NewMessage) (*models.Message, error) {
	s.got = in
	if s.err != nil {
		return nil, s.err
	}
	return &models.Message{ID: "m", ChatID: in.ChatID, SenderID: in.SenderID, Body: in.Body}, nil
}

func TestHubSendMessageRequiresSetup(t *testing.T) {
	hub, _, _ := newTestHub()
	hub.SetDeliverer(&stubDeliverer{})
	c := testClient()
	hub.Register(c)

	payload, _ := json.Marshal(sendMessagePayload{ChatID: uuid.New().String(), Text: "hi"})
	hub.dispatch(c, Event{Name: EventSendMessage, Data: payload})

	events := drain(c)
	if len(events) != 1 || events[0].Name != EventMessageFailed {
		t.Fatalf("expected messageFailed for anonymous sender, got %v", events)
	}
}

func TestHubSendMessageRoutesToDeliverer(t *testing.T) {
	hub, _, _ := newTestHub()
	stub := &stubDeliverer{}
	hub.SetDeliverer(stub)

	c := testClient()
	hub.Register(c)
	user := uuid.New()
	setup, _ := json.Marshal(setupPayload{UserID: user.String()})
	hub.dispatch(c, Event{Name: EventSetup, Data: setup})
	drain(c)

	chatID := uuid.New()
	payload, _ := json.Marshal(sendMessagePayload{ChatID: chatID.String(), Text: "over the wire"})
	hub.dispatch(c, Event{Name: EventSendMessage, Data: payload})

	if stub.got.ChatID != chatID || stub.got.SenderID != user || stub.got.Body != "over the wire" {
		t.Fatalf("deliverer got wrong message: %+v", stub.got)
	}
	for _, ev := range drain(c) {
		if ev.Name == EventMessageFailed {
			t.Fatal("successful delivery must not report failure")
		}
	}
}
