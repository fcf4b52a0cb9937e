package realtime

import "encoding/json"

// Transport event names. Inbound events come from clients, outbound events
// are pushed by the server.
const (
	// inbound
	EventSetup       = "setup"
	EventJoinChat    = "joinChat"
	EventSendMessage = "sendMessage"

	// outbound
	EventConnected       = "connected"
	EventOnlineUsers     = "onlineUsers"
	EventMessageReceived = "messageReceived"
	EventMessageFailed   = "messageFailed"
)

// Event is the JSON envelope exchanged over a websocket connection.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// newEvent wraps a payload in an envelope. Payloads are our own types, so
// marshalling cannot fail in practice; errors degrade to an empty payload.
func newEvent(name string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{Name: name}
	}
	return Event{Name: name, Data: data}
}

func (e Event) encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// setupPayload identifies the user behind a connection.
type setupPayload struct {
	UserID string `json:"userId"`
}

// joinChatPayload selects the connection's active room.
type joinChatPayload struct {
	ChatID string `json:"chatId"`
}

// sendMessagePayload carries an inbound message over the socket. The HTTP
// API is the other entry point into the same delivery path.
type sendMessagePayload struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
	Image  string `json:"image,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}
