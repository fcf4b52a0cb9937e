// Package whisperwave provides a client for the WhisperWave messaging API:
// REST calls for accounts and chats, a websocket session for live events.
package whisperwave

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a WhisperWave API client.
type Client struct {
	BaseURL    string
	Token      string
	UserID     string
	HTTPClient *http.Client
}

// NewClient creates a new client for the given server.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// User mirrors the server's user representation.
type User struct {
	ID         string `json:"_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	AvatarURL  string `json:"profilePicture"`
	IsVerified bool   `json:"isVerified"`
}

// Chat mirrors the server's chat representation.
type Chat struct {
	ID          string   `json:"_id"`
	Name        string   `json:"chatName"`
	IsGroup     bool     `json:"isGroupChat"`
	Members     []User   `json:"members"`
	LastMessage *Message `json:"lastMessage"`
}

// Message mirrors the server's message representation.
type Message struct {
	ID       string `json:"_id"`
	ChatID   string `json:"chat"`
	SenderID string `json:"senderId"`
	Sender   *User  `json:"sender"`
	Text     string `json:"text"`
	Image    string `json:"image"`
}

// Inbox is the response of the chat list endpoint.
type Inbox struct {
	Chats               []Chat         `json:"chats"`
	UnseenMessageCounts map[string]int `json:"unseenMessageCounts"`
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// Register creates an account. The account still needs email verification
// before it can log in.
func (c *Client) Register(username, email, password string) error {
	return c.do(http.MethodPost, "/api/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, nil)
}

// Login authenticates and stores the session token on the client.
func (c *Client) Login(email, password string) (*User, error) {
	var resp struct {
		User
		Token string `json:"token"`
	}
	err := c.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.Token = resp.Token
	c.UserID = resp.ID
	return &resp.User, nil
}

// FetchChats returns the caller's chats with unseen counts.
func (c *Client) FetchChats() (*Inbox, error) {
	var inbox Inbox
	if err := c.do(http.MethodGet, "/api/chat/", nil, &inbox); err != nil {
		return nil, err
	}
	return &inbox, nil
}

// NewChat opens (or returns) the direct chat with another user.
func (c *Client) NewChat(userID string) (*Chat, error) {
	var chat Chat
	if err := c.do(http.MethodPost, "/api/chat/", map[string]string{"userId": userID}, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// SearchUser finds a user by exact username or email.
func (c *Client) SearchUser(keyword string) (*User, error) {
	var u User
	if err := c.do(http.MethodGet, "/api/users/search?keyword="+url.QueryEscape(keyword), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// FetchMessages returns a chat's history and marks it read.
func (c *Client) FetchMessages(chatID string) ([]Message, error) {
	var msgs []Message
	if err := c.do(http.MethodGet, "/api/messages/"+chatID, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts a text message over the REST endpoint.
func (c *Client) SendMessage(chatID, text string) (*Message, error) {
	var msg Message
	err := c.do(http.MethodPost, "/api/messages/", map[string]string{
		"chatId": chatID,
		"text":   text,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Event is a server push received over the websocket session.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Session is a live websocket connection.
type Session struct {
	conn   *websocket.Conn
	Events chan Event
}

// Connect opens a websocket session and identifies the logged-in user with
// the setup event. Server pushes arrive on Session.Events until the
// connection drops, at which point the channel closes.
func (c *Client) Connect() (*Session, error) {
	if c.UserID == "" {
		return nil, fmt.Errorf("log in before connecting")
	}

	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}

	s := &Session{conn: conn, Events: make(chan Event, 64)}
	if err := s.emit("setup", map[string]string{"userId": c.UserID}); err != nil {
		conn.Close()
		return nil, err
	}

	go s.readLoop()
	return s, nil
}

func (s *Session) emit(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.conn.WriteJSON(Event{Name: name, Data: payload})
}

// JoinChat marks a chat as the one this session is looking at; its messages
// arrive live instead of counting as unseen.
func (s *Session) JoinChat(chatID string) error {
	return s.emit("joinChat", map[string]string{"chatId": chatID})
}

// SendMessage sends a text message over the socket.
func (s *Session) SendMessage(chatID, text string) error {
	return s.emit("sendMessage", map[string]string{"chatId": chatID, "text": text})
}

// Close tears the session down.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) readLoop() {
	defer close(s.Events)
	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			return
		}
		s.Events <- ev
	}
}
