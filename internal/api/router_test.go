package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/krazio-01/whisperwave/internal/api/middleware"
	"github.com/krazio-01/whisperwave/internal/config"
	"github.com/krazio-01/whisperwave/internal/handlers"
	"github.com/krazio-01/whisperwave/internal/mail"
	"github.com/krazio-01/whisperwave/internal/realtime"
	"github.com/krazio-01/whisperwave/internal/store"
	"github.com/krazio-01/whisperwave/internal/token"
	"github.com/krazio-01/whisperwave/internal/upload"
)

type testEnv struct {
	srv *httptest.Server
	db  *store.SQLiteStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.NewSQLiteStore(context.Background(), fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	logger := zerolog.Nop()
	presence := realtime.NewPresenceTable()
	rooms := realtime.NewActiveRoomIndex()
	hub := realtime.NewHub(presence, rooms, logger)
	dispatcher := realtime.NewDispatcher(db, presence, rooms, hub, nil, logger)
	hub.SetDeliverer(dispatcher)

	blobs, err := upload.NewLocalStore(t.TempDir(), "http://localhost:8800")
	if err != nil {
		t.Fatal(err)
	}
	tokens := token.NewIssuer("test-secret")

	cfg := &config.Config{Env: "test", FrontendURL: "*", BaseURL: "http://localhost:8800"}
	h := handlers.NewHandler(db, nil, dispatcher, mail.LogMailer{Logger: logger}, blobs, tokens, cfg.BaseURL, logger)

	router := NewRouter(Deps{
		Config:    cfg,
		Logger:    logger,
		Hub:       hub,
		Handler:   h,
		Auth:      middleware.NewAuthMiddleware(tokens),
		UploadDir: blobs.Dir(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, db: db}
}

func (e *testEnv) request(t *testing.T, method, path, bearer string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

// signupAndLogin registers, verifies and logs a user in, returning their
// token and user ID.
func (e *testEnv) signupAndLogin(t *testing.T, username string) (string, string) {
	t.Helper()
	resp, body := e.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret-password",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %s", username, resp.StatusCode, body)
	}

	user, err := e.db.GetUserByEmail(context.Background(), username+"@example.com")
	if err != nil || user == nil {
		t.Fatalf("registered user missing: %v", err)
	}
	resp, body = e.request(t, http.MethodGet, "/api/auth/verify/"+user.VerifyToken, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify %s: %d %s", username, resp.StatusCode, body)
	}

	resp, body = e.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    username + "@example.com",
		"password": "secret-password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, resp.StatusCode, body)
	}
	var login struct {
		ID    string `json:"_id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &login); err != nil {
		t.Fatal(err)
	}
	return login.Token, login.ID
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	// unverified accounts cannot log in
	resp, body := env.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "carol",
		"email":    "carol@example.com",
		"password": "secret-password",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %s", resp.StatusCode, body)
	}
	resp, _ = env.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "carol@example.com",
		"password": "secret-password",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before verification, got %d", resp.StatusCode)
	}

	// duplicate email is rejected
	resp, _ = env.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "carol2",
		"email":    "carol@example.com",
		"password": "secret-password",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}

	// protected routes require a token
	resp, _ = env.request(t, http.MethodGet, "/api/chat/", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestChatAndMessageFlow(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, _ := env.signupAndLogin(t, "alice")
	bobToken, bobID := env.signupAndLogin(t, "bob")

	// alice opens a direct chat with bob
	resp, body := env.request(t, http.MethodPost, "/api/chat/", aliceToken, map[string]string{"userId": bobID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("new chat: %d %s", resp.StatusCode, body)
	}
	var chat struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(body, &chat); err != nil {
		t.Fatal(err)
	}

	// opening it again returns the same chat
	resp, body = env.request(t, http.MethodPost, "/api/chat/", aliceToken, map[string]string{"userId": bobID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat new chat: %d %s", resp.StatusCode, body)
	}

	// alice sends a message; bob is offline, so his counter climbs
	resp, body = env.request(t, http.MethodPost, "/api/messages/", aliceToken, map[string]string{
		"chatId": chat.ID,
		"text":   "hi bob",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send message: %d %s", resp.StatusCode, body)
	}

	resp, body = env.request(t, http.MethodGet, "/api/chat/", bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch chats: %d %s", resp.StatusCode, body)
	}
	var inbox struct {
		Unseen map[string]int `json:"unseenMessageCounts"`
	}
	if err := json.Unmarshal(body, &inbox); err != nil {
		t.Fatal(err)
	}
	if inbox.Unseen[chat.ID] != 1 {
		t.Fatalf("expected unseen=1 for bob, got %d", inbox.Unseen[chat.ID])
	}

	// reading the chat resets the counter
	resp, body = env.request(t, http.MethodGet, "/api/messages/"+chat.ID, bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch messages: %d %s", resp.StatusCode, body)
	}
	var msgs []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hi bob" {
		t.Fatalf("unexpected history: %s", body)
	}

	resp, body = env.request(t, http.MethodGet, "/api/chat/", bobToken, nil)
	if err := json.Unmarshal(body, &inbox); err != nil {
		t.Fatal(err)
	}
	if inbox.Unseen[chat.ID] != 0 {
		t.Fatalf("expected unseen=0 after read, got %d", inbox.Unseen[chat.ID])
	}

	// a stranger cannot read the conversation
	carolToken, _ := env.signupAndLogin(t, "carol")
	resp, _ = env.request(t, http.MethodGet, "/api/messages/"+chat.ID, carolToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", resp.StatusCode)
	}
}

func TestGroupChatFlow(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, _ := env.signupAndLogin(t, "alice")
	_, bobID := env.signupAndLogin(t, "bob")
	_, carolID := env.signupAndLogin(t, "carol")

	resp, body := env.request(t, http.MethodPost, "/api/chat/group", aliceToken, map[string]any{
		"chatName": "the gang",
		"members":  []string{bobID, carolID},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create group: %d %s", resp.StatusCode, body)
	}
	var group struct {
		ID      string `json:"_id"`
		Name    string `json:"chatName"`
		IsGroup bool   `json:"isGroupChat"`
	}
	if err := json.Unmarshal(body, &group); err != nil {
		t.Fatal(err)
	}
	if !group.IsGroup || group.Name != "the gang" {
		t.Fatalf("unexpected group: %s", body)
	}

	// two members is not a group
	resp, _ = env.request(t, http.MethodPost, "/api/chat/group", aliceToken, map[string]any{
		"chatName": "too small",
		"members":  []string{bobID},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for undersized group, got %d", resp.StatusCode)
	}

	resp, body = env.request(t, http.MethodPut, "/api/chat/group/rename", aliceToken, map[string]string{
		"chatId":   group.ID,
		"chatName": "renamed gang",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename: %d %s", resp.StatusCode, body)
	}

	// removing below two members is rejected
	resp, _ = env.request(t, http.MethodPut, "/api/chat/group/remove", aliceToken, map[string]string{
		"chatId": group.ID,
		"userId": bobID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove bob: %d", resp.StatusCode)
	}
	resp, _ = env.request(t, http.MethodPut, "/api/chat/group/remove", aliceToken, map[string]string{
		"chatId": group.ID,
		"userId": carolID,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 when shrinking below 2 members, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.request(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" {
		t.Fatalf("expected healthy, got %s", health.Status)
	}
}
