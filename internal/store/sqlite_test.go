package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/krazio-01/whisperwave/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := NewSQLiteStore(context.Background(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func newTestUser(t *testing.T, s *SQLiteStore, username string) *models.User {
	t.Helper()
	u := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

func newTestChat(t *testing.T, s *SQLiteStore, members ...uuid.UUID) *models.Chat {
	t.Helper()
	c := &models.Chat{ID: uuid.New(), MemberIDs: members}
	if len(members) > 2 {
		c.IsGroup = true
		c.Name = "test group"
		c.GroupAdmin = &members[0]
	}
	if err := s.CreateChat(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func appendTestMessage(t *testing.T, s *SQLiteStore, chat *models.Chat, sender uuid.UUID, body string, unseenFor []uuid.UUID) *models.Message {
	t.Helper()
	msg := &models.Message{
		ID:       ulid.Make().String(),
		ChatID:   chat.ID,
		SenderID: sender,
		Body:     body,
	}
	if err := s.AppendMessage(context.Background(), msg, unseenFor); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &models.User{
		ID:           uuid.New(),
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		VerifyToken:  "tok-123",
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != u.ID || got.IsVerified {
		t.Fatalf("unexpected user: %+v", got)
	}

	byToken, err := s.GetUserByVerifyToken(ctx, "tok-123")
	if err != nil || byToken == nil || byToken.ID != u.ID {
		t.Fatalf("lookup by token failed: %v %+v", err, byToken)
	}

	if err := s.MarkUserVerified(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetUserByID(ctx, u.ID)
	if err != nil || got == nil {
		t.Fatal(err)
	}
	if !got.IsVerified || got.VerifyToken != "" {
		t.Fatalf("expected verified user with cleared token, got %+v", got)
	}

	if missing, err := s.GetUserByUsername(ctx, "nobody"); err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for unknown username, got %+v, %v", missing, err)
	}
}

func TestFindDirectChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestUser(t, s, "a")
	b := newTestUser(t, s, "b")
	c := newTestUser(t, s, "c")

	chat := newTestChat(t, s, a.ID, b.ID)

	found, err := s.FindDirectChat(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ID != chat.ID {
		t.Fatal("expected the direct chat regardless of argument order")
	}

	if none, err := s.FindDirectChat(ctx, a.ID, c.ID); err != nil || none != nil {
		t.Fatalf("expected no chat between a and c, got %+v, %v", none, err)
	}

	// group membership must not satisfy a direct-chat lookup
	newTestChat(t, s, a.ID, c.ID, b.ID)
	if none, err := s.FindDirectChat(ctx, a.ID, c.ID); err != nil || none != nil {
		t.Fatalf("group chat matched a direct lookup: %+v, %v", none, err)
	}
}

func TestAppendMessageIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestUser(t, s, "a")
	b := newTestUser(t, s, "b")
	chat := newTestChat(t, s, a.ID, b.ID)

	msg := appendTestMessage(t, s, chat, a.ID, "hello", []uuid.UUID{b.ID})

	msgs, err := s.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID || msgs[0].Sender == nil {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	count, err := s.UnseenCount(ctx, chat.ID, b.ID)
	if err != nil || count != 1 {
		t.Fatalf("expected unseen=1 for b, got %d, %v", count, err)
	}
	count, err = s.UnseenCount(ctx, chat.ID, a.ID)
	if err != nil || count != 0 {
		t.Fatalf("expected unseen=0 for sender, got %d, %v", count, err)
	}

	chats, err := s.ListChatsForUser(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].LastMessage == nil || chats[0].LastMessage.ID != msg.ID {
		t.Fatal("expected the last-message pointer to follow the append")
	}
}

func TestUnseenIncrementAndIdempotentReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestUser(t, s, "a")
	b := newTestUser(t, s, "b")
	chat := newTestChat(t, s, a.ID, b.ID)

	for i := 0; i < 3; i++ {
		if err := s.IncrementUnseen(ctx, chat.ID, b.ID); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := s.UnseenCount(ctx, chat.ID, b.ID); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}

	if err := s.ResetUnseen(ctx, chat.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.UnseenCount(ctx, chat.ID, b.ID); n != 0 {
		t.Fatalf("expected 0 after reset, got %d", n)
	}

	// resetting an already-zero counter changes nothing
	if err := s.ResetUnseen(ctx, chat.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.UnseenCount(ctx, chat.ID, b.ID); n != 0 {
		t.Fatalf("expected 0 after double reset, got %d", n)
	}

	// resetting for a user with no ledger entry at all is fine too
	if err := s.ResetUnseen(ctx, chat.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentIncrementsForDifferentUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestUser(t, s, "a")
	b := newTestUser(t, s, "b")
	c := newTestUser(t, s, "c")
	chat := newTestChat(t, s, a.ID, b.ID, c.ID)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := s.IncrementUnseen(ctx, chat.ID, b.ID); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.IncrementUnseen(ctx, chat.ID, c.ID); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	counts, err := s.UnseenCounts(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if counts[b.ID] != n || counts[c.ID] != n {
		t.Fatalf("lost increments: b=%d c=%d, want %d each", counts[b.ID], counts[c.ID], n)
	}
	if counts[a.ID] != 0 {
		t.Fatalf("sender counter moved: %d", counts[a.ID])
	}
}

func TestRemoveMemberPrunesLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestUser(t, s, "a")
	b := newTestUser(t, s, "b")
	c := newTestUser(t, s, "c")
	chat := newTestChat(t, s, a.ID, b.ID, c.ID)

	if err := s.IncrementUnseen(ctx, chat.ID, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveMember(ctx, chat.ID, c.ID); err != nil {
		t.Fatal(err)
	}

	members, err := s.FindChatMembers(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	counts, err := s.UnseenCounts(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := counts[c.ID]; ok {
		t.Fatal("removed member's ledger entry should be pruned")
	}
}

func TestDeleteChatCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestUser(t, s, "a")
	b := newTestUser(t, s, "b")
	chat := newTestChat(t, s, a.ID, b.ID)

	appendTestMessage(t, s, chat, a.ID, "bye", []uuid.UUID{b.ID})

	if err := s.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatal(err)
	}
	if got, err := s.GetChat(ctx, chat.ID); err != nil || got != nil {
		t.Fatalf("chat should be gone, got %+v, %v", got, err)
	}
	msgs, err := s.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatal("messages should cascade with the chat")
	}
	counts, err := s.UnseenCounts(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 0 {
		t.Fatal("ledger rows should cascade with the chat")
	}
}

func TestSearchUsersAmongCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	me := newTestUser(t, s, "me")
	alice := newTestUser(t, s, "alice")
	bob := newTestUser(t, s, "bob")
	newTestUser(t, s, "albert") // not a candidate

	among := []uuid.UUID{me.ID, alice.ID, bob.ID}

	got, err := s.SearchUsers(ctx, "al", among, me.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != alice.ID {
		t.Fatalf("expected only alice, got %+v", got)
	}

	// empty keyword matches all candidates except the requester
	got, err = s.SearchUsers(ctx, "", among, me.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected alice and bob, got %+v", got)
	}
}

func TestListImageURLs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestUser(t, s, "a")
	b := newTestUser(t, s, "b")
	chat := newTestChat(t, s, a.ID, b.ID)

	appendTestMessage(t, s, chat, a.ID, "text only", nil)
	withImage := &models.Message{
		ID:       ulid.Make().String(),
		ChatID:   chat.ID,
		SenderID: a.ID,
		ImageURL: "http://localhost:8800/uploads/messages/pic.png",
	}
	if err := s.AppendMessage(ctx, withImage, nil); err != nil {
		t.Fatal(err)
	}

	urls, err := s.ListImageURLs(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 1 || urls[0] != withImage.ImageURL {
		t.Fatalf("unexpected urls: %v", urls)
	}
}
