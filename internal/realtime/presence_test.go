package realtime

import (
	"testing"

	"github.com/google/uuid"
)

func TestPresenceSetAndLookup(t *testing.T) {
	p := NewPresenceTable()
	user := uuid.New()

	if _, ok := p.LookupConnection(user); ok {
		t.Fatal("expected no connection for unknown user")
	}

	p.SetConnection(user, "conn-1")
	conn, ok := p.LookupConnection(user)
	if !ok || conn != "conn-1" {
		t.Fatalf("expected conn-1, got %q (ok=%v)", conn, ok)
	}
}

func TestPresenceLastConnectionWins(t *testing.T) {
	p := NewPresenceTable()
	user := uuid.New()

	p.SetConnection(user, "conn-old")
	p.SetConnection(user, "conn-new")

	conn, ok := p.LookupConnection(user)
	if !ok || conn != "conn-new" {
		t.Fatalf("expected conn-new, got %q", conn)
	}

	// removing the stale connection must not evict the new one
	if _, removed := p.RemoveConnection("conn-old"); removed {
		t.Fatal("stale connection should already be gone")
	}
	if _, ok := p.LookupConnection(user); !ok {
		t.Fatal("user should still be present after stale remove")
	}
}

func TestPresenceRemoveConnection(t *testing.T) {
	p := NewPresenceTable()
	user := uuid.New()
	p.SetConnection(user, "conn-1")

	got, removed := p.RemoveConnection("conn-1")
	if !removed || got != user {
		t.Fatalf("expected removal of %s, got %s (removed=%v)", user, got, removed)
	}
	if _, ok := p.LookupConnection(user); ok {
		t.Fatal("user should be offline after remove")
	}

	// removing twice is a no-op
	if _, removed := p.RemoveConnection("conn-1"); removed {
		t.Fatal("second remove should be a no-op")
	}
}

func TestPresenceListUsersSorted(t *testing.T) {
	p := NewPresenceTable()
	for i := 0; i < 5; i++ {
		p.SetConnection(uuid.New(), uuid.NewString())
	}

	users := p.ListUsers()
	if len(users) != 5 {
		t.Fatalf("expected 5 users, got %d", len(users))
	}
	for i := 1; i < len(users); i++ {
		if users[i-1].String() >= users[i].String() {
			t.Fatal("roster should be sorted")
		}
	}
}
