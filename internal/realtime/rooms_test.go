package realtime

import (
	"testing"

	"github.com/google/uuid"
)

func TestActiveRoomOverwrite(t *testing.T) {
	idx := NewActiveRoomIndex()
	chatA, chatB := uuid.New(), uuid.New()

	if _, ok := idx.ActiveRoom("conn-1"); ok {
		t.Fatal("expected no active room for fresh connection")
	}

	idx.SetActiveRoom("conn-1", chatA)
	idx.SetActiveRoom("conn-1", chatB)

	room, ok := idx.ActiveRoom("conn-1")
	if !ok || room != chatB {
		t.Fatalf("expected active room %s, got %s", chatB, room)
	}
}

func TestActiveRoomClearConnection(t *testing.T) {
	idx := NewActiveRoomIndex()
	idx.SetActiveRoom("conn-1", uuid.New())

	idx.ClearConnection("conn-1")
	if _, ok := idx.ActiveRoom("conn-1"); ok {
		t.Fatal("expected no active room after clear")
	}

	// clearing an unknown connection is a no-op
	idx.ClearConnection("conn-never-seen")
}
