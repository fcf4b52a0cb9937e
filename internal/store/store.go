package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/krazio-01/whisperwave/internal/models"
)

// ErrDuplicate is returned when a unique constraint (username, email,
// direct-chat pair) would be violated.
var ErrDuplicate = errors.New("store: duplicate record")

// DataStore defines the interface for persistent storage of users, chats,
// messages and the per-chat unseen-count ledger. Both PostgresStore and
// SQLiteStore implement this interface.
//
// Lookup methods return (nil, nil) when no row matches.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByVerifyToken(ctx context.Context, token string) (*models.User, error)
	MarkUserVerified(ctx context.Context, id uuid.UUID) error
	// SearchUsers matches keyword against username/email among the given
	// candidate IDs, excluding the requester.
	SearchUsers(ctx context.Context, keyword string, among []uuid.UUID, exclude uuid.UUID) ([]models.User, error)

	// Chat operations
	CreateChat(ctx context.Context, c *models.Chat) error
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	FindDirectChat(ctx context.Context, a, b uuid.UUID) (*models.Chat, error)
	// ListChatsForUser returns the user's chats newest-activity first, with
	// member profiles and last message populated.
	ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error)
	RenameChat(ctx context.Context, chatID uuid.UUID, name string) error
	AddMember(ctx context.Context, chatID, userID uuid.UUID) error
	// RemoveMember also prunes the member's unseen-count entry.
	RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error
	SetGroupAdmin(ctx context.Context, chatID, userID uuid.UUID) error
	DeleteChat(ctx context.Context, chatID uuid.UUID) error
	FindChatMembers(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)

	// Message operations. AppendMessage writes the message row, the chat's
	// last-message pointer and every requested unseen increment in a single
	// transaction.
	AppendMessage(ctx context.Context, msg *models.Message, unseenFor []uuid.UUID) error
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]models.Message, error)
	ListImageURLs(ctx context.Context, chatID uuid.UUID) ([]string, error)

	// Unseen-count ledger. Increment and Reset are field-level merges so
	// concurrent writers for different users never clobber each other.
	IncrementUnseen(ctx context.Context, chatID, userID uuid.UUID) error
	ResetUnseen(ctx context.Context, chatID, userID uuid.UUID) error
	UnseenCount(ctx context.Context, chatID, userID uuid.UUID) (int, error)
	UnseenCounts(ctx context.Context, chatID uuid.UUID) (map[uuid.UUID]int, error)
	UnseenCountsForUser(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error)
}
