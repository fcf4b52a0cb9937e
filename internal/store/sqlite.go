package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/krazio-01/whisperwave/internal/models"
)

// SQLiteStore handles SQLite database operations. It backs development
// setups and tests; production runs on PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/whisperwave.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/whisperwave.db"
	}

	if !strings.HasPrefix(dbPath, "file:") {
		// Ensure directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		dbPath += "?_journal_mode=WAL&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; serializing at the pool keeps concurrent
	// ledger updates from surfacing as SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		is_verified INTEGER NOT NULL DEFAULT 0,
		verify_token TEXT,
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		is_group INTEGER NOT NULL DEFAULT 0,
		group_admin TEXT,
		avatar_url TEXT NOT NULL DEFAULT '',
		last_message_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_members (
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id),
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS chat_unseen (
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL REFERENCES users(id),
		body TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_members_user ON chat_members(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserLite(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var token sql.NullString
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsVerified,
		&token,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.VerifyToken = token.String
	return u, nil
}

const liteUserColumns = `id, username, email, password_hash, is_verified, verify_token, avatar_url, created_at, updated_at`

// CreateUser inserts a new user record. The caller supplies the ID.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	var token any
	if u.VerifyToken != "" {
		token = u.VerifyToken
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, is_verified, verify_token, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.IsVerified, token, u.AvatarURL, now, now)
	if err != nil {
		return err
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUserLite(s.db.QueryRowContext(ctx, `SELECT `+liteUserColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUserLite(s.db.QueryRowContext(ctx, `SELECT `+liteUserColumns+` FROM users WHERE email = ?`, email))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUserLite(s.db.QueryRowContext(ctx, `SELECT `+liteUserColumns+` FROM users WHERE username = ?`, username))
}

// GetUserByVerifyToken retrieves a user by their email verification token.
func (s *SQLiteStore) GetUserByVerifyToken(ctx context.Context, tok string) (*models.User, error) {
	return scanUserLite(s.db.QueryRowContext(ctx, `SELECT `+liteUserColumns+` FROM users WHERE verify_token = ?`, tok))
}

// MarkUserVerified flags the account verified and clears the token.
func (s *SQLiteStore) MarkUserVerified(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_verified = 1, verify_token = NULL, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	return err
}

// SearchUsers matches keyword against username/email among candidate IDs.
func (s *SQLiteStore) SearchUsers(ctx context.Context, keyword string, among []uuid.UUID, exclude uuid.UUID) ([]models.User, error) {
	if len(among) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(among))
	args := make([]any, 0, len(among)+3)
	for i, id := range among {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, exclude, "%"+strings.ToLower(keyword)+"%", "%"+strings.ToLower(keyword)+"%")

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+liteUserColumns+` FROM users
		WHERE id IN (`+strings.Join(placeholders, ", ")+`) AND id <> ?
		  AND (lower(username) LIKE ? OR lower(email) LIKE ?)
		ORDER BY username
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUserLite(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateChat inserts the chat, its member rows and zeroed ledger entries in
// one transaction.
func (s *SQLiteStore) CreateChat(ctx context.Context, c *models.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, name, is_group, group_admin, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.IsGroup, c.GroupAdmin, c.AvatarURL, now, now); err != nil {
		return err
	}

	for _, m := range c.MemberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chat_members (chat_id, user_id) VALUES (?, ?)
		`, c.ID, m); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chat_unseen (chat_id, user_id, count) VALUES (?, ?, 0)
		`, c.ID, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// GetChat retrieves a chat with its member IDs.
func (s *SQLiteStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	c := &models.Chat{}
	var admin uuid.NullUUID
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, group_admin, avatar_url, created_at, updated_at
		FROM chats WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.IsGroup, &admin, &c.AvatarURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if admin.Valid {
		c.GroupAdmin = &admin.UUID
	}

	c.MemberIDs, err = s.FindChatMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindDirectChat returns the non-group chat both users belong to, if any.
func (s *SQLiteStore) FindDirectChat(ctx context.Context, a, b uuid.UUID) (*models.Chat, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id FROM chats c
		JOIN chat_members m1 ON m1.chat_id = c.id AND m1.user_id = ?
		JOIN chat_members m2 ON m2.chat_id = c.id AND m2.user_id = ?
		WHERE c.is_group = 0
		LIMIT 1
	`, a, b).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.GetChat(ctx, id)
}

// ListChatsForUser returns the user's chats newest-activity first with
// member profiles and last message populated.
func (s *SQLiteStore) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = ?
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	chats := make([]models.Chat, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetChat(ctx, id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		if err := s.populateChat(ctx, c); err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, nil
}

func (s *SQLiteStore) populateChat(ctx context.Context, c *models.Chat) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+liteUserColumns+` FROM users
		WHERE id IN (SELECT user_id FROM chat_members WHERE chat_id = ?)
		ORDER BY username
	`, c.ID)
	if err != nil {
		return err
	}

	c.Members = c.Members[:0]
	for rows.Next() {
		u, err := scanUserLite(rows)
		if err != nil {
			rows.Close()
			return err
		}
		c.Members = append(c.Members, u.Public())
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	m := &models.Message{}
	err = s.db.QueryRowContext(ctx, `
		SELECT m.id, m.chat_id, m.sender_id, m.body, m.image_url, m.created_at
		FROM messages m
		JOIN chats c ON c.last_message_id = m.id
		WHERE c.id = ?
	`, c.ID).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.ImageURL, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	c.LastMessage = m
	return nil
}

// RenameChat updates the chat name.
func (s *SQLiteStore) RenameChat(ctx context.Context, chatID uuid.UUID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chats SET name = ?, updated_at = ? WHERE id = ?
	`, name, time.Now().UTC(), chatID)
	return err
}

// AddMember inserts a membership row plus a zeroed ledger entry.
func (s *SQLiteStore) AddMember(ctx context.Context, chatID, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_members (chat_id, user_id) VALUES (?, ?)
	`, chatID, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_unseen (chat_id, user_id, count) VALUES (?, ?, 0)
	`, chatID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveMember removes the membership row and prunes the ledger entry.
func (s *SQLiteStore) RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?
	`, chatID, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chat_unseen WHERE chat_id = ? AND user_id = ?
	`, chatID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetGroupAdmin reassigns the group admin.
func (s *SQLiteStore) SetGroupAdmin(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chats SET group_admin = ?, updated_at = ? WHERE id = ?
	`, userID, time.Now().UTC(), chatID)
	return err
}

// DeleteChat removes the chat; members, messages and ledger rows cascade.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID)
	return err
}

// FindChatMembers returns the member IDs of a chat.
func (s *SQLiteStore) FindChatMembers(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM chat_members WHERE chat_id = ?
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// AppendMessage writes the message row, the chat's last-message pointer and
// every requested unseen increment in one transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message, unseenFor []uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, body, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Body, msg.ImageURL, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET last_message_id = ?, updated_at = ? WHERE id = ?
	`, msg.ID, now, msg.ChatID); err != nil {
		return err
	}

	for _, u := range unseenFor {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_unseen (chat_id, user_id, count) VALUES (?, ?, 1)
			ON CONFLICT (chat_id, user_id) DO UPDATE SET count = count + 1
		`, msg.ChatID, u); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	msg.CreatedAt = now
	return nil
}

// ListMessages returns the chat's full history oldest first, with sender
// profiles populated.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, m.sender_id, m.body, m.image_url, m.created_at,
		       u.username, u.email, u.avatar_url
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = ?
		ORDER BY m.id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		sender := models.User{}
		err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.ImageURL, &m.CreatedAt,
			&sender.Username, &sender.Email, &sender.AvatarURL)
		if err != nil {
			return nil, err
		}
		sender.ID = m.SenderID
		m.Sender = &sender
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListImageURLs returns the non-empty image URLs of a chat's messages.
func (s *SQLiteStore) ListImageURLs(ctx context.Context, chatID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT image_url FROM messages WHERE chat_id = ? AND image_url <> ''
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// IncrementUnseen bumps one member's counter with a field-level merge.
func (s *SQLiteStore) IncrementUnseen(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_unseen (chat_id, user_id, count) VALUES (?, ?, 1)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET count = count + 1
	`, chatID, userID)
	return err
}

// ResetUnseen zeroes one member's counter. Idempotent.
func (s *SQLiteStore) ResetUnseen(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_unseen (chat_id, user_id, count) VALUES (?, ?, 0)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET count = 0
	`, chatID, userID)
	return err
}

// UnseenCount returns one member's counter; absent entries read as zero.
func (s *SQLiteStore) UnseenCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM chat_unseen WHERE chat_id = ? AND user_id = ?
	`, chatID, userID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// UnseenCounts snapshots a chat's full ledger.
func (s *SQLiteStore) UnseenCounts(ctx context.Context, chatID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, count FROM chat_unseen WHERE chat_id = ?
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var u uuid.UUID
		var c int
		if err := rows.Scan(&u, &c); err != nil {
			return nil, err
		}
		counts[u] = c
	}
	return counts, rows.Err()
}

// UnseenCountsForUser returns chatID -> count for one user across all chats.
func (s *SQLiteStore) UnseenCountsForUser(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, count FROM chat_unseen WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var c uuid.UUID
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, err
		}
		counts[c] = n
	}
	return counts, rows.Err()
}
