package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/krazio-01/whisperwave/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, username, email, password_hash, is_verified, COALESCE(verify_token, ''), avatar_url, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsVerified,
		&u.VerifyToken,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a new user record. The caller supplies the ID.
func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, email, password_hash, is_verified, verify_token, avatar_url)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING created_at, updated_at
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.IsVerified, u.VerifyToken, u.AvatarURL)
	return row.Scan(&u.CreatedAt, &u.UpdatedAt)
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// GetUserByVerifyToken retrieves a user by their email verification token.
func (s *PostgresStore) GetUserByVerifyToken(ctx context.Context, tok string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE verify_token = $1`, tok))
}

// MarkUserVerified flags the account verified and clears the token.
func (s *PostgresStore) MarkUserVerified(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET is_verified = TRUE, verify_token = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// SearchUsers matches keyword against username/email among candidate IDs.
func (s *PostgresStore) SearchUsers(ctx context.Context, keyword string, among []uuid.UUID, exclude uuid.UUID) ([]models.User, error) {
	if len(among) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id = ANY($1) AND id <> $2
		  AND (username ILIKE '%' || $3 || '%' OR email ILIKE '%' || $3 || '%')
		ORDER BY username
	`, among, exclude, keyword)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateChat inserts the chat, its member rows and zeroed ledger entries in
// one transaction.
func (s *PostgresStore) CreateChat(ctx context.Context, c *models.Chat) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO chats (id, name, is_group, group_admin, avatar_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, c.ID, c.Name, c.IsGroup, c.GroupAdmin, c.AvatarURL).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return err
	}

	for _, m := range c.MemberIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, c.ID, m); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_unseen (chat_id, user_id, count) VALUES ($1, $2, 0)
			ON CONFLICT DO NOTHING
		`, c.ID, m); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetChat retrieves a chat with its member IDs.
func (s *PostgresStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	c := &models.Chat{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, is_group, group_admin, avatar_url, created_at, updated_at
		FROM chats WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.IsGroup, &c.GroupAdmin, &c.AvatarURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	c.MemberIDs, err = s.FindChatMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindDirectChat returns the non-group chat both users belong to, if any.
func (s *PostgresStore) FindDirectChat(ctx context.Context, a, b uuid.UUID) (*models.Chat, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT c.id FROM chats c
		JOIN chat_members m1 ON m1.chat_id = c.id AND m1.user_id = $1
		JOIN chat_members m2 ON m2.chat_id = c.id AND m2.user_id = $2
		WHERE c.is_group = FALSE
		LIMIT 1
	`, a, b).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.GetChat(ctx, id)
}

// ListChatsForUser returns the user's chats newest-activity first with
// member profiles and last message populated.
func (s *PostgresStore) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

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

func (s *PostgresStore) populateChat(ctx context.Context, c *models.Chat) error {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id IN (SELECT user_id FROM chat_members WHERE chat_id = $1)
		ORDER BY username
	`, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	c.Members = c.Members[:0]
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return err
		}
		c.Members = append(c.Members, u.Public())
	}
	if err := rows.Err(); err != nil {
		return err
	}

	msg, err := s.lastMessage(ctx, c.ID)
	if err != nil {
		return err
	}
	c.LastMessage = msg
	return nil
}

func (s *PostgresStore) lastMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	m := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT m.id, m.chat_id, m.sender_id, m.body, m.image_url, m.created_at
		FROM messages m
		JOIN chats c ON c.last_message_id = m.id
		WHERE c.id = $1
	`, chatID).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.ImageURL, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// RenameChat updates the chat name.
func (s *PostgresStore) RenameChat(ctx context.Context, chatID uuid.UUID, name string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chats SET name = $1, updated_at = NOW() WHERE id = $2
	`, name, chatID)
	return err
}

// AddMember inserts a membership row plus a zeroed ledger entry.
func (s *PostgresStore) AddMember(ctx context.Context, chatID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, chatID, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO chat_unseen (chat_id, user_id, count) VALUES ($1, $2, 0)
		ON CONFLICT DO NOTHING
	`, chatID, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RemoveMember removes the membership row and prunes the ledger entry, so
// stale counters never survive a membership change.
func (s *PostgresStore) RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM chat_unseen WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetGroupAdmin reassigns the group admin.
func (s *PostgresStore) SetGroupAdmin(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chats SET group_admin = $1, updated_at = NOW() WHERE id = $2
	`, userID, chatID)
	return err
}

// DeleteChat removes the chat; members, messages and ledger rows cascade.
func (s *PostgresStore) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	return err
}

// FindChatMembers returns the member IDs of a chat.
func (s *PostgresStore) FindChatMembers(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM chat_members WHERE chat_id = $1
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
// every requested unseen increment in one transaction, so a crash can never
// leave the ledger and the message log disagreeing.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message, unseenFor []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, body, image_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Body, msg.ImageURL).Scan(&msg.CreatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE chats SET last_message_id = $1, updated_at = NOW() WHERE id = $2
	`, msg.ID, msg.ChatID); err != nil {
		return err
	}

	for _, u := range unseenFor {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_unseen (chat_id, user_id, count) VALUES ($1, $2, 1)
			ON CONFLICT (chat_id, user_id) DO UPDATE SET count = chat_unseen.count + 1
		`, msg.ChatID, u); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListMessages returns the chat's full history oldest first, with sender
// profiles populated.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID uuid.UUID) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.chat_id, m.sender_id, m.body, m.image_url, m.created_at,
		       u.username, u.email, u.avatar_url
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = $1
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
func (s *PostgresStore) ListImageURLs(ctx context.Context, chatID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT image_url FROM messages WHERE chat_id = $1 AND image_url <> ''
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
func (s *PostgresStore) IncrementUnseen(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_unseen (chat_id, user_id, count) VALUES ($1, $2, 1)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET count = chat_unseen.count + 1
	`, chatID, userID)
	return err
}

// ResetUnseen zeroes one member's counter. Idempotent.
func (s *PostgresStore) ResetUnseen(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_unseen (chat_id, user_id, count) VALUES ($1, $2, 0)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET count = 0
	`, chatID, userID)
	return err
}

// UnseenCount returns one member's counter; absent entries read as zero.
func (s *PostgresStore) UnseenCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count FROM chat_unseen WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// UnseenCounts snapshots a chat's full ledger.
func (s *PostgresStore) UnseenCounts(ctx context.Context, chatID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, count FROM chat_unseen WHERE chat_id = $1
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
func (s *PostgresStore) UnseenCountsForUser(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chat_id, count FROM chat_unseen WHERE user_id = $1
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
