package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/voicechat/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Tests pass ":memory:" with Migrate.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

const userColumns = `id, username, email, password_hash, avatar_url, about, is_online, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*store.User, error) {
	var u store.User
	var avatar sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &avatar, &u.About, &u.IsOnline, &u.CreatedAt); err != nil {
		return nil, err
	}
	if avatar.Valid {
		u.AvatarURL = &avatar.String
	}
	return &u, nil
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *store.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, avatar_url, about, is_online, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.Email, u.PasswordHash, u.AvatarURL, u.About, u.IsOnline, u.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, notFound("user", err)
	}
	return u, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, "email = ? COLLATE NOCASE", email)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUser(ctx, "username = ?", username)
}

// SearchUsers matches username or email substrings, ordered by username.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*store.User, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `
		SELECT ` + userColumns + `
		FROM users
		WHERE (username LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\') AND id != ?
		ORDER BY username ASC
		LIMIT ?
	`
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, q, pattern, pattern, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetOnline updates the presence flag.
func (s *SQLiteStore) SetOnline(ctx context.Context, userID string, online bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET is_online = ? WHERE id = ?`, online, userID); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return nil
}

// ==== RoomStore implementation ====

const roomColumns = `r.id, r.name, r.is_group, r.direct_key, r.created_at`

func scanRoom(row scanner) (*store.Room, error) {
	var r store.Room
	var key sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.IsGroup, &key, &r.CreatedAt); err != nil {
		return nil, err
	}
	if key.Valid {
		r.DirectKey = &key.String
	}
	return &r, nil
}

// CreateRoom inserts a room and its members atomically.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *store.Room, memberIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO rooms (id, name, is_group, direct_key, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, room.ID, room.Name, room.IsGroup, room.DirectKey, room.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert room: %w", err)
	}

	memberQuery := `
		INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`
	for _, id := range memberIDs {
		if _, err := tx.ExecContext(ctx, memberQuery, room.ID, id, room.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("add member %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id string) (*store.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms r WHERE r.id = ?`, id))
	if err != nil {
		return nil, notFound("room", err)
	}
	return r, nil
}

// GetRoomByDirectKey retrieves a direct room by its key.
func (s *SQLiteStore) GetRoomByDirectKey(ctx context.Context, key string) (*store.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms r WHERE r.direct_key = ?`, key))
	if err != nil {
		return nil, notFound("room", err)
	}
	return r, nil
}

// ListRoomsForUser lists the user's rooms, most recently created first.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID string) ([]*store.Room, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.user_id = ?
		ORDER BY r.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// ListMembers lists the members of a room in join order.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID string) ([]*store.User, error) {
	query := `
		SELECT u.id, u.username, u.email, u.password_hash, u.avatar_url, u.about, u.is_online, u.created_at
		FROM users u
		JOIN room_members m ON m.user_id = u.id
		WHERE m.room_id = ?
		ORDER BY m.joined_at ASC, u.username ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListMemberIDs lists the member ids of a room.
func (s *SQLiteStore) ListMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM room_members WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsMember checks if user is a member of the room.
func (s *SQLiteStore) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM room_members WHERE user_id = ? AND room_id = ?`, userID, roomID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// RemoveMember removes a user from a room.
func (s *SQLiteStore) RemoveMember(ctx context.Context, userID, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM room_members WHERE user_id = ? AND room_id = ?`, userID, roomID); err != nil {
		return fmt.Errorf("delete room member: %w", err)
	}
	return nil
}

// DeleteRoom removes a room; members and messages cascade.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

const messageColumns = `msg.id, msg.room_id, msg.sender_id, msg.message_type, msg.content, msg.file_url,
	msg.transcription, msg.is_transcribed, msg.is_deleted, msg.created_at`

// notHiddenFrom filters out messages the viewer hid for themselves.
const notHiddenFrom = `NOT EXISTS (
	SELECT 1 FROM message_hides h WHERE h.message_id = msg.id AND h.user_id = ?)`

// visibleTo additionally filters out deleted-for-everyone messages.
const visibleTo = `msg.is_deleted = 0 AND ` + notHiddenFrom

func scanMessage(row scanner) (*store.Message, error) {
	var m store.Message
	var content, fileURL, transcription sql.NullString
	if err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Type, &content, &fileURL, &transcription,
		&m.IsTranscribed, &m.IsDeleted, &m.CreatedAt); err != nil {
		return nil, err
	}
	if content.Valid {
		m.Content = &content.String
	}
	if fileURL.Valid {
		m.FileURL = &fileURL.String
	}
	if transcription.Valid {
		m.Transcription = &transcription.String
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]*store.Message, error) {
	defer rows.Close()
	var msgs []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SaveMessage persists a message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, m *store.Message) error {
	query := `
		INSERT INTO messages (id, room_id, sender_id, message_type, content, file_url, transcription, is_transcribed, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, m.ID, m.RoomID, m.SenderID, m.Type, m.Content, m.FileURL,
		m.Transcription, m.IsTranscribed, m.IsDeleted, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message with its per-user hides.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages msg WHERE msg.id = ?`, id))
	if err != nil {
		return nil, notFound("message", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM message_hides WHERE message_id = ? ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query hides: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan hide: %w", err)
		}
		m.DeletedFor = append(m.DeletedFor, uid)
	}
	return m, rows.Err()
}

// ListMessages returns the newest page before beforeID, in ascending order.
// Deleted-for-everyone messages are kept as tombstones so late readers render them too.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID, viewerID string, limit int, beforeID string) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages msg
		WHERE msg.room_id = ? AND ` + notHiddenFrom
	args := []any{roomID, viewerID}
	if beforeID != "" {
		query += `
		AND (msg.created_at, msg.rowid) < (SELECT created_at, rowid FROM messages WHERE id = ?)`
		args = append(args, beforeID)
	}
	query += `
		ORDER BY msg.created_at DESC, msg.rowid DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LastMessage returns the newest message of a room not deleted for everyone.
func (s *SQLiteStore) LastMessage(ctx context.Context, roomID string) (*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages msg
		WHERE msg.room_id = ? AND msg.is_deleted = 0
		ORDER BY msg.created_at DESC, msg.rowid DESC
		LIMIT 1
	`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, roomID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query last message: %w", err)
	}
	return m, nil
}

// SetTranscription stores transcription text.
func (s *SQLiteStore) SetTranscription(ctx context.Context, id, text string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET transcription = ?, is_transcribed = 1 WHERE id = ? AND is_deleted = 0`, text, id)
	if err != nil {
		return fmt.Errorf("update transcription: %w", err)
	}
	return requireRow(res, "message")
}

// MarkDeleted clears content and flags the message deleted for everyone.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, id string) error {
	query := `
		UPDATE messages
		SET is_deleted = 1, content = NULL, transcription = NULL, file_url = NULL
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	return requireRow(res, "message")
}

// HideForUser records a delete-for-me.
func (s *SQLiteStore) HideForUser(ctx context.Context, id, userID string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO message_hides (message_id, user_id) VALUES (?, ?)`, id, userID); err != nil {
		return fmt.Errorf("hide message: %w", err)
	}
	return nil
}

// SearchMessages matches content or transcription in the user's rooms, newest first.
func (s *SQLiteStore) SearchMessages(ctx context.Context, userID, query, roomID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 30
	}
	pattern := "%" + escapeLike(query) + "%"
	q := `
		SELECT ` + messageColumns + `
		FROM messages msg
		JOIN room_members m ON m.room_id = msg.room_id AND m.user_id = ?
		WHERE ` + visibleTo + `
		AND (msg.content LIKE ? ESCAPE '\' OR msg.transcription LIKE ? ESCAPE '\')`
	args := []any{userID, userID, pattern, pattern}
	if roomID != "" {
		q += ` AND msg.room_id = ?`
		args = append(args, roomID)
	}
	q += `
		ORDER BY msg.created_at DESC, msg.rowid DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return collectMessages(rows)
}

// GetMessagesByIDs returns the visible messages among ids in the user's rooms.
func (s *SQLiteStore) GetMessagesByIDs(ctx context.Context, userID string, ids []string) ([]*store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	q := `
		SELECT ` + messageColumns + `
		FROM messages msg
		JOIN room_members m ON m.room_id = msg.room_id AND m.user_id = ?
		WHERE ` + visibleTo + ` AND msg.id IN (` + placeholders + `)`
	args := make([]any, 0, len(ids)+2)
	args = append(args, userID, userID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return collectMessages(rows)
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
