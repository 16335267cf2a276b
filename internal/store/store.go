package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// User represents an account.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	AvatarURL    *string
	About        string
	IsOnline     bool
	CreatedAt    time.Time
}

// Room represents a conversation. Direct rooms carry a DirectKey built from both member ids.
type Room struct {
	ID        string
	Name      string
	IsGroup   bool
	DirectKey *string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID            string
	RoomID        string
	SenderID      string
	Type          string
	Content       *string
	FileURL       *string
	Transcription *string
	IsTranscribed bool
	IsDeleted     bool
	DeletedFor    []string
	CreatedAt     time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts u. ID and CreatedAt must be set by the caller.
	CreateUser(ctx context.Context, u *User) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SearchUsers matches username or email prefixes, excluding excludeID.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*User, error)

	// SetOnline updates the presence flag.
	SetOnline(ctx context.Context, userID string, online bool) error
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom inserts the room and its members in one transaction.
	CreateRoom(ctx context.Context, room *Room, memberIDs []string) error

	// GetRoomByID retrieves a room by ID.
	GetRoomByID(ctx context.Context, id string) (*Room, error)

	// GetRoomByDirectKey retrieves a direct room by its key.
	GetRoomByDirectKey(ctx context.Context, key string) (*Room, error)

	// ListRoomsForUser lists rooms the user belongs to.
	ListRoomsForUser(ctx context.Context, userID string) ([]*Room, error)

	// ListMembers lists the members of a room.
	ListMembers(ctx context.Context, roomID string) ([]*User, error)

	// ListMemberIDs lists the member ids of a room.
	ListMemberIDs(ctx context.Context, roomID string) ([]string, error)

	// IsMember checks if user is a member of the room.
	IsMember(ctx context.Context, userID, roomID string) (bool, error)

	// RemoveMember removes a user from a room.
	RemoveMember(ctx context.Context, userID, roomID string) error

	// DeleteRoom removes a room with its members and messages.
	DeleteRoom(ctx context.Context, roomID string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message with its per-user hides.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListMessages returns up to limit messages visible to viewerID in ascending order.
	// If beforeID is non-empty only messages older than it are returned.
	ListMessages(ctx context.Context, roomID, viewerID string, limit int, beforeID string) ([]*Message, error)

	// LastMessage returns the newest message of a room not deleted for everyone, nil if none.
	LastMessage(ctx context.Context, roomID string) (*Message, error)

	// SetTranscription stores transcription text and marks the message transcribed.
	SetTranscription(ctx context.Context, id, text string) error

	// MarkDeleted clears content and flags the message deleted for everyone.
	MarkDeleted(ctx context.Context, id string) error

	// HideForUser records a delete-for-me.
	HideForUser(ctx context.Context, id, userID string) error

	// SearchMessages matches content or transcription in the user's rooms, newest first.
	SearchMessages(ctx context.Context, userID, query, roomID string, limit int) ([]*Message, error)

	// GetMessagesByIDs returns the visible messages among ids in the user's rooms.
	GetMessagesByIDs(ctx context.Context, userID string, ids []string) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
