package proto

import (
	"slices"
	"time"
)

const (
	ProtocolVersion = 1

	// CloseCodeNoReconnect is sent by a client that closes its push channel on purpose.
	// Receiving it (or seeing it echoed back) must never trigger a reconnect.
	CloseCodeNoReconnect = 4000
	// CloseCodeUnauthorized is sent by the server when the push token is rejected.
	CloseCodeUnauthorized = 4001
)

// MessageKind is the content kind of a message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindVoice    MessageKind = "voice"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindVoice, KindImage, KindVideo, KindDocument:
		return true
	}
	return false
}

// IsAttachment reports whether k may be sent through the attachment endpoint.
func (k MessageKind) IsAttachment() bool {
	return k == KindImage || k == KindVideo || k == KindDocument
}

// User is the public view of an account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	About     string    `json:"about,omitempty"`
	IsOnline  bool      `json:"is_online"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is the wire shape of a chat message.
// Binary media is referenced by FileURL and never embedded.
type Message struct {
	ID            string      `json:"id"`
	RoomID        string      `json:"room_id"`
	SenderID      string      `json:"sender_id"`
	Content       *string     `json:"content"`
	MessageType   MessageKind `json:"message_type"`
	FileURL       *string     `json:"file_url,omitempty"`
	Transcription *string     `json:"transcription,omitempty"`
	IsTranscribed bool        `json:"is_transcribed"`
	IsDeleted     bool        `json:"is_deleted"`
	DeletedFor    []string    `json:"deleted_for,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	Sender        *User       `json:"sender,omitempty"`
}

// HiddenFor reports whether userID deleted the message for themselves.
func (m *Message) HiddenFor(userID string) bool {
	return slices.Contains(m.DeletedFor, userID)
}

// Room is a conversation with its members and denormalized last message.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsGroup     bool      `json:"is_group"`
	CreatedAt   time.Time `json:"created_at"`
	Members     []User    `json:"members"`
	LastMessage *Message  `json:"last_message,omitempty"`
}

// ErrorResponse is the body of every non-2xx REST response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginRequest exchanges credentials for a token.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Token is returned by register and login.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// CreateRoomRequest opens a DM (one member, not a group) or a group.
type CreateRoomRequest struct {
	Name      string   `json:"name,omitempty"`
	IsGroup   bool     `json:"is_group"`
	MemberIDs []string `json:"member_ids" binding:"required,min=1"`
}

// SendTextRequest is the body of a text send.
type SendTextRequest struct {
	Content string `json:"content" binding:"required"`
}

// StatusResponse acknowledges writes without a payload.
type StatusResponse struct {
	Status string `json:"status"`
}
