package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	EventNewMessage          = "new_message"
	EventTranscriptionUpdate = "transcription_update"
	EventMessageDeleted      = "message_deleted"

	ScopeMe       = "me"
	ScopeEveryone = "everyone"
)

var (
	// ErrMalformedEvent is returned for frames that are not valid push events.
	ErrMalformedEvent = errors.New("malformed push event")
	// ErrUnknownEvent is returned for well-formed frames of an unknown type.
	ErrUnknownEvent = errors.New("unknown push event")
)

// Frame is the JSON object carried by one websocket text frame.
type Frame struct {
	Type          string   `json:"type"`
	Message       *Message `json:"message,omitempty"`
	MessageID     string   `json:"message_id,omitempty"`
	RoomID        string   `json:"room_id,omitempty"`
	Scope         string   `json:"scope,omitempty"`
	ID            string   `json:"id,omitempty"`
	Transcription *string  `json:"transcription,omitempty"`
}

// PushEvent is the decoded form of a frame.
// Message is set for new_message; MessageID for every type.
type PushEvent struct {
	Type          string
	RoomID        string
	MessageID     string
	Message       *Message
	Transcription *string
	Scope         string
}

// NewMessageFrame wraps a freshly created message.
func NewMessageFrame(m Message) Frame {
	return Frame{Type: EventNewMessage, Message: &m, RoomID: m.RoomID}
}

// TranscriptionFrame announces that m's transcription is available.
func TranscriptionFrame(m Message) Frame {
	return Frame{Type: EventTranscriptionUpdate, Message: &m, RoomID: m.RoomID}
}

// DeletedFrame announces a delete-for-everyone.
func DeletedFrame(roomID, messageID string) Frame {
	return Frame{Type: EventMessageDeleted, RoomID: roomID, MessageID: messageID, Scope: ScopeEveryone}
}

// DecodePushEvent parses one frame. Both underscore and hyphen spellings of the type are
// accepted, and a bare message object without a type is read as new_message.
func DecodePushEvent(data []byte) (PushEvent, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return PushEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	typ := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(f.Type)), "-", "_")
	if typ == "" {
		return decodeBareMessage(data)
	}

	switch typ {
	case EventNewMessage:
		if f.Message == nil {
			return decodeBareMessage(data)
		}
		if f.Message.ID == "" {
			return PushEvent{}, fmt.Errorf("%w: new_message without id", ErrMalformedEvent)
		}
		return PushEvent{
			Type:      EventNewMessage,
			RoomID:    firstNonEmpty(f.Message.RoomID, f.RoomID),
			MessageID: f.Message.ID,
			Message:   f.Message,
		}, nil
	case EventTranscriptionUpdate:
		ev := PushEvent{Type: EventTranscriptionUpdate, RoomID: f.RoomID}
		if f.Message != nil {
			ev.MessageID = f.Message.ID
			ev.RoomID = firstNonEmpty(f.Message.RoomID, f.RoomID)
			ev.Transcription = f.Message.Transcription
			ev.Message = f.Message
		} else {
			ev.MessageID = firstNonEmpty(f.MessageID, f.ID)
			ev.Transcription = f.Transcription
		}
		if ev.MessageID == "" {
			return PushEvent{}, fmt.Errorf("%w: transcription_update without id", ErrMalformedEvent)
		}
		return ev, nil
	case EventMessageDeleted:
		ev := PushEvent{
			Type:      EventMessageDeleted,
			RoomID:    f.RoomID,
			MessageID: firstNonEmpty(f.MessageID, f.ID),
			Scope:     firstNonEmpty(f.Scope, ScopeEveryone),
		}
		if ev.MessageID == "" {
			return PushEvent{}, fmt.Errorf("%w: message_deleted without id", ErrMalformedEvent)
		}
		return ev, nil
	default:
		return PushEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}
}

func decodeBareMessage(data []byte) (PushEvent, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return PushEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if m.ID == "" || m.RoomID == "" {
		return PushEvent{}, fmt.Errorf("%w: untyped frame is not a message", ErrMalformedEvent)
	}
	return PushEvent{Type: EventNewMessage, RoomID: m.RoomID, MessageID: m.ID, Message: &m}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
