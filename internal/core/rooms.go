package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vovakirdan/voicechat/internal/proto"
)

// RoomList caches conversations with their last message for the list view.
// Owned by the engine loop.
type RoomList struct {
	rooms map[string]*proto.Room
}

// NewRoomList returns an empty list.
func NewRoomList() *RoomList {
	return &RoomList{rooms: make(map[string]*proto.Room)}
}

// Replace loads the list fetched from the collaborator.
func (l *RoomList) Replace(rooms []proto.Room) {
	l.rooms = make(map[string]*proto.Room, len(rooms))
	for i := range rooms {
		r := rooms[i]
		if r.LastMessage != nil {
			m := cloneMessage(*r.LastMessage)
			r.LastMessage = &m
		}
		l.rooms[r.ID] = &r
	}
}

// Has reports whether roomID is known.
func (l *RoomList) Has(roomID string) bool {
	_, ok := l.rooms[roomID]
	return ok
}

// All returns the rooms ordered by last activity, most recent first.
func (l *RoomList) All() []proto.Room {
	out := make([]proto.Room, 0, len(l.rooms))
	for _, r := range l.rooms {
		c := *r
		if r.LastMessage != nil {
			m := cloneMessage(*r.LastMessage)
			c.LastMessage = &m
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := activity(out[i]), activity(out[j])
		if ai.Equal(aj) {
			return out[i].ID < out[j].ID
		}
		return ai.After(aj)
	})
	return out
}

// ApplyNew replaces the cached last message when m is newer.
func (l *RoomList) ApplyNew(m proto.Message) bool {
	r, ok := l.rooms[m.RoomID]
	if !ok || m.IsDeleted {
		return false
	}
	if last := r.LastMessage; last != nil && (last.ID == m.ID || m.CreatedAt.Before(last.CreatedAt)) {
		return false
	}
	c := cloneMessage(m)
	r.LastMessage = &c
	return true
}

// ApplyTranscription updates the preview when the cached last message was transcribed.
func (l *RoomList) ApplyTranscription(roomID, messageID string, text *string) bool {
	r := l.holding(roomID, messageID)
	if r == nil || r.LastMessage.IsDeleted {
		return false
	}
	r.LastMessage.Transcription = copyText(text)
	r.LastMessage.IsTranscribed = true
	return true
}

// ApplyDeleted handles a delete-for-everyone of the cached last message. fallback is the
// newest surviving message when the conversation is loaded; without it a tombstone preview is kept.
func (l *RoomList) ApplyDeleted(roomID, messageID string, fallback *proto.Message) bool {
	r := l.holding(roomID, messageID)
	if r == nil {
		return false
	}
	if fallback != nil && fallback.ID != messageID {
		c := cloneMessage(*fallback)
		r.LastMessage = &c
		return true
	}
	tombstone(r.LastMessage)
	return true
}

func (l *RoomList) holding(roomID, messageID string) *proto.Room {
	if roomID != "" {
		r, ok := l.rooms[roomID]
		if !ok || r.LastMessage == nil || r.LastMessage.ID != messageID {
			return nil
		}
		return r
	}
	for _, r := range l.rooms {
		if r.LastMessage != nil && r.LastMessage.ID == messageID {
			return r
		}
	}
	return nil
}

func activity(r proto.Room) time.Time {
	if r.LastMessage != nil {
		return r.LastMessage.CreatedAt
	}
	return r.CreatedAt
}

// Preview renders a one-line summary of a message for the conversation list.
func Preview(m *proto.Message) string {
	if m == nil {
		return ""
	}
	if m.IsDeleted {
		return "message deleted"
	}
	text := ""
	switch m.MessageType {
	case proto.KindVoice:
		text = "[voice]"
		if m.Transcription != nil && *m.Transcription != "" {
			text += " " + *m.Transcription
		}
	case proto.KindImage, proto.KindVideo, proto.KindDocument:
		text = fmt.Sprintf("[%s]", m.MessageType)
		if m.Content != nil && *m.Content != "" {
			text += " " + *m.Content
		}
	default:
		if m.Content != nil {
			text = *m.Content
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > 60 {
		text = string(r[:57]) + "..."
	}
	return text
}
