package messages

import (
	"context"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/store"
)

// ToProtoUser converts a stored user to its public wire form.
func ToProtoUser(u *store.User) proto.User {
	if u == nil {
		return proto.User{}
	}
	return proto.User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		About:     u.About,
		IsOnline:  u.IsOnline,
		CreatedAt: u.CreatedAt,
	}
}

// ToProtoMessage converts a stored message. sender may be nil.
func ToProtoMessage(m *store.Message, sender *store.User) proto.Message {
	out := proto.Message{
		ID:            m.ID,
		RoomID:        m.RoomID,
		SenderID:      m.SenderID,
		Content:       m.Content,
		MessageType:   proto.MessageKind(m.Type),
		FileURL:       m.FileURL,
		Transcription: m.Transcription,
		IsTranscribed: m.IsTranscribed,
		IsDeleted:     m.IsDeleted,
		DeletedFor:    m.DeletedFor,
		CreatedAt:     m.CreatedAt,
	}
	if sender != nil {
		u := ToProtoUser(sender)
		out.Sender = &u
	}
	return out
}

// senders memoizes user lookups while converting a batch of messages.
type senders struct {
	st    store.UserStore
	cache map[string]*store.User
}

func newSenders(st store.UserStore) *senders {
	return &senders{st: st, cache: make(map[string]*store.User)}
}

func (s *senders) get(ctx context.Context, id string) *store.User {
	if u, ok := s.cache[id]; ok {
		return u
	}
	u, err := s.st.GetUserByID(ctx, id)
	if err != nil {
		u = nil
	}
	s.cache[id] = u
	return u
}

func (s *senders) convert(ctx context.Context, m *store.Message) proto.Message {
	return ToProtoMessage(m, s.get(ctx, m.SenderID))
}
