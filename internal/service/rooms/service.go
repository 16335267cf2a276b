// Package rooms manages conversations: listing with last-message previews,
// direct-message deduplication and leaving.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/service/messages"
	"github.com/vovakirdan/voicechat/internal/store"
	"github.com/vovakirdan/voicechat/internal/utils"
)

// Common errors for room operations.
var (
	ErrNotMember      = errors.New("not a member of this room")
	ErrUserNotFound   = errors.New("user not found")
	ErrNoMembers      = errors.New("at least one other member is required")
	ErrDirectMembers  = errors.New("a direct conversation has exactly one other member")
	ErrDirectWithSelf = errors.New("cannot open a conversation with yourself")
	ErrNameRequired   = errors.New("group name is required")
)

// Service provides room business logic.
type Service struct {
	store store.Store
	now   func() time.Time
}

// New creates a room service.
func New(st store.Store) *Service {
	return &Service{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// DirectKey identifies the direct room between two users regardless of order.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// List returns the caller's rooms with members and last message.
func (s *Service) List(ctx context.Context, userID string) ([]proto.Room, error) {
	rooms, err := s.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]proto.Room, 0, len(rooms))
	for _, r := range rooms {
		pr, err := s.view(ctx, r, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, nil
}

// Create opens a group, or returns the existing direct room when one exists.
// The bool reports whether a new room was created.
func (s *Service) Create(ctx context.Context, userID string, req proto.CreateRoomRequest) (proto.Room, bool, error) {
	others := make([]string, 0, len(req.MemberIDs))
	for _, id := range req.MemberIDs {
		id = strings.TrimSpace(id)
		if id == "" || id == userID || slices.Contains(others, id) {
			continue
		}
		others = append(others, id)
	}
	if !req.IsGroup && len(req.MemberIDs) == 1 && strings.TrimSpace(req.MemberIDs[0]) == userID {
		return proto.Room{}, false, ErrDirectWithSelf
	}
	if len(others) == 0 {
		return proto.Room{}, false, ErrNoMembers
	}
	for _, id := range others {
		if _, err := s.store.GetUserByID(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return proto.Room{}, false, ErrUserNotFound
			}
			return proto.Room{}, false, fmt.Errorf("lookup member: %w", err)
		}
	}

	room := &store.Room{
		ID:        utils.NewID(),
		Name:      strings.TrimSpace(req.Name),
		IsGroup:   req.IsGroup,
		CreatedAt: s.now(),
	}
	if !req.IsGroup {
		if len(others) != 1 {
			return proto.Room{}, false, ErrDirectMembers
		}
		key := DirectKey(userID, others[0])
		existing, err := s.store.GetRoomByDirectKey(ctx, key)
		switch {
		case err == nil:
			pr, err := s.view(ctx, existing, userID)
			return pr, false, err
		case !errors.Is(err, store.ErrNotFound):
			return proto.Room{}, false, fmt.Errorf("lookup direct room: %w", err)
		}
		room.DirectKey = &key
	} else if room.Name == "" {
		return proto.Room{}, false, ErrNameRequired
	}

	members := append([]string{userID}, others...)
	if err := s.store.CreateRoom(ctx, room, members); err != nil {
		return proto.Room{}, false, fmt.Errorf("create room: %w", err)
	}
	pr, err := s.view(ctx, room, userID)
	return pr, true, err
}

// Leave removes the caller. Rooms left with fewer than two members are deleted.
func (s *Service) Leave(ctx context.Context, userID, roomID string) error {
	ok, err := s.store.IsMember(ctx, userID, roomID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	ids, err := s.store.ListMemberIDs(ctx, roomID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	if len(ids) <= 2 {
		return s.store.DeleteRoom(ctx, roomID)
	}
	return s.store.RemoveMember(ctx, userID, roomID)
}

// MemberIDs lists the members of roomID after checking the caller belongs to it.
func (s *Service) MemberIDs(ctx context.Context, userID, roomID string) ([]string, error) {
	ok, err := s.store.IsMember(ctx, userID, roomID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return nil, ErrNotMember
	}
	return s.store.ListMemberIDs(ctx, roomID)
}

func (s *Service) view(ctx context.Context, r *store.Room, viewerID string) (proto.Room, error) {
	members, err := s.store.ListMembers(ctx, r.ID)
	if err != nil {
		return proto.Room{}, fmt.Errorf("list members: %w", err)
	}
	out := proto.Room{
		ID:        r.ID,
		Name:      r.Name,
		IsGroup:   r.IsGroup,
		CreatedAt: r.CreatedAt,
		Members:   make([]proto.User, 0, len(members)),
	}
	byID := make(map[string]*store.User, len(members))
	for _, m := range members {
		byID[m.ID] = m
		out.Members = append(out.Members, messages.ToProtoUser(m))
		if !r.IsGroup && m.ID != viewerID {
			out.Name = m.Username
		}
	}

	last, err := s.store.LastMessage(ctx, r.ID)
	if err != nil {
		return proto.Room{}, fmt.Errorf("last message: %w", err)
	}
	if last != nil {
		pm := messages.ToProtoMessage(last, byID[last.SenderID])
		out.LastMessage = &pm
	}
	return out, nil
}
