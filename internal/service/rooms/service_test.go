package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/store"
	"github.com/vovakirdan/voicechat/internal/store/sqlite"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *sqlite.SQLiteStore) {
	t.Helper()
	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	for _, name := range []string{"alice", "bob", "carol"} {
		u := &store.User{ID: name, Username: name, Email: name + "@example.com", PasswordHash: "x", CreatedAt: base}
		if err := st.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
	}
	return New(st), st
}

func TestDirectKeyIsSymmetric(t *testing.T) {
	if DirectKey("a", "b") != DirectKey("b", "a") {
		t.Fatalf("direct key must not depend on order")
	}
}

func TestCreateDirectIsDeduplicated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.Create(ctx, "alice", proto.CreateRoomRequest{MemberIDs: []string{"bob"}})
	if err != nil || !created {
		t.Fatalf("expected new room, got created=%v err=%v", created, err)
	}
	if first.Name != "bob" || first.IsGroup || len(first.Members) != 2 {
		t.Fatalf("unexpected direct room: %+v", first)
	}

	again, created, err := svc.Create(ctx, "bob", proto.CreateRoomRequest{MemberIDs: []string{"alice"}})
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("expected the existing room %s, got %s (created=%v)", first.ID, again.ID, created)
	}
	if again.Name != "alice" {
		t.Fatalf("direct room name should be the other member, got %q", again.Name)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  proto.CreateRoomRequest
		want error
	}{
		{"self dm", proto.CreateRoomRequest{MemberIDs: []string{"alice"}}, ErrDirectWithSelf},
		{"no members", proto.CreateRoomRequest{IsGroup: true, Name: "g", MemberIDs: []string{" "}}, ErrNoMembers},
		{"unknown member", proto.CreateRoomRequest{MemberIDs: []string{"zed"}}, ErrUserNotFound},
		{"dm with two", proto.CreateRoomRequest{MemberIDs: []string{"bob", "carol"}}, ErrDirectMembers},
		{"unnamed group", proto.CreateRoomRequest{IsGroup: true, MemberIDs: []string{"bob"}}, ErrNameRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Create(ctx, "alice", tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestListIncludesLastMessage(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	room, _, err := svc.Create(ctx, "alice", proto.CreateRoomRequest{Name: "team", IsGroup: true, MemberIDs: []string{"bob", "carol"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	content := "see you"
	if err := st.SaveMessage(ctx, &store.Message{ID: "m1", RoomID: room.ID, SenderID: "bob", Type: "text", Content: &content, CreatedAt: base}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	rooms, err := svc.List(ctx, "carol")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Name != "team" {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
	last := rooms[0].LastMessage
	if last == nil || last.ID != "m1" || last.Sender == nil || last.Sender.Username != "bob" {
		t.Fatalf("unexpected last message: %+v", last)
	}
}

func TestLeave(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	group, _, _ := svc.Create(ctx, "alice", proto.CreateRoomRequest{Name: "team", IsGroup: true, MemberIDs: []string{"bob", "carol"}})
	dm, _, _ := svc.Create(ctx, "alice", proto.CreateRoomRequest{MemberIDs: []string{"bob"}})

	if err := svc.Leave(ctx, "carol", dm.ID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}

	if err := svc.Leave(ctx, "carol", group.ID); err != nil {
		t.Fatalf("leave group failed: %v", err)
	}
	ids, _ := st.ListMemberIDs(ctx, group.ID)
	if len(ids) != 2 {
		t.Fatalf("group should keep two members, got %v", ids)
	}

	if err := svc.Leave(ctx, "bob", dm.ID); err != nil {
		t.Fatalf("leave dm failed: %v", err)
	}
	if _, err := st.GetRoomByID(ctx, dm.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("dm should be deleted, got %v", err)
	}

	ids2, err := svc.MemberIDs(ctx, "alice", group.ID)
	if err != nil || len(ids2) != 2 {
		t.Fatalf("MemberIDs: %v %v", ids2, err)
	}
}
