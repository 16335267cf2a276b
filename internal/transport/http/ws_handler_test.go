package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/voicechat/internal/proto"
)

func openDirect(t *testing.T, env *testEnv, a, b testUser) proto.Room {
	t.Helper()
	resp := env.do(t, http.MethodPost, "/api/rooms", a.token, proto.CreateRoomRequest{MemberIDs: []string{b.id}})
	expectStatus(t, resp, http.StatusCreated)
	var room proto.Room
	decode(t, resp, &room)
	return room
}

func expectClose(t *testing.T, conn *websocket.Conn, want websocket.StatusCode) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != want {
		t.Fatalf("expected close status %d, got %d (%v)", want, got, err)
	}
}

func TestRoomPushDeliversEvents(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	room := openDirect(t, env, alice, bob)

	conn := env.dial(t, "/ws/rooms/"+room.ID, bob.token)
	env.waitOnline(t, bob.id)

	waitPresence(t, env, bob.id, true)

	base := "/api/rooms/" + room.ID + "/messages"
	resp := env.do(t, http.MethodPost, base, alice.token, proto.SendTextRequest{Content: "ping"})
	expectStatus(t, resp, http.StatusCreated)
	var sent proto.Message
	decode(t, resp, &sent)

	ev := readEvent(t, conn)
	if ev.Type != proto.EventNewMessage || ev.MessageID != sent.ID || ev.RoomID != room.ID {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Message.Content == nil || *ev.Message.Content != "ping" {
		t.Fatalf("unexpected pushed message: %+v", ev.Message)
	}

	expectStatus(t, env.do(t, http.MethodDelete, base+"/"+sent.ID+"?scope=everyone", alice.token, nil), http.StatusOK)
	ev = readEvent(t, conn)
	if ev.Type != proto.EventMessageDeleted || ev.MessageID != sent.ID || ev.Scope != proto.ScopeEveryone {
		t.Fatalf("unexpected delete event: %+v", ev)
	}

	_ = conn.Close(websocket.StatusCode(proto.CloseCodeNoReconnect), "bye")
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Online(bob.id) {
		if time.Now().After(deadline) {
			t.Fatalf("subscription was not released after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitPresence(t, env, bob.id, false)
}

func waitPresence(t *testing.T, env *testEnv, userID string, online bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		u, err := env.store.GetUserByID(context.Background(), userID)
		if err == nil && u.IsOnline == online {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %s online=%v", userID, online)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInboxReceivesTypedFrames(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	room := openDirect(t, env, alice, bob)

	conn := env.dial(t, "/ws/inbox", bob.token)
	env.waitOnline(t, bob.id)

	expectStatus(t, env.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/messages", alice.token, proto.SendTextRequest{Content: "inbox"}), http.StatusCreated)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read inbox frame: %v", err)
	}
	ev, err := proto.DecodePushEvent(data)
	if err != nil {
		t.Fatalf("decode inbox frame: %v", err)
	}
	if ev.Type != proto.EventNewMessage || ev.RoomID != room.ID {
		t.Fatalf("unexpected inbox event: %+v", ev)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	env := newTestEnv(t, 0)
	conn := env.dial(t, "/ws/inbox", "invalid")
	expectClose(t, conn, websocket.StatusCode(proto.CloseCodeUnauthorized))
}

func TestWebSocketRejectsNonMember(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")
	room := openDirect(t, env, alice, bob)

	conn := env.dial(t, "/ws/rooms/"+room.ID, carol.token)
	expectClose(t, conn, websocket.StatusPolicyViolation)
	if env.hub.Online(carol.id) {
		t.Fatalf("rejected subscriber must not count as online")
	}
}
