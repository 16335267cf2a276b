package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vovakirdan/voicechat/internal/proto"
)

func mustFrame(t *testing.T, s *Subscriber) map[string]any {
	t.Helper()
	select {
	case data, ok := <-s.Frames():
		if !ok {
			t.Fatalf("subscriber closed")
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return out
	case <-time.After(time.Second):
		t.Fatalf("expected frame")
	}
	return nil
}

func TestHubRoutesByRoomAndInbox(t *testing.T) {
	hub := NewHub(nil)
	alice := hub.SubscribeRoom("r1", "alice")
	bob := hub.SubscribeRoom("r2", "bob")
	bobInbox := hub.SubscribeInbox("bob")

	content := "hi"
	msg := proto.Message{ID: "m1", RoomID: "r1", SenderID: "alice", MessageType: proto.KindText, Content: &content}
	hub.PublishMessage(msg, []string{"alice", "bob"})

	got := mustFrame(t, alice)
	if got["id"] != "m1" || got["type"] != nil {
		t.Fatalf("room frame should be a bare message, got %v", got)
	}
	inbox := mustFrame(t, bobInbox)
	if inbox["type"] != proto.EventNewMessage {
		t.Fatalf("inbox frame should be typed, got %v", inbox)
	}
	select {
	case f := <-bob.Frames():
		t.Fatalf("bob's r2 subscription should not see r1 traffic: %s", f)
	default:
	}

	hub.PublishDeleted("r1", "m1")
	del := mustFrame(t, alice)
	if del["type"] != proto.EventMessageDeleted || del["message_id"] != "m1" || del["scope"] != proto.ScopeEveryone {
		t.Fatalf("unexpected delete frame: %v", del)
	}
}

func TestHubPresenceCounting(t *testing.T) {
	hub := NewHub(nil)
	a := hub.SubscribeRoom("r1", "alice")
	b := hub.SubscribeInbox("alice")
	if !a.First || b.First {
		t.Fatalf("only the first subscription should flip presence: a=%v b=%v", a.First, b.First)
	}

	if !hub.Online("alice") {
		t.Fatalf("expected alice online")
	}
	if n := hub.Unsubscribe(a); n != 1 {
		t.Fatalf("expected 1 remaining, got %d", n)
	}
	if n := hub.Unsubscribe(b); n != 0 {
		t.Fatalf("expected 0 remaining, got %d", n)
	}
	if hub.Online("alice") {
		t.Fatalf("expected alice offline")
	}
	if _, ok := <-a.Frames(); ok {
		t.Fatalf("expected closed queue")
	}
	// Second unsubscribe is a no-op.
	hub.Unsubscribe(a)

	if again := hub.SubscribeRoom("r1", "alice"); !again.First {
		t.Fatalf("resubscribing after going offline should flip presence again")
	}
}

func TestHubSignalsOverflowForSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	s := hub.SubscribeRoom("r1", "alice")
	fast := hub.SubscribeRoom("r1", "bob")
	for i := 0; i < sendBuffer; i++ {
		hub.PublishDeleted("r1", "m")
	}
	select {
	case <-s.Overflowed():
		t.Fatalf("a full queue alone is not an overflow")
	default:
	}
	for len(fast.Frames()) > 0 {
		<-fast.Frames()
	}

	for i := 0; i < 10; i++ {
		hub.PublishDeleted("r1", "m")
	}
	if len(s.Frames()) != sendBuffer {
		t.Fatalf("expected queue capped at %d, got %d", sendBuffer, len(s.Frames()))
	}
	select {
	case <-s.Overflowed():
	default:
		t.Fatalf("expected overflow signal")
	}
	select {
	case <-fast.Overflowed():
		t.Fatalf("a subscriber that keeps up must not be flagged")
	default:
	}
}
