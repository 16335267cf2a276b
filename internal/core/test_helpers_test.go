package core

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/push"
)

var t0 = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func str(s string) *string { return &s }

func textMsg(id, room string, at time.Duration, content string) proto.Message {
	return proto.Message{
		ID:          id,
		RoomID:      room,
		SenderID:    "alice",
		MessageType: proto.KindText,
		Content:     str(content),
		CreatedAt:   t0.Add(at),
	}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Message.ID
	}
	return out
}

type deleteCall struct {
	room, id, scope string
}

// fakeBackend is an in-memory collaborator. Snapshot fetches block until released
// when hold is set.
type fakeBackend struct {
	mu        sync.Mutex
	messages  map[string][]proto.Message
	rooms     []proto.Room
	sendResp  proto.Message
	sendErr   error
	deleteErr error
	sent      []string
	deletes   []deleteCall
	fetches   []string

	roomFetches int
	// paged makes Messages honor limit and before like the real collaborator.
	paged bool

	hold    chan struct{}
	deleted chan deleteCall
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{messages: make(map[string][]proto.Message), deleted: make(chan deleteCall, 8)}
}

func (f *fakeBackend) Rooms(context.Context) ([]proto.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomFetches++
	return append([]proto.Room(nil), f.rooms...), nil
}

func (f *fakeBackend) Messages(ctx context.Context, roomID string, limit int, before string) ([]proto.Message, error) {
	f.mu.Lock()
	hold := f.hold
	f.fetches = append(f.fetches, roomID+"|"+before)
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[roomID]
	if f.paged {
		msgs = pageOf(msgs, limit, before)
	}
	return append([]proto.Message(nil), msgs...), nil
}

// pageOf returns up to limit messages older than before, oldest first.
func pageOf(msgs []proto.Message, limit int, before string) []proto.Message {
	end := len(msgs)
	if before != "" {
		for i, m := range msgs {
			if m.ID == before {
				end = i
				break
			}
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return msgs[start:end]
}

func (f *fakeBackend) SendText(_ context.Context, roomID, content string) (proto.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	if f.sendErr != nil {
		return proto.Message{}, f.sendErr
	}
	m := f.sendResp
	m.RoomID = roomID
	return m, nil
}

func (f *fakeBackend) SendVoice(ctx context.Context, roomID, _ string, r io.Reader) (proto.Message, error) {
	data, _ := io.ReadAll(r)
	return f.SendText(ctx, roomID, string(data))
}

func (f *fakeBackend) SendAttachment(ctx context.Context, roomID string, _ proto.MessageKind, name string, r io.Reader) (proto.Message, error) {
	return f.SendVoice(ctx, roomID, name, r)
}

func (f *fakeBackend) DeleteMessage(_ context.Context, roomID, messageID, scope string) error {
	f.mu.Lock()
	err := f.deleteErr
	f.deletes = append(f.deletes, deleteCall{roomID, messageID, scope})
	f.mu.Unlock()
	f.deleted <- deleteCall{roomID, messageID, scope}
	return err
}

type fakeSub struct {
	room        string
	events      chan proto.PushEvent
	reconnected chan struct{}
	once        sync.Once
	closed      chan struct{}
}

func newFakeSub(room string) *fakeSub {
	return &fakeSub{
		room:        room,
		events:      make(chan proto.PushEvent, 16),
		reconnected: make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

func (s *fakeSub) Events() <-chan proto.PushEvent { return s.events }

func (s *fakeSub) Reconnected() <-chan struct{} { return s.reconnected }

// reconnect reports a resumed stream.
func (s *fakeSub) reconnect() { s.reconnected <- struct{}{} }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		close(s.closed)
		close(s.events)
	})
	return nil
}

// send delivers ev unless the subscription was closed.
func (s *fakeSub) send(ev proto.PushEvent) {
	select {
	case <-s.closed:
	default:
		s.events <- ev
	}
}

type fakeSubscriber struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (f *fakeSubscriber) Subscribe(_ context.Context, roomID string) (push.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFakeSub(roomID)
	f.subs = append(f.subs, s)
	return s, nil
}

// fetchCount returns how many page fetches were made.
func (f *fakeBackend) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func (f *fakeSubscriber) last(t *testing.T) *fakeSub {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		t.Fatalf("no subscription opened")
	}
	return f.subs[len(f.subs)-1]
}

func startEngine(t *testing.T, backend *fakeBackend, subs *fakeSubscriber, viewer string) *Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(backend, subs, viewer, Options{PageSize: 50})
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(cancel)
	return e
}

// waitView polls the engine until cond holds.
func waitView(t *testing.T, e *Engine, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var v View
	for time.Now().Before(deadline) {
		var err error
		v, err = e.View()
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if cond(v) {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met, last view: %+v", v)
	return v
}

func mustNotification(t *testing.T, e *Engine) Notification {
	t.Helper()
	select {
	case n := <-e.Notifications():
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("expected notification")
	}
	return Notification{}
}

func contextWithCleanup(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}

func waitRooms(t *testing.T, e *Engine, cond func([]proto.Room) bool) []proto.Room {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var rooms []proto.Room
	for time.Now().Before(deadline) {
		var err error
		rooms, err = e.Rooms()
		if err != nil {
			t.Fatalf("rooms: %v", err)
		}
		if len(rooms) > 0 && cond(rooms) {
			return rooms
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room list condition not met: %+v", rooms)
	return rooms
}
