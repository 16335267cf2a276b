package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/voicechat/internal/proto"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func fastBackoff(attempts int) Backoff {
	return Backoff{Base: 10 * time.Millisecond, Max: 40 * time.Millisecond, MaxAttempts: attempts}
}

func recvEvent(t *testing.T, ch <-chan proto.PushEvent) proto.PushEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return proto.PushEvent{}
}

func waitState(t *testing.T, c *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 3 * time.Second},
		{1, 6 * time.Second},
		{2, 12 * time.Second},
		{3, 24 * time.Second},
		{4, 30 * time.Second},
		{9, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
	assert.False(t, b.Exhausted(9))
	assert.True(t, b.Exhausted(10))
	assert.False(t, Backoff{Base: time.Second}.Exhausted(1000))
}

func TestChannelDeliversEventsAndSkipsMalformed(t *testing.T) {
	var gotToken atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.URL.Query().Get("token"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"id":"m1","room_id":"r1","message_type":"text","content":"hi"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{not json`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"message_deleted","message_id":"m1","scope":"everyone"}`))
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	m := NewManager(srv.URL, fastBackoff(3), staticToken("tok"), nil)
	defer m.Close()

	ch, err := m.Connect(context.Background(), "r1", "tok")
	require.NoError(t, err)

	first := recvEvent(t, ch.Events())
	assert.Equal(t, proto.EventNewMessage, first.Type)
	assert.Equal(t, "m1", first.MessageID)

	second := recvEvent(t, ch.Events())
	assert.Equal(t, proto.EventMessageDeleted, second.Type)
	assert.Equal(t, "r1", second.RoomID, "room id defaults to the subscribed conversation")
	assert.Equal(t, "tok", gotToken.Load())
}

func TestChannelCloseSendsNoReconnectCode(t *testing.T) {
	status := make(chan websocket.StatusCode, 1)
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_, _, err = conn.Read(r.Context())
		status <- websocket.CloseStatus(err)
	}))
	defer srv.Close()

	m := NewManager(srv.URL, fastBackoff(3), nil, nil)
	ch, err := m.Connect(context.Background(), "r1", "tok")
	require.NoError(t, err)
	waitState(t, ch, StateConnected)

	require.NoError(t, ch.Close())
	assert.Equal(t, StateClosed, ch.State())

	select {
	case code := <-status:
		assert.Equal(t, websocket.StatusCode(proto.CloseCodeNoReconnect), code)
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw the close frame")
	}

	_, open := <-ch.Events()
	assert.False(t, open, "events closed after Close")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load(), "no reconnect after intentional close")
}

func TestChannelReconnectsAfterServerDrop(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			_ = conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		defer conn.CloseNow()
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"new_message","message":{"id":"after","room_id":"r1"}}`))
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	m := NewManager(srv.URL, fastBackoff(5), nil, nil)
	defer m.Close()
	ch, err := m.Connect(context.Background(), "r1", "tok")
	require.NoError(t, err)

	ev := recvEvent(t, ch.Events())
	assert.Equal(t, "after", ev.MessageID)
	assert.GreaterOrEqual(t, dials.Load(), int32(2))
	assert.Equal(t, StateConnected, ch.State())

	select {
	case <-ch.Reconnected():
	case <-time.After(2 * time.Second):
		t.Fatalf("reconnect was not signalled")
	}
}

func TestChannelFirstConnectIsNotAReconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	m := NewManager(srv.URL, fastBackoff(3), nil, nil)
	defer m.Close()
	ch, err := m.Connect(context.Background(), "r1", "tok")
	require.NoError(t, err)
	waitState(t, ch, StateConnected)

	select {
	case <-ch.Reconnected():
		t.Fatalf("initial connect reported as reconnect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelGoesOfflineWhenAttemptsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewManager(srv.URL, fastBackoff(2), nil, nil)
	defer m.Close()
	ch, err := m.Connect(context.Background(), "r1", "tok")
	require.NoError(t, err)

	select {
	case <-ch.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("channel never gave up")
	}
	assert.Equal(t, StateOffline, ch.State())
}

func TestChannelUnauthorizedCloseIsTerminal(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusCode(proto.CloseCodeUnauthorized), "invalid token")
	}))
	defer srv.Close()

	m := NewManager(srv.URL, fastBackoff(5), nil, nil)
	defer m.Close()
	ch, err := m.Connect(context.Background(), "r1", "bad")
	require.NoError(t, err)

	<-ch.Done()
	assert.Equal(t, StateOffline, ch.State())
	assert.Equal(t, int32(1), dials.Load())
}

func TestManagerConnectClosesPrevious(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	m := NewManager(srv.URL, fastBackoff(3), nil, nil)
	defer m.Close()

	first, err := m.Connect(context.Background(), "r1", "tok")
	require.NoError(t, err)
	waitState(t, first, StateConnected)

	second, err := m.Connect(context.Background(), "r2", "tok")
	require.NoError(t, err)

	select {
	case <-first.Done():
	default:
		t.Fatalf("previous channel still running after switch")
	}
	assert.Equal(t, StateClosed, first.State())
	assert.Same(t, second, m.Active())
	assert.Equal(t, "r2", second.RoomID())
}

func TestManagerEndpoint(t *testing.T) {
	m := NewManager("https://chat.example.com/base/", DefaultBackoff(), nil, nil)
	got, err := m.endpoint("/ws/inbox", "a b")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/base/ws/inbox?token=a+b", got)

	_, err = NewManager("ftp://x", DefaultBackoff(), nil, nil).endpoint("/ws/inbox", "t")
	assert.Error(t, err)
}
