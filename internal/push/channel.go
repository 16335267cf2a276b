package push

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/metrics"
	"github.com/vovakirdan/voicechat/internal/proto"
)

// State is the lifecycle state of a push channel.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateOffline is terminal: reconnect attempts are exhausted or the token was rejected.
	StateOffline State = "offline"
	// StateClosed is terminal: the owner closed the channel.
	StateClosed State = "closed"
)

const (
	eventBuffer   = 64
	stateBuffer   = 16
	readLimit     = 1 << 20
	closeDeadline = 2 * time.Second
)

// Subscription is a stream of decoded push events with deterministic teardown.
// Reconnected fires after the stream resumed following a gap; events published
// during the gap were not delivered.
type Subscription interface {
	Events() <-chan proto.PushEvent
	Reconnected() <-chan struct{}
	Close() error
}

// Channel is one websocket subscription. Events are delivered in arrival order on a
// single-consumer channel that is closed once the channel reaches a terminal state.
type Channel struct {
	url     string
	roomID  string
	backoff Backoff
	logger  zerolog.Logger

	events      chan proto.PushEvent
	states      chan State
	reconnected chan struct{}

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	closing   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newChannel(parent context.Context, url, roomID string, backoff Backoff, logger zerolog.Logger) *Channel {
	ctx, cancel := context.WithCancel(parent)
	c := &Channel{
		url:         url,
		roomID:      roomID,
		backoff:     backoff,
		logger:      logger,
		events:      make(chan proto.PushEvent, eventBuffer),
		states:      make(chan State, stateBuffer),
		reconnected: make(chan struct{}, 1),
		state:       StateConnecting,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

// RoomID returns the conversation this channel is subscribed to, empty for the inbox.
func (c *Channel) RoomID() string { return c.roomID }

// Events returns the event stream.
func (c *Channel) Events() <-chan proto.PushEvent { return c.events }

// Reconnected signals each connection that follows a dropped or failed one. Signals coalesce.
func (c *Channel) Reconnected() <-chan struct{} { return c.reconnected }

// States reports state transitions. Slow readers miss intermediate states; State is authoritative.
func (c *Channel) States() <-chan State { return c.states }

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the channel has stopped for good.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close sends the do-not-reconnect close code and waits for the read loop to exit.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			closed := make(chan struct{})
			go func() {
				_ = conn.Close(websocket.StatusCode(proto.CloseCodeNoReconnect), "client closed")
				close(closed)
			}()
			select {
			case <-closed:
			case <-time.After(closeDeadline):
			}
		}
		c.cancel()
	})
	<-c.done
	return nil
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	metrics.PushStateTransitions.WithLabelValues(string(s)).Inc()
	c.logger.Debug().Str("room_id", c.roomID).Str("state", string(s)).Msg("push state")
	select {
	case c.states <- s:
	default:
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.states)
	defer close(c.events)

	attempt := 0
	retried := false
	for {
		if attempt == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		conn, resp, err := websocket.Dial(ctx, c.url, nil)
		if err == nil {
			attempt = 0
			conn.SetReadLimit(readLimit)
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.setState(StateConnected)
			if retried {
				select {
				case c.reconnected <- struct{}{}:
				default:
				}
			}

			err = c.readLoop(ctx, conn)

			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			_ = conn.CloseNow()
		}

		switch {
		case c.closing.Load() || ctx.Err() != nil:
			c.setState(StateClosed)
			return
		case rejected(resp, err):
			c.logger.Warn().Str("room_id", c.roomID).Err(err).Msg("push channel rejected, not reconnecting")
			c.setState(StateOffline)
			return
		case websocket.CloseStatus(err) == websocket.StatusCode(proto.CloseCodeNoReconnect):
			c.setState(StateClosed)
			return
		}

		if c.backoff.Exhausted(attempt) {
			c.logger.Warn().Str("room_id", c.roomID).Int("attempt", attempt).Msg("push channel offline")
			c.setState(StateOffline)
			return
		}
		delay := c.backoff.Delay(attempt)
		attempt++
		retried = true
		metrics.PushReconnects.Inc()
		c.logger.Info().Str("room_id", c.roomID).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("push channel reconnecting")
		c.setState(StateReconnecting)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateClosed)
			return
		case <-timer.C:
		}
	}
}

func rejected(resp *http.Response, err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusCode(proto.CloseCodeUnauthorized) {
		return true
	}
	return resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden)
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			metrics.PushDroppedFrames.WithLabelValues("binary").Inc()
			continue
		}

		ev, err := proto.DecodePushEvent(data)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, proto.ErrUnknownEvent) {
				reason = "unknown"
			}
			metrics.PushDroppedFrames.WithLabelValues(reason).Inc()
			c.logger.Warn().Str("room_id", c.roomID).Err(err).Msg("dropping push frame")
			continue
		}
		if ev.RoomID == "" {
			ev.RoomID = c.roomID
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
