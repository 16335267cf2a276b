package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/metrics"
	"github.com/vovakirdan/voicechat/internal/proto"
)

const sendBuffer = 64

// Kind distinguishes room subscriptions from per-user inbox subscriptions.
type Kind string

const (
	KindRoom  Kind = "room"
	KindInbox Kind = "inbox"
)

// Subscriber is one open websocket. Frames are pre-encoded JSON.
type Subscriber struct {
	UserID string
	RoomID string
	Kind   Kind
	// First is set when this subscription took the user from offline to online.
	First bool

	send     chan []byte
	overflow chan struct{}
	once     sync.Once
}

func newSubscriber(userID, roomID string, kind Kind) *Subscriber {
	return &Subscriber{
		UserID:   userID,
		RoomID:   roomID,
		Kind:     kind,
		send:     make(chan []byte, sendBuffer),
		overflow: make(chan struct{}),
	}
}

// Frames returns the outbound queue. It is closed on Unsubscribe.
func (s *Subscriber) Frames() <-chan []byte { return s.send }

// Overflowed is closed once a frame could not be queued. The subscriber has missed
// traffic and its connection should be dropped so the client resynchronizes.
func (s *Subscriber) Overflowed() <-chan struct{} { return s.overflow }

type set map[*Subscriber]struct{}

// Hub fans frames out to room and inbox subscribers.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]set
	inbox  map[string]set
	users  map[string]int
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zerolog.Logger) *Hub {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "realtime").Logger()
	}
	return &Hub{
		rooms:  make(map[string]set),
		inbox:  make(map[string]set),
		users:  make(map[string]int),
		logger: l,
	}
}

// SubscribeRoom registers a subscriber for one room.
func (h *Hub) SubscribeRoom(roomID, userID string) *Subscriber {
	s := newSubscriber(userID, roomID, KindRoom)
	h.add(h.rooms, roomID, s)
	return s
}

// SubscribeInbox registers a subscriber for everything addressed to userID.
func (h *Hub) SubscribeInbox(userID string) *Subscriber {
	s := newSubscriber(userID, "", KindInbox)
	h.add(h.inbox, userID, s)
	return s
}

func (h *Hub) add(index map[string]set, key string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index[key] == nil {
		index[key] = make(set)
	}
	index[key][s] = struct{}{}
	s.First = h.users[s.UserID] == 0
	h.users[s.UserID]++
	metrics.WSSubscribers.WithLabelValues(string(s.Kind)).Inc()
}

// Unsubscribe removes s and closes its queue. It returns how many subscriptions the
// user still holds, so the caller can flip presence when it reaches zero.
func (h *Hub) Unsubscribe(s *Subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	index, key := h.rooms, s.RoomID
	if s.Kind == KindInbox {
		index, key = h.inbox, s.UserID
	}
	subs, ok := index[key]
	if !ok {
		return h.users[s.UserID]
	}
	if _, ok := subs[s]; !ok {
		return h.users[s.UserID]
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(index, key)
	}
	close(s.send)
	metrics.WSSubscribers.WithLabelValues(string(s.Kind)).Dec()

	h.users[s.UserID]--
	remaining := h.users[s.UserID]
	if remaining <= 0 {
		delete(h.users, s.UserID)
	}
	return remaining
}

// Online reports whether userID holds any subscription.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID] > 0
}

// BroadcastRoom sends frame to every subscriber of roomID.
func (h *Hub) BroadcastRoom(roomID string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode frame")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.rooms[roomID], data)
}

// BroadcastInbox sends frame to the inbox subscribers of each user.
func (h *Hub) BroadcastInbox(userIDs []string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode frame")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, uid := range userIDs {
		h.deliver(h.inbox[uid], data)
	}
}

func (h *Hub) deliver(subs set, data []byte) {
	for s := range subs {
		select {
		case s.send <- data:
		default:
			s.once.Do(func() {
				h.logger.Warn().Str("user_id", s.UserID).Str("room_id", s.RoomID).Msg("subscriber overflowed, disconnecting")
				close(s.overflow)
			})
		}
	}
}

// Publisher is what the message service needs from the hub.
type Publisher interface {
	PublishMessage(msg proto.Message, memberIDs []string)
	PublishTranscription(msg proto.Message)
	PublishDeleted(roomID, messageID string)
}

// PublishMessage broadcasts a new message to its room as a bare message object and
// to every member's inbox as a typed frame.
func (h *Hub) PublishMessage(msg proto.Message, memberIDs []string) {
	h.BroadcastRoom(msg.RoomID, msg)
	h.BroadcastInbox(memberIDs, proto.NewMessageFrame(msg))
}

// PublishTranscription announces a completed transcription or document extraction.
func (h *Hub) PublishTranscription(msg proto.Message) {
	h.BroadcastRoom(msg.RoomID, proto.TranscriptionFrame(msg))
}

// PublishDeleted announces a delete-for-everyone.
func (h *Hub) PublishDeleted(roomID, messageID string) {
	h.BroadcastRoom(roomID, proto.DeletedFrame(roomID, messageID))
}
