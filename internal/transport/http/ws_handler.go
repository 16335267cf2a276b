package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/auth"
	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/realtime"
	"github.com/vovakirdan/voicechat/internal/service/rooms"
	"github.com/vovakirdan/voicechat/internal/store"
)

const (
	writeTimeout   = 10 * time.Second
	roomPushPrefix = "/ws/rooms/"
	inboxPushPath  = "/ws/inbox"
)

// errOverflow ends a connection whose subscriber could not keep up.
var errOverflow = errors.New("subscriber overflowed")

// WSHandler upgrades push connections and pumps hub frames to them.
// It is mounted on a plain ServeMux: gin's writer refuses the hijack after its header flush.
type WSHandler struct {
	hub   *realtime.Hub
	auth  *auth.Service
	rooms *rooms.Service
	users store.UserStore
	log   *zerolog.Logger

	// presenceMu orders presence writes so the stored flag follows the hub.
	presenceMu sync.Mutex
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *realtime.Hub, authService *auth.Service, roomService *rooms.Service, users store.UserStore, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, auth: authService, rooms: roomService, users: users, log: logger}
}

// ServeRoom handles GET /ws/rooms/{room_id}?token=.
func (h *WSHandler) ServeRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimPrefix(r.URL.Path, roomPushPrefix)
	if roomID == "" || strings.Contains(roomID, "/") {
		http.NotFound(w, r)
		return
	}
	h.serve(w, r, func(ctx context.Context, uid string) (*realtime.Subscriber, error) {
		if _, err := h.rooms.MemberIDs(ctx, uid, roomID); err != nil {
			return nil, err
		}
		return h.hub.SubscribeRoom(roomID, uid), nil
	})
}

// ServeInbox handles GET /ws/inbox?token=.
func (h *WSHandler) ServeInbox(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(_ context.Context, uid string) (*realtime.Subscriber, error) {
		return h.hub.SubscribeInbox(uid), nil
	})
}

func (h *WSHandler) serve(w http.ResponseWriter, r *http.Request, subscribe func(ctx context.Context, uid string) (*realtime.Subscriber, error)) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	claims, err := h.auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws rejected token")
		_ = conn.Close(websocket.StatusCode(proto.CloseCodeUnauthorized), "unauthorized")
		return
	}

	ctx := r.Context()
	sub, err := subscribe(ctx, claims.UserID)
	if err != nil {
		code := websocket.StatusInternalError
		if statusFor(err) == http.StatusForbidden {
			code = websocket.StatusPolicyViolation
		}
		_ = conn.Close(code, err.Error())
		return
	}

	if sub.First {
		h.syncPresence(claims.UserID)
	}
	defer func() {
		if remaining := h.hub.Unsubscribe(sub); remaining == 0 {
			h.syncPresence(claims.UserID)
		}
	}()

	log := h.log.With().Str("user_id", claims.UserID).Str("room_id", sub.RoomID).Str("kind", string(sub.Kind)).Logger()
	log.Debug().Msg("ws subscribed")

	// Clients never send frames; CloseRead answers pings and close frames.
	ctx = conn.CloseRead(ctx)
	err = h.writeLoop(ctx, conn, sub)

	if errors.Is(err, errOverflow) {
		log.Warn().Msg("ws subscriber fell behind, closing")
		_ = conn.Close(websocket.StatusTryAgainLater, "fell behind")
		return
	}
	status := websocket.CloseStatus(err)
	switch {
	case err == nil, errors.Is(err, context.Canceled), status != -1:
		log.Debug().Int("status", int(status)).Msg("ws closed")
	default:
		log.Warn().Err(err).Msg("ws connection closed with error")
	}
	_ = conn.Close(websocket.StatusNormalClosure, "closing")
}

// syncPresence stores the hub's current view of the user. Callers invoke it when the
// user's subscription count crosses zero; reading the hub under presenceMu keeps a
// concurrent subscribe and unsubscribe from persisting a stale flag.
func (h *WSHandler) syncPresence(uid string) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	online := h.hub.Online(uid)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := h.users.SetOnline(ctx, uid, online); err != nil {
		h.log.Warn().Err(err).Str("user_id", uid).Bool("online", online).Msg("update presence")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *realtime.Subscriber) error {
	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return err
			}
		case <-sub.Overflowed():
			return errOverflow
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
