package core

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/metrics"
	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/push"
)

// Backend is the REST collaborator as seen by the engine.
type Backend interface {
	Rooms(ctx context.Context) ([]proto.Room, error)
	Messages(ctx context.Context, roomID string, limit int, before string) ([]proto.Message, error)
	SendText(ctx context.Context, roomID, content string) (proto.Message, error)
	SendVoice(ctx context.Context, roomID, fileName string, r io.Reader) (proto.Message, error)
	SendAttachment(ctx context.Context, roomID string, kind proto.MessageKind, fileName string, r io.Reader) (proto.Message, error)
	DeleteMessage(ctx context.Context, roomID, messageID, scope string) error
}

// Subscriber opens the push subscription of one conversation.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID string) (push.Subscription, error)
}

// Notification is a transient user-facing report of a failed action.
type Notification struct {
	Code      string
	Message   string
	RoomID    string
	MessageID string
	At        time.Time
}

// View is a render snapshot of the active conversation.
type View struct {
	RoomID  string
	Loading bool
	HasMore bool
	Items   []Item
}

// Options tune the engine.
type Options struct {
	PageSize int
	Logger   *zerolog.Logger
}

const (
	defaultPageSize   = 50
	commandBuffer     = 64
	notificationQueue = 32
	// maxResyncPages bounds how far back a resync pages looking for loaded history.
	maxResyncPages = 5
)

// Engine reconciles the snapshot, push events and local actions of the active conversation.
// All state is owned by the Run goroutine; public methods post commands to it.
type Engine struct {
	backend  Backend
	subs     Subscriber
	viewer   string
	pageSize int
	logger   zerolog.Logger

	commands      chan *command
	notifications chan Notification
	updates       chan struct{}
	done          chan struct{}

	// owned by Run
	ctx     context.Context
	store   *Store
	rooms   *RoomList
	active  string
	gen     uint64
	loading bool
	hasMore bool
	older   bool
	syncing int
	sub     push.Subscription
	pending pending
	// roomFetches counts room list requests in flight.
	roomFetches int
}

// NewEngine creates an engine acting for viewer. subs may be nil to run without push.
func NewEngine(backend Backend, subs Subscriber, viewer string, opts Options) *Engine {
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = opts.Logger.With().Str("component", "engine").Logger()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Engine{
		backend:       backend,
		subs:          subs,
		viewer:        viewer,
		pageSize:      opts.PageSize,
		logger:        l,
		commands:      make(chan *command, commandBuffer),
		notifications: make(chan Notification, notificationQueue),
		updates:       make(chan struct{}, 1),
		done:          make(chan struct{}),
		store:         NewStore(),
		rooms:         NewRoomList(),
	}
}

// Notifications delivers failures of write actions. Undelivered notifications are dropped.
func (e *Engine) Notifications() <-chan Notification { return e.notifications }

// Updates signals that the view or room list changed. Signals coalesce.
func (e *Engine) Updates() <-chan struct{} { return e.updates }

// Viewer returns the user the engine renders for.
func (e *Engine) Viewer() string { return e.viewer }

// Run processes commands until ctx is cancelled. It closes the push subscription on exit.
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	defer close(e.done)
	defer func() {
		if e.sub != nil {
			_ = e.sub.Close()
			e.sub = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-e.commands:
			e.handle(cmd)
		}
	}
}

func (e *Engine) post(cmd *command) error {
	select {
	case e.commands <- cmd:
		return nil
	case <-e.done:
		return ErrEngineStopped
	}
}

// call posts cmd and waits for the loop to answer.
func (e *Engine) call(cmd *command) (reply, error) {
	cmd.reply = make(chan reply, 1)
	if err := e.post(cmd); err != nil {
		return reply{}, err
	}
	select {
	case r := <-cmd.reply:
		return r, r.err
	case <-e.done:
		return reply{}, ErrEngineStopped
	}
}

// Open makes roomID the active conversation. The store is cleared at once and filled when
// the snapshot arrives; push events received meanwhile are kept.
func (e *Engine) Open(roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return coreError(CodeValidation, ErrNoActiveConversation)
	}
	_, err := e.call(&command{kind: cmdOpen, roomID: roomID})
	return err
}

// Close leaves the active conversation and closes its push channel.
func (e *Engine) Close() error {
	_, err := e.call(&command{kind: cmdClose})
	return err
}

// LoadRooms refreshes the conversation list in the background.
func (e *Engine) LoadRooms() error {
	_, err := e.call(&command{kind: cmdLoadRooms})
	return err
}

// LoadOlder fetches the page before the oldest loaded message.
func (e *Engine) LoadOlder() error {
	_, err := e.call(&command{kind: cmdLoadOlder})
	return err
}

// SendText sends a text message to the active conversation. The returned error covers
// validation only; delivery failures arrive as notifications.
func (e *Engine) SendText(content string) error {
	if strings.TrimSpace(content) == "" {
		return coreError(CodeValidation, ErrEmptyMessage)
	}
	_, err := e.call(&command{kind: cmdSend, send: &outgoing{kind: proto.KindText, content: content}})
	return err
}

// SendVoice uploads a voice recording to the active conversation.
func (e *Engine) SendVoice(fileName string, data []byte) error {
	if len(data) == 0 {
		return coreError(CodeValidation, ErrEmptyMessage)
	}
	_, err := e.call(&command{kind: cmdSend, send: &outgoing{kind: proto.KindVoice, fileName: fileName, data: data}})
	return err
}

// SendAttachment uploads an image, video or document to the active conversation.
func (e *Engine) SendAttachment(kind proto.MessageKind, fileName string, data []byte) error {
	if len(data) == 0 {
		return coreError(CodeValidation, ErrEmptyMessage)
	}
	if !kind.IsAttachment() {
		return &Error{Code: CodeValidation, Message: "unsupported attachment kind " + string(kind)}
	}
	_, err := e.call(&command{kind: cmdSend, send: &outgoing{kind: kind, fileName: fileName, data: data}})
	return err
}

// Delete removes messageID for the viewer (scope me) or for everyone.
func (e *Engine) Delete(messageID, scope string) error {
	s, err := normalizeScope(scope)
	if err != nil {
		return coreError(CodeValidation, err)
	}
	_, err = e.call(&command{kind: cmdDelete, messageID: messageID, scope: s})
	return err
}

// Apply feeds an event from a channel the engine does not own, such as the inbox.
func (e *Engine) Apply(ev proto.PushEvent) error {
	return e.post(&command{kind: cmdPush, event: ev, external: true})
}

// AttachInbox pumps every event of sub into the engine until sub closes. The room list
// is refetched whenever the inbox resumes after a gap.
func (e *Engine) AttachInbox(sub push.Subscription) {
	go func() {
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := e.Apply(ev); err != nil {
					return
				}
			case <-sub.Reconnected():
				if err := e.post(&command{kind: cmdLoadRooms}); err != nil {
					return
				}
			}
		}
	}()
}

// View returns a render snapshot of the active conversation.
func (e *Engine) View() (View, error) {
	r, err := e.call(&command{kind: cmdView})
	return r.view, err
}

// Rooms returns the conversation list ordered by last activity.
func (e *Engine) Rooms() ([]proto.Room, error) {
	r, err := e.call(&command{kind: cmdRooms})
	return r.rooms, err
}

// Active returns the active conversation id.
func (e *Engine) Active() (string, error) {
	r, err := e.call(&command{kind: cmdView})
	return r.view.RoomID, err
}

func (e *Engine) handle(cmd *command) {
	var out reply
	switch cmd.kind {
	case cmdOpen:
		e.open(cmd.roomID)
	case cmdClose:
		e.closeActive()
	case cmdLoadRooms:
		e.fetchRooms()
	case cmdRoomsLoaded:
		e.roomsLoaded(cmd)
	case cmdLoadOlder:
		e.loadOlder()
	case cmdSnapshot:
		e.snapshotLoaded(cmd)
	case cmdOlderLoaded:
		e.olderLoaded(cmd)
	case cmdPush:
		e.applyEvent(cmd.gen, cmd.event, cmd.external)
	case cmdResync:
		e.resync(cmd.gen)
	case cmdSend:
		out.err = e.send(cmd.send)
	case cmdSent:
		e.sent(cmd)
	case cmdDelete:
		out.err = e.deleteMessage(cmd.messageID, cmd.scope)
	case cmdDeleted:
		e.deleted(cmd)
	case cmdView:
		out.view = View{
			RoomID:  e.active,
			Loading: e.loading,
			HasMore: e.hasMore,
			Items:   Project(e.store.All(), e.viewer),
		}
	case cmdRooms:
		out.rooms = e.rooms.All()
	}
	if cmd.reply != nil {
		cmd.reply <- out
	}
}

func (e *Engine) open(roomID string) {
	e.closeActive()

	e.gen++
	e.active = roomID
	e.loading = true
	e.hasMore = false
	e.older = false
	e.syncing = 0
	e.pending.reset()
	e.store.Reset(nil)
	gen := e.gen

	// Subscribe before fetching so nothing falls between the snapshot and the first push.
	if e.subs != nil {
		sub, err := e.subs.Subscribe(e.ctx, roomID)
		if err != nil {
			e.logger.Warn().Err(err).Str("room_id", roomID).Msg("subscribe failed")
			e.notify(Notification{Code: Classify(err), Message: err.Error(), RoomID: roomID})
		} else {
			e.sub = sub
			go e.pump(gen, sub)
		}
	}

	go func() {
		msgs, err := e.backend.Messages(e.ctx, roomID, e.pageSize, "")
		_ = e.post(&command{kind: cmdSnapshot, gen: gen, roomID: roomID, messages: msgs, err: err})
	}()
	e.changed()
}

func (e *Engine) closeActive() {
	if e.sub != nil {
		_ = e.sub.Close()
		e.sub = nil
	}
	if e.active != "" {
		e.gen++
		e.active = ""
		e.loading = false
		e.syncing = 0
		e.pending.reset()
		e.store.Reset(nil)
		e.changed()
	}
}

func (e *Engine) pump(gen uint64, sub push.Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := e.post(&command{kind: cmdPush, gen: gen, event: ev}); err != nil {
				return
			}
		case <-sub.Reconnected():
			if err := e.post(&command{kind: cmdResync, gen: gen}); err != nil {
				return
			}
		}
	}
}

// resync refetches after the push channel resumed, since events published during the gap
// were never delivered. It pages backwards until a page overlaps the loaded history.
func (e *Engine) resync(gen uint64) {
	if gen != e.gen || e.active == "" {
		return
	}
	e.syncing++
	roomID := e.active
	known := make(map[string]struct{}, e.store.Len())
	for _, m := range e.store.All() {
		known[m.ID] = struct{}{}
	}
	e.logger.Info().Str("room_id", roomID).Msg("push resumed, refetching missed messages")
	go func() {
		msgs, bridged, err := e.fetchGap(roomID, known)
		_ = e.post(&command{kind: cmdSnapshot, gen: gen, roomID: roomID, messages: msgs, err: err, resync: true, detached: !bridged})
	}()
}

// fetchGap returns the messages newer than the loaded history in ascending order.
// bridged is false when maxResyncPages did not reach a known message or the room start.
func (e *Engine) fetchGap(roomID string, known map[string]struct{}) ([]proto.Message, bool, error) {
	var out []proto.Message
	before := ""
	for range maxResyncPages {
		page, err := e.backend.Messages(e.ctx, roomID, e.pageSize, before)
		if err != nil {
			return nil, false, err
		}
		out = append(append([]proto.Message(nil), page...), out...)
		if len(known) == 0 || len(page) < e.pageSize {
			return out, true, nil
		}
		for _, m := range page {
			if _, ok := known[m.ID]; ok {
				return out, true, nil
			}
		}
		before = page[0].ID
	}
	return out, false, nil
}

// newerThan keeps the local messages not older than the first fetched one.
func newerThan(local, fetched []proto.Message) []proto.Message {
	if len(fetched) == 0 {
		return local
	}
	floor := fetched[0].CreatedAt
	out := local[:0]
	for _, m := range local {
		if !m.CreatedAt.Before(floor) {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) snapshotLoaded(cmd *command) {
	if cmd.gen != e.gen {
		return
	}
	kind := "snapshot"
	if cmd.resync {
		kind = "resync"
		e.syncing--
	} else {
		e.loading = false
	}
	if cmd.err != nil {
		e.logger.Warn().Err(cmd.err).Str("room_id", cmd.roomID).Str("kind", kind).Msg("snapshot fetch failed")
		e.notify(Notification{Code: Classify(cmd.err), Message: cmd.err.Error(), RoomID: cmd.roomID})
		e.settle()
		e.changed()
		return
	}

	switch {
	case cmd.detached:
		// The gap outgrew the resync window; drop history older than the fetched pages so no hole renders.
		e.logger.Warn().Str("room_id", cmd.roomID).Int("fetched", len(cmd.messages)).Msg("resync gap not bridged, replacing history")
		fresh := onlyRoom(cmd.messages, cmd.roomID)
		e.store.Reset(mergeSnapshot(fresh, newerThan(e.store.All(), fresh)))
		e.hasMore = true
	default:
		e.store.Reset(mergeSnapshot(onlyRoom(cmd.messages, cmd.roomID), e.store.All()))
		if !cmd.resync {
			e.hasMore = len(cmd.messages) >= e.pageSize
		}
	}
	e.settle()
	if latest, ok := e.store.LatestVisible(e.viewer); ok {
		e.rooms.ApplyNew(latest)
	}
	metrics.EngineEventsApplied.WithLabelValues(kind, "applied").Inc()
	e.changed()
}

func (e *Engine) fetching() bool {
	return e.loading || e.older || e.syncing > 0
}

// deferred reports whether an event for id must wait for the page in flight.
func (e *Engine) deferred(id string) bool {
	return e.fetching() && !e.store.Has(id)
}

// settle replays held operations onto the page that just landed.
func (e *Engine) settle() {
	_, deleted := e.pending.apply(e.store, e.viewer)
	for _, id := range deleted {
		e.roomDeleted(e.active, id)
	}
	if !e.fetching() {
		e.pending.reset()
	}
}

func (e *Engine) loadOlder() {
	if e.active == "" || e.loading || e.older || !e.hasMore {
		return
	}
	cursor, ok := e.store.Oldest()
	if !ok {
		return
	}
	e.older = true
	gen, roomID := e.gen, e.active
	go func() {
		msgs, err := e.backend.Messages(e.ctx, roomID, e.pageSize, cursor)
		_ = e.post(&command{kind: cmdOlderLoaded, gen: gen, roomID: roomID, messages: msgs, err: err})
	}()
}

func (e *Engine) olderLoaded(cmd *command) {
	if cmd.gen != e.gen {
		return
	}
	e.older = false
	if cmd.err != nil {
		e.notify(Notification{Code: Classify(cmd.err), Message: cmd.err.Error(), RoomID: cmd.roomID})
		e.settle()
		return
	}
	for _, m := range onlyRoom(cmd.messages, cmd.roomID) {
		e.store.Insert(m)
	}
	e.hasMore = len(cmd.messages) >= e.pageSize
	e.settle()
	e.changed()
}

func (e *Engine) fetchRooms() {
	e.roomFetches++
	go func() {
		rooms, err := e.backend.Rooms(e.ctx)
		_ = e.post(&command{kind: cmdRoomsLoaded, rooms: rooms, err: err})
	}()
}

func (e *Engine) roomsLoaded(cmd *command) {
	e.roomFetches--
	if cmd.err != nil {
		e.notify(Notification{Code: Classify(cmd.err), Message: cmd.err.Error()})
		return
	}
	e.rooms.Replace(cmd.rooms)
	if latest, ok := e.store.LatestVisible(e.viewer); ok && e.active != "" {
		e.rooms.ApplyNew(latest)
	}
	e.changed()
}

// applyEvent merges one push event. Events from a superseded conversation channel are dropped;
// external events only touch the store when they belong to the active conversation.
func (e *Engine) applyEvent(gen uint64, ev proto.PushEvent, external bool) {
	if !external && gen != e.gen {
		return
	}
	inActive := e.active != "" && (ev.RoomID == "" || ev.RoomID == e.active)
	changed := false

	switch ev.Type {
	case proto.EventNewMessage:
		if ev.Message == nil {
			return
		}
		m := *ev.Message
		if m.RoomID == "" {
			m.RoomID = ev.RoomID
		}
		if m.RoomID == e.active && e.active != "" {
			if e.store.Insert(m) {
				changed = true
				e.count("new_message", "inserted")
			} else {
				e.count("new_message", "duplicate")
			}
		} else {
			e.count("new_message", "other_room")
		}
		if e.rooms.ApplyNew(m) {
			changed = true
		} else if m.RoomID != "" && !e.rooms.Has(m.RoomID) && e.roomFetches == 0 {
			// A conversation created elsewhere; pick it up with its metadata.
			e.fetchRooms()
		}

	case proto.EventTranscriptionUpdate:
		switch {
		case inActive && e.deferred(ev.MessageID):
			e.pending.transcription(ev.MessageID, ev.Transcription)
			e.count("transcription_update", "deferred")
		case inActive && e.store.ApplyTranscription(ev.MessageID, ev.Transcription):
			changed = true
			e.count("transcription_update", "applied")
		default:
			e.count("transcription_update", "ignored")
		}
		if e.rooms.ApplyTranscription(ev.RoomID, ev.MessageID, ev.Transcription) {
			changed = true
		}

	case proto.EventMessageDeleted:
		if ev.Scope == proto.ScopeMe {
			switch {
			case inActive && e.deferred(ev.MessageID):
				e.pending.hide(ev.MessageID)
			case inActive && e.store.Hide(ev.MessageID, e.viewer):
				changed = true
			}
			break
		}
		switch {
		case inActive && e.deferred(ev.MessageID):
			e.pending.tombstone(ev.MessageID)
			e.count("message_deleted", "deferred")
		case inActive && e.store.Tombstone(ev.MessageID):
			changed = true
			e.count("message_deleted", "applied")
		default:
			e.count("message_deleted", "ignored")
		}
		if e.roomDeleted(ev.RoomID, ev.MessageID) {
			changed = true
		}
	}

	if changed {
		e.changed()
	}
}

func (e *Engine) roomDeleted(roomID, messageID string) bool {
	if roomID == "" {
		roomID = e.active
	}
	var fallback *proto.Message
	if roomID == e.active {
		if m, ok := e.store.LatestVisible(e.viewer); ok {
			fallback = &m
		}
	}
	return e.rooms.ApplyDeleted(roomID, messageID, fallback)
}

type outgoing struct {
	kind     proto.MessageKind
	content  string
	fileName string
	data     []byte
}

func (e *Engine) send(out *outgoing) error {
	if e.active == "" {
		return coreError(CodeValidation, ErrNoActiveConversation)
	}
	roomID := e.active
	go func() {
		var (
			msg proto.Message
			err error
		)
		switch out.kind {
		case proto.KindText:
			msg, err = e.backend.SendText(e.ctx, roomID, out.content)
		case proto.KindVoice:
			msg, err = e.backend.SendVoice(e.ctx, roomID, out.fileName, bytes.NewReader(out.data))
		default:
			msg, err = e.backend.SendAttachment(e.ctx, roomID, out.kind, out.fileName, bytes.NewReader(out.data))
		}
		_ = e.post(&command{kind: cmdSent, roomID: roomID, message: msg, err: err})
	}()
	return nil
}

func (e *Engine) sent(cmd *command) {
	if cmd.err != nil {
		e.logger.Warn().Err(cmd.err).Str("room_id", cmd.roomID).Msg("send failed")
		e.notify(Notification{Code: Classify(cmd.err), Message: cmd.err.Error(), RoomID: cmd.roomID})
		return
	}
	m := cmd.message
	if m.RoomID == "" {
		m.RoomID = cmd.roomID
	}
	// The push echo may already have inserted it.
	e.applyEvent(e.gen, proto.PushEvent{Type: proto.EventNewMessage, RoomID: m.RoomID, MessageID: m.ID, Message: &m}, true)
}

func (e *Engine) deleteMessage(messageID, scope string) error {
	if e.active == "" {
		return coreError(CodeValidation, ErrNoActiveConversation)
	}
	if err := beginDelete(e.store, messageID, scope, e.viewer); err != nil {
		return coreError(CodeNotFound, err)
	}
	if scope == proto.ScopeMe {
		e.changed()
	}

	roomID := e.active
	go func() {
		err := e.backend.DeleteMessage(e.ctx, roomID, messageID, scope)
		_ = e.post(&command{kind: cmdDeleted, roomID: roomID, messageID: messageID, scope: scope, err: err})
	}()
	return nil
}

func (e *Engine) deleted(cmd *command) {
	if cmd.err != nil {
		code := Classify(cmd.err)
		msg := cmd.err.Error()
		if code == CodeAuthorization && cmd.scope == proto.ScopeEveryone {
			msg = "only the sender can delete a message for everyone"
		}
		e.notify(Notification{Code: code, Message: msg, RoomID: cmd.roomID, MessageID: cmd.messageID})
		return
	}
	if cmd.roomID != e.active {
		return
	}
	if confirmDelete(e.store, cmd.messageID, cmd.scope) {
		e.roomDeleted(cmd.roomID, cmd.messageID)
		e.changed()
	}
}

func (e *Engine) notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	select {
	case e.notifications <- n:
	default:
		// Drop if nobody is listening.
	}
}

func (e *Engine) changed() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func (e *Engine) count(kind, outcome string) {
	metrics.EngineEventsApplied.WithLabelValues(kind, outcome).Inc()
}

func onlyRoom(msgs []proto.Message, roomID string) []proto.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.RoomID == "" || m.RoomID == roomID {
			if m.RoomID == "" {
				m.RoomID = roomID
			}
			out = append(out, m)
		}
	}
	return out
}
