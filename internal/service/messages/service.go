// Package messages implements message persistence, media uploads, background
// transcription, scoped deletion and search for the reference server.
package messages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/metrics"
	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/realtime"
	"github.com/vovakirdan/voicechat/internal/store"
	"github.com/vovakirdan/voicechat/internal/utils"
	"github.com/vovakirdan/voicechat/internal/vectorstore"
)

// Common errors for message operations.
var (
	ErrNotMember        = errors.New("not a member of this room")
	ErrEmptyContent     = errors.New("message content is empty")
	ErrForbidden        = errors.New("only the sender can delete for everyone")
	ErrInvalidScope     = errors.New("scope must be me or everyone")
	ErrInvalidKind      = errors.New("invalid attachment type")
	ErrUnsupportedMedia = errors.New("file content does not match message type")
	ErrTooLarge         = errors.New("file too large")
	ErrEmptyFile        = errors.New("file is empty")
)

const defaultPageSize = 50

// uploadFolders maps a message kind to its subdirectory under the upload root.
var uploadFolders = map[proto.MessageKind]string{
	proto.KindVoice:    "voice",
	proto.KindImage:    "images",
	proto.KindVideo:    "videos",
	proto.KindDocument: "docs",
}

// Config tunes uploads.
type Config struct {
	UploadDir      string
	MaxUploadBytes int64
	// URLPrefix is the public path the upload root is served under.
	URLPrefix string
}

// Service provides message business logic.
type Service struct {
	store       store.Store
	pub         realtime.Publisher
	index       vectorstore.Index
	transcriber Transcriber
	cfg         Config
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a message service. index and transcriber may be nil.
func New(st store.Store, pub realtime.Publisher, index vectorstore.Index, tr Transcriber, cfg Config, logger *zerolog.Logger) *Service {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "messages").Logger()
	}
	if index == nil {
		index = vectorstore.Nop{}
	}
	if cfg.URLPrefix == "" {
		cfg.URLPrefix = "/uploads"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:       st,
		pub:         pub,
		index:       index,
		transcriber: tr,
		cfg:         cfg,
		logger:      l,
		ctx:         ctx,
		cancel:      cancel,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Close cancels background work and waits for it to finish.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until all background work started so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) requireMember(ctx context.Context, userID, roomID string) error {
	ok, err := s.store.IsMember(ctx, userID, roomID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// List returns a page of messages visible to viewerID in ascending order.
func (s *Service) List(ctx context.Context, roomID, viewerID string, limit int, before string) ([]proto.Message, error) {
	if err := s.requireMember(ctx, viewerID, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = defaultPageSize
	}
	msgs, err := s.store.ListMessages(ctx, roomID, viewerID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	conv := newSenders(s.store)
	out := make([]proto.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, conv.convert(ctx, m))
	}
	return out, nil
}

// SendText persists a text message, indexes it and broadcasts it.
func (s *Service) SendText(ctx context.Context, roomID, senderID, content string) (proto.Message, error) {
	if strings.TrimSpace(content) == "" {
		return proto.Message{}, ErrEmptyContent
	}
	if err := s.requireMember(ctx, senderID, roomID); err != nil {
		return proto.Message{}, err
	}

	msg := &store.Message{
		ID:        utils.NewID(),
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      string(proto.KindText),
		Content:   &content,
		CreatedAt: s.now(),
	}
	out, err := s.persist(ctx, msg)
	if err != nil {
		return proto.Message{}, err
	}
	s.background("index", func(ctx context.Context) {
		if err := s.index.AddMessage(ctx, msg.ID, content); err != nil {
			s.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("index message")
		}
	})
	return out, nil
}

// SendVoice stores a recorded voice note, broadcasts it untranscribed and
// schedules transcription.
func (s *Service) SendVoice(ctx context.Context, roomID, senderID, fileName string, r io.Reader) (proto.Message, error) {
	if err := s.requireMember(ctx, senderID, roomID); err != nil {
		return proto.Message{}, err
	}
	diskPath, url, err := s.saveUpload(proto.KindVoice, fileName, r)
	if err != nil {
		return proto.Message{}, err
	}

	msg := &store.Message{
		ID:        utils.NewID(),
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      string(proto.KindVoice),
		FileURL:   &url,
		CreatedAt: s.now(),
	}
	out, err := s.persist(ctx, msg)
	if err != nil {
		_ = os.Remove(diskPath)
		return proto.Message{}, err
	}
	if s.transcriber != nil {
		s.background("transcribe", func(ctx context.Context) { s.transcribe(ctx, msg.ID, diskPath) })
	}
	return out, nil
}

// SendAttachment stores an image, video or document. Documents get their text
// extracted in the background.
func (s *Service) SendAttachment(ctx context.Context, roomID, senderID string, kind proto.MessageKind, fileName string, r io.Reader) (proto.Message, error) {
	if !kind.IsAttachment() {
		return proto.Message{}, ErrInvalidKind
	}
	if err := s.requireMember(ctx, senderID, roomID); err != nil {
		return proto.Message{}, err
	}
	diskPath, url, err := s.saveUpload(kind, fileName, r)
	if err != nil {
		return proto.Message{}, err
	}

	name := filepath.Base(fileName)
	if name == "." || name == string(filepath.Separator) {
		name = "file"
	}
	msg := &store.Message{
		ID:        utils.NewID(),
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      string(kind),
		Content:   &name,
		FileURL:   &url,
		CreatedAt: s.now(),
	}
	out, err := s.persist(ctx, msg)
	if err != nil {
		_ = os.Remove(diskPath)
		return proto.Message{}, err
	}
	if kind == proto.KindDocument {
		s.background("extract", func(ctx context.Context) { s.extract(ctx, msg.ID, diskPath) })
	}
	return out, nil
}

func (s *Service) persist(ctx context.Context, msg *store.Message) (proto.Message, error) {
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return proto.Message{}, fmt.Errorf("save message: %w", err)
	}
	metrics.MessagesCreated.WithLabelValues(msg.Type).Inc()

	sender, _ := s.store.GetUserByID(ctx, msg.SenderID)
	out := ToProtoMessage(msg, sender)

	members, err := s.store.ListMemberIDs(ctx, msg.RoomID)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", msg.RoomID).Msg("list members for inbox")
	}
	s.pub.PublishMessage(out, members)
	s.logger.Debug().Str("room_id", msg.RoomID).Str("message_id", msg.ID).Str("type", msg.Type).Msg("message created")
	return out, nil
}

// saveUpload validates content against kind and writes it under the upload root.
// It returns the disk path and the public URL.
func (s *Service) saveUpload(kind proto.MessageKind, fileName string, r io.Reader) (string, string, error) {
	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 25 << 20
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return "", "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", "", ErrEmptyFile
	}

	mt := mimetype.Detect(data)
	if !acceptsMedia(kind, mt) {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, mt.String())
	}

	ext := filepath.Ext(fileName)
	if ext == "" {
		if kind == proto.KindVoice {
			ext = ".webm"
		} else {
			ext = mt.Extension()
		}
	}
	folder := uploadFolders[kind]
	name := utils.UploadName(fileName, ext)

	dir := filepath.Join(s.cfg.UploadDir, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload dir: %w", err)
	}
	diskPath := filepath.Join(dir, name)
	if err := os.WriteFile(diskPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write upload: %w", err)
	}
	return diskPath, path.Join(s.cfg.URLPrefix, folder, name), nil
}

func acceptsMedia(kind proto.MessageKind, mt *mimetype.MIME) bool {
	family := func(prefix string) bool {
		for m := mt; m != nil; m = m.Parent() {
			if strings.HasPrefix(m.String(), prefix) {
				return true
			}
		}
		return false
	}
	switch kind {
	case proto.KindVoice:
		// Browser recordings arrive as webm or ogg containers.
		return family("audio/") || mt.Is("video/webm") || mt.Is("application/ogg")
	case proto.KindImage:
		return family("image/")
	case proto.KindVideo:
		return family("video/")
	case proto.KindDocument:
		return true
	}
	return false
}

// background runs fn on a tracked goroutine bound to the service lifetime.
func (s *Service) background(kind string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("kind", kind).Msg("background task panicked")
			}
		}()
		fn(s.ctx)
	}()
}

func (s *Service) transcribe(ctx context.Context, messageID, diskPath string) {
	start := time.Now()
	text, err := s.transcriber.Transcribe(ctx, diskPath)
	if err != nil {
		metrics.TranscriptionDuration.WithLabelValues("voice", "error").Observe(time.Since(start).Seconds())
		s.logger.Warn().Err(err).Str("message_id", messageID).Msg("transcription failed")
		text = "[Transcription failed]"
	} else {
		metrics.TranscriptionDuration.WithLabelValues("voice", "ok").Observe(time.Since(start).Seconds())
	}
	if !s.finishTranscription(ctx, messageID, text) || err != nil {
		return
	}
	if err := s.index.AddMessage(ctx, messageID, text); err != nil {
		s.logger.Warn().Err(err).Str("message_id", messageID).Msg("index transcription")
	}
}

func (s *Service) extract(ctx context.Context, messageID, diskPath string) {
	start := time.Now()
	text, err := ExtractText(diskPath)
	if err != nil {
		metrics.TranscriptionDuration.WithLabelValues("document", "error").Observe(time.Since(start).Seconds())
		s.logger.Warn().Err(err).Str("message_id", messageID).Msg("document extraction failed")
		return
	}
	metrics.TranscriptionDuration.WithLabelValues("document", "ok").Observe(time.Since(start).Seconds())
	if text == "" {
		return
	}
	if err := s.index.AddSentences(ctx, messageID, SplitSentences(text)); err != nil {
		s.logger.Warn().Err(err).Str("message_id", messageID).Msg("index document")
	}
	s.finishTranscription(ctx, messageID, truncateRunes(text, maxExtractedRunes))
}

// finishTranscription stores text and announces it. Messages deleted in the meantime
// are left alone.
func (s *Service) finishTranscription(ctx context.Context, messageID, text string) bool {
	if err := s.store.SetTranscription(ctx, messageID, text); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Err(err).Str("message_id", messageID).Msg("store transcription")
		}
		return false
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", messageID).Msg("reload transcribed message")
		return false
	}
	sender, _ := s.store.GetUserByID(ctx, msg.SenderID)
	s.pub.PublishTranscription(ToProtoMessage(msg, sender))
	return true
}

// Delete removes a message for the caller (scope me) or for every member (scope
// everyone, sender only).
func (s *Service) Delete(ctx context.Context, roomID, messageID, userID, scope string) error {
	if scope == "" {
		scope = proto.ScopeMe
	}
	if scope != proto.ScopeMe && scope != proto.ScopeEveryone {
		return ErrInvalidScope
	}
	if err := s.requireMember(ctx, userID, roomID); err != nil {
		return err
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.RoomID != roomID {
		return store.ErrNotFound
	}

	if scope == proto.ScopeMe {
		if err := s.store.HideForUser(ctx, messageID, userID); err != nil {
			return fmt.Errorf("hide message: %w", err)
		}
		return nil
	}

	if msg.SenderID != userID {
		return ErrForbidden
	}
	if msg.IsDeleted {
		return nil
	}
	if err := s.store.MarkDeleted(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	s.pub.PublishDeleted(roomID, messageID)
	s.logger.Debug().Str("room_id", roomID).Str("message_id", messageID).Msg("message deleted for everyone")
	return nil
}
