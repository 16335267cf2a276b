package core

import (
	"slices"
	"sort"

	"github.com/vovakirdan/voicechat/internal/proto"
)

// Store is the ordered, id-deduplicated message collection of the active conversation.
// It is owned by the engine loop and is not safe for concurrent use.
type Store struct {
	msgs  []proto.Message
	index map[string]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Len returns the number of entities, tombstones and hidden messages included.
func (s *Store) Len() int { return len(s.msgs) }

// Reset replaces the contents wholesale, ordered by creation time. Duplicate ids keep the first.
func (s *Store) Reset(msgs []proto.Message) {
	s.msgs = make([]proto.Message, 0, len(msgs))
	s.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		if _, dup := s.index[m.ID]; dup || m.ID == "" {
			continue
		}
		s.index[m.ID] = len(s.msgs)
		s.msgs = append(s.msgs, cloneMessage(m))
	}
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].CreatedAt.Before(s.msgs[j].CreatedAt)
	})
	s.reindex(0)
}

// Insert adds m unless its id is already present. Messages newer than the tail are appended;
// older ones are placed by timestamp after any message with the same timestamp.
func (s *Store) Insert(m proto.Message) bool {
	if m.ID == "" {
		return false
	}
	if _, ok := s.index[m.ID]; ok {
		return false
	}

	n := len(s.msgs)
	if n == 0 || !m.CreatedAt.Before(s.msgs[n-1].CreatedAt) {
		s.index[m.ID] = n
		s.msgs = append(s.msgs, cloneMessage(m))
		return true
	}

	pos := sort.Search(n, func(i int) bool {
		return s.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	s.msgs = slices.Insert(s.msgs, pos, cloneMessage(m))
	s.reindex(pos)
	return true
}

// Get returns a copy of the message with id.
func (s *Store) Get(id string) (proto.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return proto.Message{}, false
	}
	return cloneMessage(s.msgs[i]), true
}

// ApplyTranscription sets the transcription in place. Unknown ids and tombstones are left alone.
func (s *Store) ApplyTranscription(id string, text *string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	m := &s.msgs[i]
	if m.IsDeleted {
		return false
	}
	if m.IsTranscribed && equalText(m.Transcription, text) {
		return false
	}
	m.Transcription = copyText(text)
	m.IsTranscribed = true
	return true
}

// Tombstone marks id deleted for everyone and clears its content. Repeating it changes nothing.
func (s *Store) Tombstone(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	if s.msgs[i].IsDeleted {
		return false
	}
	tombstone(&s.msgs[i])
	return true
}

// Hide records that viewer deleted id for themselves.
func (s *Store) Hide(id, viewer string) bool {
	i, ok := s.index[id]
	if !ok || viewer == "" {
		return false
	}
	m := &s.msgs[i]
	if m.HiddenFor(viewer) {
		return false
	}
	m.DeletedFor = append(slices.Clone(m.DeletedFor), viewer)
	return true
}

// All returns a copy of every entity in order.
func (s *Store) All() []proto.Message {
	out := make([]proto.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = cloneMessage(m)
	}
	return out
}

// Oldest returns the id of the first message, used as the pagination cursor.
func (s *Store) Oldest() (string, bool) {
	if len(s.msgs) == 0 {
		return "", false
	}
	return s.msgs[0].ID, true
}

// Has reports whether id is present, tombstones and hidden messages included.
func (s *Store) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// LatestVisible returns the newest message that viewer still sees.
func (s *Store) LatestVisible(viewer string) (proto.Message, bool) {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if m := s.msgs[i]; !m.IsDeleted && !m.HiddenFor(viewer) {
			return cloneMessage(s.msgs[i]), true
		}
	}
	return proto.Message{}, false
}

func (s *Store) reindex(from int) {
	for i := from; i < len(s.msgs); i++ {
		s.index[s.msgs[i].ID] = i
	}
}

// mergeSnapshot combines a fetched page with what the push channel delivered meanwhile.
// Local-only messages are carried over and enrichment never goes backwards.
func mergeSnapshot(snapshot, local []proto.Message) []proto.Message {
	byID := make(map[string]proto.Message, len(local))
	for _, m := range local {
		byID[m.ID] = m
	}

	out := make([]proto.Message, 0, len(snapshot)+len(local))
	seen := make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		if l, ok := byID[m.ID]; ok {
			m = enrich(m, l)
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range local {
		if _, ok := seen[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

func enrich(base, local proto.Message) proto.Message {
	base = cloneMessage(base)
	if local.IsDeleted {
		tombstone(&base)
		return base
	}
	if local.IsTranscribed && !base.IsTranscribed {
		base.Transcription = copyText(local.Transcription)
		base.IsTranscribed = true
	}
	for _, uid := range local.DeletedFor {
		if !base.HiddenFor(uid) {
			base.DeletedFor = append(base.DeletedFor, uid)
		}
	}
	return base
}

func tombstone(m *proto.Message) {
	m.IsDeleted = true
	m.Content = nil
	m.Transcription = nil
	m.FileURL = nil
}

func cloneMessage(m proto.Message) proto.Message {
	m.DeletedFor = slices.Clone(m.DeletedFor)
	return m
}

func copyText(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalText(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
